package registry

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/elmanelman/sql-judge/engine"
	"github.com/elmanelman/sql-judge/templates"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("registry record not found")

// Submission joins a submission's answer with its assignment spec.
type Submission struct {
	SubmissionID   int64          `db:"-"`
	TrackingID     int64          `db:"tracking_id"`
	AssignmentID   int64          `db:"assignment_id"`
	TestDatabaseID int64          `db:"test_database_id"`
	DBMS           string         `db:"dbms"`
	TimeLimit      int            `db:"time_limit"`
	CheckScript    string         `db:"check_script"`
	CorrectAnswer  string         `db:"correct_answer"`
	CorrectOutput  sql.NullString `db:"correct_output"`
	MustContain    sql.NullString `db:"must_contain"`
	Answer         string         `db:"answer"`
}

type Assignment struct {
	AssignmentID   int64          `db:"assignment_id"`
	TestDatabaseID int64          `db:"test_database_id"`
	DBMS           string         `db:"dbms"`
	CheckScript    string         `db:"check_script"`
	CorrectAnswer  string         `db:"correct_answer"`
	CorrectOutput  sql.NullString `db:"correct_output"`
}

type TestDatabase struct {
	ID             int64  `db:"id"`
	DBMS           string `db:"dbms"`
	CreationScript string `db:"creation_script"`
}

// Store is the registry backed by the learning platform's database.
type Store struct {
	db      *sqlx.DB
	queries templates.Queries
}

// Open connects to the registry database through the engine layer.
func Open(ctx context.Context, dbms, dsn, tablePrefix string) (*Store, error) {
	e, err := engine.ParseLogicalName(dbms)
	if err != nil {
		return nil, err
	}
	db, err := engine.Dial(ctx, e, dsn)
	if err != nil {
		return nil, err
	}
	return NewStore(db, tablePrefix), nil
}

func NewStore(db *sqlx.DB, tablePrefix string) *Store {
	return &Store{db: db, queries: templates.WithPrefix(tablePrefix)}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(ctx context.Context, dest any, query string, args ...any) error {
	err := s.db.GetContext(ctx, dest, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(err, ErrNotFound)
	}
	return err
}

func (s *Store) SubmissionContext(ctx context.Context, submissionID int64) (*Submission, error) {
	var sub Submission
	if err := s.get(ctx, &sub, s.queries.FetchSubmissionContext, submissionID); err != nil {
		return nil, errors.Wrapf(err, "fetch submission %d", submissionID)
	}
	sub.SubmissionID = submissionID
	return &sub, nil
}

func (s *Store) Assignment(ctx context.Context, assignmentID int64) (*Assignment, error) {
	var a Assignment
	if err := s.get(ctx, &a, s.queries.FetchAssignment, assignmentID); err != nil {
		return nil, errors.Wrapf(err, "fetch assignment %d", assignmentID)
	}
	return &a, nil
}

func (s *Store) TestDatabase(ctx context.Context, testDatabaseID int64) (*TestDatabase, error) {
	var d TestDatabase
	if err := s.get(ctx, &d, s.queries.FetchTestDatabase, testDatabaseID); err != nil {
		return nil, errors.Wrapf(err, "fetch test database %d", testDatabaseID)
	}
	return &d, nil
}

// PendingSubmissions returns ids of submissions whose tracking row still
// has the given status.
func (s *Store) PendingSubmissions(ctx context.Context, status int, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(s.queries.FetchPendingSubmissions), status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetch pending submissions")
	}
	return ids, nil
}

// SetVerdict writes the verdict onto the submission tracking row.
func (s *Store) SetVerdict(ctx context.Context, trackingID int64, status int, output string, testedAt time.Time) error {
	return s.exec(ctx, s.queries.UpdateSubmissionVerdict, status, output, testedAt.Unix(), trackingID)
}

// SetVerdictBySubmission is SetVerdict keyed by the submission id, for
// submissions whose context could not be fetched.
func (s *Store) SetVerdictBySubmission(ctx context.Context, submissionID int64, status int, output string, testedAt time.Time) error {
	return s.exec(ctx, s.queries.UpdateVerdictBySubmission, status, output, testedAt.Unix(), submissionID)
}

func (s *Store) SaveReferenceOutput(ctx context.Context, assignmentID int64, output string) error {
	return s.exec(ctx, s.queries.UpdateCorrectOutput, output, assignmentID)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "update registry")
	}
	return nil
}
