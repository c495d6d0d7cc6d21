package judge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/elmanelman/sql-judge/engine"
	"github.com/elmanelman/sql-judge/registry"
	"go.uber.org/zap"
)

// fakeState is the single table t(x int) a fake sandbox holds.
type fakeState struct {
	table bool
	rows  []int64
}

func (s *fakeState) clone() *fakeState {
	return &fakeState{table: s.table, rows: append([]int64(nil), s.rows...)}
}

// fakeServer emulates a database server understanding a tiny SQL dialect.
type fakeServer struct {
	mu        sync.Mutex
	databases map[string]*fakeState
	bulkLoads int
	rollbacks int
	admin     []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{databases: map[string]*fakeState{}}
}

func (s *fakeServer) rows(name string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.databases[name]; ok {
		return append([]int64(nil), db.rows...)
	}
	return nil
}

func (s *fakeServer) exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.databases[name]
	return ok
}

func (s *fakeServer) Connect(_ context.Context, dbms, database string) (engine.Provider, error) {
	if dbms != "PostgreSQL" {
		return nil, errors.Mark(errors.Newf("no connection string for %s", dbms), engine.ErrUnsupportedEngine)
	}
	if database != "" && !s.exists(database) {
		return nil, errors.Mark(errors.Newf("database %q does not exist", database), engine.ErrConnection)
	}
	return &fakeProvider{server: s, database: database}, nil
}

type fakeProvider struct {
	server   *fakeServer
	database string
}

func (p *fakeProvider) Engine() engine.Engine { return engine.PostgreSQL }

func (p *fakeProvider) ExecuteQuery(ctx context.Context, query string, _ engine.Mode, timeoutSeconds int) (*engine.ResultSet, error) {
	p.server.mu.Lock()
	defer p.server.mu.Unlock()

	if p.database == "" {
		return &engine.ResultSet{}, p.server.execAdmin(query)
	}
	return run(ctx, p.server.databases[p.database], query, timeoutSeconds)
}

func (s *fakeServer) execAdmin(query string) error {
	s.admin = append(s.admin, query)
	for _, stmt := range statements(query) {
		switch {
		case strings.HasPrefix(stmt, "CREATE DATABASE "):
			name := strings.TrimPrefix(stmt, "CREATE DATABASE ")
			if _, ok := s.databases[name]; ok {
				return errors.Newf("database %q already exists", name)
			}
			s.databases[name] = &fakeState{}
		case strings.HasPrefix(stmt, "DROP DATABASE "):
			name := strings.TrimPrefix(stmt, "DROP DATABASE ")
			if _, ok := s.databases[name]; !ok {
				return errors.Newf("database %q does not exist", name)
			}
			delete(s.databases, name)
		default:
			return errors.Newf("syntax error at %q", stmt)
		}
	}
	return nil
}

func (p *fakeProvider) BeginTransaction(context.Context) (engine.Transaction, error) {
	p.server.mu.Lock()
	defer p.server.mu.Unlock()
	return &fakeTx{provider: p, state: p.server.databases[p.database].clone()}, nil
}

func (p *fakeProvider) DatabaseExists(_ context.Context, name string) (bool, error) {
	return p.server.exists(name), nil
}

func (p *fakeProvider) IsBulkLoad(statement string) bool {
	return strings.HasPrefix(statement, "COPY ")
}

func (p *fakeProvider) BulkLoad(_ context.Context, statement string) error {
	p.server.mu.Lock()
	defer p.server.mu.Unlock()
	p.server.bulkLoads++

	db := p.server.databases[p.database]
	lines := strings.Split(statement, "\n")
	for _, l := range lines[1:] {
		if l == `\.` || l == "" {
			continue
		}
		v, err := strconv.ParseInt(l, 10, 64)
		if err != nil {
			return err
		}
		db.rows = append(db.rows, v)
	}
	return nil
}

func (p *fakeProvider) Close() error { return nil }

type fakeTx struct {
	provider *fakeProvider
	state    *fakeState
	done     bool
}

func (t *fakeTx) ExecuteQuery(ctx context.Context, query string, _ engine.Mode, timeoutSeconds int) (*engine.ResultSet, error) {
	return run(ctx, t.state, query, timeoutSeconds)
}

func (t *fakeTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.provider.server.mu.Lock()
	defer t.provider.server.mu.Unlock()
	t.provider.server.databases[t.provider.database] = t.state
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.provider.server.mu.Lock()
	defer t.provider.server.mu.Unlock()
	t.provider.server.rollbacks++
	return nil
}

func statements(script string) []string {
	var stmts []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// run interprets CREATE TABLE t, INSERT INTO t, DELETE FROM t,
// SELECT x FROM t and SELECT pg_sleep(n). Selected integers are int32 so
// comparisons go through normalization.
func run(ctx context.Context, st *fakeState, script string, timeoutSeconds int) (*engine.ResultSet, error) {
	if timeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}

	rs := &engine.ResultSet{}
	for _, stmt := range statements(script) {
		var n int64
		switch {
		case stmt == "CREATE TABLE t (x int)":
			if st.table {
				return nil, errors.New(`relation "t" already exists`)
			}
			st.table = true
		case strings.HasPrefix(stmt, "INSERT INTO t VALUES"):
			if _, err := fmt.Sscanf(stmt, "INSERT INTO t VALUES (%d)", &n); err != nil {
				return nil, err
			}
			st.rows = append(st.rows, n)
		case stmt == "DELETE FROM t":
			st.rows = nil
		case stmt == "SELECT x FROM t":
			name := "Table"
			if len(rs.Tables) > 0 {
				name += strconv.Itoa(len(rs.Tables))
			}
			rows := [][]any{}
			for _, v := range st.rows {
				rows = append(rows, []any{int32(v)})
			}
			rs.Tables = append(rs.Tables, engine.Table{Name: name, Columns: []string{"x"}, Rows: rows})
		case strings.HasPrefix(stmt, "SELECT pg_sleep"):
			if _, err := fmt.Sscanf(stmt, "SELECT pg_sleep(%d)", &n); err != nil {
				return nil, err
			}
			select {
			case <-time.After(time.Duration(n) * time.Second):
			case <-ctx.Done():
				return nil, errors.Mark(errors.Wrap(ctx.Err(), "canceling statement"), engine.ErrTimeout)
			}
		default:
			return nil, errors.Newf("syntax error at %q", stmt)
		}
	}
	return rs, nil
}

type savedVerdict struct {
	status int
	output string
}

// fakeRegistry keeps one submission per id with tracking id
// submission id + 1000.
type fakeRegistry struct {
	mu            sync.Mutex
	submissions   map[int64]*registry.Submission
	assignments   map[int64]*registry.Assignment
	testDatabases map[int64]*registry.TestDatabase
	verdicts      map[int64]savedVerdict
	failures      map[int64]savedVerdict
	outputs       map[int64][]string
	panicOn       int64
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		submissions:   map[int64]*registry.Submission{},
		assignments:   map[int64]*registry.Assignment{},
		testDatabases: map[int64]*registry.TestDatabase{},
		verdicts:      map[int64]savedVerdict{},
		failures:      map[int64]savedVerdict{},
		outputs:       map[int64][]string{},
	}
}

func (r *fakeRegistry) addSubmission(s registry.Submission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.TrackingID = s.SubmissionID + 1000
	r.submissions[s.SubmissionID] = &s
}

func (r *fakeRegistry) verdict(submissionID int64) (savedVerdict, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.verdicts[submissionID+1000]
	return v, ok
}

func (r *fakeRegistry) failure(submissionID int64) (savedVerdict, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.failures[submissionID]
	return v, ok
}

func (r *fakeRegistry) savedOutputs(assignmentID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outputs[assignmentID]...)
}

func (r *fakeRegistry) SubmissionContext(_ context.Context, submissionID int64) (*registry.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if submissionID == r.panicOn {
		panic("registry exploded")
	}
	s, ok := r.submissions[submissionID]
	if !ok {
		return nil, errors.Mark(errors.Newf("submission %d", submissionID), registry.ErrNotFound)
	}
	c := *s
	// the cache column follows the latest saved output
	if outs := r.outputs[s.AssignmentID]; len(outs) > 0 {
		c.CorrectOutput.String, c.CorrectOutput.Valid = outs[len(outs)-1], true
	}
	return &c, nil
}

func (r *fakeRegistry) Assignment(_ context.Context, assignmentID int64) (*registry.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[assignmentID]
	if !ok {
		return nil, errors.Mark(errors.Newf("assignment %d", assignmentID), registry.ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (r *fakeRegistry) TestDatabase(_ context.Context, testDatabaseID int64) (*registry.TestDatabase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.testDatabases[testDatabaseID]
	if !ok {
		return nil, errors.Mark(errors.Newf("test database %d", testDatabaseID), registry.ErrNotFound)
	}
	c := *d
	return &c, nil
}

func (r *fakeRegistry) SetVerdict(_ context.Context, trackingID int64, status int, output string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdicts[trackingID] = savedVerdict{status: status, output: output}
	return nil
}

func (r *fakeRegistry) SetVerdictBySubmission(_ context.Context, submissionID int64, status int, output string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[submissionID] = savedVerdict{status: status, output: output}
	return nil
}

func (r *fakeRegistry) SaveReferenceOutput(_ context.Context, assignmentID int64, output string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[assignmentID] = append(r.outputs[assignmentID], output)
	return nil
}

// PendingSubmissions lists submissions with neither a verdict nor a
// recorded failure.
func (r *fakeRegistry) PendingSubmissions(_ context.Context, status int, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status != int(Pending) {
		return nil, nil
	}
	var ids []int64
	for id := range r.submissions {
		if _, ok := r.verdicts[id+1000]; ok {
			continue
		}
		if _, ok := r.failures[id]; ok {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

const (
	testDatabaseID = 7
	assignmentID   = 3
	sandbox        = "db7"

	creationScript = "CREATE DATABASE judge_template;\n\\c judge_template\n\nCREATE TABLE t (x int);\n\nINSERT INTO t VALUES (1);\n"
	correctAnswer  = "INSERT INTO t VALUES (1);"
	checkScript    = "SELECT x FROM t;"
	correctOutput  = `{"tables":[{"name":"Table","columns":["x"],"rows":[[1],[1]]}]}`
)

type fixture struct {
	server      *fakeServer
	registry    *fakeRegistry
	metrics     *Metrics
	provisioner *Provisioner
	checker     *Checker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		server:   newFakeServer(),
		registry: newFakeRegistry(),
		metrics:  NewMetrics(nil),
	}
	f.registry.testDatabases[testDatabaseID] = &registry.TestDatabase{
		ID:             testDatabaseID,
		DBMS:           "PostgreSQL",
		CreationScript: creationScript,
	}
	f.registry.assignments[assignmentID] = &registry.Assignment{
		AssignmentID:   assignmentID,
		TestDatabaseID: testDatabaseID,
		DBMS:           "PostgreSQL",
		CheckScript:    checkScript,
		CorrectAnswer:  correctAnswer,
	}
	f.provisioner = NewProvisioner(zap.NewNop(), f.registry, f.server, NewLocalLocker(), f.metrics)
	f.checker = NewChecker(zap.NewNop(), f.registry, f.provisioner, f.metrics, 4)
	return f
}

func (f *fixture) submit(id int64, answer string) {
	f.registry.addSubmission(registry.Submission{
		SubmissionID:   id,
		AssignmentID:   assignmentID,
		TestDatabaseID: testDatabaseID,
		DBMS:           "PostgreSQL",
		TimeLimit:      1,
		CheckScript:    checkScript,
		CorrectAnswer:  correctAnswer,
		Answer:         answer,
	})
}
