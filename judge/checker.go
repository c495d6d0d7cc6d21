package judge

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/elmanelman/sql-judge/engine"
	"go.uber.org/zap"
)

const (
	timeLimitMessage    = "<h5>Time limit of %d seconds has been exceeded, or an unknown error occurred</h5>"
	unknownErrorMessage = "<h5>An unknown error occurred while checking the answer</h5>"
)

// Checker grades submissions against the reference output of their
// assignment.
type Checker struct {
	logger      *zap.Logger
	registry    Registry
	provisioner *Provisioner
	metrics     *Metrics
	concurrency int

	now func() time.Time
}

func NewChecker(
	logger *zap.Logger,
	registry Registry,
	provisioner *Provisioner,
	metrics *Metrics,
	concurrency int,
) *Checker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Checker{
		logger:      logger,
		registry:    registry,
		provisioner: provisioner,
		metrics:     metrics,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// reference identifies the sandbox and scripts that produce an
// assignment's reference output.
type reference struct {
	assignmentID   int64
	testDatabaseID int64
	dbms           string
	checkScript    string
	correctAnswer  string
	cached         sql.NullString
}

// CheckSubmission grades one submission and writes the verdict onto its
// tracking row. Content policy outcomes are verdicts; an error means no
// verdict was written.
func (c *Checker) CheckSubmission(ctx context.Context, submissionID int64) error {
	start := c.now()

	sub, err := c.registry.SubmissionContext(ctx, submissionID)
	if err != nil {
		return err
	}

	v, err := c.review(ctx, submissionID, reference{
		assignmentID:   sub.AssignmentID,
		testDatabaseID: sub.TestDatabaseID,
		dbms:           sub.DBMS,
		checkScript:    sub.CheckScript,
		correctAnswer:  sub.CorrectAnswer,
		cached:         sub.CorrectOutput,
	}, sub.Answer, sub.MustContain, sub.TimeLimit)
	if err != nil {
		return errors.Wrapf(err, "check submission %d", submissionID)
	}

	if err := c.registry.SetVerdict(ctx, sub.TrackingID, int(v.Status), v.Output, v.TestedAt); err != nil {
		return errors.Wrapf(err, "save verdict of submission %d", submissionID)
	}

	c.metrics.verdicts.WithLabelValues(v.Status.String()).Inc()
	c.metrics.checkDuration.Observe(c.now().Sub(start).Seconds())
	c.logger.Info("submission checked",
		zap.Int64("submission_id", submissionID),
		zap.Stringer("status", v.Status),
	)
	return nil
}

func (c *Checker) review(
	ctx context.Context,
	submissionID int64,
	ref reference,
	rawAnswer string,
	mustContain sql.NullString,
	timeLimit int,
) (Verdict, error) {
	answer := StripHTML(rawAnswer)

	// check restricted functions
	if HasRestrictedFunctions(answer) {
		return c.verdict(ContainsRestrictedFunctions, restrictedFunctionsMessage), nil
	}

	// check required and banned keywords
	if mustContain.Valid {
		if banned, missing := CheckKeywords(mustContain.String, answer); len(banned) > 0 || len(missing) > 0 {
			return c.verdict(BannedOrRequiredWordsContent, keywordsMessage(banned, missing)), nil
		}
	}

	unlock, err := c.provisioner.locker.Lock(ctx, ref.testDatabaseID)
	if err != nil {
		return Verdict{}, err
	}
	defer unlock()

	// make sure the sandbox exists
	if _, err := c.provisioner.createDatabase(ctx, ref.testDatabaseID, false); err != nil {
		return Verdict{}, err
	}

	expectedOutput, err := c.referenceOutput(ctx, ref)
	if err != nil {
		return Verdict{}, err
	}

	// run the answer
	actual, err := c.runRolledBack(ctx, ref, answer+"\n"+ref.checkScript, timeLimit)
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}
		c.logger.Info("answer execution failed",
			zap.Int64("submission_id", submissionID),
			zap.String("error_message", err.Error()),
		)
		return c.verdict(TimeLimitExceeded, fmt.Sprintf(timeLimitMessage, timeLimit)), nil
	}

	// compare normalized results
	expected, err := engine.UnmarshalResultSet(expectedOutput)
	if err != nil {
		return Verdict{}, errors.Wrapf(err, "decode reference output of assignment %d", ref.assignmentID)
	}
	actual, err = engine.Normalize(actual)
	if err != nil {
		return Verdict{}, err
	}

	status, message := Compare(expected, actual)
	return c.verdict(status, message), nil
}

func (c *Checker) verdict(status Status, output string) Verdict {
	return Verdict{Status: status, Output: output, TestedAt: c.now()}
}

// referenceOutput regenerates the reference output and reconciles it with
// the cached one. A cache that disagrees with a fresh run means the
// sandbox drifted, so the sandbox is recreated before generating again.
// The caller holds the sandbox lock.
func (c *Checker) referenceOutput(ctx context.Context, ref reference) (string, error) {
	fresh, err := c.generate(ctx, ref)
	if err != nil {
		return "", err
	}
	if ref.cached.Valid && ref.cached.String == fresh {
		return fresh, nil
	}

	if ref.cached.Valid {
		c.logger.Warn("reference output is stale, recreating sandbox",
			zap.Int64("assignment_id", ref.assignmentID),
			zap.Int64("test_database_id", ref.testDatabaseID),
		)
		if _, err := c.provisioner.createDatabase(ctx, ref.testDatabaseID, true); err != nil {
			return "", err
		}
		if fresh, err = c.generate(ctx, ref); err != nil {
			return "", err
		}
		if fresh == ref.cached.String {
			return fresh, nil
		}
	}

	if err := c.registry.SaveReferenceOutput(ctx, ref.assignmentID, fresh); err != nil {
		return "", errors.Wrapf(err, "save reference output of assignment %d", ref.assignmentID)
	}
	c.logger.Info("reference output saved", zap.Int64("assignment_id", ref.assignmentID))
	return fresh, nil
}

func (c *Checker) generate(ctx context.Context, ref reference) (string, error) {
	rs, err := c.runRolledBack(ctx, ref, ref.correctAnswer+"\n"+ref.checkScript, 0)
	if err != nil {
		return "", errors.Wrapf(err, "run reference answer of assignment %d", ref.assignmentID)
	}
	return rs.Marshal()
}

// runRolledBack executes script on the sandbox inside a transaction that
// is rolled back on every path.
func (c *Checker) runRolledBack(ctx context.Context, ref reference, script string, timeLimit int) (*engine.ResultSet, error) {
	sandbox, err := c.provisioner.connector.Connect(ctx, ref.dbms, SandboxName(ref.testDatabaseID))
	if err != nil {
		return nil, err
	}
	defer sandbox.Close()

	tx, err := sandbox.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil {
			c.logger.Warn("rollback failed",
				zap.Int64("test_database_id", ref.testDatabaseID),
				zap.String("error_message", err.Error()),
			)
		}
	}()

	return tx.ExecuteQuery(ctx, script, engine.ModeSelect, timeLimit)
}

// GenerateCorrectOutput runs the assignment's reference answer, stores the
// result as its cached reference output and returns it.
func (c *Checker) GenerateCorrectOutput(ctx context.Context, assignmentID int64) (string, error) {
	a, err := c.registry.Assignment(ctx, assignmentID)
	if err != nil {
		return "", err
	}
	ref := reference{
		assignmentID:   a.AssignmentID,
		testDatabaseID: a.TestDatabaseID,
		dbms:           a.DBMS,
		checkScript:    a.CheckScript,
		correctAnswer:  a.CorrectAnswer,
	}

	unlock, err := c.provisioner.locker.Lock(ctx, ref.testDatabaseID)
	if err != nil {
		return "", err
	}
	defer unlock()

	if _, err := c.provisioner.createDatabase(ctx, ref.testDatabaseID, false); err != nil {
		return "", err
	}

	output, err := c.generate(ctx, ref)
	if err != nil {
		return "", err
	}
	if err := c.registry.SaveReferenceOutput(ctx, assignmentID, output); err != nil {
		return "", errors.Wrapf(err, "save reference output of assignment %d", assignmentID)
	}
	return output, nil
}

// MarkUnknownError closes a submission whose check failed, so it is not
// picked up again.
func (c *Checker) MarkUnknownError(ctx context.Context, submissionID int64, cause error) error {
	c.logger.Error("submission check failed",
		zap.Int64("submission_id", submissionID),
		zap.String("error_message", cause.Error()),
	)
	if err := c.registry.SetVerdictBySubmission(ctx, submissionID, int(UnknownError), unknownErrorMessage, c.now()); err != nil {
		return errors.Wrapf(err, "mark submission %d failed", submissionID)
	}
	c.metrics.verdicts.WithLabelValues(UnknownError.String()).Inc()
	return nil
}
