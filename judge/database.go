package judge

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/elmanelman/sql-judge/engine"
	"github.com/elmanelman/sql-judge/registry"
	"go.uber.org/zap"
)

var ErrProvisioning = errors.New("provisioning failed")

// Registry is the system of record the judge reads assignments from and
// writes verdicts to.
type Registry interface {
	SubmissionContext(ctx context.Context, submissionID int64) (*registry.Submission, error)
	Assignment(ctx context.Context, assignmentID int64) (*registry.Assignment, error)
	TestDatabase(ctx context.Context, testDatabaseID int64) (*registry.TestDatabase, error)
	SetVerdict(ctx context.Context, trackingID int64, status int, output string, testedAt time.Time) error
	SetVerdictBySubmission(ctx context.Context, submissionID int64, status int, output string, testedAt time.Time) error
	SaveReferenceOutput(ctx context.Context, assignmentID int64, output string) error
}

// Connector opens administrative (database == "") or sandbox-scoped
// engine connections.
type Connector interface {
	Connect(ctx context.Context, dbms, database string) (engine.Provider, error)
}

func provisioningError(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrProvisioning)
}

// Provisioner creates, recreates and drops sandbox databases.
type Provisioner struct {
	logger    *zap.Logger
	registry  Registry
	connector Connector
	locker    Locker
	metrics   *Metrics
}

func NewProvisioner(
	logger *zap.Logger,
	registry Registry,
	connector Connector,
	locker Locker,
	metrics *Metrics,
) *Provisioner {
	return &Provisioner{
		logger:    logger,
		registry:  registry,
		connector: connector,
		locker:    locker,
		metrics:   metrics,
	}
}

// CreateDatabase provisions the sandbox for a test database. It returns
// false without touching anything when the sandbox exists and force is
// not set; with force an existing sandbox is dropped first.
func (p *Provisioner) CreateDatabase(ctx context.Context, testDatabaseID int64, force bool) (bool, error) {
	unlock, err := p.locker.Lock(ctx, testDatabaseID)
	if err != nil {
		return false, provisioningError(err, "create database %d", testDatabaseID)
	}
	defer unlock()

	return p.createDatabase(ctx, testDatabaseID, force)
}

// createDatabase expects the caller to hold the lock for testDatabaseID.
func (p *Provisioner) createDatabase(ctx context.Context, testDatabaseID int64, force bool) (bool, error) {
	d, err := p.registry.TestDatabase(ctx, testDatabaseID)
	if err != nil {
		return false, provisioningError(err, "look up test database %d", testDatabaseID)
	}
	name := SandboxName(testDatabaseID)
	logger := p.logger.With(
		zap.Int64("test_database_id", testDatabaseID),
		zap.String("dbms", d.DBMS),
		zap.String("database_name", name),
	)

	admin, err := p.connector.Connect(ctx, d.DBMS, "")
	if err != nil {
		return false, provisioningError(err, "connect to %s", d.DBMS)
	}
	defer admin.Close()

	exists, err := admin.DatabaseExists(ctx, name)
	if err != nil {
		return false, provisioningError(err, "check %s exists", name)
	}
	operation := "create"
	if exists {
		if !force {
			return false, nil
		}
		if _, err := admin.ExecuteQuery(ctx, dropStatement(name), engine.ModeNonSelect, 0); err != nil {
			return false, provisioningError(err, "drop %s before recreation", name)
		}
		operation = "recreate"
	}

	createPart, schemaPart := SplitCreationScript(d.CreationScript, name)
	if _, err := admin.ExecuteQuery(ctx, createPart, engine.ModeNonSelect, 0); err != nil {
		return false, provisioningError(err, "create %s", name)
	}

	if err := p.loadSchema(ctx, d.DBMS, name, schemaPart); err != nil {
		// leave no half-built sandbox behind, the next check would trust it
		if _, dropErr := admin.ExecuteQuery(ctx, dropStatement(name), engine.ModeNonSelect, 0); dropErr != nil {
			logger.Error("failed to drop partially created sandbox",
				zap.String("error_message", dropErr.Error()))
		}
		return false, provisioningError(err, "load schema into %s", name)
	}

	p.metrics.sandboxOps.WithLabelValues(d.DBMS, operation).Inc()
	logger.Info("sandbox database created", zap.Bool("recreated", exists))
	return true, nil
}

func (p *Provisioner) loadSchema(ctx context.Context, dbms, name, schema string) error {
	units := splitUnits(schema)
	if len(units) == 0 {
		return nil
	}

	sandbox, err := p.connector.Connect(ctx, dbms, name)
	if err != nil {
		return err
	}
	defer sandbox.Close()

	for i, unit := range units {
		if sandbox.IsBulkLoad(unit) {
			err = sandbox.BulkLoad(ctx, unit)
		} else {
			_, err = sandbox.ExecuteQuery(ctx, unit, engine.ModeNonSelect, 0)
		}
		if err != nil {
			return errors.Wrapf(err, "statement block %d", i+1)
		}
	}
	return nil
}

// DropDatabase drops the sandbox. Dropping a sandbox that does not exist
// is an error.
func (p *Provisioner) DropDatabase(ctx context.Context, testDatabaseID int64) error {
	unlock, err := p.locker.Lock(ctx, testDatabaseID)
	if err != nil {
		return provisioningError(err, "drop database %d", testDatabaseID)
	}
	defer unlock()

	d, err := p.registry.TestDatabase(ctx, testDatabaseID)
	if err != nil {
		return provisioningError(err, "look up test database %d", testDatabaseID)
	}
	name := SandboxName(testDatabaseID)

	admin, err := p.connector.Connect(ctx, d.DBMS, "")
	if err != nil {
		return provisioningError(err, "connect to %s", d.DBMS)
	}
	defer admin.Close()

	if _, err := admin.ExecuteQuery(ctx, dropStatement(name), engine.ModeNonSelect, 0); err != nil {
		return provisioningError(err, "drop %s", name)
	}

	p.metrics.sandboxOps.WithLabelValues(d.DBMS, "drop").Inc()
	p.logger.Info("sandbox database dropped",
		zap.Int64("test_database_id", testDatabaseID),
		zap.String("database_name", name),
	)
	return nil
}

func dropStatement(name string) string {
	return "DROP DATABASE " + name + ";"
}
