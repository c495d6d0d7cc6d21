package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

// Provider is a connection to one database engine. Every downstream
// component talks to engines through this interface only.
type Provider interface {
	Engine() Engine
	// ExecuteQuery runs a script. A positive timeoutSeconds aborts the
	// script with ErrTimeout once exceeded.
	ExecuteQuery(ctx context.Context, query string, mode Mode, timeoutSeconds int) (*ResultSet, error)
	BeginTransaction(ctx context.Context) (Transaction, error)
	DatabaseExists(ctx context.Context, name string) (bool, error)
	IsBulkLoad(statement string) bool
	BulkLoad(ctx context.Context, statement string) error
	Close() error
}

// Transaction scopes script execution. Rollback and Commit may be called
// more than once; only the first call has an effect, so deferring Rollback
// is always safe.
type Transaction interface {
	ExecuteQuery(ctx context.Context, query string, mode Mode, timeoutSeconds int) (*ResultSet, error)
	Commit() error
	Rollback() error
}

// Dial opens and pings a pooled handle for the engine.
func Dial(ctx context.Context, e Engine, dsn string) (*sqlx.DB, error) {
	d, err := dialectFor(e)
	if err != nil {
		return nil, err
	}
	return dial(ctx, d, dsn)
}

func dial(ctx context.Context, d dialect, dsn string) (*sqlx.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.Mark(errors.New("empty connection string"), ErrInvalidArgument)
	}
	db, err := sqlx.Open(d.driverName(), dsn)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open %s", d.engine()), ErrConnection)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Mark(errors.Wrapf(err, "ping %s", d.engine()), ErrConnection)
	}
	return db, nil
}

type provider struct {
	dialect dialect
	db      *sqlx.DB
	closed  bool
}

func open(ctx context.Context, d dialect, dsn string) (*provider, error) {
	db, err := dial(ctx, d, dsn)
	if err != nil {
		return nil, err
	}
	// one session per provider, like a single client connection
	db.SetMaxOpenConns(1)
	return &provider{dialect: d, db: db}, nil
}

func (p *provider) Engine() Engine {
	return p.dialect.engine()
}

func (p *provider) ExecuteQuery(ctx context.Context, query string, mode Mode, timeoutSeconds int) (*ResultSet, error) {
	return execute(ctx, p.db, p.dialect.syntax(), query, mode, timeoutSeconds)
}

func (p *provider) BeginTransaction(ctx context.Context) (Transaction, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	return &transaction{tx: tx, syntax: p.dialect.syntax()}, nil
}

func (p *provider) DatabaseExists(ctx context.Context, name string) (bool, error) {
	query := p.db.Rebind(p.dialect.databaseExistsQuery())
	args := []any{name}
	if p.dialect.engine() == MSSQL {
		args = append(args, name)
	}
	var one int
	err := p.db.QueryRowxContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, errors.Wrapf(err, "check database %q exists", name)
	}
	return true, nil
}

func (p *provider) IsBulkLoad(statement string) bool {
	return p.dialect.isBulkLoad(statement)
}

func (p *provider) BulkLoad(ctx context.Context, statement string) error {
	return p.dialect.bulkLoad(ctx, p.db, statement)
}

func (p *provider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

type transaction struct {
	tx     *sqlx.Tx
	syntax Syntax
	done   bool
}

func (t *transaction) ExecuteQuery(ctx context.Context, query string, mode Mode, timeoutSeconds int) (*ResultSet, error) {
	return execute(ctx, t.tx, t.syntax, query, mode, timeoutSeconds)
}

func (t *transaction) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return ignoreTxDone(t.tx.Commit())
}

func (t *transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return ignoreTxDone(t.tx.Rollback())
}

func ignoreTxDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func execute(
	ctx context.Context,
	q sqlx.ExtContext,
	syn Syntax,
	query string,
	mode Mode,
	timeoutSeconds int,
) (*ResultSet, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.Mark(errors.New("empty query"), ErrInvalidArgument)
	}
	if timeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}

	result := &ResultSet{Tables: []Table{}}
	for _, stmt := range SplitStatements(query, syn) {
		var err error
		if mode == ModeNonSelect {
			_, err = q.ExecContext(ctx, stmt)
		} else {
			err = collect(ctx, q, stmt, result)
		}
		if err != nil {
			if timeoutSeconds > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errors.Mark(
					errors.Wrapf(err, "time limit of %d seconds exceeded", timeoutSeconds), ErrTimeout)
			}
			return nil, err
		}
	}
	if mode == ModeNonSelect {
		return &ResultSet{Tables: []Table{}}, nil
	}
	return result, nil
}

// collect reads every result set the statement produces. Statements without
// columns (DML, DDL) add nothing.
func collect(ctx context.Context, q sqlx.ExtContext, stmt string, result *ResultSet) error {
	rows, err := q.QueryxContext(ctx, stmt)
	if err != nil {
		return err
	}
	defer rows.Close()

	for {
		columns, err := rows.Columns()
		if err != nil {
			return err
		}
		var data [][]any
		for rows.Next() {
			values, err := rows.SliceScan()
			if err != nil {
				return err
			}
			data = append(data, values)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(columns) > 0 {
			result.addTable(columns, data)
		}
		if !rows.NextResultSet() {
			break
		}
	}
	return rows.Err()
}
