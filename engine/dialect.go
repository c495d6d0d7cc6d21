package engine

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
)

// dialect isolates everything engine-specific: driver, catalog lookups,
// connection string scoping and bulk import.
type dialect interface {
	engine() Engine
	driverName() string
	syntax() Syntax
	databaseExistsQuery() string
	withDatabase(dsn, name string) (string, error)
	isBulkLoad(statement string) bool
	bulkLoad(ctx context.Context, db *sqlx.DB, statement string) error
}

func dialectFor(e Engine) (dialect, error) {
	switch e {
	case MySQL:
		return mysqlDialect{}, nil
	case PostgreSQL:
		return postgresDialect{}, nil
	case MSSQL:
		return mssqlDialect{}, nil
	}
	return nil, errors.Mark(errors.Newf("unknown engine %q", string(e)), ErrUnsupportedEngine)
}

func noBulkLoad(e Engine) error {
	return errors.Mark(errors.Newf("%s has no bulk import path", string(e)), ErrInvalidArgument)
}

type mysqlDialect struct{}

func (mysqlDialect) engine() Engine { return MySQL }
func (mysqlDialect) driverName() string { return "mysql" }

func (mysqlDialect) syntax() Syntax {
	return Syntax{BackslashEscapes: true, HashComments: true}
}

// Schema names are matched byte for byte, like SHOW DATABASES LIKE on a
// case-sensitive file system.
func (mysqlDialect) databaseExistsQuery() string {
	return `SELECT 1 FROM information_schema.SCHEMATA
WHERE CAST(SCHEMA_NAME AS BINARY) LIKE CAST(? AS BINARY)`
}

func (mysqlDialect) withDatabase(dsn, name string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "parse mysql dsn"), ErrInvalidArgument)
	}
	cfg.DBName = name
	return cfg.FormatDSN(), nil
}

func (mysqlDialect) isBulkLoad(string) bool { return false }

func (mysqlDialect) bulkLoad(context.Context, *sqlx.DB, string) error {
	return noBulkLoad(MySQL)
}

type postgresDialect struct{}

func (postgresDialect) engine() Engine { return PostgreSQL }
func (postgresDialect) driverName() string { return "pgx" }
func (postgresDialect) syntax() Syntax { return Syntax{DollarQuotes: true} }

func (postgresDialect) databaseExistsQuery() string {
	return `SELECT 1 FROM pg_database WHERE datname = ?`
}

func (postgresDialect) withDatabase(dsn, name string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", errors.Mark(errors.Wrap(err, "parse postgres url"), ErrInvalidArgument)
		}
		u.Path = "/" + name
		return u.String(), nil
	}
	return strings.TrimSpace(dsn) + " dbname=" + name, nil
}

func (postgresDialect) isBulkLoad(statement string) bool {
	return hasPrefixFold(strings.TrimSpace(statement), "COPY")
}

// bulkLoad streams a COPY ... FROM stdin unit: the first line is the command,
// the remaining lines are the data payload.
func (postgresDialect) bulkLoad(ctx context.Context, db *sqlx.DB, statement string) error {
	header, payload := splitCopyStatement(statement)
	conn, err := db.Conn(ctx)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "acquire connection for copy"), ErrConnection)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return errors.Newf("unexpected driver connection %T", driverConn)
		}
		_, err := c.Conn().PgConn().CopyFrom(ctx, strings.NewReader(payload), header)
		return errors.Wrapf(err, "copy %q", header)
	})
}

func splitCopyStatement(statement string) (header, payload string) {
	statement = strings.ReplaceAll(statement, "\r\n", "\n")
	statement = strings.TrimRight(strings.TrimLeft(statement, " \t\n"), "\n")
	header, payload, _ = strings.Cut(statement, "\n")
	lines := strings.Split(payload, "\n")
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == `\.` {
		lines = lines[:n-1]
	}
	payload = strings.Join(lines, "\n")
	if payload != "" {
		payload += "\n"
	}
	return strings.TrimSpace(header), payload
}

type mssqlDialect struct{}

func (mssqlDialect) engine() Engine { return MSSQL }
func (mssqlDialect) driverName() string { return "sqlserver" }
func (mssqlDialect) syntax() Syntax { return Syntax{BracketIdents: true} }

func (mssqlDialect) databaseExistsQuery() string {
	return `SELECT 1 FROM sys.databases WHERE '[' + name + ']' = ? OR name = ?`
}

func (mssqlDialect) withDatabase(dsn, name string) (string, error) {
	if strings.HasPrefix(dsn, "sqlserver://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", errors.Mark(errors.Wrap(err, "parse sqlserver url"), ErrInvalidArgument)
		}
		q := u.Query()
		q.Set("database", name)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	dsn = strings.TrimRight(strings.TrimSpace(dsn), ";")
	return dsn + ";database=" + name, nil
}

func (mssqlDialect) isBulkLoad(string) bool { return false }

func (mssqlDialect) bulkLoad(context.Context, *sqlx.DB, string) error {
	return noBulkLoad(MSSQL)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
