package engine

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
)

// GetProvider connects to the engine named by its identifier (mysql,
// postgres, sqlserver).
func GetProvider(ctx context.Context, engineName, dsn string) (Provider, error) {
	e, err := ParseEngine(engineName)
	if err != nil {
		return nil, err
	}
	d, err := dialectFor(e)
	if err != nil {
		return nil, err
	}
	return open(ctx, d, dsn)
}

// GetProviderByLogicalName connects to the engine named by its registry
// label (MySQL, PostgreSQL, MSSQL).
func GetProviderByLogicalName(ctx context.Context, dbms, dsn string) (Provider, error) {
	e, err := ParseLogicalName(dbms)
	if err != nil {
		return nil, err
	}
	return GetProvider(ctx, string(e), dsn)
}

// WithDatabase scopes a connection string to a database name.
func WithDatabase(e Engine, dsn, database string) (string, error) {
	if dsn == "" {
		return "", errors.Mark(errors.New("empty connection string"), ErrInvalidArgument)
	}
	d, err := dialectFor(e)
	if err != nil {
		return "", err
	}
	return d.withDatabase(dsn, database)
}

// Connector resolves DBMS labels to configured connection strings and opens
// administrative or database-scoped providers.
type Connector struct {
	connectionStrings map[string]string
}

func NewConnector(connectionStrings map[string]string) *Connector {
	cs := make(map[string]string, len(connectionStrings))
	for k, v := range connectionStrings {
		cs[k] = v
	}
	return &Connector{connectionStrings: cs}
}

// Connect opens a provider for dbms. An empty database gives the
// administrative connection.
func (c *Connector) Connect(ctx context.Context, dbms, database string) (Provider, error) {
	e, err := ParseLogicalName(dbms)
	if err != nil {
		return nil, err
	}
	dsn, ok := c.connectionStrings[dbms]
	if !ok {
		return nil, errors.Mark(errors.Newf("no connection string configured for %s", dbms), ErrUnsupportedEngine)
	}
	if database != "" {
		if dsn, err = WithDatabase(e, dsn, database); err != nil {
			return nil, err
		}
	}
	return GetProvider(ctx, string(e), dsn)
}

// LogicalNames lists the configured DBMS labels, sorted.
func (c *Connector) LogicalNames() []string {
	names := make([]string, 0, len(c.connectionStrings))
	for n := range c.connectionStrings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
