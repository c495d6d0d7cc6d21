package engine

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// Engine identifies a supported database engine family.
type Engine string

const (
	MySQL      Engine = "mysql"
	PostgreSQL Engine = "postgres"
	MSSQL      Engine = "sqlserver"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrUnsupportedEngine = errors.New("unsupported engine")
	ErrConnection        = errors.New("connection error")
	ErrTimeout           = errors.New("execution timed out")
)

// logicalNames maps the labels stored in the registry to engines.
var logicalNames = map[string]Engine{
	"MySQL":      MySQL,
	"PostgreSQL": PostgreSQL,
	"MSSQL":      MSSQL,
}

func ParseEngine(name string) (Engine, error) {
	switch e := Engine(name); e {
	case MySQL, PostgreSQL, MSSQL:
		return e, nil
	}
	return "", errors.Mark(errors.Newf("unknown engine %q", name), ErrUnsupportedEngine)
}

func ParseLogicalName(dbms string) (Engine, error) {
	e, ok := logicalNames[dbms]
	if !ok {
		return "", errors.Mark(errors.Newf("unknown dbms %q", dbms), ErrUnsupportedEngine)
	}
	return e, nil
}

// LogicalNames returns every DBMS label the factory understands, sorted.
func LogicalNames() []string {
	names := make([]string, 0, len(logicalNames))
	for n := range logicalNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Mode selects between reading result sets and executing for effect.
type Mode int

const (
	ModeSelect Mode = iota
	ModeNonSelect
)
