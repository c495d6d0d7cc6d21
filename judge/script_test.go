package judge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSandboxName(t *testing.T) {
	require.Equal(t, "db42", SandboxName(42))
}

func TestSplitCreationScript(t *testing.T) {
	tests := []struct {
		name   string
		script string
		schema string
	}{
		{
			name:   "postgres connect directive",
			script: "CREATE DATABASE shop;\r\n\\connect shop\r\nCREATE TABLE t (x int);\r\n",
			schema: "CREATE TABLE t (x int);",
		},
		{
			name:   "mysql use",
			script: "create database if not exists `shop` character set utf8mb4;\nUSE `shop`;\nCREATE TABLE t (x int);",
			schema: "CREATE TABLE t (x int);",
		},
		{
			name:   "sql server batches",
			script: "CREATE DATABASE [shop]\nON PRIMARY (NAME = shop);\nGO\nUSE [shop]\nGO\nCREATE TABLE t (x int);\nGO",
			schema: "CREATE TABLE t (x int);",
		},
		{
			name:   "create database without semicolon",
			script: "CREATE DATABASE shop\nGO\nUSE shop\nGO\nCREATE TABLE t (x int);\nINSERT INTO t VALUES (1);",
			schema: "CREATE TABLE t (x int);\nINSERT INTO t VALUES (1);",
		},
		{
			name:   "create database followed by schema in one batch",
			script: "CREATE DATABASE shop\n  COLLATE Latin1_General_CI_AS\nCREATE TABLE t (x int);",
			schema: "CREATE TABLE t (x int);",
		},
		{
			name:   "copy payload is kept verbatim",
			script: "\\connect shop\nCREATE TABLE w (a text, b text);\n\nCOPY w (a, b) FROM stdin;\nuse\tcase\nfoo\tbar\n\\.\n",
			schema: "CREATE TABLE w (a text, b text);\n\nCOPY w (a, b) FROM stdin;\nuse\tcase\nfoo\tbar\n\\.",
		},
		{
			name:   "schema only",
			script: "CREATE TABLE t (x int);\n\nINSERT INTO t VALUES (1);",
			schema: "CREATE TABLE t (x int);\n\nINSERT INTO t VALUES (1);",
		},
		{
			name:   "user is not use",
			script: "CREATE TABLE users (id int);",
			schema: "CREATE TABLE users (id int);",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			create, schema := SplitCreationScript(tt.script, "db5")
			require.Equal(t, "CREATE DATABASE db5;", create)
			require.Equal(t, tt.schema, schema)
		})
	}
}

func TestSplitUnits(t *testing.T) {
	require.Equal(t,
		[]string{"CREATE TABLE t (x int);", "INSERT INTO t VALUES (1);\nINSERT INTO t VALUES (2);"},
		splitUnits("CREATE TABLE t (x int);\n  \nINSERT INTO t VALUES (1);\nINSERT INTO t VALUES (2);\n"))

	require.Equal(t,
		[]string{"CREATE TABLE t (x int);", "CREATE VIEW v AS SELECT x FROM t;"},
		splitUnits("CREATE TABLE t (x int);\nGO\nCREATE VIEW v AS SELECT x FROM t;\ngo\n"))

	// trailing tabs are NULL columns in COPY text format
	require.Equal(t,
		[]string{"COPY t (x, y) FROM stdin;\n1\t\t\n\\."},
		splitUnits("COPY t (x, y) FROM stdin;\n1\t\t\n\\.\n"))

	require.Empty(t, splitUnits("\n\n  \n"))
}
