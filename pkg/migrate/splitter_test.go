// SPDX-License-Identifier: Apache-2.0

package migrate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypointdb/waypoint/pkg/migrate"
)

func TestSplitBasic(t *testing.T) {
	stmts, err := migrate.Split("CREATE TABLE t(id int); INSERT INTO t VALUES (1);")
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE")
	assert.Contains(t, stmts[1], "INSERT INTO")
}

func TestSplitNoTrailingSemicolon(t *testing.T) {
	stmts, err := migrate.Split("SELECT 1")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
}

func TestSplitEmptyTailDropped(t *testing.T) {
	stmts, err := migrate.Split("SELECT 1;   \n\n")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
}

func TestSplitOnlyComments(t *testing.T) {
	stmts, err := migrate.Split("-- just a comment\n/* and a block comment */\n")
	require.NoError(t, err)
	assert.Len(t, stmts, 0)
}

func TestSplitQuotedSemicolonNotASeparator(t *testing.T) {
	stmts, err := migrate.Split(`INSERT INTO t(v) VALUES ('a;b');`)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
}

func TestSplitEscapedQuote(t *testing.T) {
	stmts, err := migrate.Split(`INSERT INTO t(v) VALUES ('it''s; fine');`)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
}

func TestSplitEString(t *testing.T) {
	stmts, err := migrate.Split(`INSERT INTO t(v) VALUES (E'a\'; b');`)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
}

func TestSplitDoubleQuotedIdentifier(t *testing.T) {
	stmts, err := migrate.Split(`SELECT "weird;name" FROM t;`)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
}

func TestSplitLineComment(t *testing.T) {
	stmts, err := migrate.Split("SELECT 1; -- trailing; comment\nSELECT 2;")
	require.NoError(t, err)
	require.Len(t, stmts, 2)
}

func TestSplitNestedBlockComment(t *testing.T) {
	stmts, err := migrate.Split("SELECT 1 /* outer /* inner */ still outer */;")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
}

func TestSplitDollarQuotedFunctionBody(t *testing.T) {
	script := `CREATE FUNCTION f() RETURNS int AS $$ BEGIN RETURN 1; END; $$ LANGUAGE plpgsql;`
	stmts, err := migrate.Split(script)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
}

func TestSplitTaggedDollarQuote(t *testing.T) {
	script := `CREATE FUNCTION f() RETURNS int AS $body$ BEGIN RETURN 1; END; $body$ LANGUAGE plpgsql;`
	stmts, err := migrate.Split(script)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
}

func TestSplitUnterminatedStringErrors(t *testing.T) {
	_, err := migrate.Split(`SELECT 'unterminated;`)
	require.Error(t, err)
}

func TestSplitRoundTrip(t *testing.T) {
	script := "CREATE TABLE t(id int);\nINSERT INTO t VALUES (1);\nINSERT INTO t VALUES (2);"
	stmts, err := migrate.Split(script)
	require.NoError(t, err)
	require.Len(t, stmts, 3)

	joined := stmts[0] + ";" + stmts[1] + ";" + stmts[2]
	for _, frag := range []string{"CREATE TABLE t(id int)", "INSERT INTO t VALUES (1)", "INSERT INTO t VALUES (2)"} {
		assert.Contains(t, joined, frag)
	}
}

func TestRequiresImplicitTransaction(t *testing.T) {
	tests := []struct {
		name  string
		stmts []string
		want  bool
	}{
		{name: "plain DDL", stmts: []string{"CREATE TABLE t(id int)"}, want: true},
		{name: "explicit BEGIN", stmts: []string{"BEGIN", "CREATE TABLE t(id int)", "COMMIT"}, want: false},
		{name: "concurrent index", stmts: []string{"CREATE INDEX CONCURRENTLY idx ON t(id)"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, migrate.RequiresImplicitTransaction(tt.stmts))
		})
	}
}
