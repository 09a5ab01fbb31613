package nervusdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/pkg/config"
	"github.com/nervusdb/nervusdb/pkg/query"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExecuteWriteThenRead(t *testing.T) {
	db := openTestDB(t)

	res, err := db.Execute("CREATE (:User {name: 'alice'})", nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), res.Affected)

	res, err = db.Execute("MATCH (n:User) RETURN n.name AS name", nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"name"}, res.Columns)
	v, _ := res.Rows[0].Get("name")
	assert.Equal(t, query.StringValue("alice"), v)
}

func TestExecuteSurvivesReopen(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	db, err := Open(cfg)
	require.NoError(t, err)
	_, err = db.Execute("CREATE (:User {name: 'bob'})-[:KNOWS]->(:User {name: 'carol'})", nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()

	res, err := db2.Execute("MATCH (:User {name: 'bob'})-[:KNOWS]->(m) RETURN m.name AS name", nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	v, _ := res.Rows[0].Get("name")
	assert.Equal(t, query.StringValue("carol"), v)
}

func TestExecuteErrorRollsBack(t *testing.T) {
	db := openTestDB(t)
	db.Execute("CREATE (:A {id: 1})-[:REL]->(:B {id: 2})", nil)

	// Plain DELETE on a connected node fails mid-write; the transaction
	// must roll back and a later writer must proceed normally.
	_, err := db.Execute("MATCH (b:B) DELETE b", nil)
	require.Error(t, err)

	res, err := db.Execute("MATCH (n:B) RETURN count(n) AS c", nil)
	require.NoError(t, err)
	v, _ := res.Rows[0].Get("c")
	assert.Equal(t, query.IntValue(1), v)
}

func TestExecuteExplain(t *testing.T) {
	db := openTestDB(t)
	res, err := db.Execute("EXPLAIN MATCH (n) RETURN n", nil)
	require.NoError(t, err)
	assert.Contains(t, res.Explain, "NodeScan")
	assert.Empty(t, res.Rows)
}

func TestExecuteSyntaxErrorSurfacesKind(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Execute("MATCH (n RETURN n", nil)
	require.Error(t, err)
	var qe *query.Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, query.KindSyntax, qe.Kind)
}
