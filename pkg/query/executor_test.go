package query

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/pkg/storage"
)

type testDB struct {
	engine *storage.GraphEngine
}

func newTestDB(t *testing.T) *testDB {
	t.Helper()
	dir := t.TempDir()
	props, err := storage.OpenBadgerPropertyStore("")
	require.NoError(t, err)
	interner, err := storage.OpenBadgerInterner("")
	require.NoError(t, err)

	engine, err := storage.Open(storage.EngineOptions{
		PagerPath: filepath.Join(dir, "graph.ndb"),
		WALPath:   filepath.Join(dir, "graph.wal"),
		Props:     props,
		Interner:  interner,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		engine.Close()
		interner.Close()
		props.Close()
	})
	return &testDB{engine: engine}
}

// exec prepares and runs one statement end to end, committing writes.
func (d *testDB) exec(t *testing.T, cypher string, params *Params) ([]*Row, uint32) {
	t.Helper()
	rows, affected, err := d.tryExec(cypher, params)
	require.NoError(t, err)
	return rows, affected
}

func (d *testDB) tryExec(cypher string, params *Params) ([]*Row, uint32, error) {
	prep, err := Prepare(cypher)
	if err != nil {
		return nil, 0, err
	}
	snap := d.engine.BeginRead()
	if !prep.IsWrite() {
		it, err := prep.ExecuteStreaming(snap, params)
		if err != nil {
			return nil, 0, err
		}
		rows, err := drain(it)
		return rows, 0, err
	}
	txn := d.engine.BeginWrite()
	wctx := NewWriteContext(d.engine, txn)
	rows, affected, err := prep.ExecuteMixed(snap, wctx, params)
	if err != nil {
		txn.Rollback()
		return nil, 0, err
	}
	if err := txn.Commit(); err != nil {
		return nil, 0, err
	}
	return rows, affected, nil
}

func getVal(t *testing.T, row *Row, name string) Value {
	t.Helper()
	v, ok := row.Get(name)
	require.True(t, ok, "row has no column %q (has %v)", name, row.Names())
	return v
}

func TestBasicWriteAndCount(t *testing.T) {
	db := newTestDB(t)

	_, affected := db.exec(t, "CREATE (:User {name: 'alice'})", nil)
	assert.Equal(t, uint32(1), affected)

	rows, _ := db.exec(t, "MATCH (n:User) RETURN count(n) AS c", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, IntValue(1), getVal(t, rows[0], "c"))
}

func TestMatchReturnsProperties(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (:User {name: 'alice', age: 30})", nil)
	db.exec(t, "CREATE (:User {name: 'bob', age: 40})", nil)

	rows, _ := db.exec(t, "MATCH (n:User) WHERE n.age > 35 RETURN n.name AS name", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, StringValue("bob"), getVal(t, rows[0], "name"))
}

func TestOptionalMatchNullFixup(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (a:A {id: 1})-[:REL]->(b:B {id: 10})", nil)
	db.exec(t, "CREATE (:A {id: 2})", nil)

	rows, _ := db.exec(t, "MATCH (a:A) OPTIONAL MATCH (a)-[:REL]->(b) RETURN a.id AS id, b AS b ORDER BY id", nil)
	require.Len(t, rows, 2)

	assert.Equal(t, IntValue(1), getVal(t, rows[0], "id"))
	assert.NotEqual(t, VKNull, getVal(t, rows[0], "b").Kind)

	assert.Equal(t, IntValue(2), getVal(t, rows[1], "id"))
	assert.Equal(t, VKNull, getVal(t, rows[1], "b").Kind)
}

func TestVarLenTraversalBounds(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (:N {id: 1})-[:REL]->(:N {id: 2})-[:REL]->(:N {id: 3})-[:REL]->(:N {id: 4})", nil)

	rows, _ := db.exec(t, "MATCH p = (a:N)-[:REL*2..2]->(x) RETURN length(p) AS len, x.id AS id ORDER BY id", nil)
	// Exactly the two-hop endpoints: 1->3 and 2->4.
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, IntValue(2), getVal(t, row, "len"))
	}
	assert.Equal(t, IntValue(3), getVal(t, rows[0], "id"))
	assert.Equal(t, IntValue(4), getVal(t, rows[1], "id"))
}

func TestTombstoneMaskingThroughDetachDelete(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (:A {id: 1})-[:REL]->(:B {id: 2})", nil)

	rows, _ := db.exec(t, "MATCH (a:A)-[:REL]->(x) RETURN x.id AS id", nil)
	require.Len(t, rows, 1)

	_, affected := db.exec(t, "MATCH (b:B) DETACH DELETE b", nil)
	assert.Equal(t, uint32(1), affected)

	rows, _ = db.exec(t, "MATCH (a:A)-[:REL]->(x) RETURN x.id AS id", nil)
	assert.Empty(t, rows)
}

func TestDeleteWithoutDetachFailsOnConnectedNode(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (:A {id: 1})-[:REL]->(:B {id: 2})", nil)

	_, _, err := db.tryExec("MATCH (b:B) DELETE b", nil)
	require.Error(t, err)
	var qe *Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, KindExecution, qe.Kind)
}

func TestIntermediateRowLimit(t *testing.T) {
	db := newTestDB(t)

	params := &Params{Limits: ResourceLimits{
		MaxIntermediateRows:  100_000,
		MaxCollectionItems:   10_000_000,
		SoftTimeoutMS:        60_000,
		MaxApplyRowsPerOuter: 100_000,
	}}
	_, _, err := db.tryExec("UNWIND range(1, 200000) AS i RETURN i", params)
	require.Error(t, err)

	var qe *Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, KindResourceLimitExceeded, qe.Kind)
	require.Equal(t, LimitIntermediateRows, qe.Limit)
	assert.GreaterOrEqual(t, qe.Observed, int64(100_001))
}

func TestCollectionItemsLimit(t *testing.T) {
	db := newTestDB(t)
	params := &Params{Limits: ResourceLimits{
		MaxIntermediateRows:  1_000_000,
		MaxCollectionItems:   1_000,
		SoftTimeoutMS:        60_000,
		MaxApplyRowsPerOuter: 1_000_000,
	}}
	_, _, err := db.tryExec("RETURN range(1, 100000) AS xs", params)
	require.Error(t, err)
	var qe *Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, KindResourceLimitExceeded, qe.Kind)
	assert.Equal(t, LimitCollectionItems, qe.Limit)
}

func TestMergeIdempotenceWithOnCreateOnMatch(t *testing.T) {
	db := newTestDB(t)

	db.exec(t, "MERGE (n:User {name: 'alice'}) ON CREATE SET n.age = 1 ON MATCH SET n.age = 2", nil)
	rows, _ := db.exec(t, "MATCH (n:User) RETURN count(n) AS c, min(n.age) AS age", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, IntValue(1), getVal(t, rows[0], "c"))
	assert.Equal(t, IntValue(1), getVal(t, rows[0], "age"))

	db.exec(t, "MERGE (n:User {name: 'alice'}) ON CREATE SET n.age = 1 ON MATCH SET n.age = 2", nil)
	rows, _ = db.exec(t, "MATCH (n:User) RETURN count(n) AS c, min(n.age) AS age", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, IntValue(1), getVal(t, rows[0], "c"))
	assert.Equal(t, IntValue(2), getVal(t, rows[0], "age"))
}

func TestMergeSingleHopRelationship(t *testing.T) {
	db := newTestDB(t)

	db.exec(t, "MERGE (a:P {id: 1})-[:KNOWS]->(b:P {id: 2})", nil)
	db.exec(t, "MERGE (a:P {id: 1})-[:KNOWS]->(b:P {id: 2})", nil)

	rows, _ := db.exec(t, "MATCH (n:P) RETURN count(n) AS c", nil)
	assert.Equal(t, IntValue(2), getVal(t, rows[0], "c"))

	rows, _ = db.exec(t, "MATCH (:P {id: 1})-[r:KNOWS]->(:P {id: 2}) RETURN count(r) AS c", nil)
	assert.Equal(t, IntValue(1), getVal(t, rows[0], "c"))
}

func TestWithPipesValue(t *testing.T) {
	db := newTestDB(t)
	rows, _ := db.exec(t, "WITH 1 AS x RETURN x", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, IntValue(1), getVal(t, rows[0], "x"))
}

func TestLimitZeroYieldsNoRows(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (:User {name: 'alice'})", nil)

	rows, _ := db.exec(t, "MATCH (n) RETURN n LIMIT 0", nil)
	assert.Empty(t, rows)
}

func TestSkipAndLimit(t *testing.T) {
	db := newTestDB(t)
	rows, _ := db.exec(t, "UNWIND range(1, 10) AS i RETURN i ORDER BY i SKIP 2 LIMIT 3", nil)
	require.Len(t, rows, 3)
	assert.Equal(t, IntValue(3), getVal(t, rows[0], "i"))
	assert.Equal(t, IntValue(5), getVal(t, rows[2], "i"))
}

func TestOrderByNullsSortLastAscending(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (:V {x: 2})", nil)
	db.exec(t, "CREATE (:V {y: 1})", nil) // no x property
	db.exec(t, "CREATE (:V {x: 1})", nil)

	rows, _ := db.exec(t, "MATCH (n:V) RETURN n.x AS x ORDER BY x", nil)
	require.Len(t, rows, 3)
	assert.Equal(t, IntValue(1), getVal(t, rows[0], "x"))
	assert.Equal(t, IntValue(2), getVal(t, rows[1], "x"))
	assert.Equal(t, VKNull, getVal(t, rows[2], "x").Kind)

	rows, _ = db.exec(t, "MATCH (n:V) RETURN n.x AS x ORDER BY x DESC", nil)
	require.Len(t, rows, 3)
	assert.Equal(t, VKNull, getVal(t, rows[0], "x").Kind)
	assert.Equal(t, IntValue(2), getVal(t, rows[1], "x"))
}

func TestDistinctAndUnion(t *testing.T) {
	db := newTestDB(t)

	rows, _ := db.exec(t, "UNWIND [1, 2, 2, 3, 3, 3] AS x RETURN DISTINCT x ORDER BY x", nil)
	require.Len(t, rows, 3)

	rows, _ = db.exec(t, "RETURN 1 AS x UNION RETURN 1 AS x", nil)
	assert.Len(t, rows, 1)

	rows, _ = db.exec(t, "RETURN 1 AS x UNION ALL RETURN 1 AS x", nil)
	assert.Len(t, rows, 2)
}

func TestAggregates(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (:E {g: 'a', v: 1})", nil)
	db.exec(t, "CREATE (:E {g: 'a', v: 3})", nil)
	db.exec(t, "CREATE (:E {g: 'b', v: 10})", nil)

	rows, _ := db.exec(t, "MATCH (n:E) RETURN n.g AS g, count(*) AS c, sum(n.v) AS s, avg(n.v) AS a, min(n.v) AS mn, max(n.v) AS mx ORDER BY g", nil)
	require.Len(t, rows, 2)

	assert.Equal(t, StringValue("a"), getVal(t, rows[0], "g"))
	assert.Equal(t, IntValue(2), getVal(t, rows[0], "c"))
	assert.Equal(t, IntValue(4), getVal(t, rows[0], "s"))
	assert.Equal(t, IntValue(2), getVal(t, rows[0], "a"))
	assert.Equal(t, IntValue(1), getVal(t, rows[0], "mn"))
	assert.Equal(t, IntValue(3), getVal(t, rows[0], "mx"))

	assert.Equal(t, StringValue("b"), getVal(t, rows[1], "g"))
	assert.Equal(t, IntValue(1), getVal(t, rows[1], "c"))
}

func TestCollectAggregate(t *testing.T) {
	db := newTestDB(t)
	rows, _ := db.exec(t, "UNWIND [1, 2, 3] AS x RETURN collect(x) AS xs", nil)
	require.Len(t, rows, 1)
	xs := getVal(t, rows[0], "xs")
	require.Equal(t, VKList, xs.Kind)
	assert.Len(t, xs.List, 3)
}

func TestCountOverEmptyMatchIsZero(t *testing.T) {
	db := newTestDB(t)
	rows, _ := db.exec(t, "MATCH (n:Nothing) RETURN count(n) AS c", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, IntValue(0), getVal(t, rows[0], "c"))
}

func TestUnwindNullEmitsSingleNullRow(t *testing.T) {
	db := newTestDB(t)
	rows, _ := db.exec(t, "UNWIND null AS x RETURN x", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, VKNull, getVal(t, rows[0], "x").Kind)
}

func TestSetAndRemoveProperty(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (:U {name: 'alice'})", nil)

	db.exec(t, "MATCH (n:U) SET n.age = 33", nil)
	rows, _ := db.exec(t, "MATCH (n:U) RETURN n.age AS age", nil)
	assert.Equal(t, IntValue(33), getVal(t, rows[0], "age"))

	db.exec(t, "MATCH (n:U) REMOVE n.age", nil)
	rows, _ = db.exec(t, "MATCH (n:U) RETURN n.age AS age", nil)
	assert.Equal(t, VKNull, getVal(t, rows[0], "age").Kind)
}

func TestSetLabelChangesScanResults(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (:Draft {id: 1})", nil)

	db.exec(t, "MATCH (n:Draft) SET n:Published", nil)

	rows, _ := db.exec(t, "MATCH (n:Published) RETURN count(n) AS c", nil)
	assert.Equal(t, IntValue(1), getVal(t, rows[0], "c"))
	rows, _ = db.exec(t, "MATCH (n:Draft) RETURN count(n) AS c", nil)
	assert.Equal(t, IntValue(0), getVal(t, rows[0], "c"))
}

func TestCreateReadBackRoundTrip(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (n {k: 'v1'})", nil)

	rows, _ := db.exec(t, "MATCH (n) WHERE n.k = 'v1' RETURN n", nil)
	require.NotEmpty(t, rows)
	n := getVal(t, rows[0], "n")
	assert.Equal(t, VKNodeID, n.Kind)
}

func TestReadIdempotence(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (:R {v: 1})-[:REL]->(:R {v: 2})", nil)

	prep, err := Prepare("MATCH (a:R)-[:REL]->(b:R) RETURN a.v AS av, b.v AS bv")
	require.NoError(t, err)
	snap := db.engine.BeginRead()

	run := func() []*Row {
		it, err := prep.ExecuteStreaming(snap, nil)
		require.NoError(t, err)
		rows, err := drain(it)
		require.NoError(t, err)
		return rows
	}
	first, second := run(), run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].hashKey(), second[i].hashKey())
	}
}

func TestProcedureCall(t *testing.T) {
	db := newTestDB(t)

	rows, _ := db.exec(t, "CALL db.info() YIELD version RETURN version", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, StringValue(Version), getVal(t, rows[0], "version"))

	rows, _ = db.exec(t, "CALL math.add(2, 3) YIELD result RETURN result", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, IntValue(5), getVal(t, rows[0], "result"))
}

func TestProcedureNotFound(t *testing.T) {
	db := newTestDB(t)
	_, _, err := db.tryExec("CALL no.such.proc() YIELD x RETURN x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ProcedureNotFound")
}

func TestCallSubquery(t *testing.T) {
	db := newTestDB(t)
	rows, _ := db.exec(t, "UNWIND [1, 2] AS x CALL { RETURN 10 AS y } RETURN x, y ORDER BY x", nil)
	require.Len(t, rows, 2)
	assert.Equal(t, IntValue(10), getVal(t, rows[0], "y"))
}

func TestForeachCreates(t *testing.T) {
	db := newTestDB(t)
	_, affected := db.exec(t, "FOREACH (x IN [1, 2, 3] | CREATE (:F {v: x}))", nil)
	assert.Equal(t, uint32(3), affected)

	rows, _ := db.exec(t, "MATCH (n:F) RETURN count(n) AS c", nil)
	assert.Equal(t, IntValue(3), getVal(t, rows[0], "c"))
}

func TestIndexSeekServesEqualityMatch(t *testing.T) {
	db := newTestDB(t)

	labelID, err := db.engine.Interner().InternLabel("User")
	require.NoError(t, err)
	db.engine.Indexes().CreateIndex(labelID, "name")

	db.exec(t, "CREATE (:User {name: 'alice'})", nil)
	db.exec(t, "CREATE (:User {name: 'bob'})", nil)

	rows, _ := db.exec(t, "MATCH (n:User) WHERE n.name = 'bob' RETURN n.name AS name", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, StringValue("bob"), getVal(t, rows[0], "name"))

	// A label with no covering index resolves through the scan fallback.
	db.exec(t, "CREATE (:Team {name: 'core'})", nil)
	rows, _ = db.exec(t, "MATCH (n:Team) WHERE n.name = 'core' RETURN n.name AS name", nil)
	require.Len(t, rows, 1)
}

func TestUndirectedMatch(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (:C {id: 1})-[:REL]->(:C {id: 2})", nil)

	rows, _ := db.exec(t, "MATCH (a:C {id: 2})-[:REL]-(b) RETURN b.id AS id", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, IntValue(1), getVal(t, rows[0], "id"))
}

func TestExplainReturnsPlanText(t *testing.T) {
	prep, err := Prepare("EXPLAIN MATCH (n:User) RETURN n")
	require.NoError(t, err)
	assert.True(t, prep.IsExplain())
	text, ok := prep.ExplainString()
	require.True(t, ok)
	assert.Contains(t, text, "NodeScan")
	assert.Contains(t, text, "Project")
}

func TestPrepareRejectsUndefinedVariable(t *testing.T) {
	_, err := Prepare("MATCH (n) WHERE m.age > 1 RETURN n")
	require.Error(t, err)
	var qe *Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, KindSyntax, qe.Kind)
}

func TestPrepareRejectsNonBooleanWhere(t *testing.T) {
	_, err := Prepare("MATCH (n) WHERE 1 + 2 RETURN n")
	require.Error(t, err)
	var qe *Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, KindSyntax, qe.Kind)
}

func TestMergeRequiresPropertyMap(t *testing.T) {
	_, err := Prepare("MERGE (n:User)")
	require.Error(t, err)
	var qe *Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, KindSyntax, qe.Kind)
}

func TestExecuteStreamingRejectsWrites(t *testing.T) {
	db := newTestDB(t)
	prep, err := Prepare("CREATE (:X)")
	require.NoError(t, err)
	_, err = prep.ExecuteStreaming(db.engine.BeginRead(), nil)
	require.Error(t, err)
}

func TestParametersResolve(t *testing.T) {
	db := newTestDB(t)
	db.exec(t, "CREATE (:U {name: 'alice'})", nil)

	params := &Params{Values: map[string]Value{"who": StringValue("alice")}}
	rows, _ := db.exec(t, "MATCH (n:U) WHERE n.name = $who RETURN n.name AS name", params)
	require.Len(t, rows, 1)
}

func TestCreateThenReturnSeesOverlayState(t *testing.T) {
	db := newTestDB(t)
	rows, affected := db.exec(t, "CREATE (n:User {name: 'carol'}) RETURN n.name AS name", nil)
	assert.Equal(t, uint32(1), affected)
	require.Len(t, rows, 1)
	assert.Equal(t, StringValue("carol"), getVal(t, rows[0], "name"))
}
