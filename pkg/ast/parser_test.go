package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMatchReturn(t *testing.T) {
	q, err := Parse("MATCH (n:User) WHERE n.age > 30 RETURN n.name AS name, n ORDER BY name DESC SKIP 1 LIMIT 5")
	require.NoError(t, err)
	require.Len(t, q.Clauses, 2)

	m := q.Clauses[0].(*MatchClause)
	assert.False(t, m.Optional)
	require.Len(t, m.Pattern.Elements, 1)
	node := m.Pattern.Elements[0].Nodes[0]
	assert.Equal(t, "n", node.Alias)
	assert.Equal(t, []string{"User"}, node.Labels)
	require.NotNil(t, m.Where)

	r := q.Clauses[1].(*ReturnClause)
	require.Len(t, r.Items, 2)
	assert.Equal(t, "name", r.Items[0].Alias)
	require.Len(t, r.OrderBy, 1)
	assert.True(t, r.OrderBy[0].Desc)
	assert.NotNil(t, r.Skip)
	assert.NotNil(t, r.Limit)
}

func TestParseRelationshipPatterns(t *testing.T) {
	q, err := Parse("MATCH (a)-[r:KNOWS]->(b) RETURN r")
	require.NoError(t, err)
	elem := q.Clauses[0].(*MatchClause).Pattern.Elements[0]
	require.Len(t, elem.Rels, 1)
	assert.Equal(t, "r", elem.Rels[0].Alias)
	assert.Equal(t, []string{"KNOWS"}, elem.Rels[0].Types)
	assert.Equal(t, DirOutgoing, elem.Rels[0].Direction)

	q, err = Parse("MATCH (a)<-[:REL]-(b) RETURN a")
	require.NoError(t, err)
	assert.Equal(t, DirIncoming, q.Clauses[0].(*MatchClause).Pattern.Elements[0].Rels[0].Direction)

	q, err = Parse("MATCH (a)-[:REL]-(b) RETURN a")
	require.NoError(t, err)
	assert.Equal(t, DirEither, q.Clauses[0].(*MatchClause).Pattern.Elements[0].Rels[0].Direction)
}

func TestParseVarLengthPattern(t *testing.T) {
	q, err := Parse("MATCH p = (a)-[:REL*2..4]->(b) RETURN p")
	require.NoError(t, err)
	m := q.Clauses[0].(*MatchClause)
	assert.Equal(t, "p", m.Pattern.PathAlias)
	rel := m.Pattern.Elements[0].Rels[0]
	require.NotNil(t, rel.MinHops)
	require.NotNil(t, rel.MaxHops)
	assert.Equal(t, 2, *rel.MinHops)
	assert.Equal(t, 4, *rel.MaxHops)

	q, err = Parse("MATCH (a)-[:REL*2..]->(b) RETURN a")
	require.NoError(t, err)
	rel = q.Clauses[0].(*MatchClause).Pattern.Elements[0].Rels[0]
	require.NotNil(t, rel.MinHops)
	assert.Nil(t, rel.MaxHops)
}

func TestParsePropertyMapInPattern(t *testing.T) {
	q, err := Parse("CREATE (:User {name: 'alice', age: 30})")
	require.NoError(t, err)
	node := q.Clauses[0].(*CreateClause).Pattern.Elements[0].Nodes[0]
	require.Len(t, node.Properties, 2)
	assert.IsType(t, &Literal{}, node.Properties["name"])
}

func TestParseMergeWithOnCreateOnMatch(t *testing.T) {
	q, err := Parse("MERGE (n:User {name: 'a'}) ON CREATE SET n.age = 1 ON MATCH SET n.age = 2")
	require.NoError(t, err)
	m := q.Clauses[0].(*MergeClause)
	require.Len(t, m.OnCreate, 1)
	require.Len(t, m.OnMatch, 1)
	assert.Equal(t, "age", m.OnCreate[0].Property)
}

func TestParseCallProcedureAndSubquery(t *testing.T) {
	q, err := Parse("CALL db.info() YIELD version RETURN version")
	require.NoError(t, err)
	c := q.Clauses[0].(*CallClause)
	assert.Equal(t, "db.info", c.Name)
	assert.Equal(t, []string{"version"}, c.Yields)

	q, err = Parse("CALL { RETURN 1 AS x } RETURN x")
	require.NoError(t, err)
	c = q.Clauses[0].(*CallClause)
	require.NotNil(t, c.Subquery)
	assert.Len(t, c.Subquery.Clauses, 1)
}

func TestParseForeach(t *testing.T) {
	q, err := Parse("FOREACH (x IN [1, 2] | CREATE (:N {v: x}))")
	require.NoError(t, err)
	f := q.Clauses[0].(*ForeachClause)
	assert.Equal(t, "x", f.Variable)
	require.Len(t, f.Updates, 1)
	assert.IsType(t, &CreateClause{}, f.Updates[0])
}

func TestParseUnionAndExplain(t *testing.T) {
	q, err := Parse("RETURN 1 AS x UNION ALL RETURN 2 AS x")
	require.NoError(t, err)
	require.Len(t, q.Clauses, 3)
	u := q.Clauses[1].(*UnionClause)
	assert.True(t, u.All)

	q, err = Parse("EXPLAIN MATCH (n) RETURN n")
	require.NoError(t, err)
	assert.IsType(t, &ExplainClause{}, q.Clauses[0])
}

func TestParseDottedFunctionVsPropertyAccess(t *testing.T) {
	q, err := Parse("RETURN datetime.fromepoch(0) AS t, n.prop AS p")
	require.NoError(t, err)
	items := q.Clauses[0].(*ReturnClause).Items
	fc, ok := items[0].Expr.(*FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "datetime.fromepoch", fc.Name)

	pa, ok := items[1].Expr.(*PropertyAccess)
	require.True(t, ok)
	assert.Equal(t, "prop", pa.Property)
}

func TestParseQuantifiersAndComprehensions(t *testing.T) {
	q, err := Parse("RETURN any(x IN [1] WHERE x > 0) AS a, [y IN [1, 2] | y * 2] AS b")
	require.NoError(t, err)
	items := q.Clauses[0].(*ReturnClause).Items
	assert.IsType(t, &Quantifier{}, items[0].Expr)
	assert.IsType(t, &ListComprehension{}, items[1].Expr)
}

func TestParseExists(t *testing.T) {
	q, err := Parse("MATCH (a) WHERE EXISTS { (a)-[:REL]->(b) } RETURN a")
	require.NoError(t, err)
	m := q.Clauses[0].(*MatchClause)
	assert.IsType(t, &PatternExists{}, m.Where)

	q, err = Parse("MATCH (a) WHERE EXISTS(a.name) RETURN a")
	require.NoError(t, err)
	fc := q.Clauses[0].(*MatchClause).Where.(*FunctionCall)
	assert.Equal(t, "exists", fc.Name)
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"MATCH (n RETURN n",
		"RETURN",
		"BOGUS (n)",
		"MATCH (n) RETURN n EXTRA",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Expected")
		})
	}
}

func TestParseDetachDelete(t *testing.T) {
	q, err := Parse("MATCH (n) DETACH DELETE n")
	require.NoError(t, err)
	d := q.Clauses[1].(*DeleteClause)
	assert.True(t, d.Detach)
	require.Len(t, d.Expressions, 1)
}

func TestParseSetVariants(t *testing.T) {
	q, err := Parse("MATCH (n) SET n.age = 1, n += {a: 1}, n:Label")
	require.NoError(t, err)
	items := q.Clauses[1].(*SetClause).Items
	require.Len(t, items, 3)
	assert.Equal(t, "age", items[0].Property)
	assert.True(t, items[1].Append)
	assert.Equal(t, []string{"Label"}, items[2].Labels)
}
