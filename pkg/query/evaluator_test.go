package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/pkg/ast"
)

// evalExpr parses `RETURN <expr> AS v` and evaluates the projected
// expression against an empty row; snapshot-free expressions only.
func evalExpr(t *testing.T, expr string, row *Row, params *Params) (Value, error) {
	t.Helper()
	q, err := ast.Parse("RETURN " + expr + " AS v")
	require.NoError(t, err)
	ret := q.Clauses[0].(*ast.ReturnClause)
	ev := NewEvaluator(nil, NewGuard(DefaultResourceLimits(), time.Now()))
	if row == nil {
		row = NewRow()
	}
	return ev.Eval(ret.Items[0].Expr, row, params)
}

func mustEval(t *testing.T, expr string) Value {
	t.Helper()
	v, err := evalExpr(t, expr, nil, nil)
	require.NoError(t, err)
	return v
}

func TestThreeValuedAnd(t *testing.T) {
	tests := []struct {
		expr string
		want Value
	}{
		{"true AND true", BoolValue(true)},
		{"true AND false", BoolValue(false)},
		{"false AND null", BoolValue(false)},
		{"null AND false", BoolValue(false)},
		{"true AND null", Null},
		{"null AND true", Null},
		{"null AND null", Null},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, mustEval(t, tt.expr))
		})
	}
}

func TestThreeValuedOr(t *testing.T) {
	tests := []struct {
		expr string
		want Value
	}{
		{"true OR null", BoolValue(true)},
		{"null OR true", BoolValue(true)},
		{"false OR null", Null},
		{"null OR false", Null},
		{"false OR false", BoolValue(false)},
		{"null OR null", Null},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, mustEval(t, tt.expr))
		})
	}
}

func TestNullPropagation(t *testing.T) {
	assert.Equal(t, Null, mustEval(t, "1 + null"))
	assert.Equal(t, Null, mustEval(t, "null = null"))
	assert.Equal(t, Null, mustEval(t, "1 = null"))
	assert.Equal(t, Null, mustEval(t, "1 < null"))
	assert.Equal(t, BoolValue(true), mustEval(t, "null IS NULL"))
	assert.Equal(t, BoolValue(false), mustEval(t, "1 IS NULL"))
	assert.Equal(t, BoolValue(true), mustEval(t, "1 IS NOT NULL"))
}

func TestArithmetic(t *testing.T) {
	assert.Equal(t, IntValue(7), mustEval(t, "1 + 2 * 3"))
	assert.Equal(t, FloatValue(2.5), mustEval(t, "5 / 2"))
	assert.Equal(t, IntValue(1), mustEval(t, "7 % 3"))
	assert.Equal(t, FloatValue(8), mustEval(t, "2 ^ 3"))
	assert.Equal(t, StringValue("ab"), mustEval(t, "'a' + 'b'"))

	_, err := evalExpr(t, "1 / 0", nil, nil)
	require.Error(t, err)
}

func TestInOperator(t *testing.T) {
	assert.Equal(t, BoolValue(true), mustEval(t, "2 IN [1, 2, 3]"))
	assert.Equal(t, BoolValue(false), mustEval(t, "5 IN [1, 2, 3]"))
	// A null member keeps a failed membership test unknown.
	assert.Equal(t, Null, mustEval(t, "5 IN [1, null]"))
	assert.Equal(t, BoolValue(true), mustEval(t, "1 IN [1, null]"))
	assert.Equal(t, Null, mustEval(t, "1 IN null"))
}

func TestStringPredicates(t *testing.T) {
	assert.Equal(t, BoolValue(true), mustEval(t, "'hello' STARTS WITH 'he'"))
	assert.Equal(t, BoolValue(true), mustEval(t, "'hello' ENDS WITH 'lo'"))
	assert.Equal(t, BoolValue(true), mustEval(t, "'hello' CONTAINS 'ell'"))
	assert.Equal(t, BoolValue(false), mustEval(t, "'hello' STARTS WITH 'lo'"))
}

func TestRegexMatch(t *testing.T) {
	tests := []struct {
		expr string
		want Value
	}{
		{`'hello' =~ 'h.*o'`, BoolValue(true)},
		{`'hello' =~ '^hell'`, BoolValue(true)},
		{`'hello' =~ '^ello$'`, BoolValue(false)},
		// Unanchored: a substring match anywhere suffices.
		{`'hello' =~ 'ell'`, BoolValue(true)},
		{`'hello' =~ '[0-9]+'`, BoolValue(false)},
		{`'alice@example.com' =~ '.+@.+\\..+'`, BoolValue(true)},
		// A pattern that fails to compile never matches.
		{`'hello' =~ '['`, BoolValue(false)},
		{`null =~ 'h.*'`, Null},
		{`'hello' =~ null`, Null},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, mustEval(t, tt.expr))
		})
	}
}

func TestIndexingAndSlicing(t *testing.T) {
	assert.Equal(t, IntValue(1), mustEval(t, "[1, 2, 3][0]"))
	assert.Equal(t, IntValue(3), mustEval(t, "[1, 2, 3][-1]"))
	assert.Equal(t, Null, mustEval(t, "[1, 2, 3][9]"))

	v := mustEval(t, "[1, 2, 3, 4][1..3]")
	require.Equal(t, VKList, v.Kind)
	require.Len(t, v.List, 2)
	assert.Equal(t, IntValue(2), v.List[0])

	v = mustEval(t, "[1, 2, 3, 4][2..]")
	require.Equal(t, VKList, v.Kind)
	assert.Len(t, v.List, 2)

	v = mustEval(t, "[1, 2][5..9]")
	require.Equal(t, VKList, v.Kind)
	assert.Empty(t, v.List)
}

func TestCollectionBuiltins(t *testing.T) {
	assert.Equal(t, IntValue(3), mustEval(t, "size([1, 2, 3])"))
	assert.Equal(t, IntValue(5), mustEval(t, "size('hello')"))
	assert.Equal(t, IntValue(1), mustEval(t, "head([1, 2, 3])"))
	assert.Equal(t, IntValue(3), mustEval(t, "last([1, 2, 3])"))

	tail := mustEval(t, "tail([1, 2, 3])")
	require.Equal(t, VKList, tail.Kind)
	assert.Len(t, tail.List, 2)

	rng := mustEval(t, "range(1, 5)")
	require.Equal(t, VKList, rng.Kind)
	assert.Len(t, rng.List, 5)

	rev := mustEval(t, "reverse([1, 2, 3])")
	assert.Equal(t, IntValue(3), rev.List[0])

	assert.Equal(t, IntValue(2), mustEval(t, "coalesce(null, 2, 3)"))
	assert.Equal(t, Null, mustEval(t, "coalesce(null, null)"))

	ks := mustEval(t, "keys({b: 1, a: 2})")
	require.Equal(t, VKList, ks.Kind)
	assert.Equal(t, StringValue("a"), ks.List[0])
	assert.Equal(t, StringValue("b"), ks.List[1])
}

func TestListComprehension(t *testing.T) {
	v := mustEval(t, "[x IN [1, 2, 3, 4] WHERE x % 2 = 0 | x * 10]")
	require.Equal(t, VKList, v.Kind)
	require.Len(t, v.List, 2)
	assert.Equal(t, IntValue(20), v.List[0])
	assert.Equal(t, IntValue(40), v.List[1])
}

func TestQuantifiers(t *testing.T) {
	tests := []struct {
		expr string
		want Value
	}{
		{"any(x IN [1, 2] WHERE x > 1)", BoolValue(true)},
		{"any(x IN [1, 2] WHERE x > 5)", BoolValue(false)},
		{"any(x IN [1, null] WHERE x > 5)", Null},
		{"all(x IN [2, 3] WHERE x > 1)", BoolValue(true)},
		{"all(x IN [1, 2] WHERE x > 1)", BoolValue(false)},
		{"none(x IN [1, 2] WHERE x > 5)", BoolValue(true)},
		{"none(x IN [1, 2] WHERE x > 1)", BoolValue(false)},
		{"single(x IN [1, 2, 3] WHERE x = 2)", BoolValue(true)},
		{"single(x IN [2, 2] WHERE x = 2)", BoolValue(false)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, mustEval(t, tt.expr))
		})
	}
}

func TestCaseExpression(t *testing.T) {
	assert.Equal(t, StringValue("two"), mustEval(t, "CASE 2 WHEN 1 THEN 'one' WHEN 2 THEN 'two' ELSE 'many' END"))
	assert.Equal(t, StringValue("many"), mustEval(t, "CASE 9 WHEN 1 THEN 'one' ELSE 'many' END"))
	assert.Equal(t, Null, mustEval(t, "CASE 9 WHEN 1 THEN 'one' END"))
	assert.Equal(t, StringValue("big"), mustEval(t, "CASE WHEN 10 > 5 THEN 'big' ELSE 'small' END"))
}

func TestTemporalStringComparison(t *testing.T) {
	// Date-shaped strings compare by calendar value, not lexicographically.
	assert.Equal(t, BoolValue(true), mustEval(t, "'2024-01-02' > '2024-01-01'"))
	assert.Equal(t, BoolValue(true), mustEval(t, "'2024-02-01T00:00:00' > '2024-01-31T23:59:59'"))
	assert.Equal(t, BoolValue(true), mustEval(t, "'2024-01-01' = '2024-01-01'"))
}

func TestDatetimeFromEpoch(t *testing.T) {
	v := mustEval(t, "datetime.fromepoch(0)")
	require.Equal(t, VKDateTime, v.Kind)
	assert.Equal(t, int64(0), v.DateTime)

	v = mustEval(t, "datetime.fromepochmillis(1500)")
	require.Equal(t, VKDateTime, v.Kind)
	assert.Equal(t, int64(1_500_000_000), v.DateTime)
}

func TestDurationBetween(t *testing.T) {
	v, err := evalExpr(t, "duration.inseconds(datetime.fromepoch(0), datetime.fromepoch(90))", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, IntValue(90), v)

	v, err = evalExpr(t, "duration.indays(datetime.fromepoch(0), datetime.fromepoch(172800))", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, IntValue(2), v)
}

func TestDatetimeTruncate(t *testing.T) {
	// 1970-01-02T03:04:05 truncated to day is 1970-01-02T00:00.
	v := mustEval(t, "datetime.truncate('day', datetime.fromepoch(97445))")
	require.Equal(t, VKDateTime, v.Kind)
	assert.Equal(t, int64(86_400)*int64(time.Second), v.DateTime)
}

func TestParameterResolution(t *testing.T) {
	params := &Params{Values: map[string]Value{"n": IntValue(41)}}
	v, err := evalExpr(t, "$n + 1", nil, params)
	require.NoError(t, err)
	assert.Equal(t, IntValue(42), v)

	// Unknown parameters fall back to null.
	v, err = evalExpr(t, "$missing", nil, params)
	require.NoError(t, err)
	assert.Equal(t, Null, v)
}

func TestVariableResolvesFromRow(t *testing.T) {
	row := NewRow()
	row.Set("x", IntValue(5))
	v, err := evalExpr(t, "x * 2", row, nil)
	require.NoError(t, err)
	assert.Equal(t, IntValue(10), v)
}

func TestPropertyAccessOnMap(t *testing.T) {
	row := NewRow()
	row.Set("m", MapValue(map[string]Value{"a": IntValue(1)}))
	v, err := evalExpr(t, "m.a", row, nil)
	require.NoError(t, err)
	assert.Equal(t, IntValue(1), v)

	v, err = evalExpr(t, "m.missing", row, nil)
	require.NoError(t, err)
	assert.Equal(t, Null, v)
}

func TestValueOrderingNullLast(t *testing.T) {
	assert.True(t, IntValue(1).Less(Null))
	assert.False(t, Null.Less(IntValue(1)))
	assert.True(t, IntValue(1).Less(FloatValue(1.5)))
	assert.True(t, StringValue("a").Less(StringValue("b")))
}

func TestParseParamsJSON(t *testing.T) {
	params, err := ParseParamsJSON([]byte(`{
		"name": "alice",
		"age": 30,
		"score": 1.5,
		"tags": ["a", "b"],
		"meta": {"k": true},
		"nothing": null
	}`))
	require.NoError(t, err)

	assert.Equal(t, StringValue("alice"), params.Values["name"])
	assert.Equal(t, IntValue(30), params.Values["age"])
	assert.Equal(t, FloatValue(1.5), params.Values["score"])
	require.Equal(t, VKList, params.Values["tags"].Kind)
	require.Equal(t, VKMap, params.Values["meta"].Kind)
	assert.Equal(t, BoolValue(true), params.Values["meta"].Map["k"])
	assert.Equal(t, Null, params.Values["nothing"])

	_, err = ParseParamsJSON([]byte("not json"))
	require.Error(t, err)
}

func TestParseParamsJSONReifiedNode(t *testing.T) {
	params, err := ParseParamsJSON([]byte(`{
		"n": {"__node": 7, "labels": ["User"], "properties": {"name": "alice"}}
	}`))
	require.NoError(t, err)
	n := params.Values["n"]
	require.Equal(t, VKNode, n.Kind)
	assert.Equal(t, []string{"User"}, n.ReifiedNode.Labels)
	assert.Equal(t, StringValue("alice"), n.ReifiedNode.Properties["name"])
}

func TestRowHashKeyDistinguishesValues(t *testing.T) {
	a := NewRow()
	a.Set("x", IntValue(1))
	a.Set("y", IntValue(2))

	b := NewRow()
	b.Set("x", IntValue(1))
	b.Set("y", IntValue(2))
	assert.Equal(t, a.hashKey(), b.hashKey())

	c := NewRow()
	c.Set("x", IntValue(1))
	c.Set("y", IntValue(3))
	assert.NotEqual(t, a.hashKey(), c.hashKey())
}
