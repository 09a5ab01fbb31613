package query

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nervusdb/nervusdb/pkg/ast"
	"github.com/nervusdb/nervusdb/pkg/storage"
)

// Snapshot is the minimal read-path capability the evaluator needs. It is
// satisfied by *storage.Snapshot; declaring it as an interface here keeps
// pkg/query from depending on storage internals it doesn't use and gives
// procedures a narrower surface to
// implement against.
type Snapshot interface {
	Nodes() []storage.InternalNodeID
	IsTombstonedNode(storage.InternalNodeID) bool
	NodeLabel(storage.InternalNodeID) (storage.LabelID, bool)
	ResolveNodeLabels(storage.InternalNodeID) []storage.LabelID
	ResolveExternal(storage.InternalNodeID) (storage.ExternalID, bool)
	LookupInternal(storage.ExternalID) (storage.InternalNodeID, bool)
	ResolveLabelID(name string) (storage.LabelID, bool)
	ResolveLabelName(id storage.LabelID) (string, bool)
	ResolveRelTypeID(name string) (storage.RelTypeID, bool)
	ResolveRelTypeName(id storage.RelTypeID) (string, bool)
	NodeProperty(id storage.InternalNodeID, key string) (storage.PropertyValue, bool, error)
	EdgeProperty(edge storage.EdgeKey, key string) (storage.PropertyValue, bool, error)
	NodeProperties(id storage.InternalNodeID) (map[string]storage.PropertyValue, error)
	EdgeProperties(edge storage.EdgeKey) (map[string]storage.PropertyValue, error)
	Neighbors(src storage.InternalNodeID, rel *storage.RelTypeID) *storage.NeighborIterator
	IncomingNeighbors(dst storage.InternalNodeID, rel *storage.RelTypeID) *storage.IncomingNeighborIterator
	LookupIndex(label storage.LabelID, prop string, value storage.PropertyValue) ([]storage.InternalNodeID, bool)
}

// Guard accumulates resource consumption across a single prepared-query
// execution and enforces the configured resource limits. One Guard is shared by
// every PlanIterator and by the evaluator's collection-building builtins.
type Guard struct {
	limits      ResourceLimits
	start       time.Time
	emittedRows map[string]int64
	collected   int64
}

func NewGuard(limits ResourceLimits, start time.Time) *Guard {
	return &Guard{limits: limits, start: start, emittedRows: make(map[string]int64)}
}

func (g *Guard) CheckTimeout(stage string) error {
	if g.limits.SoftTimeoutMS <= 0 {
		return nil
	}
	elapsed := time.Since(g.start).Milliseconds()
	if elapsed > g.limits.SoftTimeoutMS {
		return resourceLimitErr(LimitTimeout, g.limits.SoftTimeoutMS, elapsed, stage)
	}
	return nil
}

func (g *Guard) CountRow(stage string) error {
	g.emittedRows[stage]++
	if g.limits.MaxIntermediateRows > 0 && g.emittedRows[stage] > g.limits.MaxIntermediateRows {
		return resourceLimitErr(LimitIntermediateRows, g.limits.MaxIntermediateRows, g.emittedRows[stage], stage)
	}
	return nil
}

func (g *Guard) CountCollectionItems(stage string, n int64) error {
	g.collected += n
	if g.limits.MaxCollectionItems > 0 && g.collected > g.limits.MaxCollectionItems {
		return resourceLimitErr(LimitCollectionItems, g.limits.MaxCollectionItems, g.collected, stage)
	}
	return nil
}

// Evaluator implements evaluate_expression_value. It
// holds no mutable state beyond the guard it was constructed with, so the
// same Evaluator is safe to share across rows within one execution.
type Evaluator struct {
	snap  Snapshot
	guard *Guard
}

func NewEvaluator(snap Snapshot, guard *Guard) *Evaluator {
	return &Evaluator{snap: snap, guard: guard}
}

// Eval is the pure evaluation entry point, threading row/params through
// every expression variant.
func (e *Evaluator) Eval(expr ast.Expression, row *Row, params *Params) (Value, error) {
	switch ex := expr.(type) {
	case *ast.Literal:
		return literalValue(ex.Value), nil

	case *ast.Variable:
		if v, ok := row.Get(ex.Name); ok {
			return v, nil
		}
		if params != nil {
			if v, ok := params.Values[ex.Name]; ok {
				return v, nil
			}
		}
		return Null, nil

	case *ast.Parameter:
		if params != nil {
			if v, ok := params.Values[ex.Name]; ok {
				return v, nil
			}
		}
		return Null, nil

	case *ast.PropertyAccess:
		return e.evalPropertyAccess(ex, row, params)

	case *ast.UnaryOp:
		return e.evalUnary(ex, row, params)

	case *ast.BinaryOp:
		return e.evalBinary(ex, row, params)

	case *ast.ListLiteral:
		items := make([]Value, 0, len(ex.Items))
		for _, it := range ex.Items {
			v, err := e.Eval(it, row, params)
			if err != nil {
				return Null, err
			}
			items = append(items, v)
		}
		return ListValue(items), nil

	case *ast.MapLiteral:
		m := make(map[string]Value, len(ex.Entries))
		for k, sub := range ex.Entries {
			v, err := e.Eval(sub, row, params)
			if err != nil {
				return Null, err
			}
			m[k] = v
		}
		return MapValue(m), nil

	case *ast.FunctionCall:
		return e.evalFunctionCall(ex, row, params)

	case *ast.CaseExpression:
		return e.evalCase(ex, row, params)

	case *ast.ListComprehension:
		return e.evalListComprehension(ex, row, params)

	case *ast.Quantifier:
		return e.evalQuantifier(ex, row, params)

	case *ast.PatternExists:
		return e.evalPatternExists(ex, row, params)

	case *ast.PatternComprehension:
		return e.evalPatternComprehension(ex, row, params)

	default:
		return Null, execErr("unsupported expression type %T", expr)
	}
}

func literalValue(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case bool:
		return BoolValue(t)
	case int64:
		return IntValue(t)
	case float64:
		return FloatValue(t)
	case string:
		return StringValue(t)
	default:
		return Null
	}
}

func (e *Evaluator) evalPropertyAccess(ex *ast.PropertyAccess, row *Row, params *Params) (Value, error) {
	target, err := e.Eval(ex.Target, row, params)
	if err != nil {
		return Null, err
	}
	switch target.Kind {
	case VKNull:
		return Null, nil
	case VKNode:
		v, ok := target.ReifiedNode.Properties[ex.Property]
		if !ok {
			return Null, nil
		}
		return v, nil
	case VKRelationship:
		v, ok := target.ReifiedRel.Properties[ex.Property]
		if !ok {
			return Null, nil
		}
		return v, nil
	case VKMap:
		v, ok := target.Map[ex.Property]
		if !ok {
			return Null, nil
		}
		return v, nil
	case VKNodeID:
		pv, ok, err := e.snap.NodeProperty(target.NodeID, ex.Property)
		if err != nil {
			return Null, storageErr(err)
		}
		if !ok {
			return Null, nil
		}
		return FromPropertyValue(pv), nil
	case VKEdgeKey:
		pv, ok, err := e.snap.EdgeProperty(target.EdgeKey, ex.Property)
		if err != nil {
			return Null, storageErr(err)
		}
		if !ok {
			return Null, nil
		}
		return FromPropertyValue(pv), nil
	default:
		return Null, nil
	}
}

func (e *Evaluator) evalUnary(ex *ast.UnaryOp, row *Row, params *Params) (Value, error) {
	v, err := e.Eval(ex.Expr, row, params)
	if err != nil {
		return Null, err
	}
	switch ex.Op {
	case "NOT":
		b, isNull := v.IsTruthy()
		if isNull {
			return Null, nil
		}
		return BoolValue(!b), nil
	case "IS NULL":
		return BoolValue(v.IsNull()), nil
	case "-":
		if v.IsNull() {
			return Null, nil
		}
		switch v.Kind {
		case VKInt:
			return IntValue(-v.Int), nil
		case VKFloat:
			return FloatValue(-v.Float), nil
		default:
			return Null, execErr("unary - requires a number")
		}
	default:
		return Null, execErr("unsupported unary operator %q", ex.Op)
	}
}

func (e *Evaluator) evalBinary(ex *ast.BinaryOp, row *Row, params *Params) (Value, error) {
	switch ex.Op {
	case "AND":
		return e.evalAnd(ex, row, params)
	case "OR":
		return e.evalOr(ex, row, params)
	case "XOR":
		l, err := e.Eval(ex.Left, row, params)
		if err != nil {
			return Null, err
		}
		r, err := e.Eval(ex.Right, row, params)
		if err != nil {
			return Null, err
		}
		lb, lnull := l.IsTruthy()
		rb, rnull := r.IsTruthy()
		if lnull || rnull {
			return Null, nil
		}
		return BoolValue(lb != rb), nil
	}

	left, err := e.Eval(ex.Left, row, params)
	if err != nil {
		return Null, err
	}
	right, err := e.Eval(ex.Right, row, params)
	if err != nil {
		return Null, err
	}

	switch ex.Op {
	case "+", "-", "*", "/", "%", "^":
		return evalArithmetic(ex.Op, left, right)
	case "=":
		if left.IsNull() && right.IsNull() {
			return Null, nil
		}
		if left.IsNull() || right.IsNull() {
			return Null, nil
		}
		if lt, rt, ok := asComparableTime(left, right); ok {
			return BoolValue(lt.Equal(rt)), nil
		}
		return BoolValue(left.Equal(right)), nil
	case "<>":
		if left.IsNull() || right.IsNull() {
			return Null, nil
		}
		if lt, rt, ok := asComparableTime(left, right); ok {
			return BoolValue(!lt.Equal(rt)), nil
		}
		return BoolValue(!left.Equal(right)), nil
	case "<", "<=", ">", ">=":
		return evalOrderingComparison(ex.Op, left, right)
	case "IN":
		if right.IsNull() {
			return Null, nil
		}
		if right.Kind != VKList {
			return Null, execErr("IN requires a list on the right-hand side")
		}
		sawNull := left.IsNull()
		for _, item := range right.List {
			if item.IsNull() {
				sawNull = true
				continue
			}
			if !left.IsNull() && left.Equal(item) {
				return BoolValue(true), nil
			}
		}
		if sawNull {
			return Null, nil
		}
		return BoolValue(false), nil
	case "STARTS WITH":
		return stringPredicate(left, right, strings.HasPrefix)
	case "ENDS WITH":
		return stringPredicate(left, right, strings.HasSuffix)
	case "CONTAINS":
		return stringPredicate(left, right, strings.Contains)
	case "=~":
		return evalRegexMatch(left, right)
	default:
		return Null, execErr("unsupported binary operator %q", ex.Op)
	}
}

func (e *Evaluator) evalAnd(ex *ast.BinaryOp, row *Row, params *Params) (Value, error) {
	l, err := e.Eval(ex.Left, row, params)
	if err != nil {
		return Null, err
	}
	lb, lnull := l.IsTruthy()
	if !lnull && !lb {
		return BoolValue(false), nil
	}
	r, err := e.Eval(ex.Right, row, params)
	if err != nil {
		return Null, err
	}
	rb, rnull := r.IsTruthy()
	if !rnull && !rb {
		return BoolValue(false), nil
	}
	if lnull || rnull {
		return Null, nil
	}
	return BoolValue(lb && rb), nil
}

func (e *Evaluator) evalOr(ex *ast.BinaryOp, row *Row, params *Params) (Value, error) {
	l, err := e.Eval(ex.Left, row, params)
	if err != nil {
		return Null, err
	}
	lb, lnull := l.IsTruthy()
	if !lnull && lb {
		return BoolValue(true), nil
	}
	r, err := e.Eval(ex.Right, row, params)
	if err != nil {
		return Null, err
	}
	rb, rnull := r.IsTruthy()
	if !rnull && rb {
		return BoolValue(true), nil
	}
	if lnull || rnull {
		return Null, nil
	}
	return BoolValue(lb || rb), nil
}

func evalArithmetic(op string, l, r Value) (Value, error) {
	if l.IsNull() || r.IsNull() {
		return Null, nil
	}
	if op == "+" && l.Kind == VKString && r.Kind == VKString {
		return StringValue(l.Str + r.Str), nil
	}
	if op == "+" && l.Kind == VKList {
		if r.Kind == VKList {
			return ListValue(append(append([]Value{}, l.List...), r.List...)), nil
		}
		return ListValue(append(append([]Value{}, l.List...), r)), nil
	}
	lIsInt := l.Kind == VKInt
	rIsInt := r.Kind == VKInt
	if (l.Kind != VKInt && l.Kind != VKFloat) || (r.Kind != VKInt && r.Kind != VKFloat) {
		return Null, execErr("arithmetic operator %q requires numeric operands", op)
	}
	if lIsInt && rIsInt && op != "/" {
		a, b := l.Int, r.Int
		switch op {
		case "+":
			return IntValue(a + b), nil
		case "-":
			return IntValue(a - b), nil
		case "*":
			return IntValue(a * b), nil
		case "%":
			if b == 0 {
				return Null, execErr("modulo by zero")
			}
			return IntValue(a % b), nil
		case "^":
			return FloatValue(math.Pow(float64(a), float64(b))), nil
		}
	}
	a, b := l.asFloat(), r.asFloat()
	switch op {
	case "+":
		return FloatValue(a + b), nil
	case "-":
		return FloatValue(a - b), nil
	case "*":
		return FloatValue(a * b), nil
	case "/":
		if b == 0 {
			return Null, execErr("division by zero")
		}
		return FloatValue(a / b), nil
	case "%":
		return FloatValue(math.Mod(a, b)), nil
	case "^":
		return FloatValue(math.Pow(a, b)), nil
	default:
		return Null, execErr("unsupported arithmetic operator %q", op)
	}
}

func evalOrderingComparison(op string, l, r Value) (Value, error) {
	if l.IsNull() || r.IsNull() {
		return Null, nil
	}
	var less, greater bool
	if lt, rt, ok := asComparableTime(l, r); ok {
		less, greater = lt.Before(rt), lt.After(rt)
	} else {
		less = l.Less(r)
		greater = !less && !l.Equal(r)
	}
	switch op {
	case "<":
		return BoolValue(less), nil
	case "<=":
		return BoolValue(less || !greater), nil
	case ">":
		return BoolValue(greater), nil
	case ">=":
		return BoolValue(greater || !less), nil
	default:
		return Null, execErr("unsupported comparison operator %q", op)
	}
}

// asComparableTime implements the "strings that parse as dates/times
// compare by calendar value" rule.
func asComparableTime(l, r Value) (time.Time, time.Time, bool) {
	lt, lok := asTime(l)
	rt, rok := asTime(r)
	if lok && rok {
		return lt, rt, true
	}
	return time.Time{}, time.Time{}, false
}

func asTime(v Value) (time.Time, bool) {
	if v.Kind == VKDateTime {
		return time.Unix(0, v.DateTime).UTC(), true
	}
	if v.Kind == VKString {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
			if t, err := time.Parse(layout, v.Str); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// regexCache holds compiled =~ patterns so a pattern appearing once per
// row compiles once per process, not once per evaluation.
var (
	regexMu    sync.RWMutex
	regexCache = map[string]*regexp.Regexp{}
)

func cachedRegex(pattern string) (*regexp.Regexp, error) {
	regexMu.RLock()
	re, ok := regexCache[pattern]
	regexMu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexMu.Lock()
	regexCache[pattern] = re
	regexMu.Unlock()
	return re, nil
}

// evalRegexMatch implements `=~`: an unanchored regular-expression match
// of the right operand against the left. A pattern that fails to compile
// never matches.
func evalRegexMatch(l, r Value) (Value, error) {
	if l.IsNull() || r.IsNull() {
		return Null, nil
	}
	if l.Kind != VKString || r.Kind != VKString {
		return Null, execErr("=~ requires string operands")
	}
	re, err := cachedRegex(r.Str)
	if err != nil {
		return BoolValue(false), nil
	}
	return BoolValue(re.MatchString(l.Str)), nil
}

func stringPredicate(l, r Value, pred func(s, sub string) bool) (Value, error) {
	if l.IsNull() || r.IsNull() {
		return Null, nil
	}
	if l.Kind != VKString || r.Kind != VKString {
		return Null, execErr("string predicate requires string operands")
	}
	return BoolValue(pred(l.Str, r.Str)), nil
}

func (e *Evaluator) evalCase(ex *ast.CaseExpression, row *Row, params *Params) (Value, error) {
	var subject *Value
	if ex.Subject != nil {
		v, err := e.Eval(ex.Subject, row, params)
		if err != nil {
			return Null, err
		}
		subject = &v
	}
	for _, w := range ex.Whens {
		if subject != nil {
			cmp, err := e.Eval(w.Condition, row, params)
			if err != nil {
				return Null, err
			}
			if !subject.IsNull() && !cmp.IsNull() && subject.Equal(cmp) {
				return e.Eval(w.Result, row, params)
			}
			continue
		}
		cond, err := e.Eval(w.Condition, row, params)
		if err != nil {
			return Null, err
		}
		b, isNull := cond.IsTruthy()
		if !isNull && b {
			return e.Eval(w.Result, row, params)
		}
	}
	if ex.Else != nil {
		return e.Eval(ex.Else, row, params)
	}
	return Null, nil
}

func (e *Evaluator) evalListComprehension(ex *ast.ListComprehension, row *Row, params *Params) (Value, error) {
	listVal, err := e.Eval(ex.List, row, params)
	if err != nil {
		return Null, err
	}
	if listVal.IsNull() {
		return Null, nil
	}
	if listVal.Kind != VKList {
		return Null, execErr("list comprehension requires a list")
	}
	result := make([]Value, 0, len(listVal.List))
	for _, item := range listVal.List {
		sub := row.Clone()
		sub.Set(ex.Variable, item)
		if ex.Predicate != nil {
			p, err := e.Eval(ex.Predicate, sub, params)
			if err != nil {
				return Null, err
			}
			b, isNull := p.IsTruthy()
			if isNull || !b {
				continue
			}
		}
		if ex.Projection != nil {
			v, err := e.Eval(ex.Projection, sub, params)
			if err != nil {
				return Null, err
			}
			result = append(result, v)
		} else {
			result = append(result, item)
		}
		if e.guard != nil {
			if err := e.guard.CountCollectionItems("list_comprehension", 1); err != nil {
				return Null, err
			}
		}
	}
	return ListValue(result), nil
}

// evalQuantifier implements ANY/ALL/NONE/SINGLE with Kleene short-circuit
// propagation: an ANY that saw only false and at
// least one null returns null rather than false.
func (e *Evaluator) evalQuantifier(ex *ast.Quantifier, row *Row, params *Params) (Value, error) {
	listVal, err := e.Eval(ex.List, row, params)
	if err != nil {
		return Null, err
	}
	if listVal.IsNull() {
		return Null, nil
	}
	if listVal.Kind != VKList {
		return Null, execErr("quantifier requires a list")
	}

	sawNull := false
	trueCount := 0
	for _, item := range listVal.List {
		sub := row.Clone()
		sub.Set(ex.Variable, item)
		var b bool
		var isNull bool
		if ex.Predicate != nil {
			p, err := e.Eval(ex.Predicate, sub, params)
			if err != nil {
				return Null, err
			}
			b, isNull = p.IsTruthy()
		} else {
			b, isNull = item.IsTruthy()
		}
		if isNull {
			sawNull = true
			continue
		}
		if b {
			trueCount++
		}

		switch ex.Kind {
		case "ANY":
			if b {
				return BoolValue(true), nil
			}
		case "NONE":
			if b {
				return BoolValue(false), nil
			}
		case "ALL":
			if !b {
				return BoolValue(false), nil
			}
		case "SINGLE":
			if trueCount > 1 {
				return BoolValue(false), nil
			}
		}
	}

	switch ex.Kind {
	case "ANY":
		if sawNull {
			return Null, nil
		}
		return BoolValue(false), nil
	case "NONE":
		if sawNull {
			return Null, nil
		}
		return BoolValue(true), nil
	case "ALL":
		if sawNull {
			return Null, nil
		}
		return BoolValue(true), nil
	case "SINGLE":
		if sawNull && trueCount <= 1 {
			return Null, nil
		}
		return BoolValue(trueCount == 1), nil
	default:
		return Null, execErr("unknown quantifier kind %q", ex.Kind)
	}
}

// patternExistsHopCap bounds PatternExists/PatternComprehension traversal
// depth.
const patternExistsHopCap = 16

func (e *Evaluator) evalPatternExists(ex *ast.PatternExists, row *Row, params *Params) (Value, error) {
	found := false
	err := e.walkSimplePattern(ex.Pattern, row, params, patternExistsHopCap, func(extended *Row) (bool, error) {
		if ex.Where != nil {
			v, err := e.Eval(ex.Where, extended, params)
			if err != nil {
				return false, err
			}
			b, isNull := v.IsTruthy()
			if isNull || !b {
				return true, nil
			}
		}
		found = true
		return false, nil // short-circuit: stop walking once found
	})
	if err != nil {
		return Null, err
	}
	return BoolValue(found), nil
}

func (e *Evaluator) evalPatternComprehension(ex *ast.PatternComprehension, row *Row, params *Params) (Value, error) {
	var out []Value
	err := e.walkSimplePattern(ex.Pattern, row, params, patternExistsHopCap, func(extended *Row) (bool, error) {
		if ex.Where != nil {
			v, err := e.Eval(ex.Where, extended, params)
			if err != nil {
				return false, err
			}
			b, isNull := v.IsTruthy()
			if isNull || !b {
				return true, nil
			}
		}
		var projected Value
		if ex.Projection != nil {
			v, err := e.Eval(ex.Projection, extended, params)
			if err != nil {
				return false, err
			}
			projected = v
		} else {
			projected = Null
		}
		out = append(out, projected)
		if e.guard != nil {
			if err := e.guard.CountCollectionItems("pattern_comprehension", 1); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return Null, err
	}
	if out == nil {
		out = []Value{}
	}
	return ListValue(out), nil
}

// walkSimplePattern performs a bounded single-hop-chain traversal used by
// Pattern EXISTS/comprehension. It only supports the linear node-rel-node
// chains those two expression forms need; full variable-length MATCH
// traversal lives in pkg/query/executor.go's varLenIterator (MatchOutVarLen),
// which this intentionally does not duplicate logic with beyond sharing
// Snapshot.Neighbors.
func (e *Evaluator) walkSimplePattern(pat ast.Pattern, row *Row, params *Params, hopCap int, visit func(*Row) (bool, error)) error {
	for _, elem := range pat.Elements {
		if len(elem.Nodes) == 0 {
			continue
		}
		first := elem.Nodes[0]
		var startID storage.InternalNodeID
		if id, ok := row.GetNode(first.Alias); ok {
			startID = id
		} else {
			continue
		}
		cont, err := e.walkChain(elem, 0, startID, row.Clone(), params, hopCap, visit)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (e *Evaluator) walkChain(elem ast.PatternElement, relIdx int, current storage.InternalNodeID, acc *Row, params *Params, hopsLeft int, visit func(*Row) (bool, error)) (bool, error) {
	if relIdx >= len(elem.Rels) {
		return visit(acc)
	}
	if hopsLeft <= 0 {
		return true, nil
	}
	rel := elem.Rels[relIdx]
	var relFilter *storage.RelTypeID
	if len(rel.Types) == 1 {
		id, ok := e.snap.ResolveRelTypeID(rel.Types[0])
		if !ok {
			return true, nil
		}
		relFilter = &id
	}

	visitEdge := func(dst storage.InternalNodeID, edge storage.EdgeKey) (bool, error) {
		next := elem.Nodes[relIdx+1]
		if !e.nodeMatchesPattern(dst, next) {
			return true, nil
		}
		sub := acc.Clone()
		if rel.Alias != "" {
			sub.Set(rel.Alias, EdgeKeyValue(edge))
		}
		if next.Alias != "" {
			sub.Set(next.Alias, NodeIDValue(dst))
		}
		return e.walkChain(elem, relIdx+1, dst, sub, params, hopsLeft-1, visit)
	}

	if rel.Direction == ast.DirOutgoing || rel.Direction == ast.DirEither {
		it := e.snap.Neighbors(current, relFilter)
		for {
			edge, ok := it.Next()
			if !ok {
				break
			}
			cont, err := visitEdge(edge.Dst, edge)
			if err != nil {
				return false, err
			}
			if !cont {
				return false, nil
			}
		}
	}
	if rel.Direction == ast.DirIncoming || rel.Direction == ast.DirEither {
		it := e.snap.IncomingNeighbors(current, relFilter)
		for {
			edge, ok := it.Next()
			if !ok {
				break
			}
			cont, err := visitEdge(edge.Src, edge)
			if err != nil {
				return false, err
			}
			if !cont {
				return false, nil
			}
		}
	}
	return true, nil
}

func (e *Evaluator) nodeMatchesPattern(id storage.InternalNodeID, pat ast.NodePattern) bool {
	if len(pat.Labels) == 0 {
		return true
	}
	labels := e.snap.ResolveNodeLabels(id)
	for _, want := range pat.Labels {
		wantID, ok := e.snap.ResolveLabelID(want)
		if !ok {
			return false
		}
		found := false
		for _, have := range labels {
			if have == wantID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (e *Evaluator) evalFunctionCall(ex *ast.FunctionCall, row *Row, params *Params) (Value, error) {
	name := strings.ToLower(ex.Name)

	switch name {
	case "__index":
		return e.builtinIndex(ex, row, params)
	case "__slice":
		return e.builtinSlice(ex, row, params)
	case "exists":
		v, err := e.Eval(ex.Args[0], row, params)
		if err != nil {
			return Null, err
		}
		return BoolValue(!v.IsNull()), nil
	}

	args := make([]Value, 0, len(ex.Args))
	for _, a := range ex.Args {
		v, err := e.Eval(a, row, params)
		if err != nil {
			return Null, err
		}
		args = append(args, v)
	}

	switch name {
	case "id":
		return e.builtinID(args)
	case "labels":
		return e.builtinLabels(args)
	case "type":
		return e.builtinType(args)
	case "size":
		return builtinSize(args)
	case "head":
		return builtinHead(args)
	case "tail":
		return builtinTail(args)
	case "last":
		return builtinLast(args)
	case "keys":
		return builtinKeys(args)
	case "length":
		return builtinLength(args)
	case "nodes":
		return builtinPathNodes(args)
	case "relationships":
		return builtinPathRels(args)
	case "range":
		return e.builtinRange(args)
	case "reverse":
		return builtinReverse(args)
	case "coalesce":
		return builtinCoalesce(args)
	case "properties":
		return e.builtinProperties(args)
	case "date", "time", "localtime", "datetime", "localdatetime":
		return e.builtinTemporalCtor(name, args)
	case "datetime.fromepoch":
		return builtinFromEpoch(args, time.Second)
	case "datetime.fromepochmillis":
		return builtinFromEpoch(args, time.Millisecond)
	case "date.truncate", "time.truncate", "localtime.truncate", "datetime.truncate", "localdatetime.truncate":
		return builtinTruncate(args)
	case "duration":
		return builtinDuration(args)
	case "duration.between":
		return builtinDurationBetween(args, "ns")
	case "duration.inmonths":
		return builtinDurationBetween(args, "months")
	case "duration.indays":
		return builtinDurationBetween(args, "days")
	case "duration.inseconds":
		return builtinDurationBetween(args, "seconds")
	default:
		return Null, execErr("unknown function %q", ex.Name)
	}
}

// builtinID returns the internal node id for a node binding. For a
// relationship it returns the edge key's src, a placeholder; treat
// relationship ids as unstable.
func (e *Evaluator) builtinID(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return Null, nil
	}
	switch args[0].Kind {
	case VKNodeID:
		return IntValue(int64(args[0].NodeID)), nil
	case VKNode:
		return IntValue(int64(args[0].ReifiedNode.ID)), nil
	case VKEdgeKey:
		return IntValue(int64(args[0].EdgeKey.Src)), nil
	case VKRelationship:
		return IntValue(int64(args[0].ReifiedRel.Key.Src)), nil
	default:
		return Null, execErr("id() requires a node or relationship")
	}
}

func (e *Evaluator) builtinLabels(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return Null, nil
	}
	var id storage.InternalNodeID
	switch args[0].Kind {
	case VKNodeID:
		id = args[0].NodeID
	case VKNode:
		names := make([]Value, len(args[0].ReifiedNode.Labels))
		for i, l := range args[0].ReifiedNode.Labels {
			names[i] = StringValue(l)
		}
		return ListValue(names), nil
	default:
		return Null, execErr("labels() requires a node")
	}
	var out []Value
	for _, lid := range e.snap.ResolveNodeLabels(id) {
		if name, ok := e.snap.ResolveLabelName(lid); ok {
			out = append(out, StringValue(name))
		}
	}
	if out == nil {
		out = []Value{}
	}
	return ListValue(out), nil
}

func (e *Evaluator) builtinType(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return Null, nil
	}
	switch args[0].Kind {
	case VKEdgeKey:
		if name, ok := e.snap.ResolveRelTypeName(args[0].EdgeKey.Rel); ok {
			return StringValue(name), nil
		}
		return Null, nil
	case VKRelationship:
		return StringValue(args[0].ReifiedRel.Type), nil
	default:
		return Null, execErr("type() requires a relationship")
	}
}

func (e *Evaluator) builtinIndex(ex *ast.FunctionCall, row *Row, params *Params) (Value, error) {
	coll, err := e.Eval(ex.Args[0], row, params)
	if err != nil {
		return Null, err
	}
	idxVal, err := e.Eval(ex.Args[1], row, params)
	if err != nil {
		return Null, err
	}
	if coll.IsNull() || idxVal.IsNull() || coll.Kind != VKList || idxVal.Kind != VKInt {
		return Null, nil
	}
	n := int64(len(coll.List))
	i := idxVal.Int
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return Null, nil
	}
	return coll.List[i], nil
}

func (e *Evaluator) builtinSlice(ex *ast.FunctionCall, row *Row, params *Params) (Value, error) {
	coll, err := e.Eval(ex.Args[0], row, params)
	if err != nil {
		return Null, err
	}
	if coll.IsNull() {
		return Null, nil
	}
	if coll.Kind != VKList {
		return Null, execErr("slicing requires a list")
	}
	n := int64(len(coll.List))
	lo, hi := int64(0), n

	if loVal, err := e.Eval(ex.Args[1], row, params); err != nil {
		return Null, err
	} else if !loVal.IsNull() {
		lo = loVal.Int
		if lo < 0 {
			lo += n
		}
	}
	if hiVal, err := e.Eval(ex.Args[2], row, params); err != nil {
		return Null, err
	} else if !hiVal.IsNull() {
		hi = hiVal.Int
		if hi < 0 {
			hi += n
		}
	}
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if lo >= hi {
		return ListValue([]Value{}), nil
	}
	return ListValue(append([]Value{}, coll.List[lo:hi]...)), nil
}

func builtinSize(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return Null, nil
	}
	switch args[0].Kind {
	case VKList:
		return IntValue(int64(len(args[0].List))), nil
	case VKString:
		return IntValue(int64(len([]rune(args[0].Str)))), nil
	default:
		return Null, execErr("size() requires a list or string")
	}
}

func builtinHead(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() || args[0].Kind != VKList {
		return Null, nil
	}
	if len(args[0].List) == 0 {
		return Null, nil
	}
	return args[0].List[0], nil
}

func builtinTail(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() || args[0].Kind != VKList {
		return Null, nil
	}
	if len(args[0].List) <= 1 {
		return ListValue([]Value{}), nil
	}
	return ListValue(append([]Value{}, args[0].List[1:]...)), nil
}

func builtinLast(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() || args[0].Kind != VKList {
		return Null, nil
	}
	if len(args[0].List) == 0 {
		return Null, nil
	}
	return args[0].List[len(args[0].List)-1], nil
}

func builtinKeys(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return Null, nil
	}
	var keys []string
	switch args[0].Kind {
	case VKMap:
		for k := range args[0].Map {
			keys = append(keys, k)
		}
	case VKNode:
		for k := range args[0].ReifiedNode.Properties {
			keys = append(keys, k)
		}
	case VKRelationship:
		for k := range args[0].ReifiedRel.Properties {
			keys = append(keys, k)
		}
	default:
		return Null, execErr("keys() requires a map, node, or relationship")
	}
	sort.Strings(keys)
	out := make([]Value, len(keys))
	for i, k := range keys {
		out[i] = StringValue(k)
	}
	return ListValue(out), nil
}

// builtinLength returns path length (edge count); `length` is specifically
// the path-length builtin, size() covers lists and strings.
func builtinLength(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return Null, nil
	}
	if args[0].Kind != VKPath {
		return Null, execErr("length() requires a path")
	}
	return IntValue(int64(len(args[0].ReifiedPath.Edges))), nil
}

func builtinPathNodes(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return Null, nil
	}
	if args[0].Kind != VKPath {
		return Null, execErr("nodes() requires a path")
	}
	out := make([]Value, len(args[0].ReifiedPath.Nodes))
	for i, n := range args[0].ReifiedPath.Nodes {
		out[i] = NodeIDValue(n)
	}
	return ListValue(out), nil
}

func builtinPathRels(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return Null, nil
	}
	if args[0].Kind != VKPath {
		return Null, execErr("relationships() requires a path")
	}
	out := make([]Value, len(args[0].ReifiedPath.Edges))
	for i, ek := range args[0].ReifiedPath.Edges {
		out[i] = EdgeKeyValue(ek)
	}
	return ListValue(out), nil
}

func (e *Evaluator) builtinRange(args []Value) (Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return Null, execErr("range() takes 2 or 3 arguments")
	}
	for _, a := range args {
		if a.IsNull() || a.Kind != VKInt {
			return Null, execErr("range() requires integer arguments")
		}
	}
	lo, hi := args[0].Int, args[1].Int
	step := int64(1)
	if len(args) == 3 {
		step = args[2].Int
		if step == 0 {
			return Null, execErr("range() step must not be zero")
		}
	}
	var out []Value
	if step > 0 {
		for i := lo; i <= hi; i += step {
			out = append(out, IntValue(i))
			if e.guard != nil {
				if err := e.guard.CountCollectionItems("range", 1); err != nil {
					return Null, err
				}
			}
		}
	} else {
		for i := lo; i >= hi; i += step {
			out = append(out, IntValue(i))
			if e.guard != nil {
				if err := e.guard.CountCollectionItems("range", 1); err != nil {
					return Null, err
				}
			}
		}
	}
	if out == nil {
		out = []Value{}
	}
	return ListValue(out), nil
}

func builtinReverse(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return Null, nil
	}
	switch args[0].Kind {
	case VKList:
		n := len(args[0].List)
		out := make([]Value, n)
		for i, v := range args[0].List {
			out[n-1-i] = v
		}
		return ListValue(out), nil
	case VKString:
		r := []rune(args[0].Str)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return StringValue(string(r)), nil
	default:
		return Null, execErr("reverse() requires a list or string")
	}
}

func builtinCoalesce(args []Value) (Value, error) {
	for _, a := range args {
		if !a.IsNull() {
			return a, nil
		}
	}
	return Null, nil
}

func (e *Evaluator) builtinProperties(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return Null, nil
	}
	switch args[0].Kind {
	case VKMap:
		return args[0], nil
	case VKNode:
		return MapValue(args[0].ReifiedNode.Properties), nil
	case VKRelationship:
		return MapValue(args[0].ReifiedRel.Properties), nil
	case VKNodeID:
		pm, err := e.snap.NodeProperties(args[0].NodeID)
		if err != nil {
			return Null, storageErr(err)
		}
		return MapValue(fromPropertyMap(pm)), nil
	case VKEdgeKey:
		pm, err := e.snap.EdgeProperties(args[0].EdgeKey)
		if err != nil {
			return Null, storageErr(err)
		}
		return MapValue(fromPropertyMap(pm)), nil
	default:
		return Null, execErr("properties() requires a map, node, or relationship")
	}
}

func fromPropertyMap(pm map[string]storage.PropertyValue) map[string]Value {
	out := make(map[string]Value, len(pm))
	for k, v := range pm {
		out[k] = FromPropertyValue(v)
	}
	return out
}

// ISO-8601 layout used for temporal output: seconds elided when zero.
func isoLayout(t time.Time) string {
	if t.Nanosecond() == 0 && t.Second() == 0 {
		return "2006-01-02T15:04Z07:00"
	}
	return "2006-01-02T15:04:05Z07:00"
}

func (e *Evaluator) builtinTemporalCtor(name string, args []Value) (Value, error) {
	if len(args) == 0 {
		now := time.Now().UTC()
		return DateTimeValue(now.UnixNano()), nil
	}
	if args[0].IsNull() {
		return Null, nil
	}
	if args[0].Kind == VKString {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02", "15:04:05", "15:04"} {
			if t, err := time.Parse(layout, args[0].Str); err == nil {
				return DateTimeValue(t.UTC().UnixNano()), nil
			}
		}
		return Null, execErr("%s(): unparseable temporal string %q", name, args[0].Str)
	}
	if args[0].Kind == VKMap {
		return e.builtinTemporalFromMap(args[0].Map)
	}
	return Null, execErr("%s() requires a string or map argument", name)
}

func (e *Evaluator) builtinTemporalFromMap(m map[string]Value) (Value, error) {
	get := func(k string, def int) int {
		if v, ok := m[k]; ok && v.Kind == VKInt {
			return int(v.Int)
		}
		return def
	}
	t := time.Date(get("year", 1970), time.Month(get("month", 1)), get("day", 1),
		get("hour", 0), get("minute", 0), get("second", 0), 0, time.UTC)
	return DateTimeValue(t.UnixNano()), nil
}

// builtinTruncate zeroes out every temporal component finer than the
// named unit.
func builtinTruncate(args []Value) (Value, error) {
	if len(args) < 2 || args[0].IsNull() || args[1].IsNull() {
		return Null, nil
	}
	if args[0].Kind != VKString || args[1].Kind != VKDateTime {
		return Null, execErr("truncate requires a unit string and a datetime")
	}
	t := time.Unix(0, args[1].DateTime).UTC()
	switch strings.ToLower(args[0].Str) {
	case "year":
		t = time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	case "month":
		t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case "day":
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case "hour":
		t = t.Truncate(time.Hour)
	case "minute":
		t = t.Truncate(time.Minute)
	case "second":
		t = t.Truncate(time.Second)
	default:
		return Null, execErr("unknown truncation unit %q", args[0].Str)
	}
	return DateTimeValue(t.UnixNano()), nil
}

func builtinFromEpoch(args []Value, unit time.Duration) (Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return Null, nil
	}
	var secs int64
	switch args[0].Kind {
	case VKInt:
		secs = args[0].Int
	case VKFloat:
		secs = int64(args[0].Float)
	default:
		return Null, execErr("fromepoch requires a number")
	}
	return DateTimeValue(secs * int64(unit)), nil
}

// durationNanos parses an ISO-8601 duration string (PnYnMnDTnHnMnS, a
// restricted but common subset) into nanoseconds.
func durationNanos(s string) (int64, error) {
	if s == "" || s[0] != 'P' {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	var (
		years, months, days, hours, minutes int64
		seconds                             float64
		inTime                              bool
	)
	numBuf := strings.Builder{}
	flush := func(unit byte) error {
		if numBuf.Len() == 0 {
			return nil
		}
		txt := numBuf.String()
		numBuf.Reset()
		switch unit {
		case 'Y':
			v, err := strconv.ParseInt(txt, 10, 64)
			years = v
			return err
		case 'M':
			if inTime {
				v, err := strconv.ParseInt(txt, 10, 64)
				minutes = v
				return err
			}
			v, err := strconv.ParseInt(txt, 10, 64)
			months = v
			return err
		case 'D':
			v, err := strconv.ParseInt(txt, 10, 64)
			days = v
			return err
		case 'H':
			v, err := strconv.ParseInt(txt, 10, 64)
			hours = v
			return err
		case 'S':
			v, err := strconv.ParseFloat(txt, 64)
			seconds = v
			return err
		}
		return nil
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == 'T':
			inTime = true
		case c == '.' || (c >= '0' && c <= '9'):
			numBuf.WriteByte(c)
		default:
			if err := flush(c); err != nil {
				return 0, err
			}
		}
	}
	total := (years*365+months*30+days)*24*3600 + hours*3600 + minutes*60
	return total*int64(time.Second) + int64(seconds*float64(time.Second)), nil
}

func builtinDuration(args []Value) (Value, error) {
	if len(args) != 1 || args[0].IsNull() || args[0].Kind != VKString {
		return Null, execErr("duration() requires a string argument")
	}
	ns, err := durationNanos(args[0].Str)
	if err != nil {
		return Null, execErr("%v", err)
	}
	return IntValue(ns), nil
}

func builtinDurationBetween(args []Value, unit string) (Value, error) {
	if len(args) != 2 || args[0].IsNull() || args[1].IsNull() {
		return Null, nil
	}
	if args[0].Kind != VKDateTime || args[1].Kind != VKDateTime {
		return Null, execErr("duration.between requires two datetimes")
	}
	diff := args[1].DateTime - args[0].DateTime
	switch unit {
	case "seconds":
		return IntValue(diff / int64(time.Second)), nil
	case "days":
		return IntValue(diff / int64(24*time.Hour)), nil
	case "months":
		return IntValue(diff / int64(30*24*time.Hour)), nil
	default:
		return IntValue(diff), nil
	}
}
