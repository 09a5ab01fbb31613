package planner

import (
	"fmt"
	"strings"

	"github.com/nervusdb/nervusdb/pkg/ast"
)

// Compiled is the output of compilation: a Plan plus the write/EXPLAIN
// metadata a query.PreparedQuery needs.
type Compiled struct {
	Plan          *Plan
	Write         WriteSemantics
	Explain       bool
	ExplainString string
	MergeOnCreate []SetItemPlan
	MergeOnMatch  []SetItemPlan
}

// UndefinedVariableError is raised when a MATCH or WITH WHERE expression
// references a variable not bound by an earlier MATCH/WITH/UNWIND/pattern
// scope; SET and RETURN expressions are not checked. It is classified as Syntax by callers.
type UndefinedVariableError struct{ Name string }

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("UndefinedVariable: %q is not bound", e.Name)
}

// Compile lowers a parsed query into its executable plan.
func Compile(q *ast.Query) (*Compiled, error) {
	clauses := q.Clauses
	explain := false
	if len(clauses) > 0 {
		if _, ok := clauses[0].(*ast.ExplainClause); ok {
			explain = true
			clauses = clauses[1:]
		}
	}

	plan, write, onCreate, onMatch, err := compileSegment(clauses)
	if err != nil {
		return nil, err
	}

	c := &Compiled{Plan: plan, Write: write, Explain: explain, MergeOnCreate: onCreate, MergeOnMatch: onMatch}
	if explain {
		c.ExplainString = renderPlan(plan, 0)
	}
	return c, nil
}

// compileSegment compiles one UNION-delimited segment of clauses, rule 8:
// a UnionClause marker splits the remaining clause list into left/right.
func compileSegment(clauses []ast.Clause) (*Plan, WriteSemantics, []SetItemPlan, []SetItemPlan, error) {
	for i, clause := range clauses {
		if u, ok := clause.(*ast.UnionClause); ok {
			left, write, onCreate, onMatch, err := compileSegment(clauses[:i])
			if err != nil {
				return nil, write, nil, nil, err
			}
			right, _, _, _, err := compileSegment(clauses[i+1:])
			if err != nil {
				return nil, write, nil, nil, err
			}
			plan := &Plan{Kind: PlanUnion, Left: left, Right: right, All: u.All}
			if !u.All {
				plan = &Plan{Kind: PlanDistinct, Input: plan}
			}
			return plan, write, onCreate, onMatch, nil
		}
	}
	return compileLinear(clauses)
}

func compileLinear(clauses []ast.Clause) (*Plan, WriteSemantics, []SetItemPlan, []SetItemPlan, error) {
	var plan *Plan
	write := WriteDefault
	var mergeOnCreate, mergeOnMatch []SetItemPlan

	for idx, clause := range clauses {
		switch c := clause.(type) {
		case *ast.MatchClause:
			prev := planOrReturnOne(plan)
			matched, newAliases, err := compileMatchPattern(prev, c.Pattern, c.Optional, c.Where)
			if err != nil {
				return nil, write, nil, nil, err
			}
			if err := validateWhereBindings(c.Where, boundVars(matched)); err != nil {
				return nil, write, nil, nil, err
			}
			if c.Where != nil {
				if !isBooleanExpression(c.Where) {
					return nil, write, nil, nil, fmt.Errorf("Syntax: WHERE expression is not statically boolean")
				}
				filtered := &Plan{Kind: PlanFilter, Input: matched, Predicate: c.Where}
				if c.Optional {
					plan = &Plan{Kind: PlanOptionalWhereFixup, Outer: prev, Filtered: filtered, NullAliases: newAliases}
				} else {
					plan = filtered
				}
			} else if c.Optional {
				plan = &Plan{Kind: PlanOptionalWhereFixup, Outer: prev, Filtered: matched, NullAliases: newAliases}
			} else {
				plan = matched
			}

		case *ast.WithClause:
			input := planOrReturnOne(plan)
			p, err := compileProjection(input, c.Items, c.Distinct, c.Where, c.OrderBy, c.Skip, c.Limit)
			if err != nil {
				return nil, write, nil, nil, err
			}
			// Bindings validate against every alias the finished plan
			// binds, which includes aliases bound before the WITH; a
			// reference to an alias the projection drops is not rejected.
			if err := validateWhereBindings(c.Where, boundVars(p)); err != nil {
				return nil, write, nil, nil, err
			}
			plan = p

		case *ast.ReturnClause:
			input := planOrReturnOne(plan)
			p, err := compileProjection(input, c.Items, c.Distinct, nil, c.OrderBy, c.Skip, c.Limit)
			if err != nil {
				return nil, write, nil, nil, err
			}
			plan = p
			if idx != len(clauses)-1 {
				return nil, write, nil, nil, fmt.Errorf("Execution: clauses after RETURN are not supported outside UNION")
			}

		case *ast.CreateClause:
			plan = &Plan{Kind: PlanCreate, Input: planOrReturnOne(plan), Pattern: &c.Pattern}

		case *ast.MergeClause:
			write = WriteMerge
			if err := validateMergePatternShape(c.Pattern); err != nil {
				return nil, write, nil, nil, err
			}
			vars := mergePatternVars(c.Pattern)
			oc, err := compileMergeSetItems(vars, c.OnCreate)
			if err != nil {
				return nil, write, nil, nil, err
			}
			om, err := compileMergeSetItems(vars, c.OnMatch)
			if err != nil {
				return nil, write, nil, nil, err
			}
			mergeOnCreate, mergeOnMatch = oc, om
			plan = &Plan{Kind: PlanCreate, Input: planOrReturnOne(plan), Pattern: &c.Pattern, Merge: true}

		case *ast.SetClause:
			if plan == nil {
				return nil, write, nil, nil, fmt.Errorf("Syntax: SET requires a preceding MATCH/CREATE/MERGE")
			}
			plan = compileSetPlan(plan, c.Items)

		case *ast.RemoveClause:
			if plan == nil {
				return nil, write, nil, nil, fmt.Errorf("Syntax: REMOVE requires a preceding MATCH")
			}
			plan = compileRemovePlan(plan, c.Items)

		case *ast.DeleteClause:
			if plan == nil {
				return nil, write, nil, nil, fmt.Errorf("Syntax: DELETE requires a preceding MATCH")
			}
			plan = &Plan{Kind: PlanDelete, Input: plan, Detach: c.Detach, DeleteExprs: c.Expressions}

		case *ast.UnwindClause:
			plan = &Plan{Kind: PlanUnwind, Input: planOrReturnOne(plan), UnwindExpr: c.Expr, DstAlias: c.Alias}

		case *ast.CallClause:
			input := planOrReturnOne(plan)
			if c.Subquery != nil {
				sub, err := Compile(c.Subquery)
				if err != nil {
					return nil, write, nil, nil, err
				}
				plan = &Plan{Kind: PlanApply, Input: input, Subquery: sub.Plan}
			} else {
				var yields []ProcYieldItem
				for _, y := range c.Yields {
					yields = append(yields, ProcYieldItem{Field: y, Alias: y})
				}
				plan = &Plan{Kind: PlanProcedureCall, Input: input, ProcName: c.Name, ProcArgs: c.Args, ProcYields: yields}
			}

		case *ast.ForeachClause:
			subPlan, _, _, _, err := compileLinear(c.Updates)
			if err != nil {
				return nil, write, nil, nil, err
			}
			plan = &Plan{Kind: PlanForeach, Input: planOrReturnOne(plan), ForeachVar: c.Variable, ForeachList: c.List, SubPlan: subPlan}
			write = WriteDefault

		default:
			return nil, write, nil, nil, fmt.Errorf("Execution: unsupported clause type %T", clause)
		}
	}

	if plan == nil {
		return nil, write, nil, nil, fmt.Errorf("Execution: empty query")
	}
	return plan, write, mergeOnCreate, mergeOnMatch, nil
}

func planOrReturnOne(p *Plan) *Plan {
	if p == nil {
		return &Plan{Kind: PlanReturnOne}
	}
	return p
}

// --- MATCH pattern compilation ---

func compileMatchPattern(input *Plan, pat ast.Pattern, optional bool, where ast.Expression) (*Plan, []string, error) {
	plan := input
	var allNew []string
	preds := extractEqualityPredicates(where)
	anon := 0
	for _, elem := range pat.Elements {
		if len(elem.Nodes) == 0 {
			continue
		}
		stepPlan, newAliases, propPred := compilePatternElement(plan, elem, optional, pat.PathAlias, preds, &anon)
		plan = stepPlan
		if propPred != nil {
			plan = &Plan{Kind: PlanFilter, Input: plan, Predicate: propPred}
		}
		allNew = append(allNew, newAliases...)
	}
	return plan, allNew, nil
}

// inlinePropertyPredicate desugars a pattern slot's `{k: e, ...}` map into
// `alias.k = e AND ...`, the same predicate a WHERE would carry. Anonymous
// slots that need filtering get a synthetic alias first.
func inlinePropertyPredicate(acc ast.Expression, alias string, props map[string]ast.Expression) ast.Expression {
	for key, expr := range props {
		eq := &ast.BinaryOp{
			Op:    "=",
			Left:  &ast.PropertyAccess{Target: &ast.Variable{Name: alias}, Property: key},
			Right: expr,
		}
		if acc == nil {
			acc = eq
		} else {
			acc = &ast.BinaryOp{Op: "AND", Left: acc, Right: eq}
		}
	}
	return acc
}

func compilePatternElement(input *Plan, elem ast.PatternElement, optional bool, pathAlias string, preds map[string]map[string]ast.Expression, anon *int) (*Plan, []string, ast.Expression) {
	bound := boundVars(input)

	// Anonymous node slots need a synthetic alias when anything must refer
	// to them later: an inline property filter, or a relationship step that
	// resolves its source from the row.
	for i := range elem.Nodes {
		if elem.Nodes[i].Alias == "" && (len(elem.Nodes[i].Properties) > 0 || len(elem.Rels) > 0) {
			elem.Nodes[i].Alias = fmt.Sprintf("__anon%d", *anon)
			*anon++
		}
	}
	for i := range elem.Rels {
		if elem.Rels[i].Alias == "" && len(elem.Rels[i].Properties) > 0 {
			elem.Rels[i].Alias = fmt.Sprintf("__anon%d", *anon)
			*anon++
		}
	}

	var propPred ast.Expression
	for _, n := range elem.Nodes {
		if n.Alias != "" {
			propPred = inlinePropertyPredicate(propPred, n.Alias, n.Properties)
		}
	}
	for _, r := range elem.Rels {
		if r.Alias != "" {
			propPred = inlinePropertyPredicate(propPred, r.Alias, r.Properties)
		}
	}

	first := elem.Nodes[0]

	var plan *Plan
	var newAliases []string

	if first.Alias != "" && bound[first.Alias] {
		plan = input
	} else {
		label := ""
		if len(first.Labels) > 0 {
			label = first.Labels[0]
		}
		var scan *Plan
		if fields, ok := preds[first.Alias]; ok && label != "" {
			for field, valExpr := range fields {
				scan = &Plan{Kind: PlanIndexSeek, Alias: first.Alias, IndexLabel: label, IndexField: field,
					IndexValueExp: valExpr, Fallback: &Plan{Kind: PlanNodeScan, Alias: first.Alias, Label: label}}
				break
			}
		}
		if scan == nil {
			scan = &Plan{Kind: PlanNodeScan, Alias: first.Alias, Label: label}
		}
		if input != nil && input.Kind != PlanReturnOne {
			plan = &Plan{Kind: PlanCartesianProduct, Input: input, Right2: scan}
		} else {
			plan = scan
		}
		if first.Alias != "" {
			newAliases = append(newAliases, first.Alias)
		}
	}

	cur := first.Alias
	for i, rel := range elem.Rels {
		next := elem.Nodes[i+1]
		kind := PlanMatchOut
		switch rel.Direction {
		case ast.DirIncoming:
			kind = PlanMatchIn
		case ast.DirEither:
			kind = PlanMatchUndirected
		}
		varLen := rel.MinHops != nil || rel.MaxHops != nil
		if varLen {
			kind = PlanMatchOutVarLen
		}

		step := &Plan{
			Kind:        kind,
			Input:       plan,
			SrcAlias:    cur,
			SrcPrebound: true,
			DstAlias:    next.Alias,
			DstLabels:   next.Labels,
			RelAlias:    rel.Alias,
			RelTypes:    rel.Types,
			RelHasAlias: rel.Alias != "",
			PathAlias:   pathAlias,
			VarLenDir:   rel.Direction,
			Optional:    optional,
			MinHops:     1,
		}
		if rel.MinHops != nil {
			step.MinHops = *rel.MinHops
		}
		step.MaxHops = rel.MaxHops
		if optional {
			if next.Alias != "" {
				step.OptionalUnbind = append(step.OptionalUnbind, next.Alias)
			}
			if rel.Alias != "" {
				step.OptionalUnbind = append(step.OptionalUnbind, rel.Alias)
			}
		}

		plan = step
		if next.Alias != "" {
			newAliases = append(newAliases, next.Alias)
		}
		if rel.Alias != "" {
			newAliases = append(newAliases, rel.Alias)
		}
		cur = next.Alias
	}

	return plan, newAliases, propPred
}

// extractEqualityPredicates pulls AND-decomposable `variable.prop =
// literal|param` equalities out of a WHERE expression so MATCH can try to
// lift the scan into an IndexSeek (rule 2). The residual Filter still
// re-checks the full WHERE expression afterward, so a predicate that
// fails to lift (or one this walk doesn't recognize) is still enforced —
// lifting is purely an optimization, never a correctness requirement.
func extractEqualityPredicates(where ast.Expression) map[string]map[string]ast.Expression {
	preds := map[string]map[string]ast.Expression{}
	var walk func(ast.Expression)
	walk = func(e ast.Expression) {
		b, ok := e.(*ast.BinaryOp)
		if !ok {
			return
		}
		if b.Op == "AND" {
			walk(b.Left)
			walk(b.Right)
			return
		}
		if b.Op != "=" {
			return
		}
		pa, ok := b.Left.(*ast.PropertyAccess)
		if !ok {
			return
		}
		v, ok := pa.Target.(*ast.Variable)
		if !ok {
			return
		}
		switch b.Right.(type) {
		case *ast.Literal, *ast.Parameter:
		default:
			return
		}
		if preds[v.Name] == nil {
			preds[v.Name] = map[string]ast.Expression{}
		}
		preds[v.Name][pa.Property] = b.Right
	}
	walk(where)
	return preds
}

// boundVars walks a plan tree collecting every alias it binds, used both
// to detect "already bound" source nodes in a chained MATCH and to
// validate WHERE variable references (rule 9).
func boundVars(p *Plan) map[string]bool {
	out := map[string]bool{}
	var walk func(*Plan)
	walk = func(p *Plan) {
		if p == nil {
			return
		}
		switch p.Kind {
		case PlanNodeScan:
			addAlias(out, p.Alias)
		case PlanMatchOut, PlanMatchIn, PlanMatchUndirected, PlanMatchBoundRel, PlanMatchOutVarLen:
			addAlias(out, p.DstAlias)
			addAlias(out, p.RelAlias)
			addAlias(out, p.PathAlias)
		case PlanUnwind:
			addAlias(out, p.DstAlias)
		case PlanForeach:
			addAlias(out, p.ForeachVar)
		case PlanProject, PlanAggregate:
			for _, item := range p.Projections {
				addAlias(out, item.Alias)
			}
			for _, item := range p.GroupBy {
				addAlias(out, item.Alias)
			}
			for _, item := range p.Aggregates {
				addAlias(out, item.Alias)
			}
		case PlanIndexSeek:
			addAlias(out, p.Alias)
		}
		walk(p.Input)
		walk(p.Outer)
		walk(p.Filtered)
		walk(p.Left)
		walk(p.Right)
		walk(p.Fallback)
		walk(p.Right2)
	}
	walk(p)
	return out
}

func addAlias(m map[string]bool, alias string) {
	if alias != "" {
		m[alias] = true
	}
}

// --- WHERE/type validation (rule 9) ---

func validateWhereBindings(where ast.Expression, bound map[string]bool) error {
	if where == nil {
		return nil
	}
	var walk func(ast.Expression) error
	walk = func(e ast.Expression) error {
		switch ex := e.(type) {
		case nil:
			return nil
		case *ast.Variable:
			if !bound[ex.Name] {
				return &UndefinedVariableError{Name: ex.Name}
			}
		case *ast.PropertyAccess:
			return walk(ex.Target)
		case *ast.UnaryOp:
			return walk(ex.Expr)
		case *ast.BinaryOp:
			if err := walk(ex.Left); err != nil {
				return err
			}
			return walk(ex.Right)
		case *ast.FunctionCall:
			for _, a := range ex.Args {
				if err := walk(a); err != nil {
					return err
				}
			}
		case *ast.ListLiteral:
			for _, a := range ex.Items {
				if err := walk(a); err != nil {
					return err
				}
			}
		case *ast.MapLiteral:
			for _, a := range ex.Entries {
				if err := walk(a); err != nil {
					return err
				}
			}
		case *ast.CaseExpression:
			if err := walk(ex.Subject); err != nil {
				return err
			}
			for _, w := range ex.Whens {
				if err := walk(w.Condition); err != nil {
					return err
				}
				if err := walk(w.Result); err != nil {
					return err
				}
			}
			return walk(ex.Else)
		}
		return nil
	}
	return walk(where)
}

// isBooleanExpression rejects statically non-boolean shapes in boolean
// positions (rule 9): literals of the wrong kind, arithmetic, lists, maps.
// Shapes whose boolean-ness can't be determined statically (function
// calls, property access, pattern predicates) are allowed through.
func isBooleanExpression(e ast.Expression) bool {
	switch ex := e.(type) {
	case *ast.Literal:
		_, ok := ex.Value.(bool)
		return ok || ex.Value == nil
	case *ast.ListLiteral, *ast.MapLiteral:
		return false
	case *ast.BinaryOp:
		switch ex.Op {
		case "+", "-", "*", "/", "%", "^":
			return false
		}
		return true
	default:
		return true
	}
}

// --- Projection compilation (rules 3, 4) ---

var aggregateFuncs = map[string]AggFn{
	"count": AggCount, "sum": AggSum, "avg": AggAvg,
	"min": AggMin, "max": AggMax, "collect": AggCollect,
}

func compileProjection(input *Plan, items []ast.ProjectionItem, distinct bool, where ast.Expression, orderBy []ast.OrderItem, skip, limit ast.Expression) (*Plan, error) {
	var groupBy, plain []ProjectionItem
	var aggregates []AggregateItem
	hasAgg := false

	for i, item := range items {
		if item.Star {
			plain = append(plain, ProjectionItem{Alias: "*", Expr: nil})
			continue
		}
		if fc, ok := item.Expr.(*ast.FunctionCall); ok {
			if fn, isAgg := aggregateFuncs[strings.ToLower(fc.Name)]; isAgg {
				hasAgg = true
				alias := item.Alias
				if alias == "" {
					alias = defaultAlias(item.Expr, i)
				}
				agg := fn
				var arg ast.Expression
				if fc.Star && fn == AggCount {
					agg = AggCountStar
				} else if len(fc.Args) > 0 {
					arg = fc.Args[0]
				}
				aggregates = append(aggregates, AggregateItem{Fn: agg, Arg: arg, Alias: alias})
				continue
			}
		}
		alias := item.Alias
		if alias == "" {
			alias = defaultAlias(item.Expr, i)
		}
		plain = append(plain, ProjectionItem{Alias: alias, Expr: item.Expr})
	}

	var plan *Plan
	if hasAgg {
		groupBy = plain
		plan = &Plan{Kind: PlanAggregate, Input: input, GroupBy: groupBy, Aggregates: aggregates}
	} else {
		plan = &Plan{Kind: PlanProject, Input: input, Projections: plain}
	}

	if where != nil {
		if !isBooleanExpression(where) {
			return nil, fmt.Errorf("Syntax: WITH WHERE expression is not statically boolean")
		}
		plan = &Plan{Kind: PlanFilter, Input: plan, Predicate: where}
	}
	if distinct {
		plan = &Plan{Kind: PlanDistinct, Input: plan}
	}
	if len(orderBy) > 0 {
		var oitems []OrderItem
		for _, o := range orderBy {
			oitems = append(oitems, OrderItem{Expr: o.Expr, Desc: o.Desc})
		}
		plan = &Plan{Kind: PlanOrderBy, Input: plan, OrderItems: oitems}
	}
	if skip != nil {
		plan = &Plan{Kind: PlanSkip, Input: plan, CountExpr: skip}
	}
	if limit != nil {
		plan = &Plan{Kind: PlanLimit, Input: plan, CountExpr: limit}
	}
	return plan, nil
}

func defaultAlias(expr ast.Expression, idx int) string {
	switch ex := expr.(type) {
	case *ast.Variable:
		return ex.Name
	case *ast.PropertyAccess:
		if v, ok := ex.Target.(*ast.Variable); ok {
			return v.Name + "." + ex.Property
		}
	}
	return fmt.Sprintf("expr_%d", idx)
}

// --- SET / REMOVE compilation ---

func compileSetPlan(input *Plan, items []ast.SetItem) *Plan {
	plan := input
	var propItems, mapItems, labelItems []SetItemPlan
	for _, it := range items {
		sip := SetItemPlan{Variable: it.Variable, Property: it.Property, Value: it.Value, Append: it.Append, Labels: it.Labels}
		switch {
		case len(it.Labels) > 0:
			labelItems = append(labelItems, sip)
		case it.Property != "":
			propItems = append(propItems, sip)
		default:
			mapItems = append(mapItems, sip)
		}
	}
	if len(propItems) > 0 {
		plan = &Plan{Kind: PlanSetProperty, Input: plan, SetItems: propItems}
	}
	if len(mapItems) > 0 {
		plan = &Plan{Kind: PlanSetPropertiesFromMap, Input: plan, SetItems: mapItems}
	}
	if len(labelItems) > 0 {
		plan = &Plan{Kind: PlanSetLabels, Input: plan, SetItems: labelItems}
	}
	return plan
}

func compileRemovePlan(input *Plan, items []ast.RemoveItem) *Plan {
	plan := input
	var propItems, labelItems []RemoveItemPlan
	for _, it := range items {
		rip := RemoveItemPlan{Variable: it.Variable, Property: it.Property, Labels: it.Labels}
		if len(it.Labels) > 0 {
			labelItems = append(labelItems, rip)
		} else {
			propItems = append(propItems, rip)
		}
	}
	if len(propItems) > 0 {
		plan = &Plan{Kind: PlanRemoveProperty, Input: plan, RemoveItems: propItems}
	}
	if len(labelItems) > 0 {
		plan = &Plan{Kind: PlanRemoveLabels, Input: plan, RemoveItems: labelItems}
	}
	return plan
}

// --- MERGE support ---

// validateMergePatternShape enforces rule 5: MERGE accepts only a single
// node or a single-hop relationship pattern, and every node slot must
// carry a non-empty property map, the identity used for the match/create
// decision.
func validateMergePatternShape(pat ast.Pattern) error {
	if len(pat.Elements) != 1 {
		return fmt.Errorf("Syntax: MERGE supports exactly one pattern element")
	}
	elem := pat.Elements[0]
	if len(elem.Rels) > 1 {
		return fmt.Errorf("Syntax: MERGE does not support multi-hop patterns")
	}
	for _, n := range elem.Nodes {
		if len(n.Properties) == 0 {
			return fmt.Errorf("Syntax: MERGE node pattern %q requires a non-empty property map", n.Alias)
		}
	}
	return nil
}

func mergePatternVars(pat ast.Pattern) map[string]bool {
	out := map[string]bool{}
	for _, elem := range pat.Elements {
		for _, n := range elem.Nodes {
			addAlias(out, n.Alias)
		}
		for _, r := range elem.Rels {
			addAlias(out, r.Alias)
		}
	}
	return out
}

func compileMergeSetItems(vars map[string]bool, items []ast.SetItem) ([]SetItemPlan, error) {
	var out []SetItemPlan
	for _, it := range items {
		if !vars[it.Variable] {
			return nil, fmt.Errorf("Syntax: ON CREATE/ON MATCH references %q, which is not bound by this MERGE's pattern", it.Variable)
		}
		out = append(out, SetItemPlan{Variable: it.Variable, Property: it.Property, Value: it.Value, Append: it.Append, Labels: it.Labels})
	}
	return out, nil
}

// --- EXPLAIN rendering ---

func renderPlan(p *Plan, depth int) string {
	if p == nil {
		return ""
	}
	indent := strings.Repeat("  ", depth)
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s\n", indent, p.Kind.String())
	for _, child := range []*Plan{p.Input, p.Outer, p.Filtered, p.Left, p.Right, p.Fallback, p.Right2, p.Subquery, p.SubPlan} {
		if child != nil {
			b.WriteString(renderPlan(child, depth+1))
		}
	}
	return b.String()
}
