// Package planner compiles a parsed pkg/ast.Query into an algebraic Plan
// tree (Q1) and exposes the compilation entry point used to build a
// query.PreparedQuery.
package planner

import "github.com/nervusdb/nervusdb/pkg/ast"

// PlanKind tags which Plan variant a node is. Go has no sum types, so
// Plan is a single tagged struct carrying only the fields its Kind uses,
// avoiding a type switch over N distinct struct types at every call site.
type PlanKind int

const (
	PlanReturnOne PlanKind = iota
	PlanNodeScan
	PlanMatchOut
	PlanMatchIn
	PlanMatchUndirected
	PlanMatchBoundRel
	PlanMatchOutVarLen
	PlanFilter
	PlanOptionalWhereFixup
	PlanProject
	PlanAggregate
	PlanOrderBy
	PlanSkip
	PlanLimit
	PlanDistinct
	PlanUnwind
	PlanUnion
	PlanApply
	PlanProcedureCall
	PlanCreate
	PlanDelete
	PlanSetProperty
	PlanSetPropertiesFromMap
	PlanSetLabels
	PlanRemoveProperty
	PlanRemoveLabels
	PlanIndexSeek
	PlanCartesianProduct
	PlanForeach
	PlanValues
)

// AggFn names an aggregate accumulator.
type AggFn int

const (
	AggCount AggFn = iota
	AggCountStar
	AggSum
	AggAvg
	AggMin
	AggMax
	AggCollect
)

// ProjectionItem is one (alias, expr) pair in a Project/RETURN/WITH step.
type ProjectionItem struct {
	Alias string
	Expr  ast.Expression
}

// AggregateItem is one (fn, arg, alias) aggregate in an Aggregate step.
// Arg is nil for count(*).
type AggregateItem struct {
	Fn    AggFn
	Arg   ast.Expression
	Alias string
}

// OrderItem is one (expr, descending) sort key.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// Expr is a thin alias kept for readability in OrderItem; it is the same
// ast.Expression type.
type Expr = ast.Expression

// SetItemPlan mirrors ast.SetItem but carries the resolved write-step
// semantics the executor needs.
type SetItemPlan struct {
	Variable string
	Property string // empty when this item sets a whole map or adds labels
	Value    ast.Expression
	Append   bool
	Labels   []string
}

// RemoveItemPlan mirrors ast.RemoveItem.
type RemoveItemPlan struct {
	Variable string
	Property string
	Labels   []string
}

// Plan is the compiled query algebra node. Only the fields relevant to
// Kind are populated; callers must switch on Kind before reading fields,
// matching the clauseMarker()-style sealed-interface discipline the AST
// types use, but flattened into one struct here because Plan nodes
// recombine their children far more than AST
// clauses do (Filter wraps MatchOut wraps NodeScan, etc.) and Go lacks
// algebraic data types to express that recombination as cheaply as a
// struct-of-pointers.
type Plan struct {
	Kind PlanKind

	// NodeScan
	Alias    string
	Label    string
	Optional bool

	// MatchOut / MatchIn / MatchUndirected / MatchBoundRel / MatchOutVarLen
	Input          *Plan
	SrcAlias       string
	SrcPrebound    bool
	DstAlias       string
	DstLabels      []string
	RelAlias       string
	RelTypes       []string
	RelHasAlias    bool
	PathAlias      string
	MinHops        int
	MaxHops        *int
	VarLenDir      ast.Direction // MatchOutVarLen only; single-hop direction is the Kind
	OptionalUnbind []string

	// Filter
	Predicate ast.Expression

	// OptionalWhereFixup
	Outer       *Plan
	Filtered    *Plan
	NullAliases []string

	// Project
	Projections []ProjectionItem

	// Aggregate
	GroupBy    []ProjectionItem
	Aggregates []AggregateItem

	// OrderBy
	OrderItems []OrderItem

	// Skip / Limit — evaluated at execution time since either may be a
	// parameter (`LIMIT $n`), not just a literal.
	CountExpr ast.Expression

	// Unwind
	UnwindExpr ast.Expression

	// Union
	Left  *Plan
	Right *Plan
	All   bool

	// Apply
	Subquery    *Plan
	ApplyAlias  string

	// ProcedureCall
	ProcName   string
	ProcArgs   []ast.Expression
	ProcYields []ProcYieldItem

	// Create. Merge marks the node as compiled from MERGE rather than
	// CREATE, selecting find-or-create execution.
	Pattern *ast.Pattern
	Merge   bool

	// Delete
	Detach       bool
	DeleteExprs  []ast.Expression

	// SetProperty / SetPropertiesFromMap / SetLabels / RemoveProperty / RemoveLabels
	SetItems    []SetItemPlan
	RemoveItems []RemoveItemPlan

	// IndexSeek
	IndexLabel    string
	IndexField    string
	IndexValueExp ast.Expression
	Fallback      *Plan

	// CartesianProduct
	Right2 *Plan // second input when Input already holds the first (kept distinct from Union.Right for clarity at call sites)

	// Foreach
	ForeachVar  string
	ForeachList ast.Expression
	SubPlan     *Plan

	// Values
	Rows []map[string]ast.Expression
}

// ProcYieldItem maps a procedure output field to a bound alias.
type ProcYieldItem struct {
	Field string
	Alias string
}

// WriteSemantics distinguishes a plain write statement from one compiled
// under MERGE, since MERGE's ON CREATE/ON MATCH items are carried
// alongside the plan rather than inside it.
type WriteSemantics int

const (
	WriteDefault WriteSemantics = iota
	WriteMerge
)

var planKindNames = map[PlanKind]string{
	PlanReturnOne: "ReturnOne", PlanNodeScan: "NodeScan", PlanMatchOut: "MatchOut",
	PlanMatchIn: "MatchIn", PlanMatchUndirected: "MatchUndirected", PlanMatchBoundRel: "MatchBoundRel",
	PlanMatchOutVarLen: "MatchOutVarLen", PlanFilter: "Filter", PlanOptionalWhereFixup: "OptionalWhereFixup",
	PlanProject: "Project", PlanAggregate: "Aggregate", PlanOrderBy: "OrderBy", PlanSkip: "Skip",
	PlanLimit: "Limit", PlanDistinct: "Distinct", PlanUnwind: "Unwind", PlanUnion: "Union",
	PlanApply: "Apply", PlanProcedureCall: "ProcedureCall", PlanCreate: "Create", PlanDelete: "Delete",
	PlanSetProperty: "SetProperty", PlanSetPropertiesFromMap: "SetPropertiesFromMap", PlanSetLabels: "SetLabels",
	PlanRemoveProperty: "RemoveProperty", PlanRemoveLabels: "RemoveLabels", PlanIndexSeek: "IndexSeek",
	PlanCartesianProduct: "CartesianProduct", PlanForeach: "Foreach", PlanValues: "Values",
}

// String names a plan node kind for EXPLAIN rendering and resource-guard
// stage labeling.
func (k PlanKind) String() string {
	if n, ok := planKindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// IsWriteNode reports whether this plan node is a write step as opposed
// to a read-shape node, the split the write driver recurses on.
func (p *Plan) IsWriteNode() bool {
	switch p.Kind {
	case PlanCreate, PlanDelete, PlanSetProperty, PlanSetPropertiesFromMap,
		PlanSetLabels, PlanRemoveProperty, PlanRemoveLabels, PlanForeach:
		return true
	default:
		return false
	}
}
