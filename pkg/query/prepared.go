package query

import (
	"errors"
	"strings"

	"github.com/nervusdb/nervusdb/pkg/ast"
	"github.com/nervusdb/nervusdb/pkg/planner"
)

// PreparedQuery is a compiled Cypher statement (Q3): the plan, its write
// semantics, and the EXPLAIN rendering when requested. A PreparedQuery is
// immutable and safe to execute repeatedly, against different snapshots
// and parameter sets.
type PreparedQuery struct {
	source   string
	compiled *planner.Compiled
}

// Prepare parses and compiles one Cypher statement. Parse failures and
// compile-time validation failures both surface as Syntax errors; clauses
// the compiler recognizes but cannot plan surface as Execution errors
//.
func Prepare(cypher string) (*PreparedQuery, error) {
	q, err := ast.Parse(cypher)
	if err != nil {
		return nil, &Error{Kind: KindSyntax, Message: err.Error(), Wrapped: err}
	}
	compiled, err := planner.Compile(q)
	if err != nil {
		return nil, classifyCompileError(err)
	}
	return &PreparedQuery{source: cypher, compiled: compiled}, nil
}

func classifyCompileError(err error) error {
	var uv *planner.UndefinedVariableError
	if errors.As(err, &uv) {
		return &Error{Kind: KindSyntax, Message: err.Error(), Wrapped: err}
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "Syntax:") {
		return &Error{Kind: KindSyntax, Message: strings.TrimSpace(strings.TrimPrefix(msg, "Syntax:")), Wrapped: err}
	}
	return &Error{Kind: KindExecution, Message: strings.TrimSpace(strings.TrimPrefix(msg, "Execution:")), Wrapped: err}
}

// IsExplain reports whether this statement was prepared under EXPLAIN.
func (p *PreparedQuery) IsExplain() bool { return p.compiled.Explain }

// ExplainString returns the textual plan rendering for an EXPLAIN
// statement, or ok=false otherwise.
func (p *PreparedQuery) ExplainString() (string, bool) {
	if !p.compiled.Explain {
		return "", false
	}
	return p.compiled.ExplainString, true
}

// IsWrite reports whether executing this statement mutates the graph.
func (p *PreparedQuery) IsWrite() bool {
	return p.compiled.Write == planner.WriteMerge || containsWriteNode(p.compiled.Plan)
}

func (p *PreparedQuery) normalizeParams(params *Params) *Params {
	if params == nil {
		return &Params{Values: map[string]Value{}, Limits: DefaultResourceLimits()}
	}
	if params.Values == nil {
		params.Values = map[string]Value{}
	}
	zero := ResourceLimits{}
	if params.Limits == zero {
		params.Limits = DefaultResourceLimits()
	}
	return params
}

// ExecuteStreaming runs a read-only statement, returning the row stream.
// Prepared writes are rejected; an EXPLAIN statement yields no rows (the
// plan text is available from ExplainString).
func (p *PreparedQuery) ExecuteStreaming(snap Snapshot, params *Params) (PlanIterator, error) {
	if p.IsWrite() {
		return nil, execErr("statement contains write clauses; use ExecuteWrite or ExecuteMixed")
	}
	if p.compiled.Explain {
		return newSliceIterator(nil), nil
	}
	ex := NewExecutor(snap, p.normalizeParams(params))
	return ex.Build(p.compiled.Plan)
}

// ExecuteWrite runs a write statement against a transaction, returning
// the number of entities affected (nodes/edges created or deleted,
// properties and labels set or removed). The caller owns the transaction
// and decides whether to commit; an error here means no commit should
// happen.
func (p *PreparedQuery) ExecuteWrite(snap Snapshot, wctx *WriteContext, params *Params) (uint32, error) {
	if p.compiled.Explain {
		return 0, execErr("an EXPLAIN statement cannot execute as a write")
	}
	if !p.IsWrite() {
		return 0, execErr("statement has no write clauses; use ExecuteStreaming")
	}
	_, affected, err := p.executeWrite(snap, wctx, params)
	return affected, err
}

// ExecuteMixed runs a statement that both writes and returns rows
// (`CREATE ... RETURN ...`), yielding the projected rows and the affected
// count.
func (p *PreparedQuery) ExecuteMixed(snap Snapshot, wctx *WriteContext, params *Params) ([]*Row, uint32, error) {
	if p.compiled.Explain {
		return nil, 0, execErr("an EXPLAIN statement cannot execute as a write")
	}
	rows, affected, err := p.executeWrite(snap, wctx, params)
	return rows, affected, err
}

func (p *PreparedQuery) executeWrite(snap Snapshot, wctx *WriteContext, params *Params) ([]*Row, uint32, error) {
	ex := NewExecutor(snap, p.normalizeParams(params))
	d := &writeDriver{ex: ex, wctx: wctx}
	if p.compiled.Write == planner.WriteMerge {
		d.merge = newMergeState(p.compiled.MergeOnCreate, p.compiled.MergeOnMatch)
	}
	rows, err := d.run(p.compiled.Plan)
	if err != nil {
		return nil, 0, err
	}
	return rows, uint32(d.affected), nil
}
