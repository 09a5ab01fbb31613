package query

import (
	"strings"
	"sync"
)

// Version is reported by db.info(). It tracks released database versions,
// not the module version.
const Version = "0.3.0"

// Procedure is one registered callable: it receives the (interface-erased)
// snapshot and the already-evaluated argument values, and returns zero or
// more result rows to be projected through the caller's YIELD list. The
// snapshot parameter is the narrow Snapshot capability interface, not the
// concrete storage type, so procedures stay decoupled from the engine
//.
type Procedure func(snap Snapshot, args []Value) ([]*Row, error)

var (
	procOnce sync.Once
	procs    map[string]Procedure
)

func procRegistry() map[string]Procedure {
	procOnce.Do(func() {
		procs = map[string]Procedure{
			"db.info":  procDBInfo,
			"math.add": procMathAdd,
		}
	})
	return procs
}

// RegisterProcedure adds a procedure under a qualified name. Extend the
// registry at startup, before any query prepare; the table is never torn
// down.
func RegisterProcedure(name string, p Procedure) {
	procRegistry()[strings.ToLower(name)] = p
}

// LookupProcedure resolves a qualified procedure name.
func LookupProcedure(name string) (Procedure, bool) {
	p, ok := procRegistry()[strings.ToLower(name)]
	return p, ok
}

func procDBInfo(_ Snapshot, _ []Value) ([]*Row, error) {
	row := NewRow()
	row.Set("version", StringValue(Version))
	return []*Row{row}, nil
}

func procMathAdd(_ Snapshot, args []Value) ([]*Row, error) {
	if len(args) != 2 {
		return nil, execErr("math.add takes exactly 2 arguments")
	}
	sum, err := evalArithmetic("+", args[0], args[1])
	if err != nil {
		return nil, err
	}
	row := NewRow()
	row.Set("result", sum)
	return []*Row{row}, nil
}
