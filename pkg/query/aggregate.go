package query

import (
	"github.com/nervusdb/nervusdb/pkg/planner"
)

// aggAccumulator holds the running state of one aggregate alias within
// one group.
type aggAccumulator struct {
	fn planner.AggFn

	count    int64
	sumInt   int64
	sumFloat float64
	sawFloat bool
	min, max Value
	hasMin   bool
	hasMax   bool
	items    []Value
}

func (a *aggAccumulator) add(v Value, guard *Guard) error {
	switch a.fn {
	case planner.AggCountStar:
		a.count++
	case planner.AggCount:
		if !v.IsNull() {
			a.count++
		}
	case planner.AggSum, planner.AggAvg:
		if v.IsNull() {
			return nil
		}
		a.count++
		switch v.Kind {
		case VKInt:
			a.sumInt += v.Int
			a.sumFloat += float64(v.Int)
		case VKFloat:
			a.sawFloat = true
			a.sumFloat += v.Float
		default:
			return execErr("sum/avg requires numeric input, got %s", v.String())
		}
	case planner.AggMin:
		if v.IsNull() {
			return nil
		}
		if !a.hasMin || v.Less(a.min) {
			a.min = v
			a.hasMin = true
		}
	case planner.AggMax:
		if v.IsNull() {
			return nil
		}
		if !a.hasMax || a.max.Less(v) {
			a.max = v
			a.hasMax = true
		}
	case planner.AggCollect:
		if v.IsNull() {
			return nil
		}
		a.items = append(a.items, v)
		if guard != nil {
			if err := guard.CountCollectionItems("collect", 1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *aggAccumulator) result() Value {
	switch a.fn {
	case planner.AggCountStar, planner.AggCount:
		return IntValue(a.count)
	case planner.AggSum:
		if a.sawFloat {
			return FloatValue(a.sumFloat)
		}
		return IntValue(a.sumInt)
	case planner.AggAvg:
		if a.count == 0 {
			return Null
		}
		if !a.sawFloat {
			return IntValue(a.sumInt / a.count)
		}
		return FloatValue(a.sumFloat / float64(a.count))
	case planner.AggMin:
		if !a.hasMin {
			return Null
		}
		return a.min
	case planner.AggMax:
		if !a.hasMax {
			return Null
		}
		return a.max
	case planner.AggCollect:
		if a.items == nil {
			return ListValue([]Value{})
		}
		return ListValue(a.items)
	default:
		return Null
	}
}

// aggregateIterator partitions its input by the group-by key tuple and
// emits one row per group carrying the group keys plus every aggregate
// alias. Groups emit in first-encounter order so results are stable for a
// given input order.
type aggregateIterator struct {
	ex    *Executor
	plan  *planner.Plan
	input PlanIterator

	loaded bool
	rows   []*Row
	pos    int
}

type aggGroup struct {
	keys []Value
	accs []*aggAccumulator
}

func (it *aggregateIterator) load() error {
	it.loaded = true

	groups := make(map[string]*aggGroup)
	var order []string

	for {
		row, err := it.input.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}

		keys := make([]Value, len(it.plan.GroupBy))
		keyRow := NewRow()
		for i, item := range it.plan.GroupBy {
			v, err := it.ex.ev.Eval(item.Expr, row, it.ex.params)
			if err != nil {
				return err
			}
			keys[i] = v
			keyRow.Set(item.Alias, v)
		}
		key := keyRow.hashKey()

		g, ok := groups[key]
		if !ok {
			g = &aggGroup{keys: keys, accs: make([]*aggAccumulator, len(it.plan.Aggregates))}
			for i, item := range it.plan.Aggregates {
				g.accs[i] = &aggAccumulator{fn: item.Fn}
			}
			groups[key] = g
			order = append(order, key)
		}

		for i, item := range it.plan.Aggregates {
			var v Value
			if item.Arg != nil {
				v, err = it.ex.ev.Eval(item.Arg, row, it.ex.params)
				if err != nil {
					return err
				}
			}
			if err := g.accs[i].add(v, it.ex.guard); err != nil {
				return err
			}
		}
	}

	// An aggregate over zero input rows with no GROUP BY still yields one
	// row (count(*) = 0); with grouping, zero input yields zero groups.
	if len(order) == 0 && len(it.plan.GroupBy) == 0 {
		g := &aggGroup{accs: make([]*aggAccumulator, len(it.plan.Aggregates))}
		for i, item := range it.plan.Aggregates {
			g.accs[i] = &aggAccumulator{fn: item.Fn}
		}
		groups[""] = g
		order = append(order, "")
	}

	for _, key := range order {
		g := groups[key]
		out := NewRow()
		for i, item := range it.plan.GroupBy {
			out.Set(item.Alias, g.keys[i])
		}
		for i, item := range it.plan.Aggregates {
			out.Set(item.Alias, g.accs[i].result())
		}
		it.rows = append(it.rows, out)
	}
	return nil
}

func (it *aggregateIterator) Next() (*Row, error) {
	if !it.loaded {
		if err := it.load(); err != nil {
			return nil, err
		}
	}
	if it.pos >= len(it.rows) {
		return nil, nil
	}
	r := it.rows[it.pos]
	it.pos++
	return r, nil
}
