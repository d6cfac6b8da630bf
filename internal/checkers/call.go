package checkers

import (
	"github.com/veriwasm-go/veriwasm/internal/analysis"
	"github.com/veriwasm-go/veriwasm/internal/cfg"
	"github.com/veriwasm-go/veriwasm/internal/dataflow"
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// CheckCall runs the call checker (spec.md §4.6): every Call(reg) target
// must be a verified FnPtr, every Call(mem) is an outright reject, and
// every load of a guest table's function-pointer slot must be preceded by
// a verified bounds-and-type check on the index that formed it.
func CheckCall(g *cfg.Graph, irmap ir.Map, md analysis.CallMetadata) error {
	an := analysis.CallAnalyzer{Metadata: md}
	entry, err := dataflow.RunWorklist(g, irmap, an)
	if err != nil {
		return err
	}
	for addr, block := range irmap {
		st, ok := entry[addr]
		if !ok {
			continue
		}
		for _, as := range block {
			for idx, stmt := range as.Stmts {
				loc := locIdx(as.Addr, idx)
				if err := checkCallStatement(an, st, stmt, as.Addr); err != nil {
					return err
				}
				st = an.Step(st, stmt, loc)
			}
		}
	}
	return nil
}

func checkCallStatement(an analysis.CallAnalyzer, st analysis.CallState, stmt values.Statement, addr uint64) error {
	if call, ok := stmt.(values.Call); ok {
		switch t := call.Target.(type) {
		case values.Imm:
			return nil
		case values.Reg:
			v, _ := st.Vars.Get(t)
			if v.Kind != analysis.FnPtr {
				return reject("call", addr, stmt, "indirect call target is not a verified guest-table function pointer")
			}
			return nil
		case values.Mem:
			return reject("call", addr, stmt, "call through a memory operand is never permitted")
		}
		return nil
	}
	return checkGuestTableLoads(an, st, stmt, addr)
}

// checkGuestTableLoads rejects any load of a guest table's function-
// pointer slot whose index was not a verified checked-and-typed offset,
// independent of whether the result ends up in a Call statement at all.
func checkGuestTableLoads(an analysis.CallAnalyzer, st analysis.CallState, stmt values.Statement, addr uint64) error {
	check := func(v values.Value) error {
		m, ok := v.(values.Mem)
		if !ok {
			return nil
		}
		other, isSlot := analysis.GuestTableFnSlot(st.Vars, m)
		if !isSlot {
			return nil
		}
		if other.Kind != analysis.TypedPtrOffset {
			return reject("call", addr, stmt, "guest table function-pointer load with an unverified index")
		}
		return nil
	}
	switch s := stmt.(type) {
	case values.Unop:
		return check(s.Src)
	case values.Binop:
		if err := check(s.Src1); err != nil {
			return err
		}
		return check(s.Src2)
	case values.Clear:
		for _, src := range s.Srcs {
			if err := check(src); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}
