package checkers

import (
	"github.com/veriwasm-go/veriwasm/internal/analysis"
	"github.com/veriwasm-go/veriwasm/internal/cfg"
	"github.com/veriwasm-go/veriwasm/internal/dataflow"
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// CheckLocals runs the locals checker (spec.md §4.4.6): every read of a
// register or stack slot must be proven Init (or InitialRegVal, a
// callee-save register nothing has clobbered yet); a read of Uninit is a
// reject since it would observe whatever garbage the caller left behind.
func CheckLocals(g *cfg.Graph, irmap ir.Map, an analysis.LocalsAnalyzer) error {
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
				if err := checkLocalsStatement(st, stmt, as.Addr); err != nil {
					return err
				}
				st = an.Step(st, stmt, loc)
			}
		}
	}
	return nil
}

func checkLocalsStatement(st analysis.LocalsState, stmt values.Statement, addr uint64) error {
	check := func(v values.Value) error {
		switch r := v.(type) {
		case values.Reg:
			// Rsp and the flags are never seeded Init by InitState (they
			// aren't arguments or callee-save) but every prologue reads
			// them (push rbp, sub rsp, N) before any write; the stack
			// checker and flag producers own their safety, not this one.
			if r.R == regs.Rsp || r.R.IsFlag() {
				return nil
			}
		case values.Mem:
			if _, ok := values.StackOffset(v); !ok {
				return nil // heap/rip reads are not locals-tracked locations
			}
		default:
			return nil
		}
		slot, ok := st.Get(v)
		if !ok || slot.Kind == analysis.Uninit {
			return reject("locals", addr, stmt, "read of a location not proven initialized")
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
