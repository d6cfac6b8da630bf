package checkers

import (
	"github.com/veriwasm-go/veriwasm/internal/analysis"
	"github.com/veriwasm-go/veriwasm/internal/cfg"
	"github.com/veriwasm-go/veriwasm/internal/dataflow"
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// maxFrameRead is the read-window upper bound spec.md §4.4.1 fixes: a
// stack read may reach 8096 bytes above the function-entry RSP (the
// access's displacement plus the stack growth at that point), covering spilled
// incoming-argument slots placed by the caller just past the frame.
const maxFrameRead = 8096

// CheckStack runs the stack checker (spec.md §4.6): every RSP- or
// RBP-relative memory operand must fall inside the probed window, and
// every Ret must observe zero net stack growth.
func CheckStack(g *cfg.Graph, irmap ir.Map) error {
	an := analysis.StackGrowthAnalyzer{}
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
			for _, stmt := range as.Stmts {
				if err := checkStackStatement(st, stmt, as.Addr); err != nil {
					return err
				}
				st = an.Step(st, stmt)
			}
		}
	}
	return nil
}

func checkStackStatement(st analysis.StackGrowthState, stmt values.Statement, addr uint64) error {
	switch s := stmt.(type) {
	case values.Unop:
		if err := checkStackOperand(st, s.Dst, true, addr, stmt); err != nil {
			return err
		}
		return checkStackOperand(st, s.Src, false, addr, stmt)
	case values.Binop:
		if err := checkStackOperand(st, s.Dst, true, addr, stmt); err != nil {
			return err
		}
		if err := checkStackOperand(st, s.Src1, false, addr, stmt); err != nil {
			return err
		}
		return checkStackOperand(st, s.Src2, false, addr, stmt)
	case values.Clear:
		if err := checkStackOperand(st, s.Dst, true, addr, stmt); err != nil {
			return err
		}
		for _, src := range s.Srcs {
			if err := checkStackOperand(st, src, false, addr, stmt); err != nil {
				return err
			}
		}
		return nil
	case values.Ret:
		if !st.Known || st.Val.Growth != 0 {
			return reject("stack", addr, stmt, "nonzero stack growth at ret")
		}
		return nil
	default:
		return nil
	}
}

func checkStackOperand(st analysis.StackGrowthState, v values.Value, isWrite bool, addr uint64, stmt values.Statement) error {
	isStack := values.IsStackAccess(v)
	isBP := !isStack && values.IsBPAccess(v)
	if !isStack && !isBP {
		return nil
	}
	if !st.Known {
		return reject("stack", addr, stmt, "stack/frame access with unanalyzable growth state")
	}
	off, _ := values.StackOffset(v)

	var base int64
	if isBP {
		if !st.Val.HasRbp {
			return reject("stack", addr, stmt, "rbp-relative access without a tracked saved-rbp value")
		}
		base = st.Val.Rbp
	} else {
		base = st.Val.Growth
	}
	rel := base + off
	lo := -int64(st.Val.Probestack)
	if isWrite {
		if rel < lo || rel >= 0 {
			return reject("stack", addr, stmt, "write outside probed window")
		}
		return nil
	}
	if rel < lo || rel >= maxFrameRead {
		return reject("stack", addr, stmt, "read outside probed window")
	}
	return nil
}
