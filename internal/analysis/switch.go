package analysis

import (
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/lattice"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// SwitchKind tags a SwitchValue variant. The analysis recognizes the
// compiled form of a wasm br_table: a bounds check against a jump table's
// entry count, then a scaled load of a 32-bit relative offset out of the
// table, then an add back onto the table's base to form the final target.
type SwitchKind int

const (
	SwitchUnknown SwitchKind = iota
	SwitchBase               // Num = table base address
	UpperBound               // Num = exclusive bound the index was compared to
	JmpOffset                // Num = table base, Num2 = exclusive bound on the index (table entry count)
	JmpTarget                // Num = table base, Num2 = exclusive bound on the index (table entry count)
	ZF                       // Num = bound, Reg = compared register, Set = its reaching defs
)

type SwitchValue struct {
	Kind SwitchKind
	Reg  regs.R
	Num  uint32
	Num2 uint32
	Set  lattice.ReachSet
}

func botSwitch() SwitchValue { return SwitchValue{} }

func (s SwitchValue) Meet(other SwitchValue, _ lattice.LocIdx) SwitchValue {
	if s.Kind != other.Kind {
		return botSwitch()
	}
	switch s.Kind {
	case SwitchBase:
		if s.Num != other.Num {
			return botSwitch()
		}
	case UpperBound:
		if s.Num != other.Num {
			return botSwitch()
		}
	case JmpOffset, JmpTarget:
		if s.Num != other.Num || s.Num2 != other.Num2 {
			return botSwitch()
		}
	case ZF:
		if s.Num != other.Num || s.Reg != other.Reg || s.Set.PartialCmp(other.Set) != lattice.Equal {
			return botSwitch()
		}
	}
	return s
}

type SwitchState struct {
	Vars  lattice.VariableState[SwitchValue]
	Reach ReachingDefsState
}

func (s SwitchState) Meet(other SwitchState, loc lattice.LocIdx) SwitchState {
	return SwitchState{Vars: s.Vars.Meet(other.Vars, loc), Reach: s.Reach.Meet(other.Reach, loc)}
}

// SwitchAnalyzer recognizes a Cranelift-compiled br_table dispatch: the
// bounded-index comparison, the table lookup scaled by 4 bytes, and the
// final base+offset target computation. internal/resolver concretizes the
// CFG edges this analysis exposes as JmpTarget values.
type SwitchAnalyzer struct{}

func (SwitchAnalyzer) InitState() SwitchState {
	return SwitchState{Vars: lattice.NewVariableState[SwitchValue](), Reach: ReachingDefsAnalyzer{}.InitState()}
}

func (a SwitchAnalyzer) AnalyzeBlock(in SwitchState, block ir.Block) SwitchState {
	vars, reach := in.Vars, in.Reach
	for _, as := range block {
		for idx, stmt := range as.Stmts {
			loc := lattice.LocIdx{Addr: as.Addr, Idx: idx}
			vars = a.exec(vars, reach, stmt, loc)
			reach = Transfer(reach, stmt, loc)
		}
	}
	return SwitchState{Vars: vars, Reach: reach}
}

func (a SwitchAnalyzer) exec(vars lattice.VariableState[SwitchValue], reach ReachingDefsState, stmt values.Statement, loc lattice.LocIdx) lattice.VariableState[SwitchValue] {
	switch s := stmt.(type) {
	case values.Unop:
		return vars.Set(s.Dst, s.Dst.Width(), a.evalUnop(vars, s.Src))
	case values.Binop:
		return a.execBinop(vars, reach, s, loc)
	case values.Clear:
		return vars.SetToBot(s.Dst)
	default:
		return vars
	}
}

func (a SwitchAnalyzer) execBinop(vars lattice.VariableState[SwitchValue], reach ReachingDefsState, s values.Binop, loc lattice.LocIdx) lattice.VariableState[SwitchValue] {
	if s.Op == values.Cmp {
		if r, ok := s.Src1.(values.Reg); ok {
			if imm, ok2 := s.Src2.(values.Imm); ok2 {
				def, _ := reach.Get(r)
				return vars.Set(values.Reg{R: regs.Zf, W: regs.Size8}, regs.Size8,
					SwitchValue{Kind: ZF, Num: uint32(imm.I), Reg: r.R, Set: def})
			}
		}
		if imm, ok := s.Src1.(values.Imm); ok {
			if r, ok2 := s.Src2.(values.Reg); ok2 {
				def, _ := reach.Get(r)
				return vars.Set(values.Reg{R: regs.Zf, W: regs.Size8}, regs.Size8,
					SwitchValue{Kind: ZF, Num: uint32(imm.I), Reg: r.R, Set: def})
			}
		}
		return vars
	}
	if s.Op == values.Test {
		return vars.Set(values.Reg{R: regs.Zf, W: regs.Size8}, regs.Size8, botSwitch())
	}
	return vars.Set(s.Dst, s.Dst.Width(), a.evalBinop(vars, s))
}

func (a SwitchAnalyzer) evalBinop(vars lattice.VariableState[SwitchValue], s values.Binop) SwitchValue {
	if s.Op != values.Add {
		return botSwitch()
	}
	r1, ok1 := s.Src1.(values.Reg)
	r2, ok2 := s.Src2.(values.Reg)
	if !ok1 || !ok2 {
		return botSwitch()
	}
	v1, _ := vars.Get(r1)
	v2, _ := vars.Get(r2)
	if v1.Kind == SwitchBase && v2.Kind == JmpOffset {
		return SwitchValue{Kind: JmpTarget, Num: v1.Num, Num2: v2.Num2}
	}
	if v2.Kind == SwitchBase && v1.Kind == JmpOffset {
		return SwitchValue{Kind: JmpTarget, Num: v2.Num, Num2: v1.Num2}
	}
	return botSwitch()
}

func (a SwitchAnalyzer) evalUnop(vars lattice.VariableState[SwitchValue], val values.Value) SwitchValue {
	switch v := val.(type) {
	case values.Reg:
		c, _ := vars.Get(v)
		return c
	case values.Imm:
		if v.I == 0 {
			return SwitchValue{Kind: UpperBound, Num: 1}
		}
		return SwitchValue{Kind: SwitchBase, Num: uint32(v.I)}
	case values.RIPConst:
		return botSwitch()
	case values.Mem:
		if off, ok := values.StackOffset(v); ok {
			c, _, _ := vars.Stack.Get(off)
			return c
		}
		if scaled, ok := v.Addr.(values.AddrScaled); ok && scaled.Scale == 4 {
			base, _, _ := vars.Regs.Get(scaled.Base)
			bound, _, _ := vars.Regs.Get(scaled.Index)
			if base.Kind == SwitchBase && bound.Kind == UpperBound {
				return SwitchValue{Kind: JmpOffset, Num: base.Num, Num2: bound.Num}
			}
		}
		return botSwitch()
	default:
		return botSwitch()
	}
}

func (a SwitchAnalyzer) ProcessBranch(irmap ir.Map, out SwitchState, succs []uint64, addr uint64) map[uint64]SwitchState {
	if len(succs) != 2 {
		m := make(map[uint64]SwitchState, len(succs))
		for _, s := range succs {
			m[s] = out
		}
		return m
	}
	notTaken := out
	taken := out
	zf, _ := out.Vars.Get(values.Reg{R: regs.Zf, W: regs.Size8})
	if zf.Kind == ZF {
		bound := SwitchValue{Kind: UpperBound, Num: zf.Num}
		notTaken.Vars = notTaken.Vars.Set(values.Reg{R: zf.Reg, W: regs.Size64}, regs.Size64, bound)
		for r := 0; r < regs.Count; r++ {
			if regs.R(r) == zf.Reg {
				continue
			}
			def, _, ok := out.Reach.Regs.Get(regs.R(r))
			if ok && def.PartialCmp(zf.Set) == lattice.Equal {
				notTaken.Vars = notTaken.Vars.Set(values.Reg{R: regs.R(r), W: regs.Size64}, regs.Size64, bound)
			}
		}
	}
	notTaken.Vars = notTaken.Vars.Set(values.Reg{R: regs.Zf, W: regs.Size8}, regs.Size8, botSwitch())
	taken.Vars = taken.Vars.Set(values.Reg{R: regs.Zf, W: regs.Size8}, regs.Size8, botSwitch())
	return map[uint64]SwitchState{succs[0]: notTaken, succs[1]: taken}
}
