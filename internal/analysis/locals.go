package analysis

import (
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/lattice"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// SlotKind tags whether a register or stack slot holds a value this
// analysis has proven was written (Init), a value still carrying whatever
// garbage the caller left there (Uninit, the lattice's bottom — it wins
// any meet), or the untouched value a callee-save register arrived with
// (InitialRegVal), which is as good as initialized but only while nothing
// has clobbered it on every path.
type SlotKind int

const (
	Uninit SlotKind = iota
	Init
	InitialRegVal
)

type SlotVal struct {
	Kind SlotKind
	Reg  regs.R
}

func (s SlotVal) Meet(other SlotVal, _ lattice.LocIdx) SlotVal {
	switch {
	case s.Kind == Uninit || other.Kind == Uninit:
		return SlotVal{}
	case s.Kind == Init && other.Kind == Init:
		return SlotVal{Kind: Init}
	case s.Kind == InitialRegVal && other.Kind == InitialRegVal && s.Reg == other.Reg:
		return s
	default:
		return SlotVal{}
	}
}

type LocalsState = lattice.VariableState[SlotVal]

// LocalsAnalyzer proves which locations hold a definitely-initialized
// value, catching reads of whatever garbage happened to be on the stack
// or in a register before this function ever wrote to it. ArgRegs is the
// System-V integer argument list actually used by the function's wasm
// signature; CalleeSave are the registers a caller trusts to survive a
// call unmodified.
type LocalsAnalyzer struct {
	ArgRegs    []regs.R
	CalleeSave []regs.R
}

func DefaultLocalsAnalyzer() LocalsAnalyzer {
	return LocalsAnalyzer{
		ArgRegs:    regs.ABIArgRegsSysV,
		CalleeSave: []regs.R{regs.Rbp, regs.Rbx, regs.R12, regs.R13, regs.R14, regs.R15},
	}
}

func (a LocalsAnalyzer) InitState() LocalsState {
	s := lattice.NewVariableState[SlotVal]()
	for _, r := range a.ArgRegs {
		s = s.Set(values.Reg{R: r, W: regs.Size64}, regs.Size64, SlotVal{Kind: Init})
	}
	for _, r := range a.CalleeSave {
		s = s.Set(values.Reg{R: r, W: regs.Size64}, regs.Size64, SlotVal{Kind: InitialRegVal, Reg: r})
	}
	return s
}

func get(s LocalsState, v values.Value) SlotVal {
	c, ok := s.Get(v)
	if !ok {
		return SlotVal{}
	}
	return c
}

func (a LocalsAnalyzer) AnalyzeBlock(in LocalsState, block ir.Block) LocalsState {
	cur := in
	for _, as := range block {
		for idx, stmt := range as.Stmts {
			cur = a.exec(cur, stmt, lattice.LocIdx{Addr: as.Addr, Idx: idx})
		}
	}
	return cur
}

// Step applies one statement's transfer function; the locals checker uses
// it to know exactly which locations are proven initialized at the point
// of each read.
func (a LocalsAnalyzer) Step(in LocalsState, stmt values.Statement, loc lattice.LocIdx) LocalsState {
	return a.exec(in, stmt, loc)
}

func (a LocalsAnalyzer) exec(in LocalsState, stmt values.Statement, loc lattice.LocIdx) LocalsState {
	switch s := stmt.(type) {
	case values.Clear:
		v := SlotVal{Kind: Init}
		for _, src := range s.Srcs {
			if get(in, src).Kind != Init {
				v = SlotVal{}
				break
			}
		}
		return in.Set(s.Dst, s.Dst.Width(), v)
	case values.Unop:
		return in.Set(s.Dst, s.Dst.Width(), a.eval(in, s.Src))
	case values.Binop:
		v := a.eval(in, s.Src1).Meet(a.eval(in, s.Src2), loc)
		out := in.Set(s.Dst, s.Dst.Width(), v)
		return adjustStack(out, s)
	case values.Call:
		out := in.OnCall()
		return out.Set(values.Reg{R: regs.Rax, W: regs.Size64}, regs.Size64, SlotVal{Kind: Init})
	default:
		return in
	}
}

func adjustStack[T lattice.Meeter[T]](in lattice.VariableState[T], s values.Binop) lattice.VariableState[T] {
	dst, ok := s.Dst.(values.Reg)
	if !ok || dst.R != regs.Rsp {
		return in
	}
	delta, ok := constDelta(s)
	if !ok {
		return in
	}
	in.Stack = in.Stack.AdjustOffset(delta)
	return in
}

func (a LocalsAnalyzer) eval(in LocalsState, val values.Value) SlotVal {
	switch v := val.(type) {
	case values.Reg:
		return get(in, v)
	case values.Imm:
		return SlotVal{Kind: Init}
	case values.RIPConst:
		return SlotVal{Kind: Init}
	case values.Mem:
		if off, ok := values.StackOffset(v); ok {
			c, _, ok := in.Stack.Get(off)
			if !ok {
				return SlotVal{}
			}
			return c
		}
		return SlotVal{Kind: Init}
	default:
		return SlotVal{}
	}
}

func (a LocalsAnalyzer) ProcessBranch(_ ir.Map, out LocalsState, succs []uint64, _ uint64) map[uint64]LocalsState {
	m := make(map[uint64]LocalsState, len(succs))
	for _, s := range succs {
		m[s] = out
	}
	return m
}
