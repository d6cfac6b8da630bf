package analysis

import (
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/lattice"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// ReachingDefsState maps every register and stack slot to the set of
// program points whose write could still be live there.
type ReachingDefsState = lattice.VariableState[lattice.ReachSet]

// liveInAddr is the synthetic instruction address reaching defs are
// seeded from for a function's live-in locations: arguments and
// callee-save registers nobody inside the function writes before use.
const liveInAddr = 0xdeadbeef

// ReachingDefsAnalyzer computes, at every program point, which earlier
// statement(s) could have produced the value currently sitting in a
// register or stack slot. Other analyzers (most importantly the call
// checker's indirect-call analysis) use this to decide whether two
// registers were derived from the same bounds-checked comparison.
type ReachingDefsAnalyzer struct{}

// liveInRegs is every GP register a function's live-in state seeds with a
// distinct singleton def, mirroring reaching_defs.rs's init_state: not just
// the argument and callee-save registers, but every register (including
// Rsp) a caller-save reaching def could otherwise be mistaken for ⊥ and
// compare Equal to an unrelated ⊥ slot elsewhere.
var liveInRegs = []regs.R{
	regs.Rax, regs.Rcx, regs.Rdx, regs.Rbx, regs.Rsp, regs.Rbp, regs.Rsi, regs.Rdi,
	regs.R8, regs.R9, regs.R10, regs.R11, regs.R12, regs.R13, regs.R14, regs.R15,
}

// liveInStackSlots are the callee-save stack slots a standard prologue
// spills to (the first few qwords above a pushed return address), seeded
// the same way as reaching_defs.rs's init_state.
var liveInStackSlots = []int64{0x8, 0x10, 0x18, 0x20, 0x28}

func (ReachingDefsAnalyzer) InitState() ReachingDefsState {
	s := lattice.NewVariableState[lattice.ReachSet]()
	idx := 0
	for _, r := range liveInRegs {
		s = s.Set(values.Reg{R: r, W: regs.Size64}, regs.Size64, lattice.Singleton(lattice.LocIdx{Addr: liveInAddr, Idx: idx}))
		idx++
	}
	for _, off := range liveInStackSlots {
		s.Stack = s.Stack.Set(off, regs.Size64, lattice.Singleton(lattice.LocIdx{Addr: liveInAddr, Idx: idx}))
		idx++
	}
	return s
}

func (ReachingDefsAnalyzer) AnalyzeBlock(in ReachingDefsState, block ir.Block) ReachingDefsState {
	cur := in
	for _, as := range block {
		for idx, stmt := range as.Stmts {
			cur = Transfer(cur, stmt, lattice.LocIdx{Addr: as.Addr, Idx: idx})
		}
	}
	return cur
}

// Transfer applies one statement's reaching-defs transfer function. It is
// exported so the call-check analyzer can replay it in lockstep, since its
// own transfer function needs the exact reaching set at the same program
// point rather than only a block's aggregate entry/exit state.
func Transfer(in ReachingDefsState, stmt values.Statement, loc lattice.LocIdx) ReachingDefsState {
	switch s := stmt.(type) {
	case values.Clear:
		return in.Set(s.Dst, s.Dst.Width(), lattice.Singleton(loc))
	case values.Unop:
		if set, ok := in.Get(s.Src); ok {
			return in.Set(s.Dst, s.Dst.Width(), set)
		}
		return in.Set(s.Dst, s.Dst.Width(), lattice.Singleton(loc))
	case values.Binop:
		if s.Op == values.Cmp || s.Op == values.Test {
			return in
		}
		out := in.Set(s.Dst, s.Dst.Width(), lattice.Singleton(loc))
		return adjustStack(out, s)
	case values.Call:
		out := in
		for i, r := range regs.CallerSaveSysV {
			w := regs.Size64
			if r.IsFlag() {
				w = regs.Size8
			}
			out = out.Set(values.Reg{R: r, W: w}, w, lattice.Singleton(lattice.LocIdx{Addr: loc.Addr, Idx: i}))
		}
		return out
	default:
		return in
	}
}

func (ReachingDefsAnalyzer) ProcessBranch(_ ir.Map, out ReachingDefsState, succs []uint64, _ uint64) map[uint64]ReachingDefsState {
	m := make(map[uint64]ReachingDefsState, len(succs))
	for _, s := range succs {
		m[s] = out
	}
	return m
}
