// Package analysis holds the concrete analyzers (C4): each implements
// dataflow.Analyzer[S] for its own lattice state S and is run over a
// function's CFG by dataflow.RunWorklist. Every analyzer here mirrors a
// transfer function this codebase's Rust ancestor specified per-analysis;
// none of them know about each other except where one analyzer's result
// (reaching defs) feeds another's transfer function as read-only context.
package analysis

import (
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/lattice"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// StackDelta is the value StackGrowth tracks: how far RSP has moved from
// function entry, the RSP-relative offset RBP was loaded from (if any),
// and the size of the last probestack call seen. It is a flat lattice:
// two different deltas meeting produces ⊥, since once growth disagrees
// across paths no checker can trust RSP or RBP math again.
type StackDelta struct {
	Growth     int64
	Rbp        int64
	HasRbp     bool
	Probestack uint64
}

type StackGrowthState = lattice.Flat[StackDelta]

// StackGrowthAnalyzer computes, for every program point, how far RSP has
// moved from the function's entry value. The stack checker uses this to
// translate a raw [rsp+k] or [rbp+k] access into a frame-relative offset.
type StackGrowthAnalyzer struct{}

func (StackGrowthAnalyzer) InitState() StackGrowthState {
	return lattice.KnownFlat(StackDelta{})
}

func (StackGrowthAnalyzer) AnalyzeBlock(in StackGrowthState, block ir.Block) StackGrowthState {
	cur := in
	for _, as := range block {
		for _, stmt := range as.Stmts {
			cur = transferStackGrowth(cur, stmt)
		}
	}
	return cur
}

// Step applies one statement's transfer function; the stack checker uses
// it to recompute the precise growth state at each instruction rather
// than only at block boundaries.
func (StackGrowthAnalyzer) Step(in StackGrowthState, stmt values.Statement) StackGrowthState {
	return transferStackGrowth(in, stmt)
}

func transferStackGrowth(in StackGrowthState, stmt values.Statement) StackGrowthState {
	if !in.Known {
		return in
	}
	d := in.Val
	switch s := stmt.(type) {
	case values.ProbeStack:
		d.Probestack = s.Size
		return lattice.KnownFlat(d)
	case values.Binop:
		dst, ok := s.Dst.(values.Reg)
		if !ok {
			return in
		}
		if dst.R != regs.Rsp {
			return in
		}
		delta, ok := constDelta(s)
		if !ok {
			return lattice.BotFlat[StackDelta]()
		}
		d.Growth += delta
		return lattice.KnownFlat(d)
	case values.Unop:
		if dst, ok := s.Dst.(values.Reg); ok {
			switch dst.R {
			case regs.Rsp:
				return lattice.BotFlat[StackDelta]()
			case regs.Rbp:
				if src, ok := s.Src.(values.Reg); ok && src.R == regs.Rsp {
					d.Rbp = d.Growth
					d.HasRbp = true
					return lattice.KnownFlat(d)
				}
				d.HasRbp = false
				return lattice.KnownFlat(d)
			}
		}
		return in
	case values.Clear:
		if dst, ok := s.Dst.(values.Reg); ok && (dst.R == regs.Rsp || dst.R == regs.Rbp) {
			return lattice.BotFlat[StackDelta]()
		}
		return in
	default:
		return in
	}
}

// constDelta extracts the signed byte delta of `add/sub rsp, rsp, imm`;
// any other binop touching Rsp (register operand, different op) is not
// something this analysis can track and forces ⊥.
func constDelta(s values.Binop) (int64, bool) {
	src1, ok := s.Src1.(values.Reg)
	if !ok || src1.R != regs.Rsp {
		return 0, false
	}
	imm, ok := s.Src2.(values.Imm)
	if !ok {
		return 0, false
	}
	switch s.Op {
	case values.Add:
		return imm.I, true
	case values.Sub:
		return -imm.I, true
	default:
		return 0, false
	}
}

func (StackGrowthAnalyzer) ProcessBranch(_ ir.Map, out StackGrowthState, succs []uint64, _ uint64) map[uint64]StackGrowthState {
	m := make(map[uint64]StackGrowthState, len(succs))
	for _, s := range succs {
		m[s] = out
	}
	return m
}
