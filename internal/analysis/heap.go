package analysis

import (
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/lattice"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// HeapKind tags the handful of Lucet/Wasmtime runtime constants the heap
// checker needs to recognize: the guest heap base pointer (passed in Rdi
// by calling convention), small bounded constants, and the function-table
// metadata pointers a guard-page-based heap access pattern touches.
type HeapKind int

const (
	HeapUnknown HeapKind = iota
	HeapBase
	Bounded4GB
	FnTableMd
	FnPtrTable
	GlobalsBase
	HeapGuestTable0
	HeapLucetTables
	HeapRIPConst
)

type HeapState = lattice.VariableState[lattice.Flat[HeapKind]]

// HeapAnalyzer tracks which registers/stack slots hold the guest heap
// base pointer or one of the small set of runtime constants the heap
// checker accepts as a valid base for a classified memory access.
type HeapAnalyzer struct {
	Metadata CallMetadata
}

func (a HeapAnalyzer) InitState() HeapState {
	s := lattice.NewVariableState[lattice.Flat[HeapKind]]()
	return s.Set(values.Reg{R: regs.Rdi, W: regs.Size64}, regs.Size64, lattice.KnownFlat(HeapBase))
}

func (a HeapAnalyzer) AnalyzeBlock(in HeapState, block ir.Block) HeapState {
	cur := in
	for _, as := range block {
		for _, stmt := range as.Stmts {
			cur = a.exec(cur, stmt)
		}
	}
	return cur
}

// Step applies one statement's transfer function; the heap checker steps
// through a block statement by statement so it can classify each memory
// operand against the state as of that exact instruction.
func (a HeapAnalyzer) Step(in HeapState, stmt values.Statement) HeapState {
	return a.exec(in, stmt)
}

func (a HeapAnalyzer) exec(in HeapState, stmt values.Statement) HeapState {
	switch s := stmt.(type) {
	case values.Clear:
		return in.SetToBot(s.Dst)
	case values.Unop:
		return in.Set(s.Dst, s.Dst.Width(), a.eval(in, s.Src))
	case values.Binop:
		out := in.SetToBot(s.Dst)
		return adjustStack(out, s)
	case values.Call:
		return lattice.VariableState[lattice.Flat[HeapKind]]{Stack: in.Stack}
	default:
		return in
	}
}

func (a HeapAnalyzer) eval(in HeapState, val values.Value) lattice.Flat[HeapKind] {
	switch v := val.(type) {
	case values.Reg:
		c, _ := in.Get(v)
		return c
	case values.Imm:
		u := uint64(v.I)
		switch {
		case u == a.Metadata.GuestTable0:
			return lattice.KnownFlat(HeapGuestTable0)
		case u == a.Metadata.LucetTables:
			return lattice.KnownFlat(HeapLucetTables)
		case u > 0 && u < (uint64(1)<<32):
			return lattice.KnownFlat(Bounded4GB)
		default:
			return lattice.BotFlat[HeapKind]()
		}
	case values.RIPConst:
		return lattice.KnownFlat(HeapRIPConst)
	case values.Mem:
		if off, ok := values.StackOffset(v); ok {
			c, _, _ := in.Stack.Get(off)
			return c
		}
		return lattice.BotFlat[HeapKind]()
	default:
		return lattice.BotFlat[HeapKind]()
	}
}

func (a HeapAnalyzer) ProcessBranch(_ ir.Map, out HeapState, succs []uint64, _ uint64) map[uint64]HeapState {
	m := make(map[uint64]HeapState, len(succs))
	for _, s := range succs {
		m[s] = out
	}
	return m
}
