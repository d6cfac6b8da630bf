package analysis

import (
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/lattice"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// WasmtimeField tags a handful of VMContext fields this analyzer can
// recognize once the embedder tells it the field's byte offset. Wasmtime's
// VMContext layout is version-specific and not worth hardcoding, so
// VMOffsets below is supplied by the loader from whatever vmctx-layout
// metadata the binary or its embedder config carries; an empty map simply
// makes every FieldOf lookup miss, degrading this analyzer to recognizing
// only the pinned vmctx pointer itself.
type WasmtimeField int

const (
	FieldUnknown WasmtimeField = iota
	FieldMemoryBase
	FieldMemoryBound
)

// VMOffsets maps a byte offset within VMContext to the field stored there.
type VMOffsets map[int64]WasmtimeField

// WasmtimeValueKind mirrors HeapKind's shape: VmCtx for the pinned context
// pointer, FieldOf for a value loaded from a recognized VMContext field.
type WasmtimeValueKind int

const (
	WtUnknown WasmtimeValueKind = iota
	VmCtx
	FieldOf
)

type WasmtimeValue struct {
	Kind  WasmtimeValueKind
	Field WasmtimeField
}

func (v WasmtimeValue) Meet(other WasmtimeValue, _ lattice.LocIdx) WasmtimeValue {
	if v.Kind != other.Kind {
		return WasmtimeValue{}
	}
	if v.Kind == FieldOf && v.Field != other.Field {
		return WasmtimeValue{}
	}
	return v
}

type WasmtimeState = lattice.VariableState[WasmtimeValue]

// WasmtimeAnalyzer is gated (only meaningfully precise) when Offsets is
// non-empty; it exists to let the heap checker also accept Wasmtime's
// pinned-vmctx calling convention, a second binary ABI alongside Lucet's
// guest-table convention, without every checker special-casing it.
type WasmtimeAnalyzer struct {
	PinnedVMCtxReg regs.R
	Offsets        VMOffsets
}

func DefaultWasmtimeAnalyzer() WasmtimeAnalyzer {
	return WasmtimeAnalyzer{PinnedVMCtxReg: regs.R14, Offsets: VMOffsets{}}
}

func (a WasmtimeAnalyzer) InitState() WasmtimeState {
	s := lattice.NewVariableState[WasmtimeValue]()
	return s.Set(values.Reg{R: a.PinnedVMCtxReg, W: regs.Size64}, regs.Size64, WasmtimeValue{Kind: VmCtx})
}

func (a WasmtimeAnalyzer) AnalyzeBlock(in WasmtimeState, block ir.Block) WasmtimeState {
	cur := in
	for _, as := range block {
		for _, stmt := range as.Stmts {
			cur = a.Step(cur, stmt)
		}
	}
	return cur
}

func (a WasmtimeAnalyzer) Step(in WasmtimeState, stmt values.Statement) WasmtimeState {
	switch s := stmt.(type) {
	case values.Clear:
		return in.SetToBot(s.Dst)
	case values.Unop:
		return in.Set(s.Dst, s.Dst.Width(), a.eval(in, s.Src))
	case values.Binop:
		out := in.SetToBot(s.Dst)
		return adjustStack(out, s)
	case values.Call:
		return in.OnCall()
	default:
		return in
	}
}

func (a WasmtimeAnalyzer) eval(in WasmtimeState, val values.Value) WasmtimeValue {
	switch v := val.(type) {
	case values.Reg:
		c, _ := in.Get(v)
		return c
	case values.Mem:
		bd, ok := v.Addr.(values.AddrBaseDisp)
		if ok {
			base, _, _ := in.Regs.Get(bd.Base)
			if base.Kind == VmCtx {
				if field, ok := a.Offsets[bd.Disp]; ok {
					return WasmtimeValue{Kind: FieldOf, Field: field}
				}
			}
		}
		if off, ok := values.StackOffset(v); ok {
			c, _, ok := in.Stack.Get(off)
			if !ok {
				return WasmtimeValue{}
			}
			return c
		}
		return WasmtimeValue{}
	default:
		return WasmtimeValue{}
	}
}

func (a WasmtimeAnalyzer) ProcessBranch(_ ir.Map, out WasmtimeState, succs []uint64, _ uint64) map[uint64]WasmtimeState {
	m := make(map[uint64]WasmtimeState, len(succs))
	for _, s := range succs {
		m[s] = out
	}
	return m
}
