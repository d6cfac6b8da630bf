package analysis

import (
	"testing"

	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/lattice"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

func TestCallEvalImmRecognizesMetadataConstants(t *testing.T) {
	a := CallAnalyzer{Metadata: CallMetadata{GuestTable0: 0x5000, LucetTables: 0x6000, FuncStarts: map[uint64]bool{0x7000: true}}}
	vars := lattice.NewVariableState[CallValue]()
	if v := a.Eval(vars, values.Imm{I: 0x5000}); v.Kind != GuestTableBase {
		t.Fatalf("got %+v, want GuestTableBase", v)
	}
	if v := a.Eval(vars, values.Imm{I: 0x6000}); v.Kind != LucetTablesBase {
		t.Fatalf("got %+v, want LucetTablesBase", v)
	}
	if v := a.Eval(vars, values.Imm{I: 0x7000}); v.Kind != FnPtr {
		t.Fatalf("got %+v, want FnPtr", v)
	}
	if v := a.Eval(vars, values.Imm{I: 42}); v.Kind != Constant || v.Num64 != 42 {
		t.Fatalf("got %+v, want Constant{Num64:42}", v)
	}
}

func TestGuestTableFnSlotRecognizesTypeCheckedIndex(t *testing.T) {
	vars := lattice.NewVariableState[CallValue]()
	vars = vars.Set(values.Reg{R: regs.Rax, W: regs.Size64}, regs.Size64, CallValue{Kind: GuestTableBase})
	vars = vars.Set(values.Reg{R: regs.Rbx, W: regs.Size64}, regs.Size64, CallValue{Kind: TypedPtrOffset, Num: 7})
	m := values.Mem{W: regs.Size64, Addr: values.AddrBaseIndexDisp{Base: regs.Rax, Index: regs.Rbx, Disp: 8}}
	other, ok := GuestTableFnSlot(vars, m)
	if !ok || other.Kind != TypedPtrOffset || other.Num != 7 {
		t.Fatalf("got (%+v, %v), want (TypedPtrOffset{Num:7}, true)", other, ok)
	}
}

func TestGuestTableFnSlotRejectsUncheckedIndex(t *testing.T) {
	vars := lattice.NewVariableState[CallValue]()
	vars = vars.Set(values.Reg{R: regs.Rax, W: regs.Size64}, regs.Size64, CallValue{Kind: GuestTableBase})
	vars = vars.Set(values.Reg{R: regs.Rbx, W: regs.Size64}, regs.Size64, CallValue{Kind: Constant, Num64: 1})
	m := values.Mem{W: regs.Size64, Addr: values.AddrBaseIndexDisp{Base: regs.Rax, Index: regs.Rbx, Disp: 8}}
	other, ok := GuestTableFnSlot(vars, m)
	if !ok || other.Kind == TypedPtrOffset {
		t.Fatalf("got (%+v, %v), an unchecked index should still be recognized as the slot's other operand but never TypedPtrOffset", other, ok)
	}
}

func TestExecBinopShlByFourProducesUncheckedOffset(t *testing.T) {
	a := CallAnalyzer{}
	vars := lattice.NewVariableState[CallValue]()
	reach := ReachingDefsAnalyzer{}.InitState()
	loc := lattice.LocIdx{Addr: 0x10, Idx: 0}
	shl := values.Binop{Op: values.Shl, Dst: values.Reg{R: regs.Rcx, W: regs.Size64}, Src1: values.Reg{R: regs.Rax, W: regs.Size64}, Src2: values.Imm{I: 4}}
	out := a.execBinop(vars, reach, shl, loc)
	v, ok := out.Get(values.Reg{R: regs.Rcx, W: regs.Size64})
	if !ok || v.Kind != PtrOffsetUnchecked {
		t.Fatalf("got (%+v, %v), want PtrOffsetUnchecked", v, ok)
	}
}

func TestProcessBranchJBMarksTakenEdgeChecked(t *testing.T) {
	a := CallAnalyzer{}
	vars := lattice.NewVariableState[CallValue]()
	vars = vars.Set(values.Reg{R: regs.Zf, W: regs.Size8}, regs.Size8, CallValue{Kind: CheckFlag, Reg: regs.Rax})
	reach := ReachingDefsAnalyzer{}.InitState()
	out := CallState{Vars: vars, Reach: reach}
	irmap := ir.Map{0x0: ir.Block{{Addr: 0, Stmts: []values.Statement{values.Branch{Opcode: "JB", Target: values.Imm{I: 0x20}}}}}}
	succs := a.ProcessBranch(irmap, out, []uint64{0x10, 0x20}, 0x0)
	taken := succs[0x20]
	v, ok := taken.Vars.Get(values.Reg{R: regs.Rax, W: regs.Size64})
	if !ok || v.Kind != CheckedVal {
		t.Fatalf("got (%+v, %v), want CheckedVal on the taken (in-bounds) edge", v, ok)
	}
}
