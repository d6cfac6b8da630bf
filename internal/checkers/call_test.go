package checkers

import (
	"testing"

	"github.com/veriwasm-go/veriwasm/internal/analysis"
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

func TestCheckCallAcceptsDirectImmediateTarget(t *testing.T) {
	stmts := []values.Statement{values.Call{Target: values.Imm{I: 0x1234}}}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	if err := CheckCall(singleBlockGraph(0), irmap, analysis.CallMetadata{}); err != nil {
		t.Fatalf("expected a direct call target to pass, got: %v", err)
	}
}

func TestCheckCallRejectsUnverifiedRegisterTarget(t *testing.T) {
	stmts := []values.Statement{
		values.Call{Target: values.Reg{R: regs.Rax, W: regs.Size64}},
	}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	err := CheckCall(singleBlockGraph(0), irmap, analysis.CallMetadata{})
	if err == nil {
		t.Fatal("expected an indirect call through an unverified register to be rejected")
	}
}

func TestCheckCallRejectsMemoryTarget(t *testing.T) {
	stmts := []values.Statement{
		values.Call{Target: values.Mem{W: regs.Size64, Addr: values.AddrBase{Base: regs.Rax}}},
	}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	err := CheckCall(singleBlockGraph(0), irmap, analysis.CallMetadata{})
	if err == nil {
		t.Fatal("expected a call through a memory operand to be rejected outright")
	}
}

func TestCheckCallRejectsGuestTableLoadWithUncheckedIndex(t *testing.T) {
	md := analysis.CallMetadata{GuestTable0: 0x5000}
	stmts := []values.Statement{
		values.Unop{Op: values.Mov, Dst: values.Reg{R: regs.Rax, W: regs.Size64}, Src: values.Imm{I: 0x5000}},
		values.Unop{Op: values.Mov, Dst: values.Reg{R: regs.Rbx, W: regs.Size64}, Src: values.Imm{I: 1}},
		values.Unop{
			Op:  values.Mov,
			Dst: values.Reg{R: regs.Rcx, W: regs.Size64},
			Src: values.Mem{W: regs.Size64, Addr: values.AddrBaseIndexDisp{Base: regs.Rax, Index: regs.Rbx, Disp: 8}},
		},
	}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	err := CheckCall(singleBlockGraph(0), irmap, md)
	if err == nil {
		t.Fatal("expected a guest-table function-pointer load with an unchecked index to be rejected")
	}
	if _, ok := err.(*RejectError); !ok {
		t.Fatalf("expected *RejectError, got %T", err)
	}
}
