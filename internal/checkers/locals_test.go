package checkers

import (
	"testing"

	"github.com/veriwasm-go/veriwasm/internal/analysis"
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

func TestCheckLocalsAcceptsReadOfArgRegister(t *testing.T) {
	an := analysis.DefaultLocalsAnalyzer()
	stmts := []values.Statement{
		values.Unop{Op: values.Mov, Dst: values.Reg{R: regs.Rax, W: regs.Size64}, Src: values.Reg{R: regs.Rdi, W: regs.Size64}},
	}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	if err := CheckLocals(singleBlockGraph(0), irmap, an); err != nil {
		t.Fatalf("expected a read of an incoming argument register to pass, got: %v", err)
	}
}

func TestCheckLocalsAcceptsCalleeSaveRegisterReadBeforeClobber(t *testing.T) {
	an := analysis.DefaultLocalsAnalyzer()
	stmts := []values.Statement{
		values.Unop{Op: values.Mov, Dst: values.Reg{R: regs.Rax, W: regs.Size64}, Src: values.Reg{R: regs.Rbx, W: regs.Size64}},
	}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	if err := CheckLocals(singleBlockGraph(0), irmap, an); err != nil {
		t.Fatalf("expected a read of an untouched callee-save register to pass, got: %v", err)
	}
}

func TestCheckLocalsRejectsReadOfUnwrittenRegister(t *testing.T) {
	an := analysis.DefaultLocalsAnalyzer()
	stmts := []values.Statement{
		values.Unop{Op: values.Mov, Dst: values.Reg{R: regs.Rax, W: regs.Size64}, Src: values.Reg{R: regs.R10, W: regs.Size64}},
	}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	err := CheckLocals(singleBlockGraph(0), irmap, an)
	if err == nil {
		t.Fatal("expected a read of a register this function never wrote to be rejected")
	}
	if _, ok := err.(*RejectError); !ok {
		t.Fatalf("expected *RejectError, got %T", err)
	}
}

func TestCheckLocalsAcceptsStackSlotWrittenThenRead(t *testing.T) {
	an := analysis.LocalsAnalyzer{}
	slot := values.Mem{W: regs.Size64, Addr: values.AddrBaseDisp{Base: regs.Rsp, Disp: 8}}
	stmts := []values.Statement{
		values.Unop{Op: values.Mov, Dst: slot, Src: values.Imm{I: 1}},
		values.Unop{Op: values.Mov, Dst: values.Reg{R: regs.Rax, W: regs.Size64}, Src: slot},
	}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	if err := CheckLocals(singleBlockGraph(0), irmap, an); err != nil {
		t.Fatalf("expected a stack slot written before it is read to pass, got: %v", err)
	}
}

func TestCheckLocalsRejectsReadOfUnwrittenStackSlot(t *testing.T) {
	an := analysis.LocalsAnalyzer{}
	slot := values.Mem{W: regs.Size64, Addr: values.AddrBaseDisp{Base: regs.Rsp, Disp: 8}}
	stmts := []values.Statement{
		values.Unop{Op: values.Mov, Dst: values.Reg{R: regs.Rax, W: regs.Size64}, Src: slot},
	}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	err := CheckLocals(singleBlockGraph(0), irmap, an)
	if err == nil {
		t.Fatal("expected a read of a stack slot this function never wrote to be rejected")
	}
}
