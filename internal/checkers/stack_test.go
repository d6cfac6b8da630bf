package checkers

import (
	"testing"

	"github.com/veriwasm-go/veriwasm/internal/cfg"
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

func rsp() values.Reg { return values.Reg{R: regs.Rsp, W: regs.Size64} }

func singleBlockGraph(addr uint64) *cfg.Graph {
	return &cfg.Graph{Entry: addr, Succs: map[uint64][]uint64{addr: nil}}
}

func TestCheckStackAcceptsProbedWriteAndBalancedRet(t *testing.T) {
	stmts := []values.Statement{
		values.ProbeStack{Size: 4096},
		values.Binop{Op: values.Sub, Dst: rsp(), Src1: rsp(), Src2: values.Imm{I: 4096}},
		values.Unop{
			Op:  values.Mov,
			Dst: values.Mem{W: regs.Size64, Addr: values.AddrBaseDisp{Base: regs.Rsp, Disp: 8}},
			Src: values.Imm{I: 1},
		},
		values.Binop{Op: values.Add, Dst: rsp(), Src1: rsp(), Src2: values.Imm{I: 4096}},
		values.Ret{},
	}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	if err := CheckStack(singleBlockGraph(0), irmap); err != nil {
		t.Fatalf("expected a balanced, in-window function to pass, got: %v", err)
	}
}

func TestCheckStackRejectsWriteOutsideProbedWindow(t *testing.T) {
	stmts := []values.Statement{
		values.ProbeStack{Size: 64},
		values.Binop{Op: values.Sub, Dst: rsp(), Src1: rsp(), Src2: values.Imm{I: 64}},
		values.Unop{
			Op:  values.Mov,
			Dst: values.Mem{W: regs.Size64, Addr: values.AddrBaseDisp{Base: regs.Rsp, Disp: 4096}},
			Src: values.Imm{I: 1},
		},
	}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	err := CheckStack(singleBlockGraph(0), irmap)
	if err == nil {
		t.Fatal("expected a write far outside the probed window to be rejected")
	}
	if _, ok := err.(*RejectError); !ok {
		t.Fatalf("expected *RejectError, got %T: %v", err, err)
	}
}

func TestCheckStackRejectsUnbalancedRet(t *testing.T) {
	stmts := []values.Statement{
		values.ProbeStack{Size: 64},
		values.Binop{Op: values.Sub, Dst: rsp(), Src1: rsp(), Src2: values.Imm{I: 64}},
		values.Ret{},
	}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	err := CheckStack(singleBlockGraph(0), irmap)
	if err == nil {
		t.Fatal("expected a ret with nonzero net stack growth to be rejected")
	}
}

func TestCheckStackRejectsBPAccessWithoutSavedRbp(t *testing.T) {
	stmts := []values.Statement{
		values.Unop{
			Op:  values.Mov,
			Dst: values.Reg{R: regs.Rax, W: regs.Size64},
			Src: values.Mem{W: regs.Size64, Addr: values.AddrBaseDisp{Base: regs.Rbp, Disp: 16}},
		},
	}
	irmap := ir.Map{0: ir.Block{{Addr: 0, Stmts: stmts}}}
	err := CheckStack(singleBlockGraph(0), irmap)
	if err == nil {
		t.Fatal("expected an rbp-relative read with no tracked saved-rbp to be rejected")
	}
}
