package analysis

import (
	"testing"

	"github.com/veriwasm-go/veriwasm/internal/lattice"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

func TestTransferStackGrowthTracksSubThenAdd(t *testing.T) {
	in := StackGrowthAnalyzer{}.InitState()
	sub := values.Binop{Op: values.Sub, Dst: values.Reg{R: regs.Rsp, W: regs.Size64}, Src1: values.Reg{R: regs.Rsp, W: regs.Size64}, Src2: values.Imm{I: 32}}
	out := transferStackGrowth(in, sub)
	if !out.Known || out.Val.Growth != -32 {
		t.Fatalf("after sub rsp,32: got %+v, want Growth -32", out)
	}
	add := values.Binop{Op: values.Add, Dst: values.Reg{R: regs.Rsp, W: regs.Size64}, Src1: values.Reg{R: regs.Rsp, W: regs.Size64}, Src2: values.Imm{I: 32}}
	out = transferStackGrowth(out, add)
	if !out.Known || out.Val.Growth != 0 {
		t.Fatalf("after add rsp,32: got %+v, want Growth 0", out)
	}
}

func TestTransferStackGrowthRecordsProbestackSize(t *testing.T) {
	in := StackGrowthAnalyzer{}.InitState()
	out := transferStackGrowth(in, values.ProbeStack{Size: 8192})
	if !out.Known || out.Val.Probestack != 8192 {
		t.Fatalf("got %+v, want Probestack 8192", out)
	}
}

func TestTransferStackGrowthTracksRbpSavedFromRsp(t *testing.T) {
	in := StackGrowthAnalyzer{}.InitState()
	sub := values.Binop{Op: values.Sub, Dst: values.Reg{R: regs.Rsp, W: regs.Size64}, Src1: values.Reg{R: regs.Rsp, W: regs.Size64}, Src2: values.Imm{I: 16}}
	out := transferStackGrowth(in, sub)
	mov := values.Unop{Op: values.Mov, Dst: values.Reg{R: regs.Rbp, W: regs.Size64}, Src: values.Reg{R: regs.Rsp, W: regs.Size64}}
	out = transferStackGrowth(out, mov)
	if !out.Known || !out.Val.HasRbp || out.Val.Rbp != -16 {
		t.Fatalf("got %+v, want HasRbp true and Rbp -16", out)
	}
}

func TestTransferStackGrowthNonConstantRspBinopGoesBottom(t *testing.T) {
	in := StackGrowthAnalyzer{}.InitState()
	stmt := values.Binop{
		Op:   values.Add,
		Dst:  values.Reg{R: regs.Rsp, W: regs.Size64},
		Src1: values.Reg{R: regs.Rsp, W: regs.Size64},
		Src2: values.Reg{R: regs.Rax, W: regs.Size64},
	}
	out := transferStackGrowth(in, stmt)
	if out.Known {
		t.Fatalf("expected a non-immediate rsp adjustment to go to bottom, got %+v", out)
	}
}

func TestTransferStackGrowthClearingRspGoesBottom(t *testing.T) {
	in := StackGrowthAnalyzer{}.InitState()
	out := transferStackGrowth(in, values.Clear{Dst: values.Reg{R: regs.Rsp, W: regs.Size64}})
	if out.Known {
		t.Fatalf("expected clearing rsp to go to bottom, got %+v", out)
	}
}

func TestTransferStackGrowthOnceBottomStaysBottom(t *testing.T) {
	bot := lattice.BotFlat[StackDelta]()
	out := transferStackGrowth(bot, values.ProbeStack{Size: 64})
	if out.Known {
		t.Fatalf("expected bottom to be absorbing, got %+v", out)
	}
}
