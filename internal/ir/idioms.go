package ir

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/veriwasm-go/veriwasm/internal/disasm"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// matchProbestack recognizes the Lucet stack-probe prologue:
//
//	mov eax, <probed-size>
//	call <lucet_probestack>
//	sub rsp, rsp, rax   (or: sub rsp, rsp, <imm>)
//
// and lowers it to the lifted mov, a ProbeStack statement in place of the
// call and, for the
// immediate form, a residual stack adjustment for the bytes the probe
// call itself didn't account for.
func matchProbestack(insts []disasm.Inst, md Metadata) ([]values.Statement, int, bool) {
	if len(insts) < 3 || md.LucetProbestack == 0 {
		return nil, 0, false
	}
	movStmts, err := Lift(insts[0], false)
	if err != nil || len(movStmts) != 1 {
		return nil, 0, false
	}
	unop, ok := movStmts[0].(values.Unop)
	if !ok || unop.Op != values.Mov {
		return nil, 0, false
	}
	dstReg, ok := unop.Dst.(values.Reg)
	if !ok || dstReg.R != regs.Rax {
		return nil, 0, false
	}
	imm, ok := unop.Src.(values.Imm)
	if !ok {
		return nil, 0, false
	}
	probestackArg := uint64(imm.I)

	call := insts[1]
	if call.Op != x86asm.CALL {
		return nil, 0, false
	}
	target, ok := disasm.DirectBranchTarget(call)
	if !ok || target != md.LucetProbestack {
		return nil, 0, false
	}

	subStmts, err := Lift(insts[2], false)
	if err != nil || len(subStmts) == 0 {
		return nil, 0, false
	}
	sub, ok := subStmts[0].(values.Binop)
	if !ok || sub.Op != values.Sub {
		return nil, 0, false
	}
	dst, ok := sub.Dst.(values.Reg)
	if !ok || dst.R != regs.Rsp {
		return nil, 0, false
	}

	stmts := append([]values.Statement{}, movStmts...)
	stmts = append(stmts, values.ProbeStack{Size: probestackArg})

	switch src := sub.Src2.(type) {
	case values.Reg:
		if src.R != regs.Rax {
			return nil, 0, false
		}
		return stmts, 3, true
	case values.Imm:
		adj := src.I - int64(probestackArg)
		if adj != 0 {
			stmts = append(stmts, values.Binop{
				Op:   values.Sub,
				Dst:  values.Reg{R: regs.Rsp, W: regs.Size64},
				Src1: values.Reg{R: regs.Rsp, W: regs.Size64},
				Src2: values.Imm{Signed: true, W: regs.Size64, I: adj},
			})
		}
		return stmts, 3, true
	default:
		return nil, 0, false
	}
}

// matchBsfCmove recognizes the zero-input idiom compilers emit for
// bsf/bsr/tzcnt/lzcnt (whose result is undefined at zero):
//
//	bsf dst, src
//	cmovz dst, fallback
//
// folding it into a Clear of dst from both src and fallback, so a
// checker never has to special-case the intervening flag state.
func matchBsfCmove(insts []disasm.Inst) ([]values.Statement, int, bool) {
	if len(insts) < 2 {
		return nil, 0, false
	}
	scan := insts[0]
	if scan.Op != x86asm.BSF && scan.Op != x86asm.BSR {
		return nil, 0, false
	}
	cmov := insts[1]
	if cmov.Op != x86asm.CMOVE {
		return nil, 0, false
	}
	w0 := operandSize(scan, 0)
	w1 := operandSize(scan, 1)
	if w0 == 0 || w1 == 0 {
		return nil, 0, false
	}
	scanDst, err := convertOperand(scan, 0, w0)
	if err != nil {
		return nil, 0, false
	}
	scanSrc, err := convertOperand(scan, 1, w1)
	if err != nil {
		return nil, 0, false
	}
	cmovDstReg, okd := scanDst.(values.Reg)
	cmovDst, err := convertOperand(cmov, 0, operandSize(cmov, 0))
	if err != nil {
		return nil, 0, false
	}
	cmovDstReg2, oks := cmovDst.(values.Reg)
	if !okd || !oks || cmovDstReg.R != cmovDstReg2.R {
		return nil, 0, false
	}
	fallback, err := convertOperand(cmov, 1, operandSize(cmov, 1))
	if err != nil {
		return nil, 0, false
	}
	return []values.Statement{
		values.Clear{Dst: values.Reg{R: regs.Zf, W: regs.Size8}, Srcs: []values.Value{scanSrc}},
		values.Clear{Dst: scanDst, Srcs: []values.Value{scanSrc, fallback}},
	}, 2, true
}
