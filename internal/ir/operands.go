package ir

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/veriwasm-go/veriwasm/internal/disasm"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// convertReg maps an x86asm register operand onto the abstract register
// file. Legacy high-byte registers (AH/CH/DH/BH) collapse onto their
// owning GP register at 8-bit width, which is a conservative
// approximation compiler-generated code does not exercise.
func convertReg(r x86asm.Reg) (regs.R, regs.Size, error) {
	switch r {
	case x86asm.AL, x86asm.AH, x86asm.AX, x86asm.EAX, x86asm.RAX:
		return regs.Rax, regSize(r), nil
	case x86asm.CL, x86asm.CH, x86asm.CX, x86asm.ECX, x86asm.RCX:
		return regs.Rcx, regSize(r), nil
	case x86asm.DL, x86asm.DH, x86asm.DX, x86asm.EDX, x86asm.RDX:
		return regs.Rdx, regSize(r), nil
	case x86asm.BL, x86asm.BH, x86asm.BX, x86asm.EBX, x86asm.RBX:
		return regs.Rbx, regSize(r), nil
	case x86asm.SPB, x86asm.SP, x86asm.ESP, x86asm.RSP:
		return regs.Rsp, regSize(r), nil
	case x86asm.BPB, x86asm.BP, x86asm.EBP, x86asm.RBP:
		return regs.Rbp, regSize(r), nil
	case x86asm.SIB, x86asm.SI, x86asm.ESI, x86asm.RSI:
		return regs.Rsi, regSize(r), nil
	case x86asm.DIB, x86asm.DI, x86asm.EDI, x86asm.RDI:
		return regs.Rdi, regSize(r), nil
	case x86asm.R8B, x86asm.R8W, x86asm.R8L, x86asm.R8:
		return regs.R8, regSize(r), nil
	case x86asm.R9B, x86asm.R9W, x86asm.R9L, x86asm.R9:
		return regs.R9, regSize(r), nil
	case x86asm.R10B, x86asm.R10W, x86asm.R10L, x86asm.R10:
		return regs.R10, regSize(r), nil
	case x86asm.R11B, x86asm.R11W, x86asm.R11L, x86asm.R11:
		return regs.R11, regSize(r), nil
	case x86asm.R12B, x86asm.R12W, x86asm.R12L, x86asm.R12:
		return regs.R12, regSize(r), nil
	case x86asm.R13B, x86asm.R13W, x86asm.R13L, x86asm.R13:
		return regs.R13, regSize(r), nil
	case x86asm.R14B, x86asm.R14W, x86asm.R14L, x86asm.R14:
		return regs.R14, regSize(r), nil
	case x86asm.R15B, x86asm.R15W, x86asm.R15L, x86asm.R15:
		return regs.R15, regSize(r), nil
	case x86asm.X0:
		return regs.Zmm0, regs.Size128, nil
	case x86asm.X1:
		return regs.Zmm1, regs.Size128, nil
	case x86asm.X2:
		return regs.Zmm2, regs.Size128, nil
	case x86asm.X3:
		return regs.Zmm3, regs.Size128, nil
	case x86asm.X4:
		return regs.Zmm4, regs.Size128, nil
	case x86asm.X5:
		return regs.Zmm5, regs.Size128, nil
	case x86asm.X6:
		return regs.Zmm6, regs.Size128, nil
	case x86asm.X7:
		return regs.Zmm7, regs.Size128, nil
	case x86asm.X8:
		return regs.Zmm8, regs.Size128, nil
	case x86asm.X9:
		return regs.Zmm9, regs.Size128, nil
	case x86asm.X10:
		return regs.Zmm10, regs.Size128, nil
	case x86asm.X11:
		return regs.Zmm11, regs.Size128, nil
	case x86asm.X12:
		return regs.Zmm12, regs.Size128, nil
	case x86asm.X13:
		return regs.Zmm13, regs.Size128, nil
	case x86asm.X14:
		return regs.Zmm14, regs.Size128, nil
	case x86asm.X15:
		return regs.Zmm15, regs.Size128, nil
	case x86asm.RIP, x86asm.EIP, x86asm.IP:
		return 0, 0, fmt.Errorf("write to instruction pointer")
	}
	return 0, 0, fmt.Errorf("unsupported register bank: %v", r)
}

func regSize(r x86asm.Reg) regs.Size {
	switch {
	case r >= x86asm.AL && r <= x86asm.R15B:
		return regs.Size8
	case r >= x86asm.AX && r <= x86asm.R15W:
		return regs.Size16
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return regs.Size32
	case r >= x86asm.RAX && r <= x86asm.R15:
		return regs.Size64
	default:
		return regs.Size128
	}
}

// convertMem converts an x86asm.Mem operand into the matching AddrExpr
// shape; scaled addressing with Scale==1 degrades to the plain
// base+index shape, matching original_source's treatment.
func convertMem(m x86asm.Mem) (values.AddrExpr, error) {
	hasBase := m.Base != 0
	hasIndex := m.Index != 0 && m.Scale != 0

	if m.Base == x86asm.RIP {
		return nil, errRIP
	}

	switch {
	case !hasBase && !hasIndex:
		return values.AddrAbs{Imm: m.Disp}, nil
	case hasBase && !hasIndex:
		base, _, err := convertReg(m.Base)
		if err != nil {
			return nil, err
		}
		if m.Disp == 0 {
			return values.AddrBase{Base: base}, nil
		}
		return values.AddrBaseDisp{Base: base, Disp: m.Disp}, nil
	case hasBase && hasIndex:
		base, _, err := convertReg(m.Base)
		if err != nil {
			return nil, err
		}
		index, _, err := convertReg(m.Index)
		if err != nil {
			return nil, err
		}
		switch {
		case m.Scale <= 1 && m.Disp == 0:
			return values.AddrBaseIndex{Base: base, Index: index}, nil
		case m.Scale <= 1:
			return values.AddrBaseIndexDisp{Base: base, Index: index, Disp: m.Disp}, nil
		default:
			return values.AddrScaled{Base: base, Index: index, Scale: int64(m.Scale), Disp: m.Disp}, nil
		}
	default:
		return nil, fmt.Errorf("memory operand with scaled index but no base is prohibited")
	}
}

var errRIP = fmt.Errorf("rip-relative operand")

// convertOperand converts one decoded operand at the given access width.
// memsize applies only to memory operands; register/immediate operands
// carry their own width.
func convertOperand(inst disasm.Inst, idx int, memsize regs.Size) (values.Value, error) {
	arg := inst.Args[idx]
	switch a := arg.(type) {
	case x86asm.Reg:
		r, w, err := convertReg(a)
		if err != nil {
			return nil, err
		}
		return values.Reg{R: r, W: w}, nil
	case x86asm.Imm:
		return values.Imm{Signed: true, W: memsize, I: int64(a)}, nil
	case x86asm.Mem:
		if a.Base == x86asm.RIP {
			target := uint64(int64(inst.Addr) + int64(inst.Len) + int64(a.Disp))
			return values.RIPConst{W: memsize, Target: target}, nil
		}
		addr, err := convertMem(a)
		if err != nil {
			return nil, err
		}
		return values.Mem{W: memsize, Addr: addr}, nil
	case x86asm.Rel:
		target := uint64(int64(inst.Addr) + int64(inst.Len) + int64(a))
		return values.Imm{Signed: true, W: regs.Size64, I: int64(target)}, nil
	default:
		return nil, fmt.Errorf("unhandled operand %#v", arg)
	}
}

// operandSize returns the natural width of operand idx, or 0 if it is a
// memory operand (whose width must come from the other operand / MemBytes).
func operandSize(inst disasm.Inst, idx int) regs.Size {
	switch a := inst.Args[idx].(type) {
	case x86asm.Reg:
		return regSize(a)
	case x86asm.Imm:
		switch {
		case a >= -128 && a <= 127:
			return regs.Size8
		case a >= -32768 && a <= 32767:
			return regs.Size16
		case a >= -(1<<31) && a <= (1<<31)-1:
			return regs.Size32
		default:
			return regs.Size64
		}
	default:
		return 0
	}
}

// memWidth picks the access width for a two-operand instruction where at
// most one operand is memory: the memory operand's width comes from
// inst.MemBytes, otherwise whichever operand has a known width wins.
func memWidth(inst disasm.Inst) (regs.Size, error) {
	if inst.MemBytes != 0 {
		switch inst.MemBytes * 8 {
		case 8, 16, 32, 64, 128, 256, 512:
			return regs.Size(inst.MemBytes * 8), nil
		}
	}
	a, b := operandSize(inst, 0), operandSize(inst, 1)
	if a != 0 {
		return a, nil
	}
	if b != 0 {
		return b, nil
	}
	return 0, fmt.Errorf("cannot determine operand width for %v", inst.Op)
}
