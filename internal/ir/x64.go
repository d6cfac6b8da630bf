package ir

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/veriwasm-go/veriwasm/internal/disasm"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

func unop(op values.UnopKind, inst disasm.Inst) (values.Statement, error) {
	w, err := memWidth(inst)
	if err != nil {
		return nil, err
	}
	dst, err := convertOperand(inst, 0, w)
	if err != nil {
		return nil, err
	}
	src, err := convertOperand(inst, 1, w)
	if err != nil {
		return nil, err
	}
	return values.Unop{Op: op, Dst: dst, Src: src}, nil
}

func unopWidth(op values.UnopKind, inst disasm.Inst, w regs.Size) (values.Statement, error) {
	dst, err := convertOperand(inst, 0, w)
	if err != nil {
		return nil, err
	}
	src, err := convertOperand(inst, 1, w)
	if err != nil {
		return nil, err
	}
	return values.Unop{Op: op, Dst: dst, Src: src}, nil
}

func binop(op values.BinopKind, inst disasm.Inst) (values.Statement, error) {
	w, err := memWidth(inst)
	if err != nil {
		return nil, err
	}
	// two-operand form: dst doubles as src1.
	dst, err := convertOperand(inst, 0, w)
	if err != nil {
		return nil, err
	}
	src2, err := convertOperand(inst, 1, w)
	if err != nil {
		return nil, err
	}
	return values.Binop{Op: op, Dst: dst, Src1: dst, Src2: src2}, nil
}

func flagCompare(op values.BinopKind, inst disasm.Inst, flags ...regs.R) ([]values.Statement, error) {
	w, err := memWidth(inst)
	if err != nil {
		return nil, err
	}
	a, err := convertOperand(inst, 0, w)
	if err != nil {
		return nil, err
	}
	b, err := convertOperand(inst, 1, w)
	if err != nil {
		return nil, err
	}
	var out []values.Statement
	for _, f := range flags {
		out = append(out, values.Binop{Op: op, Dst: values.Reg{R: f, W: regs.Size8}, Src1: a, Src2: b})
	}
	return out, nil
}

func sources(inst disasm.Inst) []values.Value {
	var out []values.Value
	for i, arg := range inst.Args {
		if arg == nil {
			break
		}
		if _, ok := arg.(x86asm.Reg); ok {
			if v, err := convertOperand(inst, i, operandSize(inst, i)); err == nil {
				out = append(out, v)
			}
		}
	}
	return out
}

func genericClear(inst disasm.Inst) ([]values.Statement, error) {
	w, err := memWidth(inst)
	if err != nil {
		w = regs.Size64
	}
	dst, err := convertOperand(inst, 0, w)
	if err != nil {
		return nil, err
	}
	return []values.Statement{values.Clear{Dst: dst, Srcs: sources(inst)}}, nil
}

func branch(inst disasm.Inst) (values.Statement, error) {
	target, err := convertOperand(inst, 0, regs.Size64)
	if err != nil {
		return nil, err
	}
	return values.Branch{Opcode: inst.Op.String(), Target: target}, nil
}

func setFromFlags(inst disasm.Inst, flags ...regs.R) (values.Statement, error) {
	dst, err := convertOperand(inst, 0, regs.Size8)
	if err != nil {
		return nil, err
	}
	srcs := make([]values.Value, len(flags))
	for i, f := range flags {
		srcs[i] = values.Reg{R: f, W: regs.Size8}
	}
	return values.Clear{Dst: dst, Srcs: srcs}, nil
}

func lea(inst disasm.Inst) ([]values.Statement, error) {
	mem, ok := inst.Args[1].(x86asm.Mem)
	if ok && mem.Base == x86asm.RIP {
		target := uint64(int64(inst.Addr) + int64(inst.Len) + int64(mem.Disp))
		dst, err := convertOperand(inst, 0, operandSize(inst, 0))
		if err != nil {
			return nil, err
		}
		return []values.Statement{values.Unop{
			Op:  values.Mov,
			Dst: dst,
			Src: values.Imm{Signed: true, W: regs.Size64, I: int64(target)},
		}}, nil
	}
	if ok && mem.Index == 0 && mem.Base == 0 {
		// lea reg, [imm] -- a plain constant materialization.
		stmt, err := unop(values.Mov, inst)
		if err != nil {
			return nil, err
		}
		return []values.Statement{stmt}, nil
	}
	return genericClear(inst)
}

// Lift translates one decoded x86-64 instruction into its IR statements.
// In strict mode an opcode with no case below is an error; otherwise it
// degrades to a conservative Clear of its destination.
func Lift(inst disasm.Inst, strict bool) ([]values.Statement, error) {
	switch inst.Op {
	case x86asm.MOV, x86asm.MOVZX:
		s, err := unop(values.Mov, inst)
		return one(s, err)
	case x86asm.MOVQ:
		s, err := unopWidth(values.Mov, inst, regs.Size64)
		return one(s, err)
	case x86asm.MOVD:
		s, err := unopWidth(values.Mov, inst, regs.Size32)
		return one(s, err)
	case x86asm.MOVSX, x86asm.MOVSXD:
		s, err := unop(values.Movsx, inst)
		return one(s, err)
	case x86asm.LEA:
		return lea(inst)
	case x86asm.TEST:
		return flagCompare(values.Test, inst, regs.Zf, regs.Cf)
	case x86asm.CMP:
		return flagCompare(values.Cmp, inst, regs.Zf, regs.Cf, regs.Pf, regs.Sf, regs.Of)
	case x86asm.AND:
		s, err := binop(values.And, inst)
		if err != nil {
			return nil, err
		}
		return []values.Statement{s, values.Clear{Dst: values.Reg{R: regs.Zf, W: regs.Size8}, Srcs: sources(inst)}}, nil
	case x86asm.ADD:
		s, err := binop(values.Add, inst)
		if err != nil {
			return nil, err
		}
		return []values.Statement{s, values.Clear{Dst: values.Reg{R: regs.Zf, W: regs.Size8}, Srcs: sources(inst)}}, nil
	case x86asm.SUB:
		s, err := binop(values.Sub, inst)
		if err != nil {
			return nil, err
		}
		return []values.Statement{s, values.Clear{Dst: values.Reg{R: regs.Zf, W: regs.Size8}, Srcs: sources(inst)}}, nil
	case x86asm.SHL:
		s, err := binop(values.Shl, inst)
		if err != nil {
			return nil, err
		}
		return []values.Statement{s, values.Clear{Dst: values.Reg{R: regs.Zf, W: regs.Size8}, Srcs: sources(inst)}}, nil
	case x86asm.ROL, x86asm.ROR:
		s, err := binop(values.Rol, inst)
		if err != nil {
			return nil, err
		}
		return []values.Statement{s, values.Clear{Dst: values.Reg{R: regs.Zf, W: regs.Size8}, Srcs: sources(inst)}}, nil
	case x86asm.UD2, x86asm.UD1:
		return []values.Statement{values.Undefined{}}, nil
	case x86asm.RET, x86asm.LRET:
		return []values.Statement{values.Ret{}}, nil
	case x86asm.JMP:
		s, err := branch(inst)
		return one(s, err)
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JNE,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE,
		x86asm.JO, x86asm.JNO, x86asm.JS, x86asm.JNS, x86asm.JP, x86asm.JNP:
		s, err := branch(inst)
		return one(s, err)
	case x86asm.CALL:
		target, err := convertOperand(inst, 0, regs.Size64)
		if err != nil {
			return nil, err
		}
		return []values.Statement{values.Call{Target: target}}, nil
	case x86asm.PUSH:
		return pushStmts(inst)
	case x86asm.POP:
		return popStmts(inst)
	case x86asm.NOP:
		return nil, nil
	case x86asm.XOR, x86asm.XORPS, x86asm.XORPD:
		if len(inst.Args) >= 2 && inst.Args[0] != nil && inst.Args[1] != nil && inst.Args[0] == inst.Args[1] {
			dst, err := convertOperand(inst, 0, regs.Size64)
			if err != nil {
				return nil, err
			}
			return []values.Statement{
				values.Unop{Op: values.Mov, Dst: dst, Src: values.Imm{Signed: true, W: regs.Size64, I: 0}},
				values.Clear{Dst: values.Reg{R: regs.Zf, W: regs.Size8}, Srcs: sources(inst)},
			}, nil
		}
		return genericClear(inst)
	case x86asm.CDQ, x86asm.CDQE:
		return []values.Statement{
			values.Clear{Dst: values.Reg{R: regs.Rax, W: regs.Size64}},
			values.Clear{Dst: values.Reg{R: regs.Rdx, W: regs.Size64}},
		}, nil
	case x86asm.SETG, x86asm.SETLE:
		s, err := setFromFlags(inst, regs.Zf, regs.Sf, regs.Of)
		return one(s, err)
	case x86asm.SETO, x86asm.SETNO:
		s, err := setFromFlags(inst, regs.Of)
		return one(s, err)
	case x86asm.SETS, x86asm.SETNS:
		s, err := setFromFlags(inst, regs.Sf)
		return one(s, err)
	case x86asm.SETGE, x86asm.SETL:
		s, err := setFromFlags(inst, regs.Sf, regs.Of)
		return one(s, err)
	case x86asm.SETNE, x86asm.SETE:
		s, err := setFromFlags(inst, regs.Zf)
		return one(s, err)
	case x86asm.SETAE, x86asm.SETB:
		s, err := setFromFlags(inst, regs.Cf)
		return one(s, err)
	case x86asm.SETA, x86asm.SETBE:
		s, err := setFromFlags(inst, regs.Cf, regs.Zf)
		return one(s, err)
	case x86asm.SETP, x86asm.SETNP:
		s, err := setFromFlags(inst, regs.Pf)
		return one(s, err)
	case x86asm.BSF, x86asm.BSR, x86asm.LZCNT, x86asm.TZCNT:
		return bitScan(inst)
	default:
		if strict {
			return nil, unsupportedOpcode{op: inst.Op.String()}
		}
		return genericClear(inst)
	}
}

func one(s values.Statement, err error) ([]values.Statement, error) {
	if err != nil {
		return nil, err
	}
	return []values.Statement{s}, nil
}

func pushStmts(inst disasm.Inst) ([]values.Statement, error) {
	src, err := convertOperand(inst, 0, regs.Size64)
	if err != nil {
		return nil, err
	}
	return []values.Statement{
		values.Binop{Op: values.Sub, Dst: values.Reg{R: regs.Rsp, W: regs.Size64},
			Src1: values.Reg{R: regs.Rsp, W: regs.Size64}, Src2: values.Imm{Signed: true, W: regs.Size64, I: 8}},
		values.Unop{Op: values.Mov,
			Dst: values.Mem{W: regs.Size64, Addr: values.AddrBase{Base: regs.Rsp}},
			Src: src},
	}, nil
}

func popStmts(inst disasm.Inst) ([]values.Statement, error) {
	dst, err := convertOperand(inst, 0, regs.Size64)
	if err != nil {
		return nil, err
	}
	return []values.Statement{
		values.Unop{Op: values.Mov, Dst: dst,
			Src: values.Mem{W: regs.Size64, Addr: values.AddrBase{Base: regs.Rsp}}},
		values.Binop{Op: values.Add, Dst: values.Reg{R: regs.Rsp, W: regs.Size64},
			Src1: values.Reg{R: regs.Rsp, W: regs.Size64}, Src2: values.Imm{Signed: true, W: regs.Size64, I: 8}},
	}, nil
}

func bitScan(inst disasm.Inst) ([]values.Statement, error) {
	w1 := operandSize(inst, 1)
	if w1 == 0 {
		return nil, fmt.Errorf("%v: memory source unsupported", inst.Op)
	}
	src, err := convertOperand(inst, 1, w1)
	if err != nil {
		return nil, err
	}
	dst, err := convertOperand(inst, 0, operandSize(inst, 0))
	if err != nil {
		return nil, err
	}
	return []values.Statement{
		values.Clear{Dst: values.Reg{R: regs.Zf, W: regs.Size8}, Srcs: []values.Value{src}},
		values.Clear{Dst: dst, Srcs: []values.Value{src}},
	}, nil
}
