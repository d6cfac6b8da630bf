// Package disasm wraps golang.org/x/arch/x86/x86asm into the
// per-instruction decoding contract the lifter and CFG builder consume.
package disasm

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Inst is a decoded instruction anchored at its address, wide enough for
// the lifter and CFG builder to see raw operands, length, and prefixes.
type Inst struct {
	Addr uint64
	x86asm.Inst
}

// Decode decodes a single instruction at addr from the front of code.
func Decode(code []byte, addr uint64) (Inst, error) {
	in, err := x86asm.Decode(code, 64)
	if err != nil {
		return Inst{}, fmt.Errorf("decode at %#x: %w", addr, err)
	}
	if in.Len == 0 || in.Op == 0 {
		return Inst{}, fmt.Errorf("decode at %#x: empty instruction", addr)
	}
	return Inst{Addr: addr, Inst: in}, nil
}

// DecodeRange decodes a straight-line run of instructions starting at
// base, stopping at the first decode failure or when code is exhausted.
func DecodeRange(code []byte, base uint64) ([]Inst, error) {
	var out []Inst
	off := 0
	for off < len(code) {
		in, err := Decode(code[off:], base+uint64(off))
		if err != nil {
			return out, err
		}
		out = append(out, in)
		off += in.Len
	}
	return out, nil
}

// IsUnconditionalJump reports whether inst is a direct or indirect JMP.
func IsUnconditionalJump(inst Inst) bool { return inst.Op == x86asm.JMP }

// IsReturn reports whether inst is a RET/LRET.
func IsReturn(inst Inst) bool { return inst.Op == x86asm.RET || inst.Op == x86asm.LRET }

// IsCall reports whether inst is a CALL.
func IsCall(inst Inst) bool { return inst.Op == x86asm.CALL }

// IsConditionalBranch reports whether inst is one of the Jcc family.
func IsConditionalBranch(inst Inst) bool {
	switch inst.Op {
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JNE,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE,
		x86asm.JO, x86asm.JNO, x86asm.JS, x86asm.JNS, x86asm.JP, x86asm.JNP,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
		return true
	}
	return false
}

// IsUD reports whether inst is a trap (UD1/UD2).
func IsUD(inst Inst) bool { return inst.Op == x86asm.UD1 || inst.Op == x86asm.UD2 }

// DirectBranchTarget extracts the resolved absolute target of a direct
// (Rel-operand) jump/call, or ok=false for an indirect one.
func DirectBranchTarget(inst Inst) (target uint64, ok bool) {
	if inst.Args[0] == nil {
		return 0, false
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		return 0, false
	}
	return uint64(int64(inst.Addr) + int64(inst.Len) + int64(rel)), true
}
