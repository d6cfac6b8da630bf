// Package values defines the architecture-neutral value and statement IR
// that the lifter (internal/ir) produces and every analysis/checker
// consumes. See spec.md §3 "Value/Statement IR".
package values

import (
	"fmt"

	"github.com/veriwasm-go/veriwasm/internal/regs"
)

// Value is one of Imm, Reg, Mem, or RIPConst.
type Value interface {
	fmt.Stringer
	Width() regs.Size
	isValue()
}

// Imm is an immediate operand.
type Imm struct {
	Signed bool
	W      regs.Size
	I      int64
}

func (Imm) isValue()           {}
func (v Imm) Width() regs.Size { return v.W }
func (v Imm) String() string {
	if v.Signed {
		return fmt.Sprintf("$%d", v.I)
	}
	return fmt.Sprintf("$0x%x", uint64(v.I))
}

// Reg is a register operand.
type Reg struct {
	R regs.R
	W regs.Size
}

func (Reg) isValue()           {}
func (v Reg) Width() regs.Size { return v.W }
func (v Reg) String() string   { return v.R.String() }

// Mem is a memory operand: an access width plus an address expression.
type Mem struct {
	W    regs.Size
	Addr AddrExpr
}

func (Mem) isValue()           {}
func (v Mem) Width() regs.Size { return v.W }
func (v Mem) String() string   { return fmt.Sprintf("[%s]", v.Addr) }

// RIPConst is a RIP-relative constant already materialized to an absolute
// address by the lifter (pc + instruction length + displacement).
type RIPConst struct {
	W      regs.Size
	Target uint64
}

func (RIPConst) isValue()           {}
func (v RIPConst) Width() regs.Size { return v.W }
func (v RIPConst) String() string   { return fmt.Sprintf("rip(0x%x)", v.Target) }

// AddrExpr is one of the six address-expression shapes in spec.md §3.
type AddrExpr interface {
	fmt.Stringer
	isAddr()
}

// AddrBase is `[R]`.
type AddrBase struct{ Base regs.R }

func (AddrBase) isAddr()          {}
func (a AddrBase) String() string { return a.Base.String() }

// AddrAbs is `[imm]`.
type AddrAbs struct{ Imm int64 }

func (AddrAbs) isAddr()          {}
func (a AddrAbs) String() string { return fmt.Sprintf("0x%x", uint64(a.Imm)) }

// AddrBaseIndex is `[R+R]`.
type AddrBaseIndex struct{ Base, Index regs.R }

func (AddrBaseIndex) isAddr() {}
func (a AddrBaseIndex) String() string {
	return fmt.Sprintf("%s+%s", a.Base, a.Index)
}

// AddrBaseDisp is `[R+imm]`.
type AddrBaseDisp struct {
	Base regs.R
	Disp int64
}

func (AddrBaseDisp) isAddr() {}
func (a AddrBaseDisp) String() string {
	return fmt.Sprintf("%s%+d", a.Base, a.Disp)
}

// AddrBaseIndexDisp is `[R+R+imm]`.
type AddrBaseIndexDisp struct {
	Base, Index regs.R
	Disp        int64
}

func (AddrBaseIndexDisp) isAddr() {}
func (a AddrBaseIndexDisp) String() string {
	return fmt.Sprintf("%s+%s%+d", a.Base, a.Index, a.Disp)
}

// AddrScaled is `[R + R*imm]`.
type AddrScaled struct {
	Base, Index regs.R
	Scale       int64
	Disp        int64
}

func (AddrScaled) isAddr() {}
func (a AddrScaled) String() string {
	return fmt.Sprintf("%s+%s*%d%+d", a.Base, a.Index, a.Scale, a.Disp)
}

// UnopKind enumerates the two allowed unary opcodes.
type UnopKind int

const (
	Mov UnopKind = iota
	Movsx
)

func (k UnopKind) String() string {
	if k == Movsx {
		return "movsx"
	}
	return "mov"
}

// BinopKind enumerates the seven allowed binary opcodes.
type BinopKind int

const (
	Add BinopKind = iota
	Sub
	And
	Shl
	Rol
	Cmp
	Test
)

var binopNames = [...]string{"add", "sub", "and", "shl", "rol", "cmp", "test"}

func (k BinopKind) String() string {
	if int(k) < 0 || int(k) >= len(binopNames) {
		return "?"
	}
	return binopNames[k]
}

// Statement is one of Clear, Unop, Binop, Branch, Call, Ret, ProbeStack, or
// Undefined. See spec.md §3.
type Statement interface {
	fmt.Stringer
	isStatement()
}

// Clear is an abstract havoc: Dst becomes an unspecified function of Srcs.
type Clear struct {
	Dst  Value
	Srcs []Value
}

func (Clear) isStatement()     {}
func (s Clear) String() string { return fmt.Sprintf("clear %s <- f(%v)", s.Dst, s.Srcs) }

type Unop struct {
	Op  UnopKind
	Dst Value
	Src Value
}

func (Unop) isStatement()     {}
func (s Unop) String() string { return fmt.Sprintf("%s %s, %s", s.Op, s.Dst, s.Src) }

type Binop struct {
	Op         BinopKind
	Dst        Value
	Src1, Src2 Value
}

func (Binop) isStatement() {}
func (s Binop) String() string {
	return fmt.Sprintf("%s %s, %s, %s", s.Op, s.Dst, s.Src1, s.Src2)
}

// Branch carries the raw opcode mnemonic (e.g. "JB", "JZ") so checkers can
// disambiguate signedness and polarity; see spec.md DESIGN NOTES.
type Branch struct {
	Opcode string
	Target Value
}

func (Branch) isStatement()     {}
func (s Branch) String() string { return fmt.Sprintf("%s %s", s.Opcode, s.Target) }

type Call struct{ Target Value }

func (Call) isStatement()     {}
func (s Call) String() string { return fmt.Sprintf("call %s", s.Target) }

type Ret struct{}

func (Ret) isStatement()   {}
func (Ret) String() string { return "ret" }

// ProbeStack records the probed window size of the Lucet probestack idiom.
type ProbeStack struct{ Size uint64 }

func (ProbeStack) isStatement()     {}
func (s ProbeStack) String() string { return fmt.Sprintf("probestack %d", s.Size) }

type Undefined struct{}

func (Undefined) isStatement()   {}
func (Undefined) String() string { return "undefined" }

// IsStackAccess reports whether v is a memory operand addressed relative
// to Rsp as `[rsp]` or `[rsp+imm]` (no indexed forms allowed).
func IsStackAccess(v Value) bool {
	m, ok := v.(Mem)
	if !ok {
		return false
	}
	switch a := m.Addr.(type) {
	case AddrBase:
		return a.Base == regs.Rsp
	case AddrBaseDisp:
		return a.Base == regs.Rsp
	}
	return false
}

// IsBPAccess reports whether v is a memory operand addressed relative to
// Rbp in either of the one/two-argument forms (no indexed forms allowed).
func IsBPAccess(v Value) bool {
	m, ok := v.(Mem)
	if !ok {
		return false
	}
	switch a := m.Addr.(type) {
	case AddrBase:
		return a.Base == regs.Rbp
	case AddrBaseDisp:
		return a.Base == regs.Rbp
	}
	return false
}

// StackOffset extracts the constant displacement of a stack/bp access,
// defaulting to 0 for the bare `[R]` form. It reports false for any other
// operand, including `[R]`/`[R+imm]` whose base is neither Rsp nor Rbp.
func StackOffset(v Value) (int64, bool) {
	if !IsStackAccess(v) && !IsBPAccess(v) {
		return 0, false
	}
	switch a := v.(Mem).Addr.(type) {
	case AddrBase:
		return 0, true
	case AddrBaseDisp:
		return a.Disp, true
	}
	return 0, false
}
