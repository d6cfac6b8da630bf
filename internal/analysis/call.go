package analysis

import (
	"github.com/sirupsen/logrus"

	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/lattice"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

var callLog = logrus.WithField("component", "analysis.call")

// CallKind tags the variant of CallValue currently held; CallValue is this
// codebase's Go rendering of the richest analysis domain, recognizing the
// Lucet guest-table indirect-call sequence one comparison/shift at a time.
type CallKind int

const (
	CallUnknown CallKind = iota
	GuestTableBase
	LucetTablesBase
	FnPtr // Num = function type id
	TableSize
	TypeOf   // Reg = the register this is typeof-of
	Constant // Num64 = the constant value
	PtrOffsetChecked
	PtrOffsetUnchecked // Unchecked = reaching-def set of the shifted register
	CheckedVal
	TypedPtrOffset // Num = the type id compared against
	CheckFlag      // Reg = the register compared to TableSize
	TypeCheckFlag  // Reg = register compared, Num = type id
)

// CallValue is the call-check lattice element. It is hand-written rather
// than built from lattice.Flat because PtrOffsetUnchecked carries a
// ReachSet, which embeds a map and so is not a comparable type.
type CallValue struct {
	Kind  CallKind
	Reg   regs.R
	Num   uint32
	Num64 uint64
	Set   lattice.ReachSet
}

func botCall() CallValue { return CallValue{} }

func (c CallValue) Meet(other CallValue, loc lattice.LocIdx) CallValue {
	if c.Kind != other.Kind {
		return botCall()
	}
	switch c.Kind {
	case CallUnknown:
		return botCall()
	case FnPtr, TypedPtrOffset:
		if c.Num != other.Num {
			return botCall()
		}
		return c
	case TypeOf, CheckFlag:
		if c.Reg != other.Reg {
			return botCall()
		}
		return c
	case TypeCheckFlag:
		if c.Reg != other.Reg || c.Num != other.Num {
			return botCall()
		}
		return c
	case Constant:
		if c.Num64 != other.Num64 {
			return botCall()
		}
		return c
	case PtrOffsetUnchecked:
		if c.Set.PartialCmp(other.Set) != lattice.Equal {
			return botCall()
		}
		return c
	default:
		return c
	}
}

// CallState is the analyzer's lattice state: a variable state over
// CallValue, with a parallel reaching-defs state used purely as read-only
// context for resolving PtrOffsetUnchecked set membership.
type CallState struct {
	Vars  lattice.VariableState[CallValue]
	Reach ReachingDefsState
}

func (s CallState) Meet(other CallState, loc lattice.LocIdx) CallState {
	return CallState{
		Vars:  s.Vars.Meet(other.Vars, loc),
		Reach: s.Reach.Meet(other.Reach, loc),
	}
}

// CallMetadata is the subset of loader-derived binary facts the call
// analyzer needs to recognize Lucet's guest function table constants.
type CallMetadata struct {
	GuestTable0 uint64
	LucetTables uint64
	FuncStarts  map[uint64]bool
}

// CallAnalyzer recognizes the bounds-checked, type-checked indirect-call
// idiom Lucet-compiled guests use to invoke table entries: a table-size
// comparison, an optional type-tag comparison, and a pointer computed by
// shifting a checked index and indexing the guest table.
type CallAnalyzer struct {
	Metadata CallMetadata
}

func (a CallAnalyzer) InitState() CallState {
	return CallState{Vars: lattice.NewVariableState[CallValue](), Reach: ReachingDefsAnalyzer{}.InitState()}
}

func (a CallAnalyzer) AnalyzeBlock(in CallState, block ir.Block) CallState {
	vars := in.Vars
	reach := in.Reach
	for _, as := range block {
		for idx, stmt := range as.Stmts {
			loc := lattice.LocIdx{Addr: as.Addr, Idx: idx}
			callLog.WithField("loc", loc).Debug("call analyzer stmt")
			vars = a.exec(vars, reach, stmt, loc)
			reach = Transfer(reach, stmt, loc)
		}
	}
	return CallState{Vars: vars, Reach: reach}
}

// Step applies one statement's transfer function to both the call-check
// state and its shadow reaching-defs state; the call checker uses it to
// recompute precise per-instruction state for indirect-call validation.
func (a CallAnalyzer) Step(in CallState, stmt values.Statement, loc lattice.LocIdx) CallState {
	vars := a.exec(in.Vars, in.Reach, stmt, loc)
	reach := Transfer(in.Reach, stmt, loc)
	return CallState{Vars: vars, Reach: reach}
}

func (a CallAnalyzer) exec(vars lattice.VariableState[CallValue], reach ReachingDefsState, stmt values.Statement, loc lattice.LocIdx) lattice.VariableState[CallValue] {
	switch s := stmt.(type) {
	case values.Unop:
		return vars.Set(s.Dst, s.Dst.Width(), a.eval(vars, s.Src))
	case values.Binop:
		return a.execBinop(vars, reach, s, loc)
	case values.Clear:
		return vars.SetToBot(s.Dst)
	default:
		return vars
	}
}

func (a CallAnalyzer) execBinop(vars lattice.VariableState[CallValue], reach ReachingDefsState, s values.Binop, loc lattice.LocIdx) lattice.VariableState[CallValue] {
	if s.Op == values.Cmp {
		r1, ok1 := s.Src1.(values.Reg)
		if ok1 {
			if r2, ok2 := s.Src2.(values.Reg); ok2 {
				v1, _ := vars.Get(r1)
				v2, _ := vars.Get(r2)
				if v2.Kind == TableSize {
					vars = vars.Set(values.Reg{R: regs.Zf, W: regs.Size8}, regs.Size8, CallValue{Kind: CheckFlag, Reg: r1.R})
				}
				if v1.Kind == TableSize {
					vars = vars.Set(values.Reg{R: regs.Zf, W: regs.Size8}, regs.Size8, CallValue{Kind: CheckFlag, Reg: r2.R})
				}
				if v1.Kind == TypeOf && v2.Kind == Constant {
					vars = vars.Set(values.Reg{R: regs.Zf, W: regs.Size8}, regs.Size8, CallValue{Kind: TypeCheckFlag, Reg: v1.Reg, Num: uint32(v2.Num64)})
				}
				return vars
			}
			if imm, ok2 := s.Src2.(values.Imm); ok2 {
				v1, _ := vars.Get(r1)
				if v1.Kind == TypeOf {
					vars = vars.Set(values.Reg{R: regs.Zf, W: regs.Size8}, regs.Size8, CallValue{Kind: TypeCheckFlag, Reg: v1.Reg, Num: uint32(imm.I)})
				}
				return vars
			}
		}
		return vars
	}
	if s.Op == values.Test {
		return vars
	}
	if s.Op == values.Shl {
		if r1, ok := s.Src1.(values.Reg); ok {
			if imm, ok2 := s.Src2.(values.Imm); ok2 && imm.I == 4 {
				v1, _ := vars.Get(r1)
				if v1.Kind == CheckedVal {
					return vars.Set(s.Dst, s.Dst.Width(), CallValue{Kind: PtrOffsetChecked})
				}
				def, _ := reach.Get(r1)
				return vars.Set(s.Dst, s.Dst.Width(), CallValue{Kind: PtrOffsetUnchecked, Set: def})
			}
		}
	}
	return vars.Set(s.Dst, s.Dst.Width(), botCall())
}

func (a CallAnalyzer) eval(vars lattice.VariableState[CallValue], val values.Value) CallValue {
	switch v := val.(type) {
	case values.Reg:
		c, _ := vars.Get(v)
		return c
	case values.Imm:
		u := uint64(v.I)
		switch {
		case u == a.Metadata.GuestTable0:
			return CallValue{Kind: GuestTableBase}
		case u == a.Metadata.LucetTables:
			return CallValue{Kind: LucetTablesBase}
		case a.Metadata.FuncStarts[u]:
			return CallValue{Kind: FnPtr, Num: 1337}
		default:
			return CallValue{Kind: Constant, Num64: u}
		}
	case values.RIPConst:
		return CallValue{Kind: FnPtr, Num: 1337}
	case values.Mem:
		if isTableSize(vars, v) {
			return CallValue{Kind: TableSize}
		}
		if ty, ok := isFnPtr(vars, v); ok {
			return CallValue{Kind: FnPtr, Num: ty}
		}
		if r, ok := isTypeOf(vars, v); ok {
			return CallValue{Kind: TypeOf, Reg: r}
		}
		if off, ok := values.StackOffset(v); ok {
			c, _, _ := vars.Stack.Get(off)
			return c
		}
		return botCall()
	default:
		return botCall()
	}
}

// isTableSize recognizes mem[reg+8] where reg holds LucetTablesBase: the
// table's entry count, stored immediately after its base pointer.
func isTableSize(vars lattice.VariableState[CallValue], m values.Mem) bool {
	bd, ok := m.Addr.(values.AddrBaseDisp)
	if !ok || bd.Disp != 8 {
		return false
	}
	v, _, _ := vars.Regs.Get(bd.Base)
	return v.Kind == LucetTablesBase
}

// isFnPtr recognizes mem[guestTableBase + checkedIndex*1 + 8] (in either
// base/index order): the function pointer slot of a verified table entry.
func isFnPtr(vars lattice.VariableState[CallValue], m values.Mem) (uint32, bool) {
	bid, ok := m.Addr.(values.AddrBaseIndexDisp)
	if !ok || bid.Disp != 8 {
		return 0, false
	}
	base, _, _ := vars.Regs.Get(bid.Base)
	idx, _, _ := vars.Regs.Get(bid.Index)
	if base.Kind == GuestTableBase && idx.Kind == TypedPtrOffset {
		return idx.Num, true
	}
	if idx.Kind == GuestTableBase && base.Kind == TypedPtrOffset {
		return base.Num, true
	}
	return 0, false
}

// isTypeOf recognizes mem[guestTableBase + checkedIndex] (no displacement):
// the type-tag slot of a table entry whose index has only been bounds
// checked, not yet type checked.
func isTypeOf(vars lattice.VariableState[CallValue], m values.Mem) (regs.R, bool) {
	bi, ok := m.Addr.(values.AddrBaseIndex)
	if !ok {
		return 0, false
	}
	base, _, _ := vars.Regs.Get(bi.Base)
	idx, _, _ := vars.Regs.Get(bi.Index)
	if base.Kind == GuestTableBase && idx.Kind == PtrOffsetChecked {
		return bi.Index, true
	}
	if idx.Kind == GuestTableBase && base.Kind == PtrOffsetChecked {
		return bi.Base, true
	}
	return 0, false
}

// Eval exposes the call-check value evaluator so the call checker can
// classify an operand against the exact pre-statement state it
// reconstructs by replaying Step one statement at a time.
func (a CallAnalyzer) Eval(vars lattice.VariableState[CallValue], val values.Value) CallValue {
	return a.eval(vars, val)
}

// GuestTableFnSlot reports whether m has the shape `[GuestTableBase + X +
// 8]` (in either base/index order) that loads a guest table entry's
// function pointer, returning the lattice value of X. The call checker
// rejects this load unless X is a verified PtrOffsetChecked-derived,
// type-checked offset (TypedPtrOffset) — i.e. unless isFnPtr would also
// have recognized it.
func GuestTableFnSlot(vars lattice.VariableState[CallValue], m values.Mem) (other CallValue, ok bool) {
	bid, isBid := m.Addr.(values.AddrBaseIndexDisp)
	if !isBid || bid.Disp != 8 {
		return CallValue{}, false
	}
	base, _, _ := vars.Regs.Get(bid.Base)
	idx, _, _ := vars.Regs.Get(bid.Index)
	if base.Kind == GuestTableBase {
		return idx, true
	}
	if idx.Kind == GuestTableBase {
		return base, true
	}
	return CallValue{}, false
}

func (a CallAnalyzer) ProcessBranch(irmap ir.Map, out CallState, succs []uint64, addr uint64) map[uint64]CallState {
	if len(succs) != 2 {
		m := make(map[uint64]CallState, len(succs))
		for _, s := range succs {
			m[s] = out
		}
		return m
	}
	block := irmap[addr]
	var brOp string
	if len(block) > 0 {
		last := block[len(block)-1]
		if len(last.Stmts) > 0 {
			if br, ok := last.Stmts[len(last.Stmts)-1].(values.Branch); ok {
				brOp = br.Opcode
			}
		}
	}
	isUnsignedCmp, isJE, flip := false, false, false
	switch brOp {
	case "JB":
		isUnsignedCmp = true
	case "JAE":
		isUnsignedCmp, flip = true, true
	case "JE", "JZ":
		isJE = true
	case "JNE", "JNZ":
		isJE, flip = true, true
	}

	notTaken := out
	taken := out
	zf, _ := out.Vars.Get(values.Reg{R: regs.Zf, W: regs.Size8})

	if isUnsignedCmp {
		if zf.Kind == CheckFlag {
			reg := zf.Reg
			checkedVal := CallValue{Kind: CheckedVal}
			taken.Vars = taken.Vars.Set(values.Reg{R: reg, W: regs.Size64}, regs.Size64, checkedVal)

			checkedDefs, _, _ := out.Reach.Regs.Get(reg)
			for r := 0; r < regs.Count; r++ {
				def, _, ok := out.Reach.Regs.Get(regs.R(r))
				if ok && def.PartialCmp(checkedDefs) == lattice.Equal {
					taken.Vars = taken.Vars.Set(values.Reg{R: regs.R(r), W: regs.Size64}, regs.Size64, checkedVal)
				}
			}
			checkedPtr := CallValue{Kind: PtrOffsetChecked}
			for r := 0; r < regs.Count; r++ {
				v, _, ok := taken.Vars.Regs.Get(regs.R(r))
				if ok && v.Kind == PtrOffsetUnchecked && v.Set.PartialCmp(checkedDefs) == lattice.Equal {
					taken.Vars = taken.Vars.Set(values.Reg{R: regs.R(r), W: regs.Size64}, regs.Size64, checkedPtr)
				}
			}
		}
	} else if isJE {
		if zf.Kind == TypeCheckFlag {
			taken.Vars = taken.Vars.Set(values.Reg{R: zf.Reg, W: regs.Size64}, regs.Size64, CallValue{Kind: TypedPtrOffset, Num: zf.Num})
		}
	}
	taken.Vars = taken.Vars.Set(values.Reg{R: regs.Zf, W: regs.Size8}, regs.Size8, botCall())
	notTaken.Vars = notTaken.Vars.Set(values.Reg{R: regs.Zf, W: regs.Size8}, regs.Size8, botCall())

	if flip {
		return map[uint64]CallState{succs[0]: taken, succs[1]: notTaken}
	}
	return map[uint64]CallState{succs[0]: notTaken, succs[1]: taken}
}
