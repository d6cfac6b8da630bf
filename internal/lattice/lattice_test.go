package lattice

import (
	"testing"

	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

var loc0 = LocIdx{Addr: 0x1000, Idx: 0}

func TestFlatMeetIdempotentAndCommutative(t *testing.T) {
	a := KnownFlat(7)
	b := KnownFlat(7)
	c := KnownFlat(9)

	if got := a.Meet(a, loc0); got != a {
		t.Errorf("Meet not idempotent: a.Meet(a) = %v, want %v", got, a)
	}
	if got := a.Meet(b, loc0); got != KnownFlat(7) {
		t.Errorf("Meet(7,7) = %v, want 7", got)
	}
	if got1, got2 := a.Meet(c, loc0), c.Meet(a, loc0); got1 != got2 {
		t.Errorf("Meet not commutative: a.Meet(c)=%v, c.Meet(a)=%v", got1, got2)
	}
	if got := a.Meet(c, loc0); got.Known {
		t.Errorf("Meet(7,9) = %v, want bottom", got)
	}
}

func TestFlatBottomIsIdentityOnlyWhenEqual(t *testing.T) {
	bot := BotFlat[int]()
	known := KnownFlat(3)
	if got := bot.Meet(known, loc0); got.Known {
		t.Errorf("bottom.Meet(known) = %v, want bottom (flat lattice has no identity element)", got)
	}
}

func TestFlatPartialCmp(t *testing.T) {
	bot := BotFlat[int]()
	a := KnownFlat(1)
	b := KnownFlat(2)
	if bot.PartialCmp(bot) != Equal {
		t.Error("bottom should compare Equal to itself")
	}
	if bot.PartialCmp(a) != Less {
		t.Error("bottom should be Less than any known value")
	}
	if a.PartialCmp(bot) != Greater {
		t.Error("a known value should be Greater than bottom")
	}
	if a.PartialCmp(b) != Unordered {
		t.Error("two distinct known values should be Unordered")
	}
}

func TestReachSetMeetIsUnion(t *testing.T) {
	l1 := LocIdx{Addr: 1, Idx: 0}
	l2 := LocIdx{Addr: 2, Idx: 0}
	s1 := Singleton(l1)
	s2 := Singleton(l2)
	merged := s1.Meet(s2, loc0)
	if len(merged.Defs) != 2 {
		t.Fatalf("union of two singletons has %d defs, want 2", len(merged.Defs))
	}
	if _, ok := merged.Defs[l1]; !ok {
		t.Error("union missing l1")
	}
	if _, ok := merged.Defs[l2]; !ok {
		t.Error("union missing l2")
	}
}

func TestReachSetMeetIdempotentAndCommutative(t *testing.T) {
	l1 := LocIdx{Addr: 1, Idx: 0}
	s := Singleton(l1)
	if got := s.Meet(s, loc0); got.PartialCmp(s) != Equal {
		t.Errorf("ReachSet.Meet not idempotent")
	}
	l2 := LocIdx{Addr: 2, Idx: 0}
	s2 := Singleton(l2)
	a := s.Meet(s2, loc0)
	b := s2.Meet(s, loc0)
	if a.PartialCmp(b) != Equal {
		t.Errorf("ReachSet.Meet not commutative")
	}
}

func TestReachSetPartialCmpSubsetOrder(t *testing.T) {
	l1 := LocIdx{Addr: 1, Idx: 0}
	l2 := LocIdx{Addr: 2, Idx: 0}
	small := Singleton(l1)
	big := small.Meet(Singleton(l2), loc0)
	if small.PartialCmp(big) != Less {
		t.Error("a subset should be Less than its superset (carries more information)")
	}
	if big.PartialCmp(small) != Greater {
		t.Error("a superset should be Greater than its subset")
	}
}

func TestRegStateMeetMismatchedSizeIsBottom(t *testing.T) {
	var a, b RegState[Flat[int]]
	a = a.Set(regs.Rax, regs.Size64, KnownFlat(1))
	b = b.Set(regs.Rax, regs.Size32, KnownFlat(1))
	merged := a.Meet(b, loc0)
	if _, _, ok := merged.Get(regs.Rax); ok {
		t.Error("Meet of slots with mismatched widths should drop to unset/bottom")
	}
}

func TestRegStateMeetMissingEntryIsBottom(t *testing.T) {
	var a, b RegState[Flat[int]]
	a = a.Set(regs.Rax, regs.Size64, KnownFlat(1))
	merged := a.Meet(b, loc0)
	if _, _, ok := merged.Get(regs.Rax); ok {
		t.Error("Meet where only one side has a value should drop to unset")
	}
}

func TestRegStateOnCallClearsCallerSaveOnly(t *testing.T) {
	var r RegState[Flat[int]]
	r = r.Set(regs.Rax, regs.Size64, KnownFlat(1))
	r = r.Set(regs.Rbx, regs.Size64, KnownFlat(2))
	r = r.OnCall()
	if _, _, ok := r.Get(regs.Rax); ok {
		t.Error("caller-save Rax should be cleared by OnCall")
	}
	v, _, ok := r.Get(regs.Rbx)
	if !ok || v.Val != 2 {
		t.Error("callee-save Rbx should survive OnCall")
	}
}

func TestStackStateAdjustOffsetPreservesSlots(t *testing.T) {
	s := NewStackState[Flat[int]]()
	s = s.Set(-8, regs.Size64, KnownFlat(42))
	s = s.AdjustOffset(16)
	v, _, ok := s.Get(-8 - 16)
	if !ok || v.Val != 42 {
		t.Error("AdjustOffset should shift the coordinate system without losing the stored slot")
	}
}

func TestVariableStateGetSetStackAndReg(t *testing.T) {
	vs := NewVariableState[Flat[int]]()
	regVal := values.Reg{R: regs.Rax, W: regs.Size64}
	vs = vs.Set(regVal, regs.Size64, KnownFlat(5))
	got, ok := vs.Get(regVal)
	if !ok || got.Val != 5 {
		t.Fatalf("Get(reg) = (%v, %v), want (5, true)", got, ok)
	}

	stackVal := values.Mem{W: regs.Size64, Addr: values.AddrBaseDisp{Base: regs.Rsp, Disp: -8}}
	vs = vs.Set(stackVal, regs.Size64, KnownFlat(9))
	got, ok = vs.Get(stackVal)
	if !ok || got.Val != 9 {
		t.Fatalf("Get(stack) = (%v, %v), want (9, true)", got, ok)
	}
}

func TestVariableStateGetUnknownAddressingIsBottom(t *testing.T) {
	vs := NewVariableState[Flat[int]]()
	heapVal := values.Mem{W: regs.Size32, Addr: values.AddrBaseIndex{Base: regs.R14, Index: regs.Rax}}
	_, ok := vs.Get(heapVal)
	if ok {
		t.Error("a non-register, non-stack addressing shape should not resolve in VariableState")
	}
}
