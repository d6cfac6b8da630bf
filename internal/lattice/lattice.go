// Package lattice provides the generic lattice building blocks every
// analysis is built from: a flat constant lattice, a reaching-defs set
// lattice, a per-register lattice, a stack-slot lattice, and the composite
// VariableState pairing the two.
//
// This codebase follows the convention of naming the join "meet" and
// starting fixpoint iteration from ⊥ ("no information"); the join moves
// toward ⊤ ("fully unknown"). That convention is preserved consistently
// throughout rather than inverted.
package lattice

import (
	"fmt"

	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// Ordering is the result of a partial comparison; lattices may be partial,
// so Unordered is a legal outcome.
type Ordering int

const (
	Less Ordering = iota
	Equal
	Greater
	Unordered
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "<"
	case Equal:
		return "="
	case Greater:
		return ">"
	default:
		return "||"
	}
}

// LocIdx identifies a statement by the address of its owning instruction
// and its index within that instruction's emitted statement list. It is
// used both as the reaching-defs set element and as the debug location
// threaded through every Meet call.
type LocIdx struct {
	Addr uint64
	Idx  int
}

func (l LocIdx) String() string { return fmt.Sprintf("%#x.%d", l.Addr, l.Idx) }

// Meeter is satisfied by every concrete lattice element. Meet computes the
// join of the receiver and other; loc is carried only for debug logging.
type Meeter[T any] interface {
	Meet(other T, loc LocIdx) T
}

// Flat is the flat constant lattice over a comparable T: {bottom} ∪ T,
// with Meet(a,b) = a if a == b else bottom.
type Flat[T comparable] struct {
	Val   T
	Known bool
}

// BotFlat constructs ⊥.
func BotFlat[T comparable]() Flat[T] { return Flat[T]{} }

// KnownFlat constructs a known value.
func KnownFlat[T comparable](v T) Flat[T] { return Flat[T]{Val: v, Known: true} }

func (f Flat[T]) Meet(other Flat[T], _ LocIdx) Flat[T] {
	if f.Known && other.Known && f.Val == other.Val {
		return f
	}
	return Flat[T]{}
}

func (f Flat[T]) PartialCmp(other Flat[T]) Ordering {
	switch {
	case !f.Known && !other.Known:
		return Equal
	case !f.Known:
		return Less
	case !other.Known:
		return Greater
	case f.Val == other.Val:
		return Equal
	default:
		return Unordered
	}
}

func (f Flat[T]) String() string {
	if !f.Known {
		return "⊥"
	}
	return fmt.Sprintf("%v", f.Val)
}

// ReachSet is the reaching-definitions lattice: a finite set of LocIdx,
// ordered by superset (a larger set carries less information), with
// Meet = union.
type ReachSet struct {
	Defs map[LocIdx]struct{}
}

// Singleton builds a ReachSet containing exactly loc, used to seed
// live-in registers and callee-save stack slots with a fresh unique
// definition site.
func Singleton(loc LocIdx) ReachSet {
	return ReachSet{Defs: map[LocIdx]struct{}{loc: {}}}
}

func (r ReachSet) Meet(other ReachSet, _ LocIdx) ReachSet {
	out := make(map[LocIdx]struct{}, len(r.Defs)+len(other.Defs))
	for k := range r.Defs {
		out[k] = struct{}{}
	}
	for k := range other.Defs {
		out[k] = struct{}{}
	}
	return ReachSet{Defs: out}
}

// PartialCmp orders by superset: r < other means r is a (possibly equal)
// subset of other, i.e. r carries at least as much information.
func (r ReachSet) PartialCmp(other ReachSet) Ordering {
	rSubOther := isSubset(r.Defs, other.Defs)
	otherSubR := isSubset(other.Defs, r.Defs)
	switch {
	case rSubOther && otherSubR:
		return Equal
	case rSubOther:
		return Less
	case otherSubR:
		return Greater
	default:
		return Unordered
	}
}

func isSubset(a, b map[LocIdx]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func (r ReachSet) String() string {
	return fmt.Sprintf("{%d defs}", len(r.Defs))
}

// slot pairs a lattice value with the access width it was stored at;
// a Meet of two slots with mismatched sizes drops to bottom.
type slot[T Meeter[T]] struct {
	size regs.Size
	val  T
	set  bool
}

// RegState is the per-register lattice: a mapping from register id to a
// {size, value} slot, met pointwise with a missing entry treated as ⊥.
type RegState[T Meeter[T]] struct {
	slots [regs.Count]slot[T]
}

func (r RegState[T]) Get(reg regs.R) (T, regs.Size, bool) {
	s := r.slots[reg]
	return s.val, s.size, s.set
}

func (r RegState[T]) Set(reg regs.R, w regs.Size, v T) RegState[T] {
	r.slots[reg] = slot[T]{size: w, val: v, set: true}
	return r
}

func (r RegState[T]) SetBot(reg regs.R) RegState[T] {
	r.slots[reg] = slot[T]{}
	return r
}

func (r RegState[T]) Meet(other RegState[T], loc LocIdx) RegState[T] {
	var out RegState[T]
	for i := 0; i < regs.Count; i++ {
		a, b := r.slots[i], other.slots[i]
		switch {
		case !a.set || !b.set:
			out.slots[i] = slot[T]{}
		case a.size != b.size:
			out.slots[i] = slot[T]{}
		default:
			out.slots[i] = slot[T]{size: a.size, val: a.val.Meet(b.val, loc), set: true}
		}
	}
	return out
}

// OnCall clears the registers the callee is free to clobber, per the
// System-V ABI caller-save set (regs.CallerSaveSysV).
func (r RegState[T]) OnCall() RegState[T] {
	for _, reg := range regs.CallerSaveSysV {
		r = r.SetBot(reg)
	}
	return r
}

// StackState is the stack-slot lattice: a logical RSP-relative origin
// (Offset) plus a mapping from offset to {size, value} slot. Reads and
// writes are biased by Offset so that a `sub rsp, N` / `add rsp, N` pair
// shifts the map's coordinate system without touching stored slots.
type StackState[T Meeter[T]] struct {
	Offset int64
	Slots  map[int64]slot[T]
}

func NewStackState[T Meeter[T]]() StackState[T] {
	return StackState[T]{Slots: map[int64]slot[T]{}}
}

func (s StackState[T]) Get(off int64) (T, regs.Size, bool) {
	v, ok := s.Slots[off+s.Offset]
	return v.val, v.size, ok && v.set
}

func (s StackState[T]) Set(off int64, w regs.Size, v T) StackState[T] {
	out := s.clone()
	out.Slots[off+s.Offset] = slot[T]{size: w, val: v, set: true}
	return out
}

func (s StackState[T]) SetBot(off int64) StackState[T] {
	out := s.clone()
	delete(out.Slots, off+s.Offset)
	return out
}

// AdjustOffset implements the stack lattice's adjust_stack_offset: a
// `Binop(Add|Sub, Rsp, Rsp, imm)` shifts the logical origin by ±imm
// without disturbing any stored slot.
func (s StackState[T]) AdjustOffset(delta int64) StackState[T] {
	out := s.clone()
	out.Offset += delta
	return out
}

func (s StackState[T]) clone() StackState[T] {
	out := StackState[T]{Offset: s.Offset, Slots: make(map[int64]slot[T], len(s.Slots))}
	for k, v := range s.Slots {
		out.Slots[k] = v
	}
	return out
}

func (s StackState[T]) Meet(other StackState[T], loc LocIdx) StackState[T] {
	out := NewStackState[T]()
	out.Offset = s.Offset
	for k, a := range s.Slots {
		b, ok := other.Slots[k-s.Offset+other.Offset]
		if !ok || !a.set || a.size != b.size {
			continue
		}
		out.Slots[k] = slot[T]{size: a.size, val: a.val.Meet(b.val, loc), set: true}
	}
	return out
}

// VariableState is the composite lattice: a register file paired with a
// stack map, met componentwise.
type VariableState[T Meeter[T]] struct {
	Regs  RegState[T]
	Stack StackState[T]
}

func NewVariableState[T Meeter[T]]() VariableState[T] {
	return VariableState[T]{Stack: NewStackState[T]()}
}

func (v VariableState[T]) Meet(other VariableState[T], loc LocIdx) VariableState[T] {
	return VariableState[T]{
		Regs:  v.Regs.Meet(other.Regs, loc),
		Stack: v.Stack.Meet(other.Stack, loc),
	}
}

// Get reads the lattice value stored for a register or stack/bp memory
// access; it reports false for any other addressing shape (heap, RIP
// constants, absolute addresses) since those are not lattice-tracked
// locations.
func (v VariableState[T]) Get(val values.Value) (T, bool) {
	switch x := val.(type) {
	case values.Reg:
		r, _, ok := v.Regs.Get(x.R)
		return r, ok
	default:
		if off, ok := values.StackOffset(val); ok {
			r, _, ok := v.Stack.Get(off)
			return r, ok
		}
	}
	var zero T
	return zero, false
}

func (v VariableState[T]) Set(val values.Value, w regs.Size, t T) VariableState[T] {
	switch x := val.(type) {
	case values.Reg:
		v.Regs = v.Regs.Set(x.R, w, t)
	default:
		if off, ok := values.StackOffset(val); ok {
			v.Stack = v.Stack.Set(off, w, t)
		}
	}
	return v
}

func (v VariableState[T]) SetToBot(val values.Value) VariableState[T] {
	switch x := val.(type) {
	case values.Reg:
		v.Regs = v.Regs.SetBot(x.R)
	default:
		if off, ok := values.StackOffset(val); ok {
			v.Stack = v.Stack.SetBot(off)
		}
	}
	return v
}

func (v VariableState[T]) OnCall() VariableState[T] {
	v.Regs = v.Regs.OnCall()
	return v
}
