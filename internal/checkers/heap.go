package checkers

import (
	"github.com/veriwasm-go/veriwasm/internal/analysis"
	"github.com/veriwasm-go/veriwasm/internal/cfg"
	"github.com/veriwasm-go/veriwasm/internal/dataflow"
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/regs"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// heapDispLow/heapDispHigh bound the displacement spec.md §4.6 allows on a
// `[HeapBase + Bounded4GB]` access: the guard-page region extends a little
// below the base (small negative displacements from a decremented index)
// and up to a full 4GB bounded offset above it.
const (
	heapDispLow      = -0x1000
	heapDispHigh     = 0xffffffff
	globalsDispHigh  = 4096
	jumpTableScale   = 4
	guestTableTagOff = 0
	guestTableFnOff  = 8
)

// CheckHeap runs the heap checker (spec.md §4.6): every memory operand
// must classify as a frame access, a stack access, a RIP-constant load, a
// heap access, heap metadata access, or a jump-table access; and every
// Call must have Rdi holding the heap base.
func CheckHeap(g *cfg.Graph, irmap ir.Map, md analysis.CallMetadata) error {
	an := analysis.HeapAnalyzer{Metadata: md}
	entry, err := dataflow.RunWorklist(g, irmap, an)
	if err != nil {
		return err
	}
	for addr, block := range irmap {
		st, ok := entry[addr]
		if !ok {
			continue
		}
		for _, as := range block {
			for _, stmt := range as.Stmts {
				if err := checkHeapStatement(an, st, stmt, as.Addr); err != nil {
					return err
				}
				st = an.Step(st, stmt)
			}
		}
	}
	return nil
}

func checkHeapStatement(an analysis.HeapAnalyzer, st analysis.HeapState, stmt values.Statement, addr uint64) error {
	check := func(v values.Value) error {
		m, ok := v.(values.Mem)
		if !ok {
			if _, ok := v.(values.RIPConst); ok {
				return nil
			}
			return nil
		}
		if !classifyHeapAccess(st, m) {
			return reject("heap", addr, stmt, "memory operand does not classify as frame/stack/heap/metadata access")
		}
		return nil
	}
	switch s := stmt.(type) {
	case values.Unop:
		if err := check(s.Dst); err != nil {
			return err
		}
		return check(s.Src)
	case values.Binop:
		if err := check(s.Dst); err != nil {
			return err
		}
		if err := check(s.Src1); err != nil {
			return err
		}
		return check(s.Src2)
	case values.Clear:
		if err := check(s.Dst); err != nil {
			return err
		}
		for _, src := range s.Srcs {
			if err := check(src); err != nil {
				return err
			}
		}
		return nil
	case values.Call:
		rdi, _ := st.Get(values.Reg{R: regs.Rdi, W: regs.Size64})
		if !rdi.Known || rdi.Val != analysis.HeapBase {
			return reject("heap", addr, stmt, "call without heap base pinned in rdi")
		}
		return nil
	default:
		return nil
	}
}

// classifyHeapAccess implements the five memory-operand classifiers of
// spec.md §4.6; the memory operand is accepted if any one of them matches.
// RIP-relative constants are not Mem operands and never reach it.
func classifyHeapAccess(st analysis.HeapState, m values.Mem) bool {
	if isFrameAccess(m) {
		return true
	}
	if values.IsStackAccess(m) {
		return true
	}
	if isHeapAccess(st, m) {
		return true
	}
	if isHeapMetadataAccess(st, m) {
		return true
	}
	if isJumpTableAccess(m) {
		return true
	}
	return false
}

// isFrameAccess recognizes `[Rbp]` or `[Rbp + imm]` only: no indexed form
// is a legal frame access.
func isFrameAccess(m values.Mem) bool {
	switch a := m.Addr.(type) {
	case values.AddrBase:
		return a.Base == regs.Rbp
	case values.AddrBaseDisp:
		return a.Base == regs.Rbp
	}
	return false
}

func isHeapAccess(st analysis.HeapState, m values.Mem) bool {
	get := func(r regs.R) analysis.HeapKind {
		v, _, _ := st.Regs.Get(r)
		if !v.Known {
			return analysis.HeapUnknown
		}
		return v.Val
	}
	switch a := m.Addr.(type) {
	case values.AddrBase:
		return get(a.Base) == analysis.HeapBase
	case values.AddrBaseDisp:
		if get(a.Base) != analysis.HeapBase {
			return false
		}
		return a.Disp >= heapDispLow && a.Disp <= heapDispHigh
	case values.AddrBaseIndex:
		b, i := get(a.Base), get(a.Index)
		return (b == analysis.HeapBase && i == analysis.Bounded4GB) ||
			(i == analysis.HeapBase && b == analysis.Bounded4GB)
	case values.AddrBaseIndexDisp:
		b, i := get(a.Base), get(a.Index)
		ok := (b == analysis.HeapBase && i == analysis.Bounded4GB) ||
			(i == analysis.HeapBase && b == analysis.Bounded4GB)
		return ok && a.Disp >= heapDispLow && a.Disp <= heapDispHigh
	}
	return false
}

// isHeapMetadataAccess recognizes the guest-table/lucet-tables/globals
// metadata shapes: `[GlobalsBase(+imm<=4096)]`, `[LucetTables+8]`,
// `[GuestTable0+reg]`, `[GuestTable0+reg+8]`.
func isHeapMetadataAccess(st analysis.HeapState, m values.Mem) bool {
	get := func(r regs.R) analysis.HeapKind {
		v, _, _ := st.Regs.Get(r)
		if !v.Known {
			return analysis.HeapUnknown
		}
		return v.Val
	}
	switch a := m.Addr.(type) {
	case values.AddrBase:
		return get(a.Base) == analysis.GlobalsBase
	case values.AddrBaseDisp:
		if get(a.Base) == analysis.GlobalsBase {
			return a.Disp >= 0 && a.Disp <= globalsDispHigh
		}
		if get(a.Base) == analysis.HeapLucetTables {
			return a.Disp == guestTableFnOff
		}
		return false
	case values.AddrBaseIndex:
		return get(a.Base) == analysis.HeapGuestTable0 || get(a.Index) == analysis.HeapGuestTable0
	case values.AddrBaseIndexDisp:
		if get(a.Base) != analysis.HeapGuestTable0 && get(a.Index) != analysis.HeapGuestTable0 {
			return false
		}
		return a.Disp == guestTableTagOff || a.Disp == guestTableFnOff
	}
	return false
}

// isJumpTableAccess recognizes the scale-4 indexed load a br_table
// dispatch reads its relative offsets through.
func isJumpTableAccess(m values.Mem) bool {
	scaled, ok := m.Addr.(values.AddrScaled)
	return ok && scaled.Scale == jumpTableScale
}
