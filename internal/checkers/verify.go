package checkers

import (
	"github.com/veriwasm-go/veriwasm/internal/analysis"
	"github.com/veriwasm-go/veriwasm/internal/cfg"
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/regs"
)

// Format selects which ABI-specific checker set a function is verified
// against: Lucet's guest-table calling convention or Wasmtime's pinned
// vmctx convention (spec.md §6's `-c lucet|wasmtime` CLI flag).
type Format int

const (
	Lucet Format = iota
	Wasmtime
)

// Metadata is the subset of loader-resolved binary facts every checker in
// this package needs: Lucet's guest-table/tables-base constants, and a
// function-start set the call checker uses to recognize type-id-bearing
// FnPtr immediates.
type Metadata struct {
	GuestTable0     uint64
	LucetTables     uint64
	FuncStarts      map[uint64]bool
	PinnedVMCtxReg  regs.R
	WasmtimeOffsets analysis.VMOffsets
}

func (m Metadata) callMetadata() analysis.CallMetadata {
	return analysis.CallMetadata{GuestTable0: m.GuestTable0, LucetTables: m.LucetTables, FuncStarts: m.FuncStarts}
}

// VerifyFunction runs every checker applicable to format against one
// function's closed CFG and lifted IR, stopping at the first rejection or
// engine error. A nil return means the function is safe.
func VerifyFunction(g *cfg.Graph, irmap ir.Map, format Format, md Metadata) error {
	if err := CheckStack(g, irmap); err != nil {
		return err
	}
	if err := CheckLocals(g, irmap, analysis.DefaultLocalsAnalyzer()); err != nil {
		return err
	}
	switch format {
	case Lucet:
		cm := md.callMetadata()
		if err := CheckHeap(g, irmap, cm); err != nil {
			return err
		}
		if err := CheckCall(g, irmap, cm); err != nil {
			return err
		}
	case Wasmtime:
		reg := md.PinnedVMCtxReg
		if reg == 0 {
			reg = regs.R14
		}
		an := analysis.WasmtimeAnalyzer{PinnedVMCtxReg: reg, Offsets: md.WasmtimeOffsets}
		if err := CheckWasmtimeHeap(g, irmap, an); err != nil {
			return err
		}
	}
	return nil
}
