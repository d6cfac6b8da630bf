// Package veriwasm is the library entry point spec.md §6 names for
// mid-compilation use: a producer compiler that already knows its own
// block structure can validate heap-access safety without round-tripping
// through an ELF file. The CLI driver (cmd/veriwasm) is the batch,
// whole-module counterpart built on top of internal/loader instead.
package veriwasm

import (
	"fmt"

	"github.com/veriwasm-go/veriwasm/internal/analysis"
	"github.com/veriwasm-go/veriwasm/internal/cfg"
	"github.com/veriwasm-go/veriwasm/internal/checkers"
	"github.com/veriwasm-go/veriwasm/internal/disasm"
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/regs"
)

// HeapStrategy selects which calling convention ValidateHeap assumes the
// guest heap base pointer arrives by (spec.md §6).
type HeapStrategy int

const (
	// HeapPtrFirstArgWithGuards is Lucet's convention: the heap base
	// arrives in Rdi, guarded by 4GB+ of unmapped guard pages.
	HeapPtrFirstArgWithGuards HeapStrategy = iota
	// VMCtxFirstArgWithGuards is Wasmtime's convention: a pinned vmctx
	// pointer, with the heap base read from a fixed offset within it.
	VMCtxFirstArgWithGuards
)

// BlockRange is one basic block's byte extent within code, in the shape a
// mid-compilation caller already has on hand (it just built the CFG).
type BlockRange struct {
	Start, End uint64
}

// ErrKind tags a ValidationError's outcome class, mirroring the Rust
// ancestor's tagged error (spec.md §6: `StackUnsafe`, `HeapUnsafe`,
// `Other(msg)`).
type ErrKind int

const (
	Other ErrKind = iota
	StackUnsafe
	HeapUnsafe
)

func (k ErrKind) String() string {
	switch k {
	case StackUnsafe:
		return "StackUnsafe"
	case HeapUnsafe:
		return "HeapUnsafe"
	default:
		return "Other"
	}
}

// ValidationError is ValidateHeap's error type: Kind distinguishes a
// safety rejection from an internal failure, Msg carries the detail.
type ValidationError struct {
	Kind ErrKind
	Msg  string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

// ValidateHeap proves that code, already divided into blocks with known
// successor edges (a mid-compilation CFG the caller's own compiler
// already built), cannot issue a stack or heap access that escapes the
// sandbox. vmctxOffset is only consulted for VMCtxFirstArgWithGuards and
// names the byte offset within the vmctx struct that holds the heap base.
func ValidateHeap(code []byte, blocks []BlockRange, edges map[uint64][]uint64, strategy HeapStrategy, vmctxOffset int64) error {
	g, irmap, err := buildGraph(code, blocks, edges)
	if err != nil {
		return &ValidationError{Kind: Other, Msg: err.Error()}
	}
	if err := checkers.CheckStack(g, irmap); err != nil {
		return &ValidationError{Kind: StackUnsafe, Msg: err.Error()}
	}
	switch strategy {
	case HeapPtrFirstArgWithGuards:
		if err := checkers.CheckHeap(g, irmap, analysis.CallMetadata{}); err != nil {
			return &ValidationError{Kind: HeapUnsafe, Msg: err.Error()}
		}
	case VMCtxFirstArgWithGuards:
		an := analysis.WasmtimeAnalyzer{
			PinnedVMCtxReg: regs.Rdi,
			Offsets:        analysis.VMOffsets{vmctxOffset: analysis.FieldMemoryBase},
		}
		if err := checkers.CheckWasmtimeHeap(g, irmap, an); err != nil {
			return &ValidationError{Kind: HeapUnsafe, Msg: err.Error()}
		}
	default:
		return &ValidationError{Kind: Other, Msg: fmt.Sprintf("unknown heap strategy %d", strategy)}
	}
	return nil
}

// buildGraph decodes each caller-supplied block range and assembles a
// cfg.Graph directly from the given edges, bypassing internal/cfg.Build's
// own leader-discovery (the caller already knows its block boundaries,
// having just emitted them).
func buildGraph(code []byte, blocks []BlockRange, edges map[uint64][]uint64) (*cfg.Graph, ir.Map, error) {
	if len(blocks) == 0 {
		return nil, nil, fmt.Errorf("veriwasm: no blocks supplied")
	}
	g := &cfg.Graph{
		Entry:  blocks[0].Start,
		Instrs: map[uint64][]disasm.Inst{},
		Succs:  map[uint64][]uint64{},
	}
	irmap := make(ir.Map, len(blocks))
	for _, b := range blocks {
		if b.End < b.Start || b.End > uint64(len(code)) {
			return nil, nil, fmt.Errorf("veriwasm: block [%#x,%#x) out of range", b.Start, b.End)
		}
		insts, err := disasm.DecodeRange(code[b.Start:b.End], b.Start)
		if err != nil {
			return nil, nil, fmt.Errorf("veriwasm: decode block at %#x: %w", b.Start, err)
		}
		g.Instrs[b.Start] = insts
		g.Succs[b.Start] = edges[b.Start]

		block, err := ir.LiftBlock(insts, ir.Metadata{}, false)
		if err != nil {
			return nil, nil, fmt.Errorf("veriwasm: lift block at %#x: %w", b.Start, err)
		}
		irmap[b.Start] = block
	}
	return g, irmap, nil
}
