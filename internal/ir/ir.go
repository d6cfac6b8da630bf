// Package ir lifts decoded x86-64 instructions into the architecture-
// neutral Value/Statement IR defined by internal/values. It is C1 of the
// pipeline: the lifter never makes a safety decision, only a translation
// one, and recognizes a couple of multi-instruction idioms that a single
// native instruction cannot express faithfully (the Lucet probestack
// prologue and the bsf/bsr+cmovz zero-handling pattern).
package ir

import (
	"fmt"

	"github.com/veriwasm-go/veriwasm/internal/disasm"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// Block is an ordered list of (instruction-address, statements) pairs;
// the lifter may emit zero or more statements per native instruction.
type Block []AddrStmts

type AddrStmts struct {
	Addr  uint64
	Stmts []values.Statement
}

// Map associates each CFG block-entry address with its lifted Block.
type Map map[uint64]Block

// Metadata carries the loader-resolved facts the lifter needs to
// recognize compiler-specific idioms (currently just the probestack
// routine's address).
type Metadata struct {
	LucetProbestack uint64
}

// LiftBlock lifts a straight-line instruction run into a Block, folding
// in the probestack and bsf/bsr+cmovz idioms where they match.
func LiftBlock(insts []disasm.Inst, md Metadata, strict bool) (Block, error) {
	var block Block
	i := 0
	for i < len(insts) {
		if stmts, n, ok := matchProbestack(insts[i:], md); ok {
			block = append(block, AddrStmts{Addr: insts[i].Addr, Stmts: stmts})
			i += n
			continue
		}
		if stmts, n, ok := matchBsfCmove(insts[i:]); ok {
			block = append(block, AddrStmts{Addr: insts[i].Addr, Stmts: stmts})
			i += n
			continue
		}
		stmts, err := Lift(insts[i], strict)
		if err != nil {
			return nil, err
		}
		block = append(block, AddrStmts{Addr: insts[i].Addr, Stmts: stmts})
		i++
		if len(stmts) == 1 {
			if br, ok := stmts[0].(values.Branch); ok && br.Opcode == "JMP" {
				// Cranelift embeds jump-table constants in the code stream
				// right after an unconditional jump; stop lifting here so
				// they are never mistaken for instructions.
				break
			}
		}
	}
	return block, nil
}

// unsupportedOpcode is returned by Lift in strict mode for an opcode the
// lifter has no case for.
type unsupportedOpcode struct{ op string }

func (e unsupportedOpcode) Error() string { return fmt.Sprintf("unsupported opcode: %s", e.op) }
