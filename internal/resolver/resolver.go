// Package resolver closes the cyclic dependency between jump-table
// (br_table) dispatch and CFG recovery (C5): an indirect jump's targets
// can only be computed once the Switch analysis reaches a fixpoint, but
// the CFG the analysis runs over needs those same targets as block
// leaders. It breaks the cycle by iterating: build the CFG with whatever
// targets are known so far, run Switch to a fixpoint, read any newly
// concretized jump-table entries out of the program image, and rebuild.
package resolver

import (
	"encoding/binary"
	"fmt"

	"github.com/veriwasm-go/veriwasm/internal/analysis"
	"github.com/veriwasm-go/veriwasm/internal/cfg"
	"github.com/veriwasm-go/veriwasm/internal/dataflow"
	"github.com/veriwasm-go/veriwasm/internal/ir"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

// Error reports that the resolver could not close the CFG: no new jump
// target was concretized in a round that still has unresolved indirect
// branches ("jump targets broken" — the table load didn't land on a
// recognizable SwitchValue), an indirect jump targets a memory operand
// directly rather than a register ("illegal jump" — this binary shape is
// never produced by a compliant compiler backend), or the loop ran
// MaxIterations rounds without closing ("fixed point error").
type Error struct {
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("jump resolution failed: %s", e.Reason) }

// MaxIterations bounds the build/analyze/extend loop; a function whose
// jump-table chain hasn't closed by then is a "fixed point error".
const MaxIterations = 64

// Result is a fully closed CFG: every reachable indirect branch has been
// concretized into direct successor edges.
type Result struct {
	Graph *cfg.Graph
	IR    ir.Map
}

// Resolve builds the closed CFG for the function at entry, re-lifting and
// re-running the Switch and ReachingDefs analyses each round a new
// indirect-jump target is discovered.
func Resolve(code []byte, imageBase, entry uint64, md ir.Metadata) (*Result, error) {
	extra := cfg.ExtraEdges{}
	for iter := 0; iter < MaxIterations; iter++ {
		g, err := cfg.Build(code, imageBase, entry, extra)
		if err != nil {
			return nil, err
		}
		irmap, err := liftAll(g, md)
		if err != nil {
			return nil, err
		}

		reachAn := analysis.ReachingDefsAnalyzer{}
		reachRes, err := dataflow.RunWorklist(g, irmap, reachAn)
		if err != nil {
			return nil, err
		}
		swAn := analysis.SwitchAnalyzer{}
		swRes, err := dataflow.RunWorklist(g, irmap, swAn)
		if err != nil {
			return nil, err
		}
		_ = reachRes // the Switch analyzer folds reaching defs into its own state

		newTargets, unresolved, err := extractTargets(code, imageBase, g, irmap, swAn, swRes)
		if err != nil {
			return nil, err
		}
		if unresolved == 0 {
			return &Result{Graph: g, IR: irmap}, nil
		}
		if len(newTargets) == 0 {
			return nil, &Error{Reason: "jump targets broken: no new target concretized with unresolved indirect branches remaining"}
		}
		for addr, targets := range newTargets {
			extra[addr] = targets
		}
	}
	return nil, &Error{Reason: "fixed point error: jump resolution did not converge"}
}

func liftAll(g *cfg.Graph, md ir.Metadata) (ir.Map, error) {
	out := make(ir.Map, len(g.Instrs))
	for addr, insts := range g.Instrs {
		block, err := ir.LiftBlock(insts, md, false)
		if err != nil {
			return nil, fmt.Errorf("lifting block %#x: %w", addr, err)
		}
		out[addr] = block
	}
	return out, nil
}

// extractTargets finds every indirect branch in the closed-so-far CFG,
// evaluates the Switch analysis's exit state for its block, and resolves
// a JmpTarget value into concrete addresses by reading the jump table out
// of the program image.
func extractTargets(code []byte, imageBase uint64, g *cfg.Graph, irmap ir.Map, swAn analysis.SwitchAnalyzer, swRes map[uint64]analysis.SwitchState) (map[uint64][]uint64, int, error) {
	newTargets := map[uint64][]uint64{}
	unresolved := 0
	for addr, block := range irmap {
		if len(g.Succs[addr]) > 0 || len(block) == 0 {
			continue
		}
		last := block[len(block)-1]
		if len(last.Stmts) == 0 {
			continue
		}
		br, ok := last.Stmts[len(last.Stmts)-1].(values.Branch)
		if !ok {
			continue
		}
		switch t := br.Target.(type) {
		case values.Reg:
			unresolved++
			entry, ok := swRes[addr]
			if !ok {
				continue
			}
			out := swAn.AnalyzeBlock(entry, block)
			val, ok := out.Vars.Get(t)
			if !ok || val.Kind != analysis.JmpTarget {
				continue
			}
			base, bound := uint64(val.Num), val.Num2
			var targets []uint64
			for idx := uint32(0); idx < bound; idx++ {
				word, err := readWord(code, imageBase, base+uint64(idx)*4)
				if err != nil {
					return nil, 0, err
				}
				sum := int32(uint32(base)) + word
				targets = append(targets, uint64(int64(sum)))
			}
			newTargets[last.Addr] = targets
		case values.Mem:
			return nil, 0, &Error{Reason: fmt.Sprintf("illegal jump: indirect branch at %#x targets memory directly", addr)}
		}
	}
	return newTargets, unresolved, nil
}

func readWord(code []byte, imageBase, addr uint64) (int32, error) {
	if addr < imageBase || addr+4 > imageBase+uint64(len(code)) {
		return 0, &Error{Reason: fmt.Sprintf("jump table entry at %#x falls outside the program image", addr)}
	}
	off := addr - imageBase
	return int32(binary.LittleEndian.Uint32(code[off : off+4])), nil
}
