// Package cfg recovers basic-block structure from a raw instruction
// stream: the external "CFG builder" collaborator spec.md names, whose
// only contract is "given an entry address, return a block map and
// successor graph". Block boundaries are set by direct jump/branch
// targets and fallthrough edges; calls do not end a block, since control
// returns to the next instruction. Indirect branches are left with no
// successors here — internal/resolver concretizes them once the Switch
// analysis reaches a fixpoint and re-invokes Build.
package cfg

import (
	"sort"

	"github.com/veriwasm-go/veriwasm/internal/disasm"
)

// Graph is a recovered CFG: for every discovered block-start address, the
// raw instructions composing it and its successor block-start addresses.
// A block with no known successors either ends in Ret/UD or in an
// indirect branch not yet resolved. A block ending in a conditional
// branch lists its fall-through successor first and the branch target
// second, the order the analyzers' ProcessBranch methods rely on.
type Graph struct {
	Entry  uint64
	Instrs map[uint64][]disasm.Inst
	Succs  map[uint64][]uint64
}

// ExtraEdges lets the switch resolver feed newly concretized indirect
// jump targets back into another Build pass: keyed by the address of the
// branch instruction itself (not its owning block), since a function can
// contain more than one indirect jump.
type ExtraEdges map[uint64][]uint64

// Build recovers the CFG of the function whose text starts at base and
// begins executing at entry, both absolute addresses into code.
func Build(code []byte, base, entry uint64, extra ExtraEdges) (*Graph, error) {
	b := &builder{
		code:    code,
		base:    base,
		instrAt: map[uint64]disasm.Inst{},
		blockOf: map[uint64]uint64{},
		ends:    map[uint64]uint64{},
		succs:   map[uint64][]uint64{},
		extra:   extra,
	}
	b.addLeader(entry)
	for _, targets := range extra {
		for _, t := range targets {
			b.addLeader(t)
		}
	}
	for len(b.pending) > 0 {
		addr := b.pending[0]
		b.pending = b.pending[1:]
		b.walk(addr)
	}
	return b.finish(entry), nil
}

type builder struct {
	code    []byte
	base    uint64
	instrAt map[uint64]disasm.Inst
	blockOf map[uint64]uint64 // instruction addr -> owning block start
	ends    map[uint64]uint64 // block start -> exclusive end addr
	succs   map[uint64][]uint64
	pending []uint64
	started map[uint64]bool
	extra   ExtraEdges
}

func (b *builder) addLeader(addr uint64) {
	if b.started == nil {
		b.started = map[uint64]bool{}
	}
	if owner, ok := b.blockOf[addr]; ok {
		if owner != addr {
			b.split(owner, addr)
		}
		return
	}
	if _, ok := b.ends[addr]; ok {
		return
	}
	if b.started[addr] {
		return
	}
	b.started[addr] = true
	b.pending = append(b.pending, addr)
}

// split truncates the block starting at owner so that it ends at addr,
// handing the remaining instructions (and owner's old successors) to a
// new block starting at addr.
func (b *builder) split(owner, addr uint64) {
	oldEnd := b.ends[owner]
	b.ends[owner] = addr
	b.ends[addr] = oldEnd
	b.succs[addr] = b.succs[owner]
	b.succs[owner] = []uint64{addr}
	for a := addr; a < oldEnd; {
		inst, ok := b.instrAt[a]
		if !ok {
			break
		}
		b.blockOf[a] = addr
		a += uint64(inst.Len)
	}
}

func (b *builder) decodeAt(addr uint64) (disasm.Inst, bool) {
	if inst, ok := b.instrAt[addr]; ok {
		return inst, true
	}
	off := addr - b.base
	if off >= uint64(len(b.code)) {
		return disasm.Inst{}, false
	}
	inst, err := disasm.Decode(b.code[off:], addr)
	if err != nil {
		return disasm.Inst{}, false
	}
	b.instrAt[addr] = inst
	return inst, true
}

func (b *builder) walk(start uint64) {
	if _, done := b.ends[start]; done {
		return
	}
	cur := start
	for {
		if cur != start {
			if owner, ok := b.blockOf[cur]; ok {
				b.ends[start] = cur
				b.succs[start] = []uint64{owner}
				return
			}
		}
		inst, ok := b.decodeAt(cur)
		if !ok {
			b.ends[start] = cur
			b.succs[start] = nil
			return
		}
		b.blockOf[cur] = start
		next := cur + uint64(inst.Len)

		switch {
		case disasm.IsReturn(inst) || disasm.IsUD(inst):
			b.ends[start] = next
			b.succs[start] = nil
			return
		case disasm.IsUnconditionalJump(inst):
			b.ends[start] = next
			if t, direct := disasm.DirectBranchTarget(inst); direct {
				b.succs[start] = []uint64{t}
				b.addLeader(t)
			} else if targets, ok := b.extra[cur]; ok {
				b.succs[start] = append([]uint64{}, targets...)
				for _, t := range targets {
					b.addLeader(t)
				}
			} else {
				b.succs[start] = nil
			}
			return
		case disasm.IsConditionalBranch(inst):
			b.ends[start] = next
			s := []uint64{next}
			if t, direct := disasm.DirectBranchTarget(inst); direct {
				s = append(s, t)
				b.addLeader(t)
			}
			b.succs[start] = s
			b.addLeader(next)
			return
		}
		cur = next
	}
}

func (b *builder) finish(entry uint64) *Graph {
	g := &Graph{Entry: entry, Instrs: map[uint64][]disasm.Inst{}, Succs: map[uint64][]uint64{}}
	starts := make([]uint64, 0, len(b.ends))
	for s := range b.ends {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	for _, s := range starts {
		end := b.ends[s]
		var insts []disasm.Inst
		for a := s; a < end; {
			inst, ok := b.instrAt[a]
			if !ok {
				break
			}
			insts = append(insts, inst)
			a += uint64(inst.Len)
		}
		g.Instrs[s] = insts
		g.Succs[s] = b.succs[s]
	}
	return g
}
