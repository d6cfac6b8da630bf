package cfg

import "testing"

// straightLine: nop; ret
func TestBuildStraightLineNoSuccessors(t *testing.T) {
	code := []byte{0x90, 0xC3}
	g, err := Build(code, 0, 0, nil)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if len(g.Instrs) != 1 {
		t.Fatalf("got %d blocks, want 1 (no branch splits it)", len(g.Instrs))
	}
	if succs := g.Succs[0]; succs != nil {
		t.Fatalf("a block ending in ret should have no successors, got %v", succs)
	}
}

// conditional branch: cmp eax, 0; je +2; nop; ret  /  target: ret
func TestBuildConditionalBranchTwoSuccessors(t *testing.T) {
	code := []byte{
		0x83, 0xF8, 0x00, // cmp eax, 0  (3 bytes)
		0x74, 0x02, // je +2 -> lands on the far ret
		0x90, // nop (fallthrough block)
		0xC3, // ret (fallthrough block)
		0xC3, // ret (branch target)
	}
	g, err := Build(code, 0, 0, nil)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if len(g.Succs[0]) != 2 {
		t.Fatalf("entry block should have 2 successors (fallthrough + taken), got %v", g.Succs[0])
	}
}

// unconditional jump with a direct target.
func TestBuildUnconditionalJumpOneSuccessor(t *testing.T) {
	code := []byte{
		0xEB, 0x01, // jmp +1 -> lands on the ret below
		0x90, // never reached in the recovered CFG's edges
		0xC3, // ret
	}
	g, err := Build(code, 0, 0, nil)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	succs := g.Succs[0]
	if len(succs) != 1 {
		t.Fatalf("an unconditional jmp should have exactly 1 successor, got %v", succs)
	}
	if succs[0] != 3 {
		t.Fatalf("jmp target = %#x, want 0x3", succs[0])
	}
}

// A jump landing mid-block retroactively splits the earlier block.
func TestBuildSplitsBlockOnBackwardTarget(t *testing.T) {
	code := []byte{
		0x90,       // nop                     addr 0
		0x90,       // nop                     addr 1 <- jmp target, splits the entry block here
		0xEB, 0xFD, // jmp -3 -> addr 1         addr 2 (len 2, target = 2+2-3 = 1)
	}
	g, err := Build(code, 0, 0, nil)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if _, ok := g.Instrs[1]; !ok {
		t.Fatalf("expected a block to start at addr 1 after the retroactive split, blocks: %v", blockStarts(g))
	}
	if _, ok := g.Instrs[0]; !ok {
		t.Fatalf("expected the entry block to still start at 0, blocks: %v", blockStarts(g))
	}
}

func blockStarts(g *Graph) []uint64 {
	var out []uint64
	for a := range g.Instrs {
		out = append(out, a)
	}
	return out
}

func TestBuildUsesExtraEdgesForIndirectJump(t *testing.T) {
	// jmp rax (indirect, FF E0) at addr 0; resolved target at addr 5.
	code := []byte{
		0xFF, 0xE0, // jmp rax
		0x90, 0x90, 0x90, // padding
		0xC3, // ret, the resolved target
	}
	extra := ExtraEdges{0: {5}}
	g, err := Build(code, 0, 0, extra)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	succs := g.Succs[0]
	if len(succs) != 1 || succs[0] != 5 {
		t.Fatalf("expected the indirect jump's successor to be the extra-edge target, got %v", succs)
	}
}
