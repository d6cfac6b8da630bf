package resolver

import (
	"strings"
	"testing"

	"github.com/veriwasm-go/veriwasm/internal/ir"
)

func TestResolveClosesStraightLineFunctionInOneRound(t *testing.T) {
	code := []byte{0x90, 0xC3} // nop; ret
	res, err := Resolve(code, 0, 0, ir.Metadata{})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(res.Graph.Succs[0]) != 0 {
		t.Fatalf("expected the ret block to have no successors, got %v", res.Graph.Succs[0])
	}
}

func TestResolveRejectsIndirectJumpThroughMemoryOperand(t *testing.T) {
	code := []byte{0xFF, 0x20} // jmp [rax]
	_, err := Resolve(code, 0, 0, ir.Metadata{})
	if err == nil {
		t.Fatal("expected an indirect jump through a memory operand to be rejected")
	}
	re, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !strings.Contains(re.Reason, "illegal jump") {
		t.Fatalf("got reason %q, want it to mention an illegal jump", re.Reason)
	}
}

func TestResolveReportsBrokenJumpTargetsWhenNothingConcretizes(t *testing.T) {
	code := []byte{0xFF, 0xE0} // jmp rax, with nothing ever proving rax a jump-table target
	_, err := Resolve(code, 0, 0, ir.Metadata{})
	if err == nil {
		t.Fatal("expected an indirect jump the switch analysis cannot resolve to fail")
	}
	re, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !strings.Contains(re.Reason, "jump targets broken") {
		t.Fatalf("got reason %q, want it to mention broken jump targets", re.Reason)
	}
}
