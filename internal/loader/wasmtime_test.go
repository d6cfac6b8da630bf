package loader

import (
	"testing"

	"github.com/veriwasm-go/veriwasm/internal/analysis"
)

func TestParseVMOffsetsMapsRecognizedKinds(t *testing.T) {
	data := []byte(`[
		{"offset": 64, "kind": "memory_base"},
		{"offset": 72, "kind": "Rw"}
	]`)
	offs, err := ParseVMOffsets(data)
	if err != nil {
		t.Fatalf("ParseVMOffsets error: %v", err)
	}
	if offs[0x40] != analysis.FieldMemoryBase {
		t.Fatalf("got %v at 0x40, want FieldMemoryBase", offs[0x40])
	}
	if offs[0x48] != analysis.FieldMemoryBound {
		t.Fatalf("got %v at 0x48, want FieldMemoryBound", offs[0x48])
	}
}

func TestParseVMOffsetsLeavesUnrecognizedKindsUnmapped(t *testing.T) {
	data := []byte(`[{"offset": 80, "kind": "Rx"}]`)
	offs, err := ParseVMOffsets(data)
	if err != nil {
		t.Fatalf("ParseVMOffsets error: %v", err)
	}
	if _, ok := offs[0x50]; ok {
		t.Fatal("expected an Rx-kind offset to be left out of the resolved map entirely")
	}
}

func TestParseVMOffsetsRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseVMOffsets([]byte(`not json`)); err == nil {
		t.Fatal("expected malformed JSON to be rejected")
	}
}
