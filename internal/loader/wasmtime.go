package loader

import (
	"encoding/json"
	"fmt"

	"github.com/veriwasm-go/veriwasm/internal/analysis"
)

// VMOffsetsEntry is the JSON shape a `-c wasmtime` invocation's VMOffsets
// side-channel file carries: a byte offset within VMContext and the field
// kind stored there (spec.md §6's `{R, Rw, Rx, Ptr(value)}` descriptor).
// Only "R"/"memory_base" and "Rw"/"memory_bound" entries are mapped;
// "Rx", "Ptr" and any other kind parse but are left out of the resulting
// map, so an access at that offset is rejected.
type VMOffsetsEntry struct {
	Offset int64  `json:"offset"`
	Kind   string `json:"kind"`
}

// ParseVMOffsets decodes the embedder-supplied VMContext field layout
// (spec.md §6: "a VMOffsets map ... supplied out-of-band") into the
// analysis package's lookup table.
func ParseVMOffsets(data []byte) (analysis.VMOffsets, error) {
	var entries []VMOffsetsEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("loader: parse vmoffsets: %w", err)
	}
	out := make(analysis.VMOffsets, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case "memory_base", "R":
			out[e.Offset] = analysis.FieldMemoryBase
		case "memory_bound", "Rw":
			out[e.Offset] = analysis.FieldMemoryBound
		default:
			// "Rx" and "Ptr(value)" permissions have no recognized
			// transfer in this analyzer yet; the offset is intentionally
			// left unmapped so any access through it is rejected.
		}
	}
	return out, nil
}
