// Package stats renders per-function verification timings as the JSON
// array spec.md §6 describes for the CLI's `-o <path>` flag.
package stats

import (
	"encoding/json"
	"io"
)

// Record is one function's timing breakdown, in the field order spec.md
// §6 fixes: name, recovered block count, then the wall-clock seconds
// spent in CFG recovery and each of the three timed analyses.
type Record struct {
	Name         string  `json:"name"`
	BlockCount   int     `json:"block_count"`
	CFGSeconds   float64 `json:"cfg_seconds"`
	StackSeconds float64 `json:"stack_seconds"`
	HeapSeconds  float64 `json:"heap_seconds"`
	CallSeconds  float64 `json:"call_seconds"`
}

// Write serializes records as a JSON array to w.
func Write(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if records == nil {
		records = []Record{}
	}
	return enc.Encode(records)
}
