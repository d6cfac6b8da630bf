package loader

import "fmt"

// Lucet-specific metadata symbol names, resolved by exact match per
// spec.md §6 and original_source/src/utils.rs::load_metadata.
const (
	symGuestTable0     = "guest_table_0"
	symLucetTables     = "lucet_tables"
	symLucetProbestack = "lucet_probestack"

	// sentinelAddr is the reaching-defs sentinel internal/analysis seeds
	// entry-state definitions from. A real symbol colliding with it would
	// silently corrupt reaching-defs identity, so loading rejects it.
	sentinelAddr = 0xDEADBEEF
)

// LucetMetadata is the set of binary facts the Lucet-specific analyses
// (Call, Heap) and the lifter's probestack idiom recognizer need.
type LucetMetadata struct {
	GuestTable0     uint64
	LucetTables     uint64
	LucetProbestack uint64
}

// ResolveLucetMetadata looks up the three symbols Lucet-compiled modules
// are required to export. A missing `lucet_probestack` is tolerated (not
// every guest function has a frame large enough to need probing); a
// missing guest_table_0/lucet_tables means the module exports no
// indirectly-callable functions, which is valid for leaf modules, so
// those also resolve to zero rather than failing the whole load.
func (m *Module) ResolveLucetMetadata() (LucetMetadata, error) {
	for name, addr := range m.SymByName {
		if addr == sentinelAddr {
			return LucetMetadata{}, fmt.Errorf("loader: symbol %q collides with the reaching-defs sentinel address %#x", name, uint64(sentinelAddr))
		}
	}
	return LucetMetadata{
		GuestTable0:     m.SymByName[symGuestTable0],
		LucetTables:     m.SymByName[symLucetTables],
		LucetProbestack: m.SymByName[symLucetProbestack],
	}, nil
}
