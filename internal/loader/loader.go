// Package loader is the external ELF-loading collaborator spec.md §1/§6
// names: it produces a Module (text bytes, symbol table, PLT range, entry
// point) from a compiled WebAssembly shared object, and resolves the
// Lucet/Wasmtime metadata symbols the analyses key their recognition off
// of. CFG recovery, disassembly, and the verification core itself are
// untouched by this package; it only answers "what bytes, at what address,
// named what."
package loader

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "loader")

// Module is the ELF-derived view of a compiled guest binary: the raw
// `.text` bytes and their load address, a name-indexed and
// address-indexed symbol table, the `.plt` range (calls landing there are
// trampolines to imported host functions, not guest table entries), and
// the entry point.
type Module struct {
	Text      []byte
	TextAddr  uint64
	Entry     uint64
	PLTStart  uint64
	PLTEnd    uint64
	SymByName map[string]uint64
	SymByAddr map[uint64]string
}

// Load parses an ELF shared object at path into a Module. Only the
// `.text` section's bytes and load address, the symbol table, and the
// `.plt` bounds are consumed; everything else in the ELF is ignored.
func Load(path string) (*Module, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadFile(f)
}

// LoadFile builds a Module from an already-open ELF file, letting callers
// (tests, or a CLI that already opened the file for other reasons) avoid
// a second open.
func LoadFile(f *elf.File) (*Module, error) {
	text := f.Section(".text")
	if text == nil {
		return nil, fmt.Errorf("loader: no .text section")
	}
	data, err := text.Data()
	if err != nil {
		return nil, fmt.Errorf("loader: read .text: %w", err)
	}

	m := &Module{
		Text:      data,
		TextAddr:  text.Addr,
		Entry:     f.Entry,
		SymByName: map[string]uint64{},
		SymByAddr: map[uint64]string{},
	}

	if plt := f.Section(".plt"); plt != nil {
		m.PLTStart = plt.Addr
		m.PLTEnd = plt.Addr + plt.Size
	}

	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("loader: read symbols: %w", err)
	}
	dynSyms, _ := f.DynamicSymbols()
	for _, s := range append(syms, dynSyms...) {
		if s.Name == "" || s.Value == 0 {
			continue
		}
		m.SymByName[s.Name] = s.Value
		m.SymByAddr[s.Value] = s.Name
	}

	log.WithFields(logrus.Fields{
		"text_addr": fmt.Sprintf("%#x", m.TextAddr),
		"text_size": len(m.Text),
		"symbols":   len(m.SymByName),
	}).Debug("loaded module")
	return m, nil
}

// FuncSymbols returns every function symbol's address in ascending order,
// used by the call checker's FuncStarts recognition set and by -f's
// single-function-name lookup.
func (m *Module) FuncSymbols() []uint64 {
	addrs := make([]uint64, 0, len(m.SymByAddr))
	for a := range m.SymByAddr {
		if a >= m.TextAddr && a < m.TextAddr+uint64(len(m.Text)) {
			addrs = append(addrs, a)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// FuncStarts returns the set FuncSymbols addresses as a membership set,
// the shape internal/analysis.CallMetadata wants for recognizing FnPtr
// immediates.
func (m *Module) FuncStarts() map[uint64]bool {
	out := map[uint64]bool{}
	for _, a := range m.FuncSymbols() {
		out[a] = true
	}
	return out
}

// IsPLT reports whether addr falls inside the `.plt` trampoline range.
func (m *Module) IsPLT(addr uint64) bool {
	return m.PLTStart != 0 && addr >= m.PLTStart && addr < m.PLTEnd
}

// FuncByName resolves a guest function's address by its symbol name, for
// the CLI's `-f <name>` single-function mode.
func (m *Module) FuncByName(name string) (uint64, bool) {
	a, ok := m.SymByName[name]
	return a, ok
}
