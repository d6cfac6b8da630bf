package loader

import "testing"

func TestFuncSymbolsFiltersToTextRangeAndSorts(t *testing.T) {
	m := &Module{
		TextAddr: 0x1000,
		Text:     make([]byte, 0x100),
		SymByAddr: map[uint64]string{
			0x1080: "g",
			0x1020: "f",
			0x500:  "before_text",
			0x2000: "after_text",
		},
	}
	got := m.FuncSymbols()
	want := []uint64{0x1020, 0x1080}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFuncStartsIsAMembershipSetOverFuncSymbols(t *testing.T) {
	m := &Module{
		TextAddr:  0x1000,
		Text:      make([]byte, 0x100),
		SymByAddr: map[uint64]string{0x1020: "f"},
	}
	starts := m.FuncStarts()
	if !starts[0x1020] {
		t.Fatal("expected 0x1020 to be a recognized function start")
	}
	if starts[0x1030] {
		t.Fatal("expected an address with no symbol to not be a function start")
	}
}

func TestIsPLTRespectsBounds(t *testing.T) {
	m := &Module{PLTStart: 0x4000, PLTEnd: 0x4100}
	if !m.IsPLT(0x4050) {
		t.Fatal("expected an address inside [PLTStart, PLTEnd) to be recognized")
	}
	if m.IsPLT(0x4100) {
		t.Fatal("expected PLTEnd itself to be exclusive")
	}
	if m.IsPLT(0x3fff) {
		t.Fatal("expected an address before PLTStart to not be PLT")
	}
}

func TestIsPLTZeroValueNeverMatches(t *testing.T) {
	m := &Module{}
	if m.IsPLT(0) {
		t.Fatal("expected a Module with no .plt section to never classify anything as PLT")
	}
}

func TestFuncByNameResolvesKnownAndUnknownNames(t *testing.T) {
	m := &Module{SymByName: map[string]uint64{"guest_fn": 0x1234}}
	addr, ok := m.FuncByName("guest_fn")
	if !ok || addr != 0x1234 {
		t.Fatalf("got (%#x, %v), want (0x1234, true)", addr, ok)
	}
	if _, ok := m.FuncByName("missing"); ok {
		t.Fatal("expected an unknown symbol name to report not-found")
	}
}
