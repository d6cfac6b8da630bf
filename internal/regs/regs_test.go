package regs

import "testing"

func TestStringKnownAndUnknown(t *testing.T) {
	cases := []struct {
		r    R
		want string
	}{
		{Rax, "rax"},
		{Rdi, "rdi"},
		{Zf, "zf"},
		{Zmm15, "zmm15"},
		{R(-1), "invalid-reg"},
		{count, "invalid-reg"},
	}
	for _, c := range cases {
		if got := c.r.String(); got != c.want {
			t.Errorf("R(%d).String() = %q, want %q", c.r, got, c.want)
		}
	}
}

func TestClassPredicatesPartition(t *testing.T) {
	for r := R(0); r < count; r++ {
		n := 0
		if r.IsGP() {
			n++
		}
		if r.IsFlag() {
			n++
		}
		if r.IsVector() {
			n++
		}
		if n != 1 {
			t.Errorf("register %s belongs to %d classes, want exactly 1", r, n)
		}
	}
}

func TestNativeSize(t *testing.T) {
	if Rax.NativeSize() != Size64 {
		t.Errorf("Rax.NativeSize() = %v, want Size64", Rax.NativeSize())
	}
	if Zf.NativeSize() != Size1 {
		t.Errorf("Zf.NativeSize() = %v, want Size1", Zf.NativeSize())
	}
	if Zmm0.NativeSize() != Size512 {
		t.Errorf("Zmm0.NativeSize() = %v, want Size512", Zmm0.NativeSize())
	}
}

func TestSizeBytes(t *testing.T) {
	if Size64.Bytes() != 8 {
		t.Errorf("Size64.Bytes() = %d, want 8", Size64.Bytes())
	}
	if Size1.Bytes() != 0 {
		t.Errorf("Size1.Bytes() = %d, want 0", Size1.Bytes())
	}
}

func TestCallerSaveSysVExcludesCalleeSave(t *testing.T) {
	saved := map[R]bool{}
	for _, r := range CallerSaveSysV {
		saved[r] = true
	}
	for _, r := range []R{Rbx, Rbp, R12, R13, R14, R15} {
		if saved[r] {
			t.Errorf("%s is callee-save under System-V but appears in CallerSaveSysV", r)
		}
	}
}
