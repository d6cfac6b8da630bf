package ir

import "fmt"

// LiftAArch64Block always errors: aarch64 lifting is not yet supported.
// This mirrors the unimplemented skeleton this package's semantics are
// ported from rather than guessing at instruction semantics nobody has
// validated.
func LiftAArch64Block(textAddr uint64) (Block, error) {
	return nil, fmt.Errorf("aarch64 lifting not yet supported (block at %#x)", textAddr)
}
