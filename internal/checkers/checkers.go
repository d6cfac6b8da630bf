// Package checkers implements C6: the trusted safety predicate. Each
// checker walks a function block by block, starting from the entry state
// an analysis fixpoint (internal/dataflow + internal/analysis) computed for
// that block, and steps the same transfer function statement by statement
// to reconstruct the exact pre-statement state. A checker that finds a
// statement it cannot justify returns a RejectError; this is the only
// channel through which "this guest function is unsafe" is reported.
package checkers

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/veriwasm-go/veriwasm/internal/lattice"
	"github.com/veriwasm-go/veriwasm/internal/values"
)

var log = logrus.WithField("component", "checkers")

// RejectError is a safety-failure verdict: the function is unsafe and
// verification of it stops. It always carries the failing instruction
// address so a caller can report a precise location.
type RejectError struct {
	Checker   string
	Addr      uint64
	Statement values.Statement
	Reason    string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s checker rejected %#x (%s): %s", e.Checker, e.Addr, e.Statement, e.Reason)
}

// locIdx builds the (block-address, statement-index) identity an
// analyzer's Step method needs to replay reaching-defs-derived transfers.
func locIdx(addr uint64, idx int) lattice.LocIdx {
	return lattice.LocIdx{Addr: addr, Idx: idx}
}

func reject(checker string, addr uint64, stmt values.Statement, reason string) error {
	err := &RejectError{Checker: checker, Addr: addr, Statement: stmt, Reason: reason}
	log.WithFields(logrus.Fields{
		"checker": checker,
		"addr":    fmt.Sprintf("%#x", addr),
		"stmt":    stmt.String(),
	}).Warn(reason)
	return err
}
