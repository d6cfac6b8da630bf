// Package jobs drives per-function verification across a bounded pool of
// goroutines. Functions share no mutable state beyond the read-only
// loader.Module (spec.md §5): each job owns its own CFG and IR map and
// discards them when it returns, so the pool needs no locking beyond
// collecting results.
package jobs

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "jobs")

// Func is one unit of work: a named entry point to verify.
type Func struct {
	Name  string
	Entry uint64
}

// Result is one function's verification outcome: either it passed, or Err
// names why (a checkers.RejectError, a dataflow.EngineError, a resolver
// error, or an internal-unreachable condition recovered from a panic).
type Result struct {
	Func
	Err error
}

// Run verifies every function in fns by calling verify(f) from up to
// jobs concurrent goroutines, returning one Result per function in fns's
// original order. jobs <= 0 runs everything on the calling goroutine.
func Run(fns []Func, jobs int, verify func(Func) error) []Result {
	results := make([]Result, len(fns))
	if jobs <= 0 {
		jobs = 1
	}
	if jobs > len(fns) {
		jobs = len(fns)
	}
	if jobs <= 1 {
		for i, f := range fns {
			results[i] = Result{Func: f, Err: runOne(f, verify)}
		}
		return results
	}

	var wg sync.WaitGroup
	work := make(chan int)
	wg.Add(jobs)
	for w := 0; w < jobs; w++ {
		go func() {
			defer wg.Done()
			for i := range work {
				results[i] = Result{Func: fns[i], Err: runOne(fns[i], verify)}
			}
		}()
	}
	for i := range fns {
		work <- i
	}
	close(work)
	wg.Wait()
	return results
}

// runOne recovers a panic from verify (spec.md §7's "internal unreachable"
// outcome: a lifter hitting truly malformed input, an unresolvable memory
// operand) into an error, so one malformed function cannot take down the
// whole run.
func runOne(f Func, verify func(Func) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("func", f.Name).WithField("panic", r).Error("recovered panic during verification")
			err = &PanicError{Func: f.Name, Value: r}
		}
	}()
	return verify(f)
}

// PanicError wraps a recovered panic, spec.md §7's "internal unreachable"
// category: a bug in the verifier or a genuinely malformed instruction
// stream, neither a safety rejection nor an engine invariant violation.
type PanicError struct {
	Func  string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic verifying %s: %v", e.Func, e.Value)
}
