package stm

import (
	"fmt"
	"log"
)

// FatalError marks a condition spec.md classifies as fatal to the
// process: registry exhaustion, a log overflow, or an exceeded restart
// bound. A log overflow is raised as a panic carrying a *FatalError,
// which the engine's restart loop deliberately does not recover — it
// propagates out of UpdateTx/ReadTx (or out of the TxCell/allocation
// call that overflowed) and, if left uncaught, crashes the goroutine.
// Registry exhaustion is returned by Engine.Register, and an exceeded
// restart bound by UpdateTx/ReadTx, as an error. A panic is the closest a Go library can get to "the
// process aborts with a diagnostic" without calling os.Exit on behalf of
// a caller that might be a long-running server.
type FatalError struct {
	Kind string
	Msg  string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("stm: fatal (%s): %s", e.Kind, e.Msg)
}

// ErrOutOfMemory is returned by TxMalloc when the requested allocation
// exceeds the engine's configured ceiling.
var ErrOutOfMemory = fmt.Errorf("stm: out of memory")

// newRegistryExhausted builds the *FatalError that Engine.Register
// returns when more than Config.MaxThreads goroutines attempt to
// Register. The condition
// is logged at the point it's raised, not just returned, since it's
// fatal to the calling goroutine and a caller that doesn't immediately
// inspect the error still deserves a trace of what killed it.
func newRegistryExhausted(max int) *FatalError {
	log.Printf("stm: fatal registry-exhausted: too many registered threads, max is %d", max)
	return &FatalError{Kind: "registry-exhausted", Msg: fmt.Sprintf("too many registered threads, max is %d", max)}
}

// newLogOverflow builds the fatal error raised when a read-set,
// write-set, allocation, or free log exceeds its static bound.
func newLogOverflow(logName string, max int) *FatalError {
	log.Printf("stm: fatal log-overflow: %s exceeded its bound of %d entries", logName, max)
	return &FatalError{Kind: "log-overflow", Msg: fmt.Sprintf("%s exceeded its bound of %d entries", logName, max)}
}

// abortConflict is the internal sentinel panicked by a failed lock
// acquisition. It is recovered exclusively by the engine's transaction
// loop (restartLoop in txn.go) to trigger abortTx + restart, playing the role of
// the original's setjmp/longjmp pair.
type abortConflict struct{}
