package stm

import "sync/atomic"

// clock.go isolates every touch of the conflict clock and the
// announced-timestamps array (spec.md §3 "Conflict Clock",
// "Announced-Timestamps Array"): drawing a timestamp, publishing it,
// and unpublishing it on commit. Everything here is reached lazily,
// only once a transaction actually hits a lock conflict (spec.md §4.2
// "Publication happens only when entering a slow path", §4.4 step 1) —
// the fast paths in locks.go never touch conflictClock/txnTS, so a
// population of fully disjoint, conflict-free transactions never
// contends on this shared state at all.

// ensureTimestamp draws this attempt's Wait-or-Die timestamp the first
// time it is actually needed — on its first real lock conflict — and
// publishes it, so a rival comparing against tx.tid sees a real value
// instead of noTimestamp. Once drawn, myTS is kept unchanged across
// every restart of this logical transaction (spec.md §4.2): dying and
// retrying must not let a transaction draw a fresher timestamp, or the
// restart bound would no longer hold.
func (e *Engine) ensureTimestamp(tx *Tx) {
	if tx.myTS != noTimestamp {
		return
	}
	tx.myTS = atomic.AddUint64(&e.conflictClock, 1)
	atomic.StoreUint64(&e.txnTS[tx.tid].ts, tx.myTS)
}

// unpublishTimestamp clears tx's announced timestamp on commit, so a
// future transaction's getLowestTS/getTSOfWLock scan no longer treats
// this (now idle) thread as a rival.
func (e *Engine) unpublishTimestamp(tx *Tx) {
	atomic.StoreUint64(&e.txnTS[tx.tid].ts, noTimestamp)
}
