package stm

import (
	"log"
	"runtime"
	"sync/atomic"
)

// stallWarnIterations bounds the optional stall diagnostic from
// spec.md §5 ("an optional diagnostic after 10^8 iterations"): a slow
// path logs each time its spin count reaches a multiple of this value
// without the rival it's older than ever releasing, which in a correctly functioning engine
// only happens under a process-wide stall (e.g. a debugger paused the
// rival's goroutine), not ordinary contention.
const stallWarnIterations = 100000000

// getTSOfWLock returns the announced timestamp of the thread that
// currently owns widx's write-lock, or noTimestamp if it is unlocked.
func (e *Engine) getTSOfWLock(widx uint64) uint64 {
	wstate := atomic.LoadUint64(&e.wlocks[widx])
	if wstate == unlockedSlot {
		return noTimestamp
	}
	return atomic.LoadUint64(&e.txnTS[wstate].ts)
}

// getLowestTS returns the oldest (numerically smallest) announced
// timestamp among every thread other than selfTid that holds a
// read-indicator bit on widx or owns its write-lock, along with that
// thread's tid. It scans the full configured thread capacity rather
// than the registry's current live count, matching the asymmetric scan
// bound the slow path uses in the original (isEmpty uses the dynamic
// count; this does not, spec.md §4.3).
func (e *Engine) getLowestTS(widx uint64, selfTid int) (lowestTS uint64, lowestTid int) {
	lowestTS = noTimestamp
	lowestTid = invalidTid

	andmask := riBit(widx)
	numRIWords := e.cfg.numRIWords()
	for itid := 0; itid < e.cfg.MaxThreads; itid++ {
		if itid == selfTid {
			continue
		}
		ridx := writeIdx2ReadIdx(widx, itid, e.cfg.MaxThreads, numRIWords, e.cfg.RIPerRWL)
		ri := atomic.LoadUint64(&e.readIndicators[ridx])
		if ri&andmask != andmask {
			continue
		}
		if ts := atomic.LoadUint64(&e.txnTS[itid].ts); ts < lowestTS {
			lowestTS = ts
			lowestTid = itid
		}
	}

	if wstate := atomic.LoadUint64(&e.wlocks[widx]); wstate != unlockedSlot && int(wstate) != selfTid {
		if wts := atomic.LoadUint64(&e.txnTS[wstate].ts); wts < lowestTS {
			lowestTS = wts
			lowestTid = int(wstate)
		}
	}
	return lowestTS, lowestTid
}

// waitForConflictingTxn busy-waits while the rival at otid is still
// live with the same observed timestamp oTS. It is beginTx's post-die
// gate: a transaction that just died to an older rival parks here until
// that rival's announced timestamp changes or is cleared (it commits),
// instead of re-entering the same conflict straight away.
func (e *Engine) waitForConflictingTxn(otid int, oTS uint64) {
	for atomic.LoadUint64(&e.txnTS[otid].ts) == oTS {
		runtime.Gosched()
	}
}

// writeLockSlowPath is reached once the write-lock fast path in
// locks.go could not win widx outright. It draws this attempt's
// Wait-or-Die timestamp on first use (clock.go's ensureTimestamp), then
// repeatedly attempts to take (or confirm holding) the lock and see no
// conflicting readers; failing that, it applies Wait-or-Die against the
// oldest rival and either waits (we are older) or dies (we are
// younger) by panicking with abortConflict, which restartLoop (txn.go)
// turns into an abort+retry.
//
// The "wait" branch re-reads the real lock state every iteration
// instead of parking on the one rival it first observed
// (waitForConflictingTxn is reserved for beginTx's post-die gate): a
// rival can itself die to a third, even older transaction and release
// widx without its own announced timestamp ever changing, so parking
// on that identity would miss the release entirely.
func (e *Engine) writeLockSlowPath(tx *Tx, widx uint64) bool {
	e.ensureTimestamp(tx)
	var spins uint64
	for {
		if wstate := atomic.LoadUint64(&e.wlocks[widx]); wstate == unlockedSlot {
			atomic.CompareAndSwapUint64(&e.wlocks[widx], wstate, uint64(tx.tid))
		}
		if atomic.LoadUint64(&e.wlocks[widx]) == uint64(tx.tid) && e.isEmpty(widx, tx.tid) {
			return true
		}

		oTS, otid := e.getLowestTS(widx, tx.tid)
		tx.oTS, tx.otid = oTS, otid
		if tx.myTS < oTS {
			// Older than every current rival (also true when oTS is
			// noTimestamp, the max value, i.e. no rival observed yet):
			// re-poll rather than park on otid's identity.
			spins++
			if spins%stallWarnIterations == 0 {
				log.Printf("stm: write-lock slow path on widx=%d has spun %d times waiting on tid=%d", widx, spins, otid)
			}
			runtime.Gosched()
			continue
		}

		// We are younger than every rival holding widx: die.
		if atomic.LoadUint64(&e.wlocks[widx]) == uint64(tx.tid) {
			atomic.StoreUint64(&e.wlocks[widx], unlockedSlot)
		}
		conflictAbort()
		return false // unreachable: conflictAbort never returns
	}
}

// readLockSlowPath is reached once the read-lock fast path in locks.go
// observed a conflicting write-lock owner after speculatively setting
// its read-indicator bit. It draws this attempt's Wait-or-Die timestamp
// on first use, then waits on or dies to the write-lock's owner
// following the same rule as writeLockSlowPath — re-polling wlocks[widx]
// directly every iteration rather than parking on one rival's identity,
// for the same reason (the holder can release by dying to a third,
// even older transaction without its own timestamp changing).
func (e *Engine) readLockSlowPath(tx *Tx, widx uint64, ridx uint64, newri uint64) bool {
	_ = ridx
	_ = newri
	e.ensureTimestamp(tx)
	var spins uint64
	for {
		wstate := atomic.LoadUint64(&e.wlocks[widx])
		if wstate == unlockedSlot || wstate == uint64(tx.tid) {
			return true
		}

		oTS := e.getTSOfWLock(widx)
		otid := int(wstate)
		if tx.myTS < oTS {
			spins++
			if spins%stallWarnIterations == 0 {
				log.Printf("stm: read-lock slow path on widx=%d has spun %d times waiting on tid=%d", widx, spins, otid)
			}
			runtime.Gosched()
			continue
		}

		// We are younger than the write-lock holder: die. Undo the
		// read-indicator bit we speculatively set in the fast path.
		tx.oTS, tx.otid = oTS, otid
		e.unlockRead(widx, tx.tid)
		conflictAbort()
		return false // unreachable
	}
}
