package stm

import (
	"sync/atomic"
	"unsafe"
)

// tryWaitReadLock is the hot-path read-lock acquisition from spec.md
// §4.3. It returns true once the calling Tx holds (or already held) a
// read-lock on addr's write-index, false only after the Wait-or-Die
// slow path decides to "die" (at which point the caller must abort).
func (e *Engine) tryWaitReadLock(tx *Tx, addr unsafe.Pointer) bool {
	widx := addr2WriteIdx(addr, e.cfg.NumRWL)
	ridx := writeIdx2ReadIdx(widx, tx.tid, e.cfg.MaxThreads, e.cfg.numRIWords(), e.cfg.RIPerRWL)

	ri := atomic.LoadUint64(&e.readIndicators[ridx])
	newri := ri | riBit(widx)
	if newri == ri {
		// Already arrived: we hold this read-lock from earlier in the tx.
		return true
	}
	tx.readSet.add(widx)
	// Exchange is faster than fetch_add/CAS on x86 and we're the sole
	// writer of this word (single-writer-per-word, spec.md §4.3).
	atomic.SwapUint64(&e.readIndicators[ridx], newri)

	wstate := atomic.LoadUint64(&e.wlocks[widx])
	if wstate == unlockedSlot || wstate == uint64(tx.tid) {
		return true
	}
	return e.readLockSlowPath(tx, widx, ridx, newri)
}

// tryWaitWriteLock is the hot-path write-lock acquisition from spec.md
// §4.3. On success the prior 64-bit value at addr has already been
// logged into the Tx's undo set.
func (e *Engine) tryWaitWriteLock(tx *Tx, addr unsafe.Pointer) bool {
	widx := addr2WriteIdx(addr, e.cfg.NumRWL)
	wstate := atomic.LoadUint64(&e.wlocks[widx])
	if wstate == uint64(tx.tid) ||
		(wstate == unlockedSlot && atomic.CompareAndSwapUint64(&e.wlocks[widx], wstate, uint64(tx.tid)) && e.isEmpty(widx, tx.tid)) {
		tx.writeSet.add(addr, atomic.LoadUint64((*uint64)(addr)))
		return true
	}
	if e.writeLockSlowPath(tx, widx) {
		tx.writeSet.add(addr, atomic.LoadUint64((*uint64)(addr)))
		return true
	}
	return false
}

// TryReadLock is the externally callable lock hint from spec.md §6: it
// acquires (or confirms) a read-lock on addr's write-index for tx.
// length is accepted for API compatibility with the original's
// byte-range hint but ignored — one address always maps to exactly one
// widx (spec.md §3 "one lock per 32-byte region").
func (e *Engine) TryReadLock(tx *Tx, addr unsafe.Pointer, length uintptr) bool {
	_ = length
	return e.tryWaitReadLock(tx, addr)
}

// TryWriteLock is TryReadLock's write-lock counterpart.
func (e *Engine) TryWriteLock(tx *Tx, addr unsafe.Pointer, length uintptr) bool {
	_ = length
	return e.tryWaitWriteLock(tx, addr)
}

// unlockWrite releases addr's write-lock with a store-release, but only
// if this tid actually holds it (a transaction may have failed to win
// the lock in the fast path and never taken it at all).
func (e *Engine) unlockWrite(addr unsafe.Pointer, tid int) {
	widx := addr2WriteIdx(addr, e.cfg.NumRWL)
	if atomic.LoadUint64(&e.wlocks[widx]) == uint64(tid) {
		atomic.StoreUint64(&e.wlocks[widx], unlockedSlot)
	}
}

// unlockRead clears tid's read-indicator bit for widx with a
// store-release (single-writer word: a plain load + mask + store
// suffices, per spec.md §4.3).
func (e *Engine) unlockRead(widx uint64, tid int) {
	ridx := writeIdx2ReadIdx(widx, tid, e.cfg.MaxThreads, e.cfg.numRIWords(), e.cfg.RIPerRWL)
	rmask := riBit(widx)
	ri := atomic.LoadUint64(&e.readIndicators[ridx])
	if ri&rmask == 0 {
		return
	}
	atomic.StoreUint64(&e.readIndicators[ridx], ri&^rmask)
}

func (e *Engine) unlockAllReadLocks(tx *Tx, tid int) {
	for _, widx := range tx.readSet.entries {
		e.unlockRead(widx, tid)
	}
}

// isEmpty reports whether no thread other than selfTid has a read
// interest (held or pending) on widx. The scan bound is the registry's
// current live maxTid, unlike the slow-path timestamp scans in
// waitordie.go which
// scan the full configured thread capacity (matching the original's
// asymmetric scan bounds).
func (e *Engine) isEmpty(widx uint64, selfTid int) bool {
	maxThreads := e.registry.getMaxThreads()
	andmask := riBit(widx)
	numRIWords := e.cfg.numRIWords()
	for itid := 0; itid < maxThreads; itid++ {
		ridx := writeIdx2ReadIdx(widx, itid, e.cfg.MaxThreads, numRIWords, e.cfg.RIPerRWL)
		ri := atomic.LoadUint64(&e.readIndicators[ridx])
		if (ri&andmask) == andmask && itid != selfTid {
			return false
		}
	}
	return true
}
