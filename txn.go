package stm

import (
	"sync/atomic"
	"unsafe"
)

const invalidTid = -1

// writeSetEntry is one undo-log record: the prior 64-bit value that
// lived at addr just before this transaction overwrote it. Entries are
// appended once per Store call (not deduplicated per address) so that
// replaying them in reverse order correctly unwinds repeated stores to
// the same word, per spec.md §3 "Undo log".
type writeSetEntry struct {
	addr unsafe.Pointer
	old  uint64
}

type writeSet struct {
	entries []writeSetEntry
	max     int
}

func (w *writeSet) reset() { w.entries = w.entries[:0] }

func (w *writeSet) add(addr unsafe.Pointer, old uint64) {
	if len(w.entries) >= w.max {
		panic(newLogOverflow("write-set", w.max))
	}
	w.entries = append(w.entries, writeSetEntry{addr: addr, old: old})
}

// rollback undoes every entry in LIFO order, restoring the value that
// was live immediately before this transaction's first store to it.
func (w *writeSet) rollback() {
	for i := len(w.entries) - 1; i >= 0; i-- {
		e := w.entries[i]
		atomic.StoreUint64((*uint64)(e.addr), e.old)
	}
}

// readSet holds the write-indices this transaction has taken a read
// lock on, so they can all be released together at commit or abort.
type readSet struct {
	entries []uint64
	max     int
}

func (r *readSet) reset() { r.entries = r.entries[:0] }

func (r *readSet) add(widx uint64) {
	if len(r.entries) >= r.max {
		panic(newLogOverflow("read-set", r.max))
	}
	r.entries = append(r.entries, widx)
}

// deferredEntry is a TxNew/TxMalloc allocation record (its hook is a
// no-op: the garbage collector reclaims the memory) or a TxDelete/TxFree
// retirement (run on commit); see alloc.go.
type deferredEntry struct {
	run func()
}

// Tx is a registered thread slot's private transaction state: the Go
// analogue of the original's per-thread OpData. A goroutine never
// constructs one directly — New pre-allocates one per slot,
// Engine.BeginTxn/UpdateTx/ReadTx hand out the Handle's Tx and reuse it
// for every transaction on that Handle, and every TxCell access takes it as an explicit
// parameter since Go has no thread-local storage (SPEC_FULL.md §1).
type Tx struct {
	engine *Engine
	tid    int

	active  bool
	attempt uint64

	myTS uint64 // this attempt's announced timestamp, never rewound across restarts
	oTS  uint64 // timestamp of the rival this transaction last died to
	otid int    // tid of the rival this transaction last died to, invalidTid if none pending

	writeSet writeSet
	readSet  readSet

	allocLog []deferredEntry // TxNew/TxMalloc: rolled back on abort
	freeLog  []deferredEntry // TxDelete/TxFree: run on commit

	numAborts  uint64
	numCommits uint64
}

func newTx(e *Engine, tid int) *Tx {
	return &Tx{
		engine: e,
		tid:    tid,
		myTS:   noTimestamp,
		otid:   invalidTid,
		writeSet: writeSet{
			entries: make([]writeSetEntry, 0, 64),
			max:     e.cfg.MaxWriteSetEntries,
		},
		readSet: readSet{
			entries: make([]uint64, 0, 64),
			max:     e.cfg.MaxReadSetEntries,
		},
	}
}

// resetForReuse clears a Tx's logs before the next attempt of the same
// transaction begins, preserving attempt, myTS (the Wait-or-Die
// timestamp must never be rewound across an attempt's own restarts),
// and otid/oTS (beginTx's post-die gate consumes those on the NEXT
// call; clearing them here would run before the gate ever sees them,
// since abortTx calls resetForReuse immediately after recording them).
func (tx *Tx) resetForReuse() {
	tx.writeSet.reset()
	tx.readSet.reset()
	tx.allocLog = tx.allocLog[:0]
	tx.freeLog = tx.freeLog[:0]
}

// beginTx starts a new attempt. It does NOT draw or publish a
// Wait-or-Die timestamp — that happens lazily, only on a real lock
// conflict (clock.go's ensureTimestamp, called from waitordie.go's
// slow paths), so that fully disjoint, conflict-free transactions
// never touch the shared conflict clock or their own txnTS slot
// (spec.md §1's "fast path touches no shared state absent conflict").
//
// If the PREVIOUS attempt died, this is the post-die restart gate
// (spec.md §4.5 "wait for the conflict we lost to clear"): park until
// the rival we lost to has moved off the timestamp we observed, rather
// than immediately hot-spinning back into the same conflict. otid is
// cleared here, after consuming it, not in resetForReuse — it must
// survive from the moment abortTx records it until this gate runs.
func (e *Engine) beginTx(tx *Tx) {
	if tx.otid != invalidTid {
		e.waitForConflictingTxn(tx.otid, tx.oTS)
		tx.otid = invalidTid
	}
	tx.active = true
	tx.resetForReuse()
}

// endTx commits: release every read-lock and every write-lock taken
// this attempt, run deferred frees, unpublish the timestamp (a no-op if
// this attempt never drew one), and reset state for next time.
func (e *Engine) endTx(tx *Tx) {
	for _, we := range tx.writeSet.entries {
		e.unlockWrite(we.addr, tx.tid)
	}
	e.unlockAllReadLocks(tx, tx.tid)
	for _, d := range tx.freeLog {
		d.run()
	}
	e.unpublishTimestamp(tx)
	tx.active = false
	tx.myTS = noTimestamp
	tx.attempt = 0
	atomic.AddUint64(&tx.numCommits, 1)
	e.stats.recordCommit()
	tx.resetForReuse()
}

// abortTx unwinds a failed attempt: optionally replay the undo log
// (enableRollback is false when the caller already knows no writes
// happened, e.g. a pure conflict on the very first lock acquisition),
// release every lock taken so far, reclaim pending allocations, and
// bump the restart counter. The timestamp is kept published and
// unchanged — Wait-or-Die restarts with the SAME myTS (spec.md §4.2).
func (e *Engine) abortTx(tx *Tx, enableRollback bool) {
	if enableRollback {
		tx.writeSet.rollback()
	}
	for _, we := range tx.writeSet.entries {
		e.unlockWrite(we.addr, tx.tid)
	}
	e.unlockAllReadLocks(tx, tx.tid)
	for _, d := range tx.allocLog {
		d.run()
	}
	tx.active = false
	tx.attempt++
	atomic.AddUint64(&tx.numAborts, 1)
	e.stats.recordAbort()
	tx.resetForReuse()
}

// BeginTxn starts a new attempt on h's Tx and returns it. Most callers
// should prefer UpdateTx/ReadTx, which drive the full restart loop;
// BeginTxn/EndTxn/AbortTxn are exposed for callers that need to
// interleave the begin/end bracket with non-closure control flow (e.g.
// the original's DBx1000 integration shape, spec.md §6).
func (e *Engine) BeginTxn(h *Handle) *Tx {
	tx := h.tx
	e.beginTx(tx)
	return tx
}

// EndTxn commits h's in-flight transaction.
func (e *Engine) EndTxn(h *Handle) {
	e.endTx(h.tx)
}

// AbortTxn aborts h's in-flight transaction. enableRollback should be
// true unless the caller can prove no write-lock has been acquired yet.
func (e *Engine) AbortTxn(h *Handle, enableRollback bool) {
	e.abortTx(h.tx, enableRollback)
}

// restartLoop runs fn to completion, transparently restarting on every
// internal conflict abort (recovered abortConflict panic) up to
// Config.MaxThreads times, per spec.md §4.2's restart bound. A *
// FatalError panic (registry/log overflow) is never recovered here and
// propagates to the caller.
func (e *Engine) restartLoop(h *Handle, fn func(tx *Tx) error) (err error) {
	tx := h.tx
	for {
		aborted := func() (aborted bool) {
			e.beginTx(tx)
			defer func() {
				if r := recover(); r != nil {
					if _, ok := r.(abortConflict); ok {
						e.abortTx(tx, true)
						aborted = true
						return
					}
					panic(r)
				}
			}()
			err = fn(tx)
			if err != nil {
				e.abortTx(tx, true)
				aborted = false
				return
			}
			e.endTx(tx)
			return false
		}()
		if !aborted {
			return err
		}
		if int(tx.attempt) > e.cfg.MaxThreads {
			return &FatalError{Kind: "restart-bound-exceeded", Msg: "transaction exceeded Config.MaxThreads restarts"}
		}
	}
}

// UpdateTx runs fn as a read-write transaction on h's Tx, restarting on
// conflict until it commits (or a real error from fn propagates, in
// which case the transaction is rolled back and the error returned
// uncommitted).
func (e *Engine) UpdateTx(h *Handle, fn func(tx *Tx) error) error {
	return e.restartLoop(h, fn)
}

// ReadTx runs fn as a read-only transaction. It still takes read-locks
// (this engine has no separate read-only fast path) so that concurrent
// writers are correctly made to wait-or-die against it.
func (e *Engine) ReadTx(h *Handle, fn func(tx *Tx) error) error {
	return e.restartLoop(h, fn)
}

// conflictAbort panics with the internal sentinel that restartLoop
// recovers. Called by waitordie.go when Wait-or-Die decides this
// transaction must die.
func conflictAbort() {
	panic(abortConflict{})
}
