package stm

// alloc.go implements the transactional allocation primitives from
// spec.md §4.4 (tmNew/tmDelete/tmMalloc/tmFree in the original). Go's
// garbage collector makes the original's "free the malloc'd block"
// half of rollback moot — nothing leaks an unreferenced allocation —
// so what actually needs to survive the Go port is the ORDERING
// guarantee: a TxDelete'd object's destructor and retirement must not
// run until the transaction that deleted it commits, and must not run
// at all if that transaction instead aborts (SPEC_FULL.md §9 resolves
// the original's "destructor runs immediately inside an aborted
// transaction" as a bug, not a behavior to preserve).

// TxNew allocates and returns a new *T initialized to init, as part of
// transaction tx. The object becomes part of tx's allocation log purely
// for symmetry with TxMalloc/TxFree bookkeeping (Config.TxMaxAllocs);
// there is nothing to reclaim on abort since the GC already owns it.
func TxNew[T any](tx *Tx, init T) *T {
	if len(tx.allocLog) >= tx.engine.cfg.TxMaxAllocs {
		panic(newLogOverflow("alloc-log", tx.engine.cfg.TxMaxAllocs))
	}
	v := new(T)
	*v = init
	tx.allocLog = append(tx.allocLog, deferredEntry{run: func() {}})
	return v
}

// TxDelete retires ptr as part of transaction tx: cleanup (if non-nil)
// runs once, only if and when tx commits. If tx instead aborts, cleanup
// never runs and ptr is left exactly as it was — the bug-fixed
// semantics SPEC_FULL.md §9 settles on.
func TxDelete[T any](tx *Tx, ptr *T, cleanup func(*T)) {
	if len(tx.freeLog) >= tx.engine.cfg.TxMaxRetires {
		panic(newLogOverflow("free-log", tx.engine.cfg.TxMaxRetires))
	}
	tx.freeLog = append(tx.freeLog, deferredEntry{run: func() {
		if cleanup != nil {
			cleanup(ptr)
		}
	}})
}

// TxMalloc allocates a size-byte buffer as part of transaction tx. It
// returns ErrOutOfMemory once size exceeds Config.MaxAllocBytes — the
// only OOM signal a Go allocator can meaningfully give, since make/new
// panic rather than return nil (SPEC_FULL.md §7).
func TxMalloc(tx *Tx, size int) ([]byte, error) {
	if size > tx.engine.cfg.MaxAllocBytes {
		return nil, ErrOutOfMemory
	}
	if len(tx.allocLog) >= tx.engine.cfg.TxMaxAllocs {
		panic(newLogOverflow("alloc-log", tx.engine.cfg.TxMaxAllocs))
	}
	buf := make([]byte, size)
	tx.allocLog = append(tx.allocLog, deferredEntry{run: func() {}})
	return buf, nil
}

// TxFree retires buf as part of transaction tx; the backing array is
// simply dropped on commit (no cleanup hook needed for a raw buffer).
func TxFree(tx *Tx, buf []byte) {
	if len(tx.freeLog) >= tx.engine.cfg.TxMaxRetires {
		panic(newLogOverflow("free-log", tx.engine.cfg.TxMaxRetires))
	}
	tx.freeLog = append(tx.freeLog, deferredEntry{run: func() { _ = buf }})
}
