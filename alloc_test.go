package stm

import "testing"

// TestTxDeleteDefersUntilCommit covers S6: a TxDelete'd object's
// cleanup must not run until its transaction commits, and must run once
// it does. The abort case is TestTxDeleteSkippedOnAbort.
func TestTxDeleteDefersUntilCommit(t *testing.T) {
	e := newTestEngine(t)
	h, err := e.Register()
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer h.Close()

	type resource struct{ id int }
	r := &resource{id: 7}

	ranCleanup := false
	err = e.UpdateTx(h, func(tx *Tx) error {
		TxDelete(tx, r, func(res *resource) { ranCleanup = true })
		if ranCleanup {
			t.Fatalf("cleanup ran before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateTx: %v", err)
	}
	if !ranCleanup {
		t.Fatalf("cleanup should have run on commit")
	}
}

// TestTxDeleteSkippedOnAbort checks the bug-fixed half of S6: an
// aborted transaction's TxDelete must never run its cleanup, even after
// the transaction successfully retries and commits with a DIFFERENT
// outcome.
func TestTxDeleteSkippedOnAbort(t *testing.T) {
	e := newTestEngine(t)
	h, err := e.Register()
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer h.Close()

	cleanupRuns := 0
	first := true
	err = e.UpdateTx(h, func(tx *Tx) error {
		TxDelete(tx, new(int), func(*int) { cleanupRuns++ })
		if first {
			first = false
			panic(abortConflict{})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateTx: %v", err)
	}
	if cleanupRuns != 1 {
		t.Fatalf("cleanupRuns = %d, want 1 (only the committed attempt's TxDelete should run)", cleanupRuns)
	}
}

// TestTxNewRollsBackOnAbort covers the other half of S6: a TxNew made
// during an attempt that aborts must not linger in the retried
// attempt's allocation log. A transaction that fills TxMaxAllocs,
// dies, and retries must be able to fill TxMaxAllocs again — if the log
// weren't cleared between attempts, the retry would immediately
// overflow on its very first TxNew.
func TestTxNewRollsBackOnAbort(t *testing.T) {
	cfg := TestConfig()
	cfg.TxMaxAllocs = 4
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := e.Register()
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer h.Close()

	attempts := 0
	err = e.UpdateTx(h, func(tx *Tx) error {
		attempts++
		for i := 0; i < cfg.TxMaxAllocs; i++ {
			TxNew(tx, i)
		}
		if attempts == 1 {
			panic(abortConflict{})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateTx: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (first dies, second commits)", attempts)
	}
}

// TestTxNewRespectsAllocBound checks that TxMaxAllocs is enforced as a
// fatal log overflow rather than growing unboundedly.
func TestTxNewRespectsAllocBound(t *testing.T) {
	cfg := TestConfig()
	cfg.TxMaxAllocs = 4
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := e.Register()
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer h.Close()

	defer func() {
		r := recover()
		fe, ok := r.(*FatalError)
		if !ok {
			t.Fatalf("expected *FatalError panic, got %v", r)
		}
		if fe.Kind != "log-overflow" {
			t.Fatalf("Kind = %q, want log-overflow", fe.Kind)
		}
	}()
	_ = e.UpdateTx(h, func(tx *Tx) error {
		for i := 0; i < cfg.TxMaxAllocs+1; i++ {
			TxNew(tx, i)
		}
		return nil
	})
	t.Fatalf("expected panic before reaching this point")
}

// TestTxMallocOutOfMemory checks the OOM ceiling from Config.MaxAllocBytes.
func TestTxMallocOutOfMemory(t *testing.T) {
	cfg := TestConfig()
	cfg.MaxAllocBytes = 16
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := e.Register()
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer h.Close()

	err = e.UpdateTx(h, func(tx *Tx) error {
		_, merr := TxMalloc(tx, 17)
		return merr
	})
	if err != ErrOutOfMemory {
		t.Fatalf("err = %v, want ErrOutOfMemory", err)
	}
}
