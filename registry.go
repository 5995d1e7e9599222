package stm

import (
	"runtime"
	"sync/atomic"
)

// threadRegistry assigns each goroutine that registers a dense id in
// [0, MaxThreads). A slot is used iff some live Handle owns it; maxTid
// only grows, so a scan over [0, maxTid) with a membership check stays
// correct even after a slot is released (spec.md §3).
type threadRegistry struct {
	used   []uint32 // 0/1, one per slot, CAS'd into place
	maxTid int32    // highest assigned tid + 1
}

func newThreadRegistry(maxThreads int) *threadRegistry {
	return &threadRegistry{
		used: make([]uint32, maxThreads),
	}
}

// register implements the wait-free-bounded register_thread_new from
// spec.md §4.1: scan for a free slot, CAS it into use, and bump maxTid
// to cover it.
func (r *threadRegistry) register() (int, *FatalError) {
	for tid := range r.used {
		if atomic.LoadUint32(&r.used[tid]) != 0 {
			continue
		}
		if !atomic.CompareAndSwapUint32(&r.used[tid], 0, 1) {
			continue
		}
		curMax := atomic.LoadInt32(&r.maxTid)
		for int(curMax) <= tid {
			if atomic.CompareAndSwapInt32(&r.maxTid, curMax, int32(tid+1)) {
				break
			}
			curMax = atomic.LoadInt32(&r.maxTid)
		}
		return tid, nil
	}
	return 0, newRegistryExhausted(len(r.used))
}

// release frees a slot. maxTid is never decreased: scans over
// [0, maxTid) simply skip released (unused) slots.
func (r *threadRegistry) release(tid int) {
	atomic.StoreUint32(&r.used[tid], 0)
}

func (r *threadRegistry) getMaxThreads() int {
	return int(atomic.LoadInt32(&r.maxTid))
}

// Handle is a goroutine's registered identity with the engine — the Go
// stand-in for the implicit thread-local tid in the original (see
// SPEC_FULL.md §1). Obtain one with Engine.Register, keep it for the
// lifetime of the goroutine, and Close it when done.
type Handle struct {
	tid int
	tx  *Tx
	eng *Engine
}

// Register assigns this call's goroutine a dense tid and returns its
// Handle. Callers should call Register once per goroutine and reuse the
// Handle for every subsequent transaction on that goroutine.
func (e *Engine) Register() (*Handle, error) {
	tid, ferr := e.registry.register()
	if ferr != nil {
		return nil, ferr
	}
	h := &Handle{tid: tid, tx: e.opData[tid], eng: e}
	runtime.SetFinalizer(h, func(h *Handle) { h.eng.registry.release(h.tid) })
	return h, nil
}

// Close releases this Handle's slot back to the registry, the
// equivalent of the thread-local ThreadCheckInCheckOut destructor
// firing when an OS thread exits.
func (h *Handle) Close() {
	runtime.SetFinalizer(h, nil)
	h.eng.registry.release(h.tid)
}

// TID returns the dense thread id assigned to this Handle.
func (h *Handle) TID() int { return h.tid }
