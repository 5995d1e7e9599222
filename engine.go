// Package stm implements a starvation-free software transactional
// memory runtime on top of distributed two-phase locking with an undo
// log. Application goroutines run groups of shared-memory reads and
// writes as atomic transactions through Engine.UpdateTx/ReadTx; a
// transaction restarts at most Config.MaxThreads times and never
// aborts at commit time because there is no read-set validation —
// conflicts are resolved entirely up front by the Wait-or-Die protocol
// in waitordie.go.
//
// A goroutine that wants to run transactions registers once with
// Engine.Register to obtain a *Handle (the dense thread id the locking
// protocol indexes by), then passes the *Tx handed to its transaction
// closure into every TxCell load/store.
package stm

import (
	"fmt"
	"sync/atomic"
)

const (
	noTimestamp  uint64 = 0xFFFFFFFFFFFFFFFF
	unlockedSlot uint64 = (1 << 16) - 1 // UNLOCKED sentinel, spec.md §3
)

// tsSlot is a cache-line-padded announced timestamp, one per registered
// thread (spec.md §3: "padded to its own cache line").
type tsSlot struct {
	ts uint64
	_  [15]uint64 // pad to 128 bytes
}

// Engine is the process-wide (or, in Go, module-instance-wide) STM
// runtime: the write-lock array, the read-indicator array, the
// conflict clock, the announced-timestamps array, and the thread
// registry. Construct one with New and share it across every goroutine
// that participates in the same transactional domain.
type Engine struct {
	cfg Config

	registry *threadRegistry
	opData   []*Tx

	wlocks         []uint64 // NUM_RWL atomic slots: unlockedSlot or owner tid
	readIndicators []uint64 // NUM_RI_WORDS atomic bitmap words

	conflictClock uint64 // monotonic, drawn via fetch-add
	txnTS         []tsSlot

	stats *engineMetrics
}

// New builds an Engine from cfg, allocating the write-lock array, the
// read-indicator array, the announced-timestamps array, and one Tx per
// possible thread slot up front (mirrors the original's STM()
// constructor, spec.md §3 "OpData: allocated at engine startup").
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:            cfg,
		registry:       newThreadRegistry(cfg.MaxThreads),
		opData:         make([]*Tx, cfg.MaxThreads),
		wlocks:         make([]uint64, cfg.NumRWL),
		readIndicators: make([]uint64, cfg.numRIWords()),
		conflictClock:  1,
		txnTS:          make([]tsSlot, cfg.MaxThreads),
		stats:          newEngineMetrics(),
	}
	for i := range e.wlocks {
		e.wlocks[i] = unlockedSlot
	}
	for i := range e.txnTS {
		e.txnTS[i].ts = noTimestamp
	}
	for tid := 0; tid < cfg.MaxThreads; tid++ {
		e.opData[tid] = newTx(e, tid)
	}
	return e, nil
}

// Default lazily builds a process-wide Engine with DefaultConfig, for
// callers that just want a shared transactional domain without
// threading an *Engine through their whole program (spec.md §9:
// "use a process-global only at the boundary of the public convenience
// API").
var defaultEngine *Engine

func Default() *Engine {
	if defaultEngine == nil {
		e, err := New(DefaultConfig())
		if err != nil {
			// DefaultConfig is statically valid; this can't happen.
			panic(err)
		}
		defaultEngine = e
	}
	return defaultEngine
}

// Report summarizes cumulative commit/abort statistics across every
// registered thread, the same shutdown report the original's ~STM()
// destructor prints (spec.md §6: "reports cumulative commit/abort
// statistics on shutdown").
type Report struct {
	TotalCommits uint64
	TotalAborts  uint64
}

func (r Report) String() string {
	ratio := 0.0
	if r.TotalCommits+1 > 0 {
		ratio = 100 * float64(r.TotalAborts) / float64(r.TotalCommits+1)
	}
	return fmt.Sprintf("totalCommits=%d totalAborts=%d restartRatio=%.1f%%", r.TotalCommits, r.TotalAborts, ratio)
}

// Shutdown tallies final commit/abort counters across all threads that
// ever registered and returns them as a Report. It does not release any
// resources; the Engine remains usable afterwards.
func (e *Engine) Shutdown() Report {
	var r Report
	for _, tx := range e.opData {
		r.TotalCommits += atomic.LoadUint64(&tx.numCommits)
		r.TotalAborts += atomic.LoadUint64(&tx.numAborts)
	}
	e.stats.recordShutdown(r)
	return r
}
