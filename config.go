package stm

// Config holds the compile-time tunables of the original 2PLSF engine as
// runtime values, so a Go program can size the engine to its workload
// instead of recompiling a header.
type Config struct {
	// MaxThreads is the maximum number of goroutines that can hold a
	// registered Handle at once.
	MaxThreads int

	// NumRWL is the number of write-locks. Must be a power of two.
	NumRWL uint64

	// RIPerRWL is the number of write-locks that share one read-indicator
	// bit-word slot. Must be a power of two, at least 1.
	RIPerRWL uint32

	// TxMaxAllocs bounds the number of TxNew/TxMalloc calls in a single
	// transaction attempt.
	TxMaxAllocs int

	// TxMaxRetires bounds the number of TxDelete/TxFree calls in a single
	// transaction attempt.
	TxMaxRetires int

	// MaxReadSetEntries bounds the number of distinct read-locks a single
	// transaction attempt may acquire.
	MaxReadSetEntries int

	// MaxWriteSetEntries bounds the number of distinct write-locks (undo
	// log entries) a single transaction attempt may acquire.
	MaxWriteSetEntries int

	// MaxAllocBytes bounds a single TxMalloc request. Go's allocator
	// can't signal OOM the way malloc can, so this ceiling is what
	// makes ErrOutOfMemory reachable at all (SPEC_FULL.md §7).
	MaxAllocBytes int
}

// DefaultConfig mirrors the production constants of the original engine:
// 256 threads, 4M write-locks (one per 32-byte region), unshared
// read-indicators.
func DefaultConfig() Config {
	return Config{
		MaxThreads:         256,
		NumRWL:             4 * 1024 * 1024,
		RIPerRWL:           1,
		TxMaxAllocs:        10 * 1024,
		TxMaxRetires:       10 * 1024,
		MaxReadSetEntries:  64 * 1024,
		MaxWriteSetEntries: 128 * 1024,
		MaxAllocBytes:      64 * 1024 * 1024,
	}
}

// TestConfig returns a Config with the same shape as DefaultConfig but
// small enough to allocate instantly in unit tests and benchmarks.
func TestConfig() Config {
	return Config{
		MaxThreads:         64,
		NumRWL:             4096,
		RIPerRWL:           1,
		TxMaxAllocs:        1024,
		TxMaxRetires:       1024,
		MaxReadSetEntries:  1024,
		MaxWriteSetEntries: 1024,
		MaxAllocBytes:      1024 * 1024,
	}
}

func isPowerOfTwo(v uint64) bool { return v != 0 && v&(v-1) == 0 }

// validate checks the structural requirements spec.md places on the
// tunables (NumRWL and RIPerRWL must be powers of two).
func (c Config) validate() error {
	if c.MaxThreads <= 0 {
		return &FatalError{Kind: "config", Msg: "MaxThreads must be positive"}
	}
	if !isPowerOfTwo(c.NumRWL) {
		return &FatalError{Kind: "config", Msg: "NumRWL must be a power of two"}
	}
	if c.RIPerRWL == 0 || !isPowerOfTwo(uint64(c.RIPerRWL)) {
		return &FatalError{Kind: "config", Msg: "RIPerRWL must be a power of two >= 1"}
	}
	return nil
}

// numRIWords is NUM_RI_WORDS from the original: the number of
// read-indicator words needed to cover every (tid, widx) pair.
func (c Config) numRIWords() uint64 {
	return c.NumRWL * uint64(c.MaxThreads) / 64
}
