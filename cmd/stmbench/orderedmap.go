package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	stm "github.com/LivingAimlessly/2PLSF"
	"github.com/LivingAimlessly/2PLSF/examples/orderedmap"
)

var orderedMapCmd = &cobra.Command{
	Use:   "orderedmap",
	Short: "benchmark concurrent inserts into the transactional skip list",
	RunE:  runOrderedMap,
}

func runOrderedMap(_ *cobra.Command, _ []string) error {
	threads := viper.GetInt("threads")
	ops := viper.GetInt("ops")

	cfg := stm.DefaultConfig()
	cfg.MaxThreads = threads + 1
	e, err := stm.New(cfg)
	if err != nil {
		return err
	}

	m := orderedmap.New[int, int](e, func(a, b int) int { return a - b })

	var wg sync.WaitGroup
	wg.Add(threads)
	start := time.Now()
	for w := 0; w < threads; w++ {
		go func(w int) {
			defer wg.Done()
			h, err := e.Register()
			if err != nil {
				fmt.Println("register:", err)
				return
			}
			defer h.Close()
			for i := 0; i < ops; i++ {
				key := w*ops + i
				if err := m.Add(h, key, key); err != nil {
					fmt.Println("Add:", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	totalOps := threads * ops
	fmt.Printf("threads=%d ops/thread=%d total=%d elapsed=%s throughput=%.0f ops/s\n",
		threads, ops, totalOps, elapsed, float64(totalOps)/elapsed.Seconds())
	fmt.Println(e.Shutdown())
	return nil
}
