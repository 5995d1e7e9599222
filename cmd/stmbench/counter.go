package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	stm "github.com/LivingAimlessly/2PLSF"
)

var counterCmd = &cobra.Command{
	Use:   "counter",
	Short: "benchmark many goroutines incrementing one shared TxCell",
	RunE:  runCounter,
}

func runCounter(_ *cobra.Command, _ []string) error {
	threads := viper.GetInt("threads")
	ops := viper.GetInt("ops")

	cfg := stm.DefaultConfig()
	cfg.MaxThreads = threads + 1
	e, err := stm.New(cfg)
	if err != nil {
		return err
	}

	counter := stm.NewTxCell(0)

	var wg sync.WaitGroup
	wg.Add(threads)
	start := time.Now()
	for i := 0; i < threads; i++ {
		go func() {
			defer wg.Done()
			h, err := e.Register()
			if err != nil {
				fmt.Println("register:", err)
				return
			}
			defer h.Close()
			for j := 0; j < ops; j++ {
				err := e.UpdateTx(h, func(tx *stm.Tx) error {
					counter.Store(tx, counter.Load(tx)+1)
					return nil
				})
				if err != nil {
					fmt.Println("UpdateTx:", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	h, err := e.Register()
	if err != nil {
		return err
	}
	defer h.Close()

	var final int
	err = e.ReadTx(h, func(tx *stm.Tx) error {
		final = counter.Load(tx)
		return nil
	})
	if err != nil {
		return err
	}

	report := e.Shutdown()
	totalOps := threads * ops
	fmt.Printf("threads=%d ops/thread=%d total=%d elapsed=%s throughput=%.0f ops/s\n",
		threads, ops, totalOps, elapsed, float64(totalOps)/elapsed.Seconds())
	fmt.Printf("final counter value = %d (want %d)\n", final, totalOps)
	fmt.Println(report)
	return nil
}
