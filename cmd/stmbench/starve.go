package main

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	stm "github.com/LivingAimlessly/2PLSF"
)

var starveCmd = &cobra.Command{
	Use:   "starve",
	Short: "probe for starvation: every goroutine must keep committing on a hot cell",
	RunE:  runStarve,
}

func init() {
	starveCmd.Flags().Duration("duration", 3*time.Second, wrapString("How long to run the probe"))
}

func runStarve(cmd *cobra.Command, _ []string) error {
	threads := viper.GetInt("threads")
	duration := viper.GetDuration("duration")

	cfg := stm.DefaultConfig()
	cfg.MaxThreads = threads + 1
	e, err := stm.New(cfg)
	if err != nil {
		return err
	}
	hot := stm.NewTxCell(0)

	counts := make([]int64, threads)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go func(i int) {
			defer wg.Done()
			h, err := e.Register()
			if err != nil {
				fmt.Println("register:", err)
				return
			}
			defer h.Close()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if err := e.UpdateTx(h, func(tx *stm.Tx) error {
					hot.Store(tx, hot.Load(tx)+1)
					return nil
				}); err != nil {
					fmt.Printf("goroutine %d: UpdateTx: %v\n", i, err)
					return
				}
				counts[i]++
			}
		}(i)
	}

	time.Sleep(duration)
	close(stop)
	wg.Wait()

	floats := make([]float64, len(counts))
	for i, c := range counts {
		floats[i] = float64(c)
	}
	s := newStats(floats)

	fmt.Printf("duration=%s threads=%d\n", duration, threads)
	fmt.Printf("per-goroutine commits: min=%.0f max=%.0f mean=%.1f stddev=%.1f min/max=%.3f\n",
		s.Min, s.Max, s.Mean, s.StdDeviation, s.MinMaxRatio)
	if s.Min == 0 {
		fmt.Println("STARVED: at least one goroutine committed zero transactions")
	} else {
		fmt.Println("no starvation observed: every goroutine made forward progress")
	}
	fmt.Println(e.Shutdown())
	return nil
}

// stats is a distribution summary over a run's per-goroutine commit
// counts, the starvation-probe counterpart of the size-histogram
// statistics this codebase's lineage computes over value sizes.
type stats struct {
	StdDeviation float64
	Min          float64
	Max          float64
	Mean         float64
	MinMaxRatio  float64
}

func newStats(values []float64) stats {
	if len(values) == 0 {
		return stats{}
	}
	min, max := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(len(values)))

	ratio := 1.0
	if max > 0 {
		ratio = min / max
	}
	return stats{StdDeviation: stddev, Min: min, Max: max, Mean: mean, MinMaxRatio: ratio}
}
