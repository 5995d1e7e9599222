package stm

import (
	"fmt"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// engineMetrics publishes the engine's commit/abort/restart activity
// through VictoriaMetrics/metrics counters, so a host process can scrape
// them the same way dKV-derived services in this codebase's lineage
// expose theirs. Each Engine gets its own metric set, keyed by a small
// instance id, so multiple engines in one process don't collide.
type engineMetrics struct {
	commits      *metrics.Counter
	aborts       *metrics.Counter
	restartRatio *metrics.Gauge
	ratio        uint64 // restart ratio * 1e6, read by restartRatio's callback
}

var engineInstanceSeq int

func newEngineMetrics() *engineMetrics {
	engineInstanceSeq++
	id := engineInstanceSeq
	m := &engineMetrics{
		commits: metrics.GetOrCreateCounter(fmt.Sprintf(`stm_commits_total{engine="%d"}`, id)),
		aborts:  metrics.GetOrCreateCounter(fmt.Sprintf(`stm_aborts_total{engine="%d"}`, id)),
	}
	m.restartRatio = metrics.GetOrCreateGauge(fmt.Sprintf(`stm_restart_ratio_percent{engine="%d"}`, id), func() float64 {
		return float64(atomic.LoadUint64(&m.ratio)) / 1e6
	})
	return m
}

func (m *engineMetrics) recordCommit() { m.commits.Inc() }
func (m *engineMetrics) recordAbort()  { m.aborts.Inc() }

// recordShutdown snapshots a final Report into the counters so the
// values are correct even if the caller never drove a single commit or
// abort through recordCommit/recordAbort directly (e.g. a Tx that was
// reset out from under a restored snapshot in tests). The restart-ratio
// gauge's callback can't be handed r directly (metrics.Gauge's callback
// takes no arguments and may be invoked by a scraper at any later time,
// not just now), so the computed ratio is stashed in m.ratio — the same
// formula Report.String() uses — for the callback to read back.
func (m *engineMetrics) recordShutdown(r Report) {
	m.commits.Set(r.TotalCommits)
	m.aborts.Set(r.TotalAborts)
	ratio := 100 * float64(r.TotalAborts) / float64(r.TotalCommits+1)
	atomic.StoreUint64(&m.ratio, uint64(ratio*1e6))
}
