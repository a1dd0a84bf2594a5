package orchestrator

import (
	"sync/atomic"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// Stats counts generation outcomes for the lifetime of the process.
type Stats interface {
	RecordPrimary()
	RecordFallback()
	RecordFailure()
	Snapshot() models.RunningStats
}

// AtomicStats is a lock-free Stats.
type AtomicStats struct {
	primary  atomic.Int64
	fallback atomic.Int64
	failures atomic.Int64
}

func (s *AtomicStats) RecordPrimary()  { s.primary.Add(1) }
func (s *AtomicStats) RecordFallback() { s.fallback.Add(1) }
func (s *AtomicStats) RecordFailure()  { s.failures.Add(1) }

func (s *AtomicStats) Snapshot() models.RunningStats {
	return models.RunningStats{
		PrimarySuccesses:  s.primary.Load(),
		FallbackSuccesses: s.fallback.Load(),
		TotalFailures:     s.failures.Load(),
	}
}
