// Package monitoring reports task-queue health and raises webhook alerts when
// enrichment falls behind or starts failing.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visitor-intel/internal/model"
	"github.com/sells-group/visitor-intel/internal/resilience"
	"github.com/sells-group/visitor-intel/internal/store"
)

// Snapshot holds a point-in-time view of the identification pipeline.
type Snapshot struct {
	TasksPending   int     `json:"tasks_pending"`
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	TaskFailRate   float64 `json:"task_fail_rate"`

	UnidentifiedVisits int `json:"unidentified_visits"`
	Companies          int `json:"companies"`
	IPRanges           int `json:"ip_ranges"`

	Breakers map[string]resilience.BreakerStatus `json:"breakers,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// StatsSource abstracts the store method the collector needs.
type StatsSource interface {
	Stats(ctx context.Context) (*store.Stats, error)
}

// Collector gathers snapshots from the store and the circuit breakers.
type Collector struct {
	stats    StatsSource
	breakers *resilience.ServiceBreakers
	nowFunc  func() time.Time
}

// NewCollector creates a new collector. breakers may be nil.
func NewCollector(stats StatsSource, breakers *resilience.ServiceBreakers) *Collector {
	return &Collector{
		stats:    stats,
		breakers: breakers,
		nowFunc:  func() time.Time { return time.Now().UTC() },
	}
}

// Collect gathers a snapshot of the current pipeline state.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	st, err := c.stats.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect stats")
	}

	snap := &Snapshot{
		TasksPending:       st.TasksByStatus[model.TaskStatusPending],
		TasksCompleted:     st.TasksByStatus[model.TaskStatusCompleted],
		TasksFailed:        st.TasksByStatus[model.TaskStatusFailed],
		UnidentifiedVisits: st.UnidentifiedVisits,
		Companies:          st.Companies,
		IPRanges:           st.IPRanges,
		CollectedAt:        c.nowFunc(),
	}

	if finished := snap.TasksCompleted + snap.TasksFailed; finished > 0 {
		snap.TaskFailRate = float64(snap.TasksFailed) / float64(finished)
	}

	if c.breakers != nil {
		snap.Breakers = c.breakers.Statuses()
	}

	return snap, nil
}
