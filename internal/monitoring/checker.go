package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/visitor-intel/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker periodically collects a snapshot and alerts on breached
// thresholds. An alert type is delivered once when it starts firing and
// again only after it has cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	firing    map[AlertType]bool
}

// NewChecker creates a Checker. A non-positive check interval falls back to
// five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		firing:    make(map[AlertType]bool),
	}
}

// Run checks on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().Named("monitoring")
	log.Info("monitoring: checker started", zap.Duration("interval", c.interval))
	defer log.Info("monitoring: checker stopped")

	tick := time.NewTicker(c.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.check(ctx, log)
		}
	}
}

// check runs one collection and returns the number of alerts delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: snapshot failed", zap.Error(err))
		return 0
	}

	fired := c.alerter.Evaluate(snap)
	active := make(map[AlertType]bool, len(fired))
	sent := 0
	for _, al := range fired {
		active[al.Type] = true
		if c.firing[al.Type] {
			continue
		}
		// Undelivered alerts stay unmarked so the next tick retries them.
		if c.alerter.SendAlerts(ctx, []Alert{al}) == 1 {
			c.firing[al.Type] = true
			sent++
		}
	}
	for t := range c.firing {
		if !active[t] {
			delete(c.firing, t)
			log.Info("monitoring: alert cleared", zap.String("type", string(t)))
		}
	}

	if len(fired) > 0 {
		log.Debug("monitoring: check complete", zap.Int("firing", len(fired)), zap.Int("sent", sent))
	}
	return sent
}
