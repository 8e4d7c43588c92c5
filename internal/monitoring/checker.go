package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veridocs/correction-cli/internal/model"
)

// CheckerConfig tunes the background backlog watchdog.
type CheckerConfig struct {
	CheckIntervalSecs int `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	BacklogWarn       int `yaml:"backlog_warn" mapstructure:"backlog_warn"`
}

// Checker periodically samples engine status and logs a warning when the
// unanalyzed backlog grows past the configured threshold or the last
// analysis run failed.
type Checker struct {
	collector *Collector
	cfg       CheckerConfig
}

// NewChecker creates a background backlog checker.
func NewChecker(collector *Collector, cfg CheckerConfig) *Checker {
	return &Checker{collector: collector, cfg: cfg}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting backlog checker",
		zap.Duration("interval", interval),
		zap.Int("backlog_warn", c.cfg.BacklogWarn),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("backlog checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect status", zap.Error(err))
		return
	}

	if c.cfg.BacklogWarn > 0 && snap.PendingEvents >= c.cfg.BacklogWarn {
		log.Warn("monitoring: correction backlog above threshold",
			zap.Int("pending_events", snap.PendingEvents),
			zap.Int("threshold", c.cfg.BacklogWarn),
		)
	}
	if snap.LastRun != nil && snap.LastRun.Status == model.RunStatusFailed {
		log.Warn("monitoring: last analysis run failed",
			zap.String("run_id", snap.LastRun.ID),
			zap.String("error", snap.LastRun.ErrorMessage),
		)
	}
}
