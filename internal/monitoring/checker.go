package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/config"
)

// Checker evaluates thresholds on an interval in the background of serve.
// An alert is posted when its condition starts and again only after it has
// cleared; a DLQ that stays deep does not page every tick.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	active map[AlertType]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		active:    make(map[AlertType]bool),
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.Check(ctx)
		}
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects a snapshot, posts alerts that were not already active and
// returns them. Alerts that no longer fire are cleared.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackHours)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return nil
	}

	firing := c.alerter.Evaluate(snap)
	seen := make(map[AlertType]bool, len(firing))
	var fresh []Alert
	for _, a := range firing {
		seen[a.Type] = true
		if c.active[a.Type] {
			continue
		}
		log.Warn("monitoring: threshold breached", zap.String("type", string(a.Type)), zap.String("message", a.Message))
		fresh = append(fresh, a)
	}
	for t := range c.active {
		if !seen[t] {
			log.Info("monitoring: alert cleared", zap.String("type", string(t)))
		}
	}
	c.active = seen

	if len(fresh) == 0 {
		return nil
	}
	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alerts posted", zap.Int("new", len(fresh)), zap.Int("sent", sent), zap.Int("firing", len(firing)))
	return fresh
}
