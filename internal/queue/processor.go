// Package queue runs the deferred-queue promotion loop on a fixed
// schedule.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"dropgen/internal/infra"
)

// Promoter is the engine surface the processor drives: one promotion
// attempt per tick.
type Promoter interface {
	PromoteOldest(ctx context.Context) (bool, error)
}

// Processor ticks at a fixed interval and promotes at most one deferred
// job per tick, which bounds burstiness and lets the quota counters
// reflect each reservation before the next promotion is considered.
type Processor struct {
	promoter Promoter
	interval time.Duration
	logger   infra.Logger
	cron     *cron.Cron
}

// NewProcessor creates a processor ticking every interval.
func NewProcessor(promoter Promoter, interval time.Duration, logger infra.Logger) *Processor {
	return &Processor{
		promoter: promoter,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the tick. The returned error only occurs on an
// invalid interval.
func (p *Processor) Start(ctx context.Context) error {
	if p.cron != nil {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", p.interval)
	if _, err := c.AddFunc(spec, func() { p.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule queue processor: %w", err)
	}
	c.Start()
	p.cron = c
	p.logger.Info().Dur("interval", p.interval).Msg("queue: processor started")
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (p *Processor) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	p.cron = nil
	p.logger.Info().Msg("queue: processor stopped")
}

// Tick runs one promotion attempt.
func (p *Processor) Tick(ctx context.Context) {
	promoted, err := p.promoter.PromoteOldest(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("queue: promotion tick failed")
		return
	}
	if promoted {
		p.logger.Debug().Msg("queue: promoted one job")
	}
}
