package server

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// stepper advances the simulation by exactly one fixed step.
type stepper interface {
	stepAgents(ctx context.Context, workers int)
}

type tickerFactory func(time.Duration) (<-chan time.Time, func())

type timeSource func() time.Time

// tickEngine schedules one simulation step per period. Steps are discrete:
// the simulation never sees wall-clock time, so a late wake-up runs a single
// step and the missed ones are dropped and counted.
type tickEngine struct {
	target  stepper
	period  time.Duration
	workers int
	logger  *log.Logger

	newTicker tickerFactory
	now       timeSource
	wg        sync.WaitGroup

	steps   atomic.Uint64
	skipped atomic.Uint64
}

func defaultTickerFactory() tickerFactory {
	return func(d time.Duration) (<-chan time.Time, func()) {
		ticker := time.NewTicker(d)
		return ticker.C, ticker.Stop
	}
}

func newTickEngine(target stepper, period time.Duration, workers int, logger *log.Logger) *tickEngine {
	if workers <= 0 {
		workers = 1
	}
	if period <= 0 {
		period = 50 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	return &tickEngine{
		target:    target,
		period:    period,
		workers:   workers,
		logger:    logger,
		newTicker: defaultTickerFactory(),
		now:       time.Now,
	}
}

func (e *tickEngine) Start(ctx context.Context) {
	if e == nil || e.target == nil {
		return
	}
	e.wg.Add(1)
	go e.run(ctx)
}

func (e *tickEngine) run(ctx context.Context) {
	defer e.wg.Done()
	tickerC, stop := e.newTicker(e.period)
	defer stop()

	due := e.now().Add(e.period)
	for {
		select {
		case <-ctx.Done():
			return
		case at := <-tickerC:
			if at.Before(due) {
				continue
			}
			if behind := uint64(at.Sub(due) / e.period); behind > 0 {
				e.skipped.Add(behind)
				e.logger.Printf("tick loop %d steps behind, skipping them", behind)
				due = due.Add(time.Duration(behind) * e.period)
			}
			due = due.Add(e.period)
			e.steps.Add(1)
			e.target.stepAgents(ctx, e.workers)
		}
	}
}

// Steps returns how many steps have run.
func (e *tickEngine) Steps() uint64 { return e.steps.Load() }

// Skipped returns how many steps were dropped because the loop fell behind.
func (e *tickEngine) Skipped() uint64 { return e.skipped.Load() }

func (e *tickEngine) Wait() {
	if e == nil {
		return
	}
	e.wg.Wait()
}
