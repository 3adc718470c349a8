// Package scheduler fires the daily batch refresh at a wall-clock time and
// sweeps the in-process cache on an interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/pkg/utils"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Config describes the jobs. A nil Daily or a zero SweepEvery disables
// that job.
type Config struct {
	DailyAt    string // "HH:MM"
	Location   *time.Location
	Daily      func(ctx context.Context)
	SweepEvery time.Duration
	Sweep      func() int
	Clock      Clock
}

// Scheduler runs the configured jobs until stopped.
type Scheduler struct {
	cfg          Config
	hour, minute int
	clock        Clock

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// New validates cfg and returns a stopped scheduler.
func New(cfg Config) (*Scheduler, error) {
	s := &Scheduler{cfg: cfg, clock: cfg.Clock, log: logging.For("scheduler")}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.cfg.Location == nil {
		s.cfg.Location = utils.IST
	}
	if cfg.Daily != nil {
		h, m, err := utils.ParseClock(cfg.DailyAt)
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		s.hour, s.minute = h, m
	}
	return s, nil
}

// Start launches the job loops. They end when ctx is cancelled or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.Daily != nil {
		s.wg.Add(1)
		go s.dailyLoop(ctx)
	}
	if s.cfg.Sweep != nil && s.cfg.SweepEvery > 0 {
		s.wg.Add(1)
		go s.sweepLoop(ctx)
	}
}

// Stop cancels the loops and waits for a running job to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Wait blocks until every loop has exited.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Next returns the next daily fire time after now.
func (s *Scheduler) Next() time.Time {
	return utils.NextDailyAt(s.clock.Now(), s.hour, s.minute, s.cfg.Location)
}

func (s *Scheduler) dailyLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		now := s.clock.Now()
		next := utils.NextDailyAt(now, s.hour, s.minute, s.cfg.Location)
		s.log.Info("daily refresh scheduled", "at", utils.FormatDateTime(next, s.cfg.Location))

		select {
		case <-ctx.Done():
			s.log.Info("daily loop stopped")
			return
		case <-s.clock.After(next.Sub(now)):
		}

		start := time.Now()
		s.log.Info("daily refresh firing")
		s.cfg.Daily(ctx)
		s.log.Info("daily refresh finished", "elapsed", time.Since(start).Round(time.Millisecond))
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.cfg.SweepEvery):
		}
		if n := s.cfg.Sweep(); n > 0 {
			s.log.Debug("cache sweep", "removed", n)
		}
	}
}
