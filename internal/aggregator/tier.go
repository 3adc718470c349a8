package aggregator

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/seenimoa/tickerpulse/internal/source"
	"github.com/seenimoa/tickerpulse/pkg/models"
)

// outcome is one adapter's contribution to a tier.
type outcome struct {
	idx      int
	articles []models.Article
	result   models.SourceResult
}

// runTier launches regs on a pool of opts.Workers and waits at most
// opts.Deadline. Outcomes are returned in registration order; adapters
// still running at the deadline are reported as timed out and their
// late results are dropped into the buffered channel unread.
func (o *Orchestrator) runTier(ctx context.Context, symbol string, regs []source.Registration, opts TierOptions) []outcome {
	if len(regs) == 0 {
		return nil
	}

	tierCtx, cancel := context.WithTimeout(ctx, opts.Deadline)
	defer cancel()

	sem := semaphore.NewWeighted(int64(opts.Workers))
	results := make(chan outcome, len(regs))

	go func() {
		for i, reg := range regs {
			if err := sem.Acquire(tierCtx, 1); err != nil || tierCtx.Err() != nil {
				if err == nil {
					sem.Release(1)
				}
				results <- outcome{idx: i, result: models.SourceResult{
					Name: reg.Source.Name(), Err: errAbandoned, Error: "not started before tier deadline", TimedOut: true,
				}}
				continue
			}
			if !o.admit(reg) {
				sem.Release(1)
				results <- outcome{idx: i, result: models.SourceResult{Name: reg.Source.Name(), Skipped: true}}
				continue
			}
			go func() {
				defer sem.Release(1)
				out := o.invoke(ctx, symbol, reg, opts.Timeout)
				out.idx = i
				results <- out
			}()
		}
	}()

	outs := make([]outcome, len(regs))
	got := make([]bool, len(regs))
	keep := func(out outcome) {
		outs[out.idx] = out
		got[out.idx] = true
	}

collect:
	for received := 0; received < len(regs); received++ {
		select {
		case out := <-results:
			keep(out)
		case <-tierCtx.Done():
			break collect
		}
	}

	// Pick up anything that landed in the buffer alongside the deadline.
	for drained := false; !drained; {
		select {
		case out := <-results:
			if !out.result.TimedOut {
				keep(out)
			}
		default:
			drained = true
		}
	}

	for i, reg := range regs {
		if got[i] {
			continue
		}
		outs[i] = outcome{idx: i, result: models.SourceResult{
			Name:     reg.Source.Name(),
			Err:      errAbandoned,
			Error:    errAbandoned.Error(),
			TimedOut: true,
			Elapsed:  opts.Deadline,
		}}
	}
	return outs
}

// launch runs a single adapter outside any pool, honouring its quota gate.
func (o *Orchestrator) launch(ctx context.Context, symbol string, reg source.Registration, timeout time.Duration) outcome {
	if !o.admit(reg) {
		return outcome{result: models.SourceResult{Name: reg.Source.Name(), Skipped: true}}
	}
	return o.invoke(ctx, symbol, reg, timeout)
}

// admit checks the quota gate and records the call when admitted.
func (o *Orchestrator) admit(reg source.Registration) bool {
	if !reg.Gated() || o.quota == nil {
		return true
	}
	if !o.quota.Allow(reg.QuotaKey) {
		return false
	}
	o.quota.Record(reg.QuotaKey)
	return true
}

// invoke calls the adapter with its own timeout. The call context is
// detached from tier cancellation so the deadline only abandons it.
func (o *Orchestrator) invoke(ctx context.Context, symbol string, reg source.Registration, timeout time.Duration) outcome {
	name := reg.Source.Name()
	attempts := 1
	if reg.Retries() {
		attempts = 2
	}

	start := o.now()
	res := models.SourceResult{Name: name}
	var (
		articles []models.Article
		err      error
	)
	for res.Attempts < attempts {
		res.Attempts++
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		articles, err = reg.Source.Fetch(callCtx, symbol)
		cancel()
		if err == nil {
			break
		}
		if errors.Is(err, source.ErrQuotaExceeded) {
			if reg.Gated() && o.quota != nil {
				o.quota.Exhaust(reg.QuotaKey)
			}
			break
		}
		if res.Attempts < attempts {
			o.log.Debug("retrying source", "source", name, "symbol", symbol, "error", err)
		}
	}

	res.Elapsed = o.now().Sub(start)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		return outcome{result: res}
	}
	return outcome{articles: articles, result: res}
}
