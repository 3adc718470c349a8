package pipeline

import (
	"context"
	"time"

	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/pkg/models"
)

// SymbolReport is one symbol's line in a batch run.
type SymbolReport struct {
	Symbol   string               `json:"symbol"`
	Status   models.SummaryStatus `json:"status,omitempty"`
	Articles int                  `json:"articles"`
	Error    string               `json:"error,omitempty"`
}

// BatchReport summarizes a RefreshAll run.
type BatchReport struct {
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Symbols  []SymbolReport `json:"symbols"`
	Failed   int            `json:"failed"`
}

// RefreshAll refreshes every tracked symbol in turn, pausing between
// symbols. A failing symbol is logged and the run continues; only a
// failure to list symbols or a cancelled ctx ends it early.
func (s *Service) RefreshAll(ctx context.Context) (*BatchReport, error) {
	log := logging.FromContext(ctx, s.log)
	report := &BatchReport{Started: time.Now()}
	defer func() { report.Finished = time.Now() }()

	symbols, err := s.cfg.Store.ListSymbols(ctx)
	if err != nil {
		return report, err
	}
	log.Info("batch refresh started", "symbols", len(symbols))

	for i, sym := range symbols {
		if i > 0 && s.cfg.Pause > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(s.cfg.Pause):
			}
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		line := SymbolReport{Symbol: sym}
		res, err := s.Refresh(ctx, sym, Opts{})
		if err != nil {
			line.Error = err.Error()
			report.Failed++
			log.Error("symbol refresh failed", "symbol", sym, "error", err)
		} else {
			line.Status = res.Record.Status
			line.Articles = res.Articles
		}
		report.Symbols = append(report.Symbols, line)
	}

	log.Info("batch refresh completed", "symbols", len(symbols), "failed", report.Failed)
	return report, nil
}
