package quote

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

type snapshotter interface {
	GetSnapshot(symbol string, req marketdata.GetSnapshotRequest) (*marketdata.Snapshot, error)
}

// Alpaca reads the latest trade and daily bars from a market data snapshot.
type Alpaca struct {
	client snapshotter
}

// NewAlpaca wraps the shared market data client.
func NewAlpaca(client *marketdata.Client) *Alpaca {
	return &Alpaca{client: client}
}

func (a *Alpaca) Name() string { return "alpaca" }

// Quote fetches the snapshot. The SDK call has no context; it is abandoned
// when ctx ends.
func (a *Alpaca) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	type result struct {
		snap *marketdata.Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		s, err := a.client.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
		done <- result{s, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return nil, fmt.Errorf("alpaca snapshot: %w", r.err)
	}
	snap := r.snap
	if snap == nil || snap.LatestTrade == nil {
		return nil, ErrNoQuote
	}

	q := &models.Quote{
		Symbol:   symbol,
		Price:    snap.LatestTrade.Price,
		Provider: a.Name(),
		AsOf:     snap.LatestTrade.Timestamp,
	}
	if snap.DailyBar != nil {
		q.Volume = int64(snap.DailyBar.Volume)
	}
	if snap.PrevDailyBar != nil && snap.PrevDailyBar.Close > 0 {
		q.PreviousClose = snap.PrevDailyBar.Close
		q.Change = q.Price - q.PreviousClose
		q.ChangePct = q.Change / q.PreviousClose * 100
	}
	return q, nil
}
