package models

import (
	"fmt"
	"time"
)

// Quote is a point-in-time market snapshot used as optional synthesis context.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previous_close"`
	Change        float64   `json:"change"`
	ChangePct     float64   `json:"change_pct"`
	Volume        int64     `json:"volume"`
	Provider      string    `json:"provider"`
	AsOf          time.Time `json:"as_of"`
}

// Snippet renders the quote as a single line for prompt context.
func (q *Quote) Snippet() string {
	if q == nil || q.Price == 0 {
		return ""
	}
	return fmt.Sprintf("%s last %.2f (%+.2f, %+.2f%%) vol %d via %s",
		q.Symbol, q.Price, q.Change, q.ChangePct, q.Volume, q.Provider)
}
