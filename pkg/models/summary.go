package models

import "time"

// SummaryStatus describes how a SummaryRecord was produced.
type SummaryStatus string

const (
	SummaryOK       SummaryStatus = "ok"       // synthesized by the text-generation provider
	SummaryFallback SummaryStatus = "fallback" // deterministic template, provider unavailable
	SummaryNoData   SummaryStatus = "no_data"  // collection returned nothing
)

// DateLayout is the calendar date format used for summary keys.
const DateLayout = "2006-01-02"

// SummaryRecord is one day's synthesized output for a symbol.
// At most one record exists per (Symbol, Date).
type SummaryRecord struct {
	Symbol    string        `json:"symbol"`
	Date      string        `json:"date"`
	Narrative string        `json:"narrative"`
	Delta     string        `json:"delta"`
	Articles  []ArticleRef  `json:"articles"`
	Sentiment Sentiment     `json:"sentiment"`
	Status    SummaryStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// Sentiment is a deterministic headline-tone aggregate.
type Sentiment struct {
	Label      string  `json:"label"` // "Bullish", "Slightly Bullish", "Neutral", ...
	Score      float64 `json:"score"` // -1.0 .. +1.0
	Confidence float64 `json:"confidence"`
	Articles   int     `json:"articles"`
}
