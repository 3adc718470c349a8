// Package sentiment scores news headlines with a keyword dictionary.
// It is deterministic and offline, so every summary carries a tone
// reading even when no text-generation provider is reachable.
package sentiment

import (
	"math"
	"strings"
	"time"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

// Labels, from most bearish to most bullish.
const (
	LabelBearish         = "Bearish"
	LabelSlightlyBearish = "Slightly Bearish"
	LabelNeutral         = "Neutral"
	LabelSlightlyBullish = "Slightly Bullish"
	LabelBullish         = "Bullish"
)

// bullish / bearish keyword dictionaries (lowercase).
var bullishWords = map[string]float64{
	"bullish": 0.7, "rally": 0.6, "surge": 0.7, "soar": 0.7,
	"upgrade": 0.6, "outperform": 0.6, "raises guidance": 0.7,
	"beats": 0.5, "beat estimates": 0.6, "record high": 0.7,
	"all-time high": 0.7, "strong": 0.4, "growth": 0.4,
	"buyback": 0.5, "dividend": 0.4, "price target raised": 0.6,
	"approval": 0.5, "partnership": 0.3, "jumps": 0.5, "gains": 0.4,
}

var bearishWords = map[string]float64{
	"bearish": 0.7, "crash": 0.8, "plunge": 0.7, "tumble": 0.6,
	"downgrade": 0.6, "underperform": 0.6, "cuts guidance": 0.7,
	"misses": 0.5, "miss estimates": 0.6, "lawsuit": 0.5,
	"investigation": 0.5, "recall": 0.5, "layoffs": 0.5,
	"fraud": 0.8, "weak": 0.4, "decline": 0.5, "loss": 0.4,
	"selloff": 0.7, "sell-off": 0.7, "warning": 0.5, "slides": 0.5,
}

// ScoreHeadline returns a sentiment score for a single piece of text.
// Score ranges from -1.0 (very bearish) to +1.0 (very bullish).
func ScoreHeadline(headline string) (score float64, confidence float64) {
	lower := strings.ToLower(headline)

	bullScore := 0.0
	bearScore := 0.0
	matches := 0

	for word, weight := range bullishWords {
		if strings.Contains(lower, word) {
			bullScore += weight
			matches++
		}
	}
	for word, weight := range bearishWords {
		if strings.Contains(lower, word) {
			bearScore += weight
			matches++
		}
	}

	if matches == 0 {
		return 0, 0.1 // no signal
	}

	// Net score normalized to -1..+1.
	score = (bullScore - bearScore) / (bullScore + bearScore)
	confidence = math.Min(float64(matches)*0.15+0.2, 0.85)
	return score, confidence
}

// Scored is a single article's reading.
type Scored struct {
	Score       float64
	Confidence  float64
	PublishedAt time.Time
}

// ScoreArticle scores the title and the first part of the body.
func ScoreArticle(a models.Article) Scored {
	text := a.Title
	if a.Content != "" && a.Content != a.Title {
		body := a.Content
		if len(body) > 500 {
			body = body[:500]
		}
		text += " " + body
	}
	score, conf := ScoreHeadline(text)
	return Scored{Score: score, Confidence: conf, PublishedAt: a.PublishedAt}
}

// Aggregate computes a time-weighted sentiment over articles relative to now.
// Weight halves every 24 hours of article age.
func Aggregate(articles []models.Article, now time.Time) models.Sentiment {
	if len(articles) == 0 {
		return models.Sentiment{Label: LabelNeutral}
	}

	weightedSum := 0.0
	totalWeight := 0.0
	confSum := 0.0

	for _, a := range articles {
		s := ScoreArticle(a)
		age := now.Sub(s.PublishedAt).Hours()
		if age < 0 || s.PublishedAt.IsZero() {
			age = 0
		}
		w := math.Exp(-math.Ln2*age/24) * s.Confidence

		weightedSum += s.Score * w
		totalWeight += w
		confSum += s.Confidence
	}

	avg := 0.0
	if totalWeight > 0 {
		avg = weightedSum / totalWeight
	}

	return models.Sentiment{
		Label:      Label(avg),
		Score:      math.Round(avg*1000) / 1000,
		Confidence: math.Round(confSum/float64(len(articles))*1000) / 1000,
		Articles:   len(articles),
	}
}

// Label maps a score to its bucket.
func Label(score float64) string {
	switch {
	case score > 0.3:
		return LabelBullish
	case score > 0.1:
		return LabelSlightlyBullish
	case score < -0.3:
		return LabelBearish
	case score < -0.1:
		return LabelSlightlyBearish
	default:
		return LabelNeutral
	}
}
