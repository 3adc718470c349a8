package sentiment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

func TestScoreHeadlineBullish(t *testing.T) {
	score, conf := ScoreHeadline("Apple shares surge to record high after it beats estimates")
	assert.Positive(t, score)
	assert.Greater(t, conf, 0.1, "confidence above baseline")
}

func TestScoreHeadlineBearish(t *testing.T) {
	score, _ := ScoreHeadline("Stock plunge deepens as fraud investigation widens")
	assert.Negative(t, score)
}

func TestScoreHeadlineNeutral(t *testing.T) {
	score, conf := ScoreHeadline("Company opens new office in Austin")
	assert.Zero(t, score)
	assert.LessOrEqual(t, conf, 0.2)
}

func TestConfidenceIsCapped(t *testing.T) {
	_, conf := ScoreHeadline("bullish rally surge soar upgrade outperform strong growth buyback dividend")
	assert.Equal(t, 0.85, conf)
}

func TestScoreArticleUsesContent(t *testing.T) {
	a := models.Article{Title: "Quarterly update", Content: "Analysts issue a downgrade on weak demand"}
	assert.Negative(t, ScoreArticle(a).Score, "body text drives the score")
}

func TestAggregate(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	articles := []models.Article{
		{Title: "Shares surge on strong growth", PublishedAt: now},
		{Title: "Analyst upgrade lifts stock", PublishedAt: now.Add(-12 * time.Hour)},
		{Title: "Minor decline in old segment", PublishedAt: now.Add(-72 * time.Hour)},
	}
	agg := Aggregate(articles, now)
	assert.Greater(t, agg.Score, 0.3)
	assert.Equal(t, LabelBullish, agg.Label)
	assert.Equal(t, 3, agg.Articles)
}

func TestAggregateEmpty(t *testing.T) {
	agg := Aggregate(nil, time.Now())
	assert.Equal(t, LabelNeutral, agg.Label)
	assert.Zero(t, agg.Articles)
}

func TestLabel(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.5, LabelBullish},
		{0.2, LabelSlightlyBullish},
		{0, LabelNeutral},
		{-0.2, LabelSlightlyBearish},
		{-0.9, LabelBearish},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Label(tt.score), "Label(%.1f)", tt.score)
	}
}
