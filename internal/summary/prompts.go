package summary

import (
	"fmt"
	"strings"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

// ── System Prompts ──

const rankSystem = `You are a senior financial analyst screening news for institutional investors.
You answer only with article numbers separated by commas.`

const synthesisSystem = `You are a senior equity research analyst writing a concise daily briefing.
Be professional, data-driven and factual. Never invent numbers that are not in the articles.`

// ── Ranking ──

// rankPrompt lists the collected articles and asks for the most impactful ones.
func rankPrompt(symbol string, articles []models.Article) string {
	var list strings.Builder
	for i, a := range articles {
		if i > 0 {
			list.WriteString("\n\n")
		}
		fmt.Fprintf(&list, "Article %d:\nTitle: %s\nSource: %s\nContent: %s...",
			i+1, a.Title, a.Source, clip(a.Content, 200))
	}

	return fmt.Sprintf(`Evaluate these news articles for %s and select the 5-7 most impactful ones for institutional investors.

SELECTION CRITERIA:
- Market-moving potential and trading implications
- Credible sources (avoid promotional content)
- Quantifiable business impact (earnings, revenue, partnerships)
- Regulatory or competitive developments
- Management changes or strategic shifts

Articles:
%s

Return only article numbers (1,2,3,etc.) separated by commas.`, symbol, list.String())
}

// ── Synthesis ──

// synthesisPrompt builds the daily briefing request. The WHAT CHANGED TODAY
// heading is what ExtractDelta keys on.
func synthesisPrompt(symbol string, articles []models.Article, history []string, quote string) string {
	var news strings.Builder
	for i, a := range articles {
		if i > 0 {
			news.WriteString("\n\n")
		}
		fmt.Fprintf(&news, "Source: %s\nTitle: %s\nContent: %s", a.Source, a.Title, a.Content)
	}

	hist := "No prior summaries."
	if len(history) > 0 {
		var h strings.Builder
		for i, line := range history {
			if i > 0 {
				h.WriteString("\n")
			}
			fmt.Fprintf(&h, "Day %d: %s", i+1, line)
		}
		hist = h.String()
	}

	market := ""
	if quote != "" {
		market = "\nMARKET SNAPSHOT:\n" + quote + "\n"
	}

	return fmt.Sprintf(`Analyze %s based on today's news and provide a professional investment summary.

TODAY'S NEWS:
%s

HISTORICAL CONTEXT (Past %d Days):
%s
%s
PROVIDE:

**EXECUTIVE SUMMARY**
Brief market impact assessment and key takeaway (2-3 sentences).

**KEY DEVELOPMENTS**
- Quantify impact where possible (revenue, margins, market share)
- Focus on material business changes, not speculation
- Include regulatory, competitive, or operational updates

**MARKET IMPLICATIONS**
- Price catalysts and trading considerations
- Sector/peer comparison context

**WHAT CHANGED TODAY**
Compare to the previous days and highlight NEW developments only.

Do not include section headers with empty bullet points.
Length: 400-500 words maximum.`, symbol, news.String(), len(history), hist, market)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
