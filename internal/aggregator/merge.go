package aggregator

import (
	"strings"
	"time"

	"github.com/seenimoa/tickerpulse/internal/source"
	"github.com/seenimoa/tickerpulse/pkg/models"
)

// merger accumulates tier outcomes into a single batch.
type merger struct {
	now      func() time.Time
	seen     map[string]struct{}
	articles []models.Article
	counts   map[string]int
	results  []models.SourceResult
}

func newMerger(now func() time.Time) *merger {
	return &merger{
		now:    now,
		seen:   make(map[string]struct{}),
		counts: make(map[string]int),
	}
}

// add merges outs, which are in the same order as regs. Skipped adapters
// are reported in results but left out of the count map.
func (m *merger) add(regs []source.Registration, outs []outcome) {
	for i := range outs {
		out := outs[i]
		res := out.result
		if res.Skipped {
			m.results = append(m.results, res)
			continue
		}

		added := 0
		for _, a := range out.articles {
			a.Title = strings.TrimSpace(a.Title)
			if a.Title == "" {
				continue
			}
			if a.Source == "" {
				a.Source = regs[i].Source.Name()
			}
			if a.PublishedAt.IsZero() {
				a.PublishedAt = m.now().UTC()
			}
			key := a.Key()
			if _, dup := m.seen[key]; dup {
				continue
			}
			m.seen[key] = struct{}{}
			m.articles = append(m.articles, a)
			added++
		}

		res.Count = added
		m.counts[res.Name] += added
		m.results = append(m.results, res)
	}
}
