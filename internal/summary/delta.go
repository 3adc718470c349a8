package summary

import "strings"

// NoDevelopments is the delta used when nothing could be extracted.
const NoDevelopments = "No material developments identified."

var (
	deltaMarkers = []string{
		"**WHAT CHANGED TODAY**",
		"WHAT CHANGED TODAY",
		"**What Changed Today**",
		"What Changed Today",
	}
	nextSection = []string{"\n\n**", "\n\n##", "\n\nEXECUTIVE", "\n\nKEY", "\n\nMARKET"}
	memoPrefix  = []string{"TO:", "FROM:", "SUBJECT:", "DATE:", "---"}
	changeWords = []string{"new", "today", "changed", "development", "announcement"}
)

const (
	tailLines     = 10
	minChangeLine = 20
)

// ExtractDelta pulls the "what changed today" section out of a narrative.
// When no marked section yields text it falls back to the last change-like
// line near the end of the narrative, then to NoDevelopments.
func ExtractDelta(narrative string) string {
	for _, marker := range deltaMarkers {
		idx := strings.Index(narrative, marker)
		if idx < 0 {
			continue
		}
		rest := strings.TrimLeft(narrative[idx+len(marker):], ":")
		end := len(rest)
		for _, p := range nextSection {
			if pos := strings.Index(rest, p); pos >= 0 && pos < end {
				end = pos
			}
		}
		if delta := cleanSection(rest[:end]); delta != "" {
			return delta
		}
	}

	lines := strings.Split(narrative, "\n")
	stop := len(lines) - tailLines
	if stop < 0 {
		stop = 0
	}
	for i := len(lines) - 1; i >= stop; i-- {
		line := strings.TrimSpace(lines[i])
		if len(line) < minChangeLine {
			continue
		}
		lower := strings.ToLower(line)
		for _, w := range changeWords {
			if strings.Contains(lower, w) {
				return stripMarkup(line)
			}
		}
	}
	return NoDevelopments
}

func cleanSection(s string) string {
	var kept []string
	for _, line := range strings.Split(stripMarkup(s), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || hasAnyPrefix(line, memoPrefix) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, " ")
}

func stripMarkup(s string) string {
	return strings.NewReplacer("*", "", "#", "").Replace(s)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
