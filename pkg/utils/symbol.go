package utils

import (
	"regexp"
	"strings"
)

// Common company-name aliases that users type instead of the listed symbol.
var symbolAliases = map[string]string{
	"APPLE":     "AAPL",
	"MICROSOFT": "MSFT",
	"GOOGLE":    "GOOGL",
	"ALPHABET":  "GOOGL",
	"AMAZON":    "AMZN",
	"META":      "META",
	"FACEBOOK":  "META",
	"NVIDIA":    "NVDA",
	"TESLA":     "TSLA",
	"NETFLIX":   "NFLX",
	"BERKSHIRE": "BRK.B",
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,9}$`)

// NormalizeSymbol converts user input to a canonical ticker symbol.
// Examples: " aapl " → "AAPL", "Apple" → "AAPL", "$tsla" → "TSLA".
func NormalizeSymbol(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.TrimPrefix(s, "$")
	if canonical, ok := symbolAliases[s]; ok {
		return canonical
	}
	return s
}

// ValidSymbol reports whether s is a well-formed ticker: 1-10 uppercase
// letters, digits, dots or dashes, not starting with punctuation.
func ValidSymbol(s string) bool {
	return symbolPattern.MatchString(s)
}
