package config

import "os"

// APIKeySource represents where an API key comes from.
type APIKeySource string

const (
	KeySourceEnv    APIKeySource = "env"
	KeySourceConfig APIKeySource = "config"
	KeySourceNone   APIKeySource = "none"
)

// KeyStatus represents the status of an API key.
type KeyStatus struct {
	Name   string       `json:"name"`
	Source APIKeySource `json:"source"`
	IsSet  bool         `json:"is_set"`
	Masked string       `json:"masked,omitempty"` // e.g., "AIz...abc"
}

// CheckAPIKeys returns the status of every provider credential.
func CheckAPIKeys(cfg *Config) []KeyStatus {
	return []KeyStatus{
		checkKey("Gemini API Key", cfg.LLM.GeminiKey, "TICKERPULSE_LLM_GEMINI_KEY"),
		checkKey("OpenAI API Key", cfg.LLM.OpenAIKey, "TICKERPULSE_LLM_OPENAI_KEY"),
		checkKey("Anthropic API Key", cfg.LLM.AnthropicKey, "TICKERPULSE_LLM_ANTHROPIC_KEY"),
		checkKey("Polygon API Key", cfg.Sources.PolygonKey, "TICKERPULSE_SOURCES_POLYGON_KEY"),
		checkKey("Alpha Vantage API Key", cfg.Sources.AlphaVantageKey, "TICKERPULSE_SOURCES_ALPHAVANTAGE_KEY"),
		checkKey("Finnhub API Key", cfg.Sources.FinnhubKey, "TICKERPULSE_SOURCES_FINNHUB_KEY"),
		checkKey("Alpaca API Key", cfg.Sources.AlpacaKey, "TICKERPULSE_SOURCES_ALPACA_KEY"),
		checkKey("Alpaca API Secret", cfg.Sources.AlpacaSecret, "TICKERPULSE_SOURCES_ALPACA_SECRET"),
		checkKey("Cache REST Token", cfg.Cache.RestToken, "TICKERPULSE_CACHE_REST_TOKEN"),
	}
}

// checkKey checks if a key is set and where it came from.
func checkKey(name, value, envVar string) KeyStatus {
	status := KeyStatus{
		Name:  name,
		IsSet: value != "",
	}

	if value != "" {
		if os.Getenv(envVar) != "" {
			status.Source = KeySourceEnv
		} else {
			status.Source = KeySourceConfig
		}
		status.Masked = maskKey(value)
	} else {
		status.Source = KeySourceNone
	}

	return status
}

// maskKey masks an API key for display, showing only first 3 and last 3 chars.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}
