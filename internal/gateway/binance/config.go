package binance

import (
	"strings"
	"time"
)

type Config struct {
	Name        string
	APIKey      string
	SecretKey   string
	RESTBaseURL string
	HTTPTimeout time.Duration
	// QuoteAsset 用于把余额折算为持仓与权益。
	QuoteAsset string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.Name = strings.TrimSpace(out.Name)
	if out.Name == "" {
		out.Name = "binance"
	}
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://api.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.QuoteAsset = strings.ToUpper(strings.TrimSpace(out.QuoteAsset))
	if out.QuoteAsset == "" {
		out.QuoteAsset = "USDT"
	}
	return out
}
