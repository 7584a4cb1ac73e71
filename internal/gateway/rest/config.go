package rest

import (
	"strings"
	"time"
)

type Config struct {
	Name               string
	BaseURL            string
	APIKey             string
	APISecret          string
	Timeout            time.Duration
	RateLimitPerSecond float64
	Burst              int
	InsecureSkipVerify bool
}

func (c Config) withDefaults() Config {
	out := c
	out.Name = strings.TrimSpace(out.Name)
	if out.Name == "" {
		out.Name = "rest"
	}
	out.BaseURL = strings.TrimSpace(out.BaseURL)
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.APISecret = strings.TrimSpace(out.APISecret)
	if out.Timeout <= 0 {
		out.Timeout = 15 * time.Second
	}
	if out.RateLimitPerSecond <= 0 {
		out.RateLimitPerSecond = 5
	}
	if out.Burst <= 0 {
		out.Burst = 1
	}
	return out
}
