package gate

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://api.gateio.ws/api/v4"
	defaultSettle     = "usdt"
	defaultMaxCandles = 2000
	defaultTimeout    = 15 * time.Second
)

// Config 行情侧只读配置，不需要密钥。
type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	// Settle 合约结算币种，决定 /futures/{settle}/... 路径。
	Settle string
	// MaxCandles 单次 K 线请求上限，超过会被截断。
	MaxCandles int

	ProxyEnabled bool
	RESTProxyURL string
}

func (c Config) normalized() Config {
	c.RESTBaseURL = strings.TrimRight(strings.TrimSpace(c.RESTBaseURL), "/")
	if c.RESTBaseURL == "" {
		c.RESTBaseURL = defaultBaseURL
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultTimeout
	}
	c.Settle = strings.ToLower(strings.TrimSpace(c.Settle))
	if c.Settle == "" {
		c.Settle = defaultSettle
	}
	if c.MaxCandles <= 0 || c.MaxCandles > defaultMaxCandles {
		c.MaxCandles = defaultMaxCandles
	}
	c.RESTProxyURL = strings.TrimSpace(c.RESTProxyURL)
	return c
}

// httpClient 按配置构造带超时的客户端；仅在启用代理时替换 Transport。
func (c Config) httpClient() (*http.Client, error) {
	hc := &http.Client{Timeout: c.HTTPTimeout}
	if !c.ProxyEnabled {
		return hc, nil
	}
	if c.RESTProxyURL == "" {
		return nil, errors.New("gate proxy enabled without proxy url")
	}
	proxy, err := url.Parse(c.RESTProxyURL)
	if err != nil || proxy.Host == "" {
		return nil, fmt.Errorf("invalid gate proxy url %q", c.RESTProxyURL)
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("default transport is not *http.Transport")
	}
	tr := base.Clone()
	tr.Proxy = http.ProxyURL(proxy)
	hc.Transport = tr
	return hc, nil
}
