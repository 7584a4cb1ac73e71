// Package remote 通过 HTTP 调用外部策略 agent 获取交易信号。
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tribune/internal/logger"
	"tribune/internal/pkg/jsonutil"
	"tribune/internal/pkg/symbol"
	"tribune/internal/pkg/text"
	"tribune/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const maxResponseBytes = 1 << 20

type Config struct {
	Name    string
	URL     string
	APIKey  string
	Headers map[string]string
	// Timeout 仅作为 HTTP 客户端兜底，聚合器的单源超时通过 ctx 生效。
	Timeout time.Duration
}

// Source 把 {"symbol": ...} POST 给 agent，响应可为信号数组或 {"signals": [...]}。
type Source struct {
	cfg        Config
	httpClient *http.Client
	schema     *jsonschema.Schema
	now        func() time.Time
}

func New(cfg Config) (*Source, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.Name == "" {
		return nil, fmt.Errorf("remote source name is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote source %s: url is required", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	schema, err := compileResponseSchema()
	if err != nil {
		return nil, fmt.Errorf("compile signal schema: %w", err)
	}
	return &Source{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		schema:     schema,
		now:        time.Now,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (s *Source) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

func (s *Source) Name() string { return s.cfg.Name }

func (s *Source) GenerateSignals(ctx context.Context, sym string) ([]types.Signal, error) {
	key := symbol.Key(sym)
	body, err := json.Marshal(map[string]string{"symbol": key})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call agent %s: %w", s.cfg.Name, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read agent %s response: %w", s.cfg.Name, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent %s returned %s: %s", s.cfg.Name, resp.Status, text.Truncate(strings.TrimSpace(string(raw)), 200))
	}
	return s.parse(key, raw)
}

func (s *Source) parse(key string, raw []byte) ([]types.Signal, error) {
	if !gjson.ValidBytes(raw) {
		payload, ok := jsonutil.ExtractPayload(raw)
		if !ok || !gjson.ValidBytes(payload) {
			return nil, fmt.Errorf("agent %s: invalid json: %s", s.cfg.Name, text.Truncate(string(raw), 120))
		}
		raw = payload
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("agent %s: %w", s.cfg.Name, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("agent %s: response schema: %w", s.cfg.Name, err)
	}

	parsed := gjson.ParseBytes(raw)
	list := parsed
	if parsed.IsObject() {
		list = parsed.Get("signals")
	}
	now := s.now()
	out := make([]types.Signal, 0, len(list.Array()))
	list.ForEach(func(_, v gjson.Result) bool {
		sig := types.Signal{
			Symbol:       key,
			Action:       types.ParseAction(v.Get("action").String()),
			Confidence:   v.Get("confidence").Float(),
			QuantityHint: v.Get("quantity_hint").Float(),
			Reasoning:    v.Get("reasoning").String(),
			Source:       s.cfg.Name,
			ProducedAt:   now,
		}
		if sv := v.Get("symbol"); sv.Exists() && strings.TrimSpace(sv.String()) != "" {
			sig.Symbol = symbol.Key(sv.String())
		}
		if ts := v.Get("produced_at"); ts.Exists() {
			if t, err := time.Parse(time.RFC3339, ts.String()); err == nil {
				sig.ProducedAt = t
			}
		}
		out = append(out, sig)
		return true
	})
	logger.Debugf("[agent:%s] %s -> %d signals", s.cfg.Name, key, len(out))
	return out, nil
}
