package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 为敏感字段的环境变量前缀，例如 TRIBUNE_BROKERS_BINANCE_API_KEY。
const EnvPrefix = "TRIBUNE"

// secretKeys 允许通过环境变量覆盖，避免把密钥写进配置文件。
var secretKeys = []string{
	"brokers.binance.api_key",
	"brokers.binance.secret_key",
	"brokers.rest.api_key",
	"brokers.rest.api_secret",
	"market.redis.password",
}

// Load 读取配置（支持 include 链）→ 绑定环境变量 → 填充默认值 → 校验。
func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	return decode(v)
}

// Default returns a fully defaulted configuration without reading any file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(make(keySet))
	cfg.normalize()
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s failed: %w", key, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	cfg.normalize()
	if err := cfg.ApplyReferenceFiles(); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	part, err := readConfigFile(path)
	if err != nil {
		return err
	}
	return v.MergeConfigMap(part.AllSettings())
}

func readConfigFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

// resolveConfigIncludes 按依赖顺序展开 include，被包含文件先于包含者合并，
// 同一文件只合并一次。
func resolveConfigIncludes(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &includeWalker{done: map[string]bool{}, active: map[string]bool{}}
	if err := w.visit(abs); err != nil {
		return nil, err
	}
	return w.order, nil
}

type includeWalker struct {
	order  []string
	done   map[string]bool
	active map[string]bool
}

func (w *includeWalker) visit(path string) error {
	path = filepath.Clean(path)
	switch {
	case w.active[path]:
		return fmt.Errorf("include cycle detected: %s", path)
	case w.done[path]:
		return nil
	}
	w.active[path] = true
	defer delete(w.active, path)

	part, err := readConfigFile(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	if raw := part.Get("include"); raw != nil {
		if _, isList := raw.([]any); !isList {
			return fmt.Errorf("include must be a string array (%s)", path)
		}
	}
	for _, inc := range part.GetStringSlice("include") {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.visit(inc); err != nil {
			return err
		}
	}
	w.done[path] = true
	w.order = append(w.order, path)
	return nil
}

// collectSettingsKeys 记录文件里显式出现过的键，applyDefaults 只补缺失项。
func collectSettingsKeys(settings map[string]any, dest keySet) {
	for k, v := range settings {
		markSettingKey(strings.ToLower(strings.TrimSpace(k)), v, dest)
	}
}

func markSettingKey(key string, node any, dest keySet) {
	if key == "" {
		return
	}
	nested, ok := node.(map[string]any)
	if !ok || len(nested) == 0 {
		dest.mark(key)
		return
	}
	for k, v := range nested {
		sub := strings.ToLower(strings.TrimSpace(k))
		if sub != "" {
			markSettingKey(key+"."+sub, v, dest)
		}
	}
}
