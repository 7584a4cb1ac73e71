package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// 支持的输出格式；console 为带颜色的人读格式，适合本地调试。
const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatConsole = "console"
)

var (
	levelVar slog.LevelVar

	mu     sync.RWMutex
	out    io.Writer = os.Stdout
	format           = FormatText
	base             = build()
)

// build 需持有 mu（init 阶段除外）。
func build() *slog.Logger {
	opts := &slog.HandlerOptions{Level: &levelVar}
	switch format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(out, opts))
	case FormatConsole:
		// ConsoleWriter 逐行解析 JSON 再美化输出，消息字段名需与 zerolog 对齐。
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.MessageKey {
				a.Key = zerolog.MessageFieldName
			}
			return a
		}
		cw := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000", NoColor: out != os.Stdout}
		return slog.New(slog.NewJSONHandler(cw, opts))
	default:
		return slog.New(slog.NewTextHandler(out, opts))
	}
}

// SetOutput 替换日志输出目标（例如 stdout + 文件）；nil 回到 stdout。
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	mu.Lock()
	out = w
	base = build()
	mu.Unlock()
}

// SetFormat 切换 text/json/console，保留当前输出目标；未知格式按 text。
func SetFormat(f string) {
	f = strings.ToLower(strings.TrimSpace(f))
	if !ValidFormat(f) {
		f = FormatText
	}
	mu.Lock()
	format = f
	base = build()
	mu.Unlock()
}

func ValidFormat(f string) bool {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case FormatText, FormatJSON, FormatConsole:
		return true
	}
	return false
}

// ParseLevel 识别 debug/info/warn(ing)/error，大小写不敏感。
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// SetLevel 无法识别的级别按 info 处理。
func SetLevel(level string) {
	lvl, _ := ParseLevel(level)
	levelVar.Set(lvl)
}

func activeLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

type traceKey struct{}

// WithTrace 把 trace id 挂到 ctx 上，后续 Ctx(ctx) 打出的日志都带 trace_id。
func WithTrace(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, traceID)
}

func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// Ctx returns the active logger, tagged with the trace id carried by ctx.
func Ctx(ctx context.Context) *slog.Logger {
	l := activeLogger()
	if id := TraceID(ctx); id != "" {
		return l.With(slog.String("trace_id", id))
	}
	return l
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}
