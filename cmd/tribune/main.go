package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"tribune/internal/app"
	"tribune/internal/config"
	"tribune/internal/logger"

	flag "github.com/spf13/pflag"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	var (
		cfgPath   string
		checkOnly bool
	)
	flag.StringVarP(&cfgPath, "config", "c", "", "配置文件路径（默认读取 TRIBUNE_CONFIG）")
	flag.BoolVar(&checkOnly, "check", false, "只校验配置后退出")
	flag.Parse()

	cfg, err := config.Load(resolveConfigPath(cfgPath))
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	if checkOnly {
		fmt.Printf("config ok: env=%s brokers=%s/%s\n", cfg.App.Env, cfg.Brokers.Default, cfg.Brokers.Crypto)
		return
	}

	closeLog, err := setupLogging(cfg.App)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer closeLog()
	logger.Infof("✓ 配置加载成功（环境=%s，brokers=%s/%s）", cfg.App.Env, cfg.Brokers.Default, cfg.Brokers.Crypto)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer application.Close()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

// resolveConfigPath 优先级：命令行 > TRIBUNE_CONFIG > 默认路径。
func resolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("TRIBUNE_CONFIG")); p != "" {
		return p
	}
	return defaultConfigPath
}

// setupLogging 设置格式与级别；配置了 log_path 时同时写 stdout 和文件。
func setupLogging(cfg config.AppConfig) (func(), error) {
	logger.SetFormat(cfg.LogFormat)
	logger.SetLevel(cfg.LogLevel)
	path := strings.TrimSpace(cfg.LogPath)
	if path == "" {
		logger.SetOutput(os.Stdout)
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return func() { _ = file.Close() }, nil
}
