package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"automoney/internal/app"
	"automoney/internal/config"
	"automoney/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "automoney",
	Short:         "Analyst-driven paper trading decision engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := os.Getenv(config.EnvConfigPath)
	if def == "" {
		def = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", def, "Config file (env "+config.EnvConfigPath+")")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

// openApp loads config, routes logs and builds the app. The returned cleanup
// closes the app and the log file.
func openApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	logger.Infof("✓ 配置加载成功（环境=%s，templates=%s）", cfg.App.Env, cfg.Templates.Path)

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, nil, err
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warnf("close app: %v", err)
		}
		if logFile != nil {
			_ = logFile.Close()
		}
	}
	return a, cleanup, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
