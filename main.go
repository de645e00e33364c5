// main.go
package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"quantloop/config"
	"quantloop/logs"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; environment variables set by the shell win either way.
	if err := godotenv.Load(); err == nil {
		logs.Debug("[Main] loaded environment from .env")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logs.Fatalf("[Main] %v", err)
	}

	logFile := filepath.Join(cfg.Normal.LogDirectory, "quantloop.log")
	if err := logs.Init(cfg.Logs, logFile); err != nil {
		logs.Fatalf("[Main] failed to initialize logging: %v", err)
	}
	defer logs.Close()

	logs.Info("==================================================")
	logs.Info("  quantloop - multi-symbol signal evaluation core")
	logs.Info("==================================================")
	logs.Infof("[Main] config loaded from %s, %d symbol(s), paper trading: %v",
		*configPath, len(cfg.Symbols), cfg.UsePaperTrading)

	orch, err := NewOrchestrator(cfg, config.LoadEnvConfig())
	if err != nil {
		logs.Fatalf("[Main] failed to build orchestrator: %v", err)
	}
	orch.StartAll()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logs.Infof("[Main] received signal %s, shutting down", sig)

	orch.StopAll()
	logs.Info("[Main] shutdown complete")
}
