// Command ptyhubd runs the multi-session terminal server: it spawns and
// multiplexes PTY-backed child processes to websocket clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openpty/ptyhub/internal/config"
	"github.com/openpty/ptyhub/internal/logger"
	"github.com/openpty/ptyhub/internal/server"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "ptyhubd",
		Short: "multi-session PTY terminal server",
		RunE:  runServe,
	}
	root.Flags().String("config", config.DefaultConfigPath(), "path to config.yaml")
	root.Flags().String("host", "", "bind host (overrides config)")
	root.Flags().Int("port", -1, "bind port, 0 for auto-allocate (overrides config)")
	root.Flags().String("log-level", "", "debug|info|warn|error (overrides config)")
	root.Flags().String("log-file", "", "optional log file path")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the ptyhubd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port >= 0 {
		cfg.Port = port
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if logFile, _ := cmd.Flags().GetString("log-file"); logFile != "" {
		cfg.LogFile = logFile
	}

	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	srv := server.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port, err := srv.Start(ctx)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info("ptyhubd listening", "host", cfg.Host, "port", port, "namespace", cfg.Namespace)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
