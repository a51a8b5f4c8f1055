// Command hotswapd hosts a hot-reload registry, a self-healing manager,
// and the administrative HTTP API in one process, with a demo module
// installed so the mechanism can be exercised end to end from the CLI.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/hotswap"
	"github.com/GoCodeAlone/hotswap/adminapi"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "hotswapd",
		Short: "Live module replacement and self-healing daemon",
	}

	root.AddCommand(serveCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry, self-healing manager and admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(configPath, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (YAML or TOML)")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "admin API listen address (overrides config)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hotswapd version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func serve(configPath, addr string) error {
	logger := &slogLogger{logger: slog.New(slog.NewTextHandler(os.Stderr, nil))}

	cfg := hotswap.DefaultConfig()
	if configPath != "" {
		loaded, err := hotswap.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if addr != "" {
		cfg.Admin.Addr = addr
	}
	if cfg.Admin.Addr == "" {
		cfg.Admin.Addr = ":8484"
	}

	registry := hotswap.NewHotReloadRegistryWithConfig(cfg.Registry)
	registry.SetLogger(logger)
	manager := hotswap.NewSelfHealingManagerWithConfig(registry, cfg.Healing)
	manager.SetLogger(logger)

	broker := hotswap.NewEventBroker(logger)
	registry.SetEventSubject(broker)
	manager.SetEventSubject(broker)

	// Demo slot so the admin API has something to show and crash.
	slot := registry.CreateSlot(hotswap.CategoryCustom)
	if err := registry.LoadModule(slot, newDemoModule()); err != nil {
		return err
	}
	manager.Register(slot, "demo", func() hotswap.Module { return newDemoModule() })

	heartbeat := hotswap.NewHeartbeat(registry, manager, cfg.Heartbeat, logger)
	if err := heartbeat.Start(); err != nil {
		return err
	}
	defer heartbeat.Stop()

	if configPath != "" {
		watcher := hotswap.NewConfigWatcher(configPath, registry, manager, logger)
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	api := adminapi.New(registry, manager, logger)
	server := &http.Server{Addr: cfg.Admin.Addr, Handler: api.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Admin API listening", "addr", cfg.Admin.Addr)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
		return server.Close()
	}
}

// slogLogger adapts log/slog to the hotswap Logger interface.
type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
