// Command certorchd runs the Certificate Orchestration Engine: the
// durable registry, work queue, certificate store, and access control,
// exposed over HTTP to worker processes. Grounded on cuemby-warren/cmd/
// warren's cobra root-command-plus-persistent-flags shape.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/certorch/pkg/config"
	"github.com/cuemby/certorch/pkg/log"
	"github.com/cuemby/certorch/pkg/metrics"
	"github.com/cuemby/certorch/pkg/orchestrator"
	"github.com/cuemby/certorch/pkg/storage"
	"github.com/cuemby/certorch/pkg/transport"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "certorchd",
	Short:   "Certificate orchestration engine",
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("certorchd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.Flags().String("host", "", "Listen host (overrides CERTORCH_HOST)")
	rootCmd.Flags().Int("port", 0, "Listen port (overrides CERTORCH_PORT)")
	rootCmd.Flags().String("data-dir", "", "Data directory (overrides CERTORCH_DATA_DIR)")
	rootCmd.Flags().StringSlice("root-principal", nil, "Root principal to seed on first run (repeatable)")
	rootCmd.Flags().String("log-level", "", "Log level (overrides LOG_LEVEL)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrchestratorConfig()
	if err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if roots, _ := cmd.Flags().GetStringSlice("root-principal"); len(roots) > 0 {
		cfg.RootPrincipals = roots
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("certorchd")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	metrics.SetVersion(Version)

	store, err := storage.Open(cfg.DataDir + "/certorch.db")
	if err != nil {
		metrics.RegisterComponent("storage", false, err.Error())
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, "open")

	o, err := orchestrator.New(store, cfg.RootPrincipals, cfg.IDSeed)
	if err != nil {
		return fmt.Errorf("constructing orchestrator: %w", err)
	}
	if err := o.Restore(); err != nil {
		metrics.RegisterComponent("queues", false, err.Error())
		return fmt.Errorf("restoring queues from last snapshot: %w", err)
	} else {
		metrics.RegisterComponent("queues", true, "restored")
	}
	o.Run()
	defer o.Stop()

	server := transport.NewServer(o)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.ListenAddr()); err != nil {
			errCh <- err
		}
	}()
	logger.Info().Str("addr", cfg.ListenAddr()).Msg("certorchd listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	if err := o.Snapshot(); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}
	return nil
}
