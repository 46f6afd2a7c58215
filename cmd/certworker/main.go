// Command certworker runs one stateless ACME worker process: it dispenses
// tasks from the orchestrator, drives the Order/Ready/Certificate phases
// through an ACME client and DNS-01 publisher/resolver, and reports
// outcomes back. Grounded on cuemby-warren/cmd/warren's cobra command
// shape, adapted to a single long-running worker loop instead of a
// container-lifecycle CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/certorch/pkg/acme"
	"github.com/cuemby/certorch/pkg/config"
	"github.com/cuemby/certorch/pkg/dnschallenge"
	"github.com/cuemby/certorch/pkg/log"
	"github.com/cuemby/certorch/pkg/transport"
	"github.com/cuemby/certorch/pkg/workerpipeline"
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
	Use:     "certworker",
	Short:   "ACME DNS-01 worker",
	Version: Version,
	RunE:    runWorker,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("certworker version %s\nCommit: %s\n", Version, Commit))

	rootCmd.Flags().String("delegation-domain", "", "Delegation domain for challenge TXT records (overrides CERTORCH_DELEGATION_DOMAIN)")
	rootCmd.Flags().String("orchestrator-endpoint", "", "Orchestrator base URL (overrides CERTORCH_ORCHESTRATOR_ENDPOINT)")
	rootCmd.Flags().String("orchestrator-principal", "", "Principal this worker authenticates as (overrides CERTORCH_ORCHESTRATOR_PRINCIPAL)")
	rootCmd.Flags().String("credentials-file", "", "Path to ACME account credentials (overrides CERTORCH_CREDENTIALS_FILE)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("delegation-domain"); v != "" {
		cfg.DelegationDomain = v
	}
	if v, _ := cmd.Flags().GetString("orchestrator-endpoint"); v != "" {
		cfg.OrchestratorEndpoint = v
	}
	if v, _ := cmd.Flags().GetString("orchestrator-principal"); v != "" {
		cfg.OrchestratorPrincipal = v
	}
	if v, _ := cmd.Flags().GetString("credentials-file"); v != "" {
		cfg.CredentialsFile = v
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("certworker")

	if cfg.DelegationDomain == "" {
		return fmt.Errorf("--delegation-domain (or CERTORCH_DELEGATION_DOMAIN) is required")
	}
	if cfg.OrchestratorPrincipal == "" {
		return fmt.Errorf("--orchestrator-principal (or CERTORCH_ORCHESTRATOR_PRINCIPAL) is required")
	}

	acmeClient, err := acme.NewLegoClient(cfg.ACMEDirectoryURL, cfg.ACMEEmail, cfg.CredentialsFile)
	if err != nil {
		return fmt.Errorf("constructing ACME client: %w", err)
	}

	publisher := dnschallenge.NewRFC2136Publisher(cfg.DNSServer, cfg.DNSTSIGName, cfg.DNSTSIGKey, cfg.DNSTSIGAlgo)
	resolver := dnschallenge.NewRecursiveResolver(cfg.ResolverServers)
	orchestratorClient := transport.NewClient(cfg.OrchestratorEndpoint, cfg.OrchestratorPrincipal)

	pipeline := workerpipeline.New(workerpipeline.Config{
		Orchestrator:         orchestratorClient,
		ACME:                 acmeClient,
		Publisher:            publisher,
		Resolver:             resolver,
		DelegationDomain:     cfg.DelegationDomain,
		PollInterval:         time.Duration(cfg.PollInterval) * time.Second,
		UnreachableThreshold: time.Duration(cfg.UnreachableExitSeconds) * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- pipeline.Run(ctx) }()
	logger.Info().Str("orchestrator", cfg.OrchestratorEndpoint).Str("delegation_domain", cfg.DelegationDomain).Msg("certworker running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
		cancel()
		<-runErr
		return nil
	case err := <-runErr:
		if err != nil {
			logger.Error().Err(err).Msg("orchestrator unreachable, exiting")
		}
		return err
	}
}
