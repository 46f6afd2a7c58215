// Package config loads orchestrator and worker configuration from
// environment variables via caarlos0/env/v11, grounded on
// wisbric-nightowl/internal/config's Load() pattern. cmd/ binaries layer
// spf13/cobra flags on top, overriding env defaults the way
// cuemby-warren/cmd/warren's persistent flags do.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// OrchestratorConfig configures the orchestrator server process.
type OrchestratorConfig struct {
	Host string `env:"CERTORCH_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"CERTORCH_PORT" envDefault:"8443"`

	DataDir string `env:"CERTORCH_DATA_DIR" envDefault:"./certorch-data"`

	// RootPrincipals seeds the Root access set on first run only; ignored
	// on subsequent starts against an existing database.
	RootPrincipals []string `env:"CERTORCH_ROOT_PRINCIPALS" envSeparator:","`

	// IDSeed seeds the deterministic id generator on first run only.
	IDSeed uint64 `env:"CERTORCH_ID_SEED" envDefault:"1"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON   bool   `env:"LOG_JSON" envDefault:"true"`
}

// ListenAddr returns the address the HTTP API should listen on.
func (c *OrchestratorConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadOrchestratorConfig reads an OrchestratorConfig from the environment.
func LoadOrchestratorConfig() (*OrchestratorConfig, error) {
	cfg := &OrchestratorConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing orchestrator config from env: %w", err)
	}
	return cfg, nil
}

// WorkerConfig configures a worker process, naming exactly the flags
// spec.md §6 assigns to the worker binary.
type WorkerConfig struct {
	DelegationDomain      string `env:"CERTORCH_DELEGATION_DOMAIN"`
	OrchestratorEndpoint  string `env:"CERTORCH_ORCHESTRATOR_ENDPOINT" envDefault:"http://127.0.0.1:8443"`
	OrchestratorPrincipal string `env:"CERTORCH_ORCHESTRATOR_PRINCIPAL"`
	CredentialsFile       string `env:"CERTORCH_CREDENTIALS_FILE"`

	ACMEDirectoryURL string `env:"CERTORCH_ACME_DIRECTORY_URL"`
	ACMEEmail        string `env:"CERTORCH_ACME_EMAIL"`

	DNSServer   string `env:"CERTORCH_DNS_SERVER"`
	DNSTSIGName string `env:"CERTORCH_DNS_TSIG_NAME"`
	DNSTSIGKey  string `env:"CERTORCH_DNS_TSIG_KEY"`
	DNSTSIGAlgo string `env:"CERTORCH_DNS_TSIG_ALGO" envDefault:"hmac-sha256."`

	ResolverServers []string `env:"CERTORCH_RESOLVER_SERVERS" envSeparator:","`

	PollInterval int `env:"CERTORCH_POLL_INTERVAL_SECONDS" envDefault:"2"`

	// UnreachableExitSeconds bounds how long the worker tolerates a
	// failing orchestrator before exiting nonzero, per spec.md:159.
	UnreachableExitSeconds int `env:"CERTORCH_UNREACHABLE_EXIT_SECONDS" envDefault:"300"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"true"`
}

// LoadWorkerConfig reads a WorkerConfig from the environment.
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing worker config from env: %w", err)
	}
	return cfg, nil
}
