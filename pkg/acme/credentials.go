package acme

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// credentials is the on-disk shape of a worker's persisted ACME account,
// grounded on cuemby-warren/cmd/warren's apply.go yaml.v3 file-read pattern.
// Without it, a restarted worker would register a fresh account with the CA
// on every start.
type credentials struct {
	Email         string `yaml:"email"`
	PrivateKeyPEM string `yaml:"private_key_pem"`
}

func loadCredentials(path string) (*credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("acme: parsing credentials file %s: %w", path, err)
	}
	return &c, nil
}

func saveCredentials(path string, c *credentials) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("acme: encoding credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("acme: writing credentials file %s: %w", path, err)
	}
	return nil
}

func encodeKey(key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("acme: marshaling account key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

func decodeKey(pemStr string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("acme: credentials file contains no PEM block")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("acme: parsing account key: %w", err)
	}
	return key, nil
}
