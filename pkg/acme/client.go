// Package acme implements the worker-side capability interface for driving
// the ACME DNS-01 protocol in discrete Order/Ready/Finalize phases, per
// spec.md §4.8. Grounded on cuemby-warren/pkg/ingress/acme.go's lego-based
// ACMEClient and HTTP01Provider, adapted from HTTP-01 to DNS-01 and from a
// single blocking ObtainCertificate call into three phases a worker can
// dispense across separate task cycles.
//
// lego's public API models issuance as one blocking Obtain() call driven by
// a challenge.Provider callback, not as discrete order/authorize/finalize
// steps. LegoClient bridges that to the three-phase contract by running
// Obtain() in a background goroutine per name and using two unbuffered
// signal channels: Present() (lego's callback) parks until Ready() unparks
// it, so the DNS-01 TXT value becomes visible to Order() without waiting for
// full issuance, and Finalize() blocks on the goroutine's completion.
package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// Client is the capability interface the worker pipeline depends on. One
// name is driven through Order, then Ready, then Finalize; callers must
// invoke them in that order and only once per phase per name.
type Client interface {
	// Order begins a DNS-01 order for name and returns the value that must be
	// published as the TXT record at "_acme-challenge."+name.
	Order(name string) (challengeValue string, err error)
	// Ready tells the CA the challenge has been satisfied (the caller has
	// already confirmed DNS propagation) and lets validation proceed.
	Ready(name string) error
	// Finalize blocks until the order completes and returns the issued
	// certificate chain and its private key, both PEM-encoded.
	Finalize(name string) (certChainPEM, keyPEM []byte, err error)
}

// pendingOrder tracks one name's in-flight issuance across the three phase
// calls, which run against a single background Obtain() goroutine.
type pendingOrder struct {
	presented chan struct{} // closed once Present() has recorded challengeValue
	proceed   chan struct{} // closed by Ready() to release the parked Present() call
	done      chan struct{} // closed once the Obtain() goroutine has finished

	challengeValue string
	result         *certificate.Resource
	err            error
}

// acmeUser implements lego's registration.User.
type acmeUser struct {
	email string
	reg   *registration.Resource
	key   crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.reg }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// dns01Provider implements lego's challenge.Provider, bridging Present/
// CleanUp to the pendingOrder's signal channels instead of touching DNS
// itself; the worker's own dnschallenge.Publisher owns the actual record.
type dns01Provider struct {
	client *LegoClient
}

func (p *dns01Provider) Present(domain, token, keyAuth string) error {
	p.client.mu.Lock()
	pending, ok := p.client.orders[domain]
	p.client.mu.Unlock()
	if !ok {
		return fmt.Errorf("acme: Present called for unknown order %s", domain)
	}

	info := dns01.GetChallengeInfo(domain, keyAuth)
	pending.challengeValue = info.Value
	close(pending.presented)

	<-pending.proceed
	return nil
}

func (p *dns01Provider) CleanUp(domain, token, keyAuth string) error {
	// The Certificate phase owns TXT record deletion via dnschallenge.Publisher.
	return nil
}

func (p *dns01Provider) Timeout() (timeout, interval time.Duration) {
	return 2 * time.Minute, 2 * time.Second
}

// LegoClient is the concrete Client backed by go-acme/lego/v4 against a
// directory URL (production or staging Let's Encrypt, or any other ACME CA).
type LegoClient struct {
	client *lego.Client
	mu     sync.Mutex
	orders map[string]*pendingOrder
}

// NewLegoClient builds a LegoClient against directoryURL under email. If
// credentialsFile names an existing file, its persisted account key is
// reused and the account resolved from the CA by key rather than
// re-registered; otherwise a fresh account is created and, if
// credentialsFile is non-empty, persisted there for subsequent restarts.
func NewLegoClient(directoryURL, email, credentialsFile string) (*LegoClient, error) {
	var (
		key      *ecdsa.PrivateKey
		existing bool
		err      error
	)

	if credentialsFile != "" {
		if creds, loadErr := loadCredentials(credentialsFile); loadErr == nil {
			if key, err = decodeKey(creds.PrivateKeyPEM); err != nil {
				return nil, err
			}
			if creds.Email != "" {
				email = creds.Email
			}
			existing = true
		}
	}

	if key == nil {
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("acme: generating account key: %w", err)
		}
	}

	user := &acmeUser{email: email, key: key}
	cfg := lego.NewConfig(user)
	cfg.CADirURL = directoryURL

	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("acme: creating lego client: %w", err)
	}

	var reg *registration.Resource
	if existing {
		reg, err = client.Registration.ResolveAccountByKey()
		if err != nil {
			return nil, fmt.Errorf("acme: resolving existing account: %w", err)
		}
	} else {
		reg, err = client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("acme: registering account: %w", err)
		}
		if credentialsFile != "" {
			keyPEM, encErr := encodeKey(key)
			if encErr != nil {
				return nil, encErr
			}
			if err := saveCredentials(credentialsFile, &credentials{Email: email, PrivateKeyPEM: keyPEM}); err != nil {
				return nil, err
			}
		}
	}
	user.reg = reg

	lc := &LegoClient{
		client: client,
		orders: make(map[string]*pendingOrder),
	}

	if err := client.Challenge.SetDNS01Provider(&dns01Provider{client: lc}); err != nil {
		return nil, fmt.Errorf("acme: setting dns-01 provider: %w", err)
	}

	return lc, nil
}

func (c *LegoClient) Order(name string) (string, error) {
	c.mu.Lock()
	if _, exists := c.orders[name]; exists {
		c.mu.Unlock()
		return "", fmt.Errorf("acme: order already in progress for %s", name)
	}
	pending := &pendingOrder{
		presented: make(chan struct{}),
		proceed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.orders[name] = pending
	c.mu.Unlock()

	go func() {
		result, err := c.client.Certificate.Obtain(certificate.ObtainRequest{
			Domains: []string{name},
			Bundle:  true,
		})
		pending.result = result
		pending.err = err
		close(pending.done)
	}()

	select {
	case <-pending.presented:
		return pending.challengeValue, nil
	case <-pending.done:
		if pending.err != nil {
			return "", fmt.Errorf("acme: order failed before challenge presentation: %w", pending.err)
		}
		return "", fmt.Errorf("acme: order completed without presenting a challenge")
	}
}

func (c *LegoClient) Ready(name string) error {
	c.mu.Lock()
	pending, ok := c.orders[name]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("acme: no pending order for %s", name)
	}

	close(pending.proceed)
	return nil
}

func (c *LegoClient) Finalize(name string) ([]byte, []byte, error) {
	c.mu.Lock()
	pending, ok := c.orders[name]
	c.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("acme: no pending order for %s", name)
	}

	<-pending.done

	c.mu.Lock()
	delete(c.orders, name)
	c.mu.Unlock()

	if pending.err != nil {
		return nil, nil, fmt.Errorf("acme: finalizing %s: %w", name, pending.err)
	}
	return pending.result.Certificate, pending.result.PrivateKey, nil
}
