// Package dnschallenge implements the worker-side DNS capability interfaces
// for publishing and resolving ACME DNS-01 challenge TXT records, per
// spec.md §4.8. Grounded on cuemby-warren/pkg/dns's miekg/dns usage, but
// switched from in-process service-name resolution to (a) RFC 2136 dynamic
// update against the delegation zone and (b) genuine recursive TXT lookup
// against upstream resolvers.
package dnschallenge

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ChallengeLabel is the well-known label ACME DNS-01 challenges are
// published under, per RFC 8555 §8.4.
const ChallengeLabel = "_acme-challenge"

// Publisher creates and removes the challenge TXT record in the delegation
// zone. Create/Delete are keyed by name and idempotent, per spec.md §5.
type Publisher interface {
	Create(delegationDomain, name, value string) error
	Delete(delegationDomain, name string) error
}

// Resolver looks up the TXT record a Publisher has created, from the
// perspective of a recursive resolver the way the ACME CA would see it.
type Resolver interface {
	// LookupTXT returns the TXT record values for fqdn. A nil error with an
	// empty slice means "queried successfully, no records yet" (the caller
	// maps this to AwaitingDnsPropagation); a non-nil error is any other
	// resolution failure.
	LookupTXT(fqdn string) ([]string, error)
}

// ChallengeName returns the fully-qualified "_acme-challenge.<name>.". The
// publisher passes "<name>.<delegationDomain>" so its records land inside the
// delegation zone.
func ChallengeName(name string) string {
	return dns.Fqdn(ChallengeLabel + "." + name)
}

// RFC2136Publisher publishes and retracts challenge TXT records via RFC 2136
// dynamic update, authenticated with TSIG.
type RFC2136Publisher struct {
	server    string // "host:port" of the zone's authoritative/update server
	tsigName  string
	tsigKey   string // base64, matching the algorithm below
	tsigAlgo  string
	ttl       uint32
	transport *dns.Client
}

// NewRFC2136Publisher builds a publisher that signs updates sent to server
// with the given TSIG key.
func NewRFC2136Publisher(server, tsigName, tsigKey, tsigAlgo string) *RFC2136Publisher {
	if tsigAlgo == "" {
		tsigAlgo = dns.HmacSHA256
	}
	return &RFC2136Publisher{
		server:    server,
		tsigName:  dns.Fqdn(tsigName),
		tsigKey:   tsigKey,
		tsigAlgo:  tsigAlgo,
		ttl:       60,
		transport: &dns.Client{Timeout: 10 * time.Second, TsigSecret: map[string]string{dns.Fqdn(tsigName): tsigKey}},
	}
}

// Create publishes a TXT record for "_acme-challenge.<name>.<delegationDomain>."
// with the given value, replacing any prior value.
func (p *RFC2136Publisher) Create(delegationDomain, name, value string) error {
	fqdn := ChallengeName(name + "." + delegationDomain)

	m := new(dns.Msg)
	m.SetUpdate(dns.Fqdn(delegationDomain))

	rrRemove, err := dns.NewRR(fmt.Sprintf("%s 0 TXT \"\"", fqdn))
	if err != nil {
		return fmt.Errorf("dnschallenge: building removal RR: %w", err)
	}
	m.RemoveRRset([]dns.RR{rrRemove})

	rr, err := dns.NewRR(fmt.Sprintf("%s %d TXT %q", fqdn, p.ttl, value))
	if err != nil {
		return fmt.Errorf("dnschallenge: building TXT RR: %w", err)
	}
	m.Insert([]dns.RR{rr})

	m.SetTsig(p.tsigName, p.tsigAlgo, 300, time.Now().Unix())

	return p.exchange(m)
}

// Delete removes every TXT record for "_acme-challenge.<name>.<delegationDomain>.".
// Absence of the record is not an error (idempotent).
func (p *RFC2136Publisher) Delete(delegationDomain, name string) error {
	fqdn := ChallengeName(name + "." + delegationDomain)

	m := new(dns.Msg)
	m.SetUpdate(dns.Fqdn(delegationDomain))

	rr, err := dns.NewRR(fmt.Sprintf("%s 0 TXT \"\"", fqdn))
	if err != nil {
		return fmt.Errorf("dnschallenge: building removal RR: %w", err)
	}
	m.RemoveRRset([]dns.RR{rr})
	m.SetTsig(p.tsigName, p.tsigAlgo, 300, time.Now().Unix())

	return p.exchange(m)
}

func (p *RFC2136Publisher) exchange(m *dns.Msg) error {
	resp, _, err := p.transport.Exchange(m, p.server)
	if err != nil {
		return fmt.Errorf("dnschallenge: exchanging update with %s: %w", p.server, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("dnschallenge: update rejected: %s", dns.RcodeToString[resp.Rcode])
	}
	return nil
}

// RecursiveResolver queries a list of recursive resolvers for TXT records,
// the way the ACME CA's own validation servers would see them.
type RecursiveResolver struct {
	servers []string // "host:port", queried in order until one answers
	client  *dns.Client
}

// NewRecursiveResolver builds a resolver against the given upstream
// recursive servers (e.g. "8.8.8.8:53", "1.1.1.1:53").
func NewRecursiveResolver(servers []string) *RecursiveResolver {
	return &RecursiveResolver{
		servers: servers,
		client:  &dns.Client{Timeout: 5 * time.Second},
	}
}

// LookupTXT queries for the TXT records at fqdn, trying each configured
// server in turn until one replies without a transport error.
func (r *RecursiveResolver) LookupTXT(fqdn string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(fqdn), dns.TypeTXT)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.Exchange(m, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode == dns.RcodeNameError || resp.Rcode == dns.RcodeSuccess && len(resp.Answer) == 0 {
			return nil, nil
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("dnschallenge: %s answered %s for %s", server, dns.RcodeToString[resp.Rcode], fqdn)
		}

		var values []string
		for _, rr := range resp.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				values = append(values, strings.Join(txt.Txt, ""))
			}
		}
		return values, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("dnschallenge: no upstream resolver answered for %s: %w", fqdn, lastErr)
	}
	return nil, fmt.Errorf("dnschallenge: no resolvers configured")
}
