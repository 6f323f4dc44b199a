// Package dnsseed resolves DNS introducers into full node hosts.
package dnsseed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

const (
	// DefaultTimeout bounds a single DNS exchange.
	DefaultTimeout = 5 * time.Second

	resolvConf = "/etc/resolv.conf"
)

// ErrNoSeedResults is returned when no introducer yielded a single host.
var ErrNoSeedResults = errors.New("no hosts returned by dns seeds")

// Config houses the settings of a Seeder.
type Config struct {
	// Seeds are the introducer domain names to query.
	Seeds []string

	// Port is joined to every resolved address.
	Port string

	// Server is the resolver to query, as host:port. The first
	// nameserver of /etc/resolv.conf is used when empty.
	Server string

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
}

// Seeder looks up A and AAAA records of DNS introducers.
type Seeder struct {
	cfg    Config
	client *dns.Client
}

// New creates a Seeder.
func New(cfg Config) *Seeder {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Seeder{
		cfg:    cfg,
		client: &dns.Client{Timeout: cfg.Timeout},
	}
}

// LookupHosts returns host:port pairs for every address the introducers
// resolve to. A failing seed is logged and skipped; an error is returned only
// when nothing was resolved.
func (s *Seeder) LookupHosts(ctx context.Context) ([]string, error) {
	server, err := s.server()
	if err != nil {
		return nil, err
	}

	var (
		hosts   []string
		seen    = make(map[string]struct{})
		lastErr error
	)
	for _, seed := range s.cfg.Seeds {
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			ips, err := s.query(ctx, server, seed, qtype)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}

				log.Debugf("Seed %s %s lookup failed: %v", seed,
					dns.TypeToString[qtype], err)
				lastErr = err

				continue
			}

			for _, ip := range ips {
				host := net.JoinHostPort(ip.String(), s.cfg.Port)
				if _, ok := seen[host]; ok {
					continue
				}
				seen[host] = struct{}{}
				hosts = append(hosts, host)
			}
		}
	}

	if len(hosts) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoSeedResults, lastErr)
		}

		return nil, ErrNoSeedResults
	}

	log.Debugf("Resolved %d host(s) from %d seed(s)", len(hosts),
		len(s.cfg.Seeds))

	return hosts, nil
}

func (s *Seeder) server() (string, error) {
	if s.cfg.Server != "" {
		return s.cfg.Server, nil
	}

	conf, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return "", fmt.Errorf("read resolver config: %w", err)
	}
	if len(conf.Servers) == 0 {
		return "", errors.New("no nameserver configured")
	}

	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

func (s *Seeder) query(ctx context.Context, server, name string,
	qtype uint16) ([]net.IP, error) {

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	resp, _, err := s.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, err
	}

	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("unsuccessful query: %s",
			dns.RcodeToString[resp.Rcode])
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			ips = append(ips, rec.A)
		case *dns.AAAA:
			ips = append(ips, rec.AAAA)
		}
	}

	return ips, nil
}
