package rpcpeer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/internal/cfgutil"
	"github.com/coinwatch/coinwatch/internal/zero"
)

const (
	// DefaultRequestTimeout bounds every RPC request of a dialed peer.
	DefaultRequestTimeout = 30 * time.Second

	idleConnTimeout = 90 * time.Second
)

var (
	// ErrNoHosts is returned when neither static hosts nor DNS seeds
	// yield a node to dial.
	ErrNoHosts = errors.New("no full node hosts known")

	// ErrWrongNetwork is returned when a dialed node runs a network other
	// than the requested one.
	ErrWrongNetwork = errors.New("node is on a different network")
)

// HostSource provides additional candidate hosts, such as DNS introducers.
type HostSource interface {
	LookupHosts(ctx context.Context) ([]string, error)
}

// DialerConfig houses the settings of a Dialer.
type DialerConfig struct {
	// Hosts are static node addresses. The network's default RPC port is
	// added where missing.
	Hosts []string

	// Seeder, when set, is queried on every dial for more hosts.
	Seeder HostSource

	// RequestTimeout defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Rand picks the host to dial. A time seeded source is used when nil.
	Rand *rand.Rand
}

// Dialer opens RPC sessions with full nodes chosen at random.
type Dialer struct {
	cfg DialerConfig

	randMu sync.Mutex
	rand   *rand.Rand
}

// Compile time check that *Dialer satisfies chain.Dialer.
var _ chain.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer.
func NewDialer(cfg DialerConfig) *Dialer {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	r := cfg.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}

	return &Dialer{cfg: cfg, rand: r}
}

// ConnectRandom implements chain.Dialer. The session is only returned once
// the node confirmed it runs the requested network.
func (d *Dialer) ConnectRandom(ctx context.Context, net chain.Network,
	creds *chain.Credentials) (chain.Peer, error) {

	hosts, err := d.candidates(ctx, net)
	if err != nil {
		return nil, err
	}

	tlsConfig, err := TLSConfig(creds)
	if err != nil {
		return nil, err
	}

	d.randMu.Lock()
	host := hosts[d.rand.Intn(len(hosts))]
	d.randMu.Unlock()

	peer := NewPeer(host, &http.Client{
		Timeout: d.cfg.RequestTimeout,
		Transport: &http.Transport{
			TLSClientConfig:     tlsConfig,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     idleConnTimeout,
		},
	})

	name, err := peer.NetworkName(ctx)
	if err != nil {
		_ = peer.Close()
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}

	got, err := chain.ParseNetwork(name)
	if err != nil || got != net {
		_ = peer.Close()
		return nil, fmt.Errorf("%w: %s reports %q, want %v",
			ErrWrongNetwork, host, name, net)
	}

	log.Debugf("Connected to %s on %v", host, net)

	return peer, nil
}

// candidates returns the static hosts followed by whatever the seeder
// resolves. Seeder failures are logged.
func (d *Dialer) candidates(ctx context.Context,
	net chain.Network) ([]string, error) {

	hosts, err := cfgutil.NormalizeAddresses(
		d.cfg.Hosts, net.DefaultRPCPort(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid host: %w", err)
	}

	if d.cfg.Seeder != nil {
		seeded, err := d.cfg.Seeder.LookupHosts(ctx)
		switch {
		case err != nil:
			log.Warnf("DNS seed lookup failed: %v", err)
		default:
			hosts = append(hosts, seeded...)
		}
	}

	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}

	return hosts, nil
}

// TLSConfig builds the client TLS configuration for creds. A nil creds
// yields a configuration verifying nodes against the system pool.
func TLSConfig(creds *chain.Credentials) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if creds == nil {
		return cfg, nil
	}

	if creds.CertFile != "" || creds.KeyFile != "" {
		cert, err := loadKeyPair(creds.CertFile, creds.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if creds.CAFile != "" {
		pem, err := os.ReadFile(creds.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s",
				creds.CAFile)
		}
		cfg.RootCAs = pool
	}

	cfg.InsecureSkipVerify = creds.SkipVerify //nolint:gosec

	return cfg, nil
}

// loadKeyPair parses the client certificate pair, wiping the PEM encoded key
// once it is parsed.
func loadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer zero.Bytes(keyPEM)

	return tls.X509KeyPair(certPEM, keyPEM)
}
