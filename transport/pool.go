// Package transport maintains a pool of HTTP clients keyed by TLS
// verification mode. Each distinct verify value needs its own TLS stack;
// caching by key keeps connections warm when the same mode is used
// repeatedly, which matters for tracking traffic spread across quartiles.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// VerifyMode selects how server certificates are checked. Strict and
// Insecure are the two boolean modes; any other value is read as a path to
// a CA bundle file.
type VerifyMode string

const (
	// VerifyStrict uses the system trust store.
	VerifyStrict VerifyMode = "true"
	// VerifyInsecure disables certificate verification.
	VerifyInsecure VerifyMode = "false"
)

// Options tunes the pooled client built for a verify mode.
type Options struct {
	// Timeout is the whole-request timeout.
	Timeout time.Duration
	// MaxConns bounds connections per host.
	MaxConns int
	// MaxIdleConns bounds kept-alive connections per host.
	MaxIdleConns int
	// IdleTimeout is how long an idle connection survives. Tracking
	// clients want >= 300s to outlive inter-quartile gaps.
	IdleTimeout time.Duration
}

// DefaultOptions are the ad-request client settings.
var DefaultOptions = Options{
	Timeout:      10 * time.Second,
	MaxConns:     32,
	MaxIdleConns: 8,
	IdleTimeout:  90 * time.Second,
}

// TrackingOptions are the tracking client settings; the long idle timeout
// keeps connections alive between quartile events.
var TrackingOptions = Options{
	Timeout:      5 * time.Second,
	MaxConns:     64,
	MaxIdleConns: 16,
	IdleTimeout:  300 * time.Second,
}

type entry struct {
	client    *http.Client
	transport *http.Transport
}

// Pool caches one *http.Client per VerifyMode. Safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[string]*entry)}
}

// Client returns the pooled client for mode, creating it on first use.
// The pool holds at most one entry per distinct verify value: the first
// caller's options configure the shared client.
func (p *Pool) Client(mode VerifyMode, opts Options) (*http.Client, error) {
	key := string(mode)
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e.client, nil
	}
	tlsConf, err := tlsConfig(mode)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		TLSClientConfig:     tlsConf,
		MaxConnsPerHost:     opts.MaxConns,
		MaxIdleConnsPerHost: opts.MaxIdleConns,
		IdleConnTimeout:     opts.IdleTimeout,
	}
	e := &entry{
		client:    &http.Client{Transport: tr, Timeout: opts.Timeout},
		transport: tr,
	}
	p.entries[key] = e
	return e.client, nil
}

// Len reports the number of distinct cached clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close drops all idle connections and empties the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		e.transport.CloseIdleConnections()
	}
	p.entries = make(map[string]*entry)
}

func tlsConfig(mode VerifyMode) (*tls.Config, error) {
	switch mode {
	case VerifyStrict, "":
		return &tls.Config{}, nil
	case VerifyInsecure:
		return &tls.Config{InsecureSkipVerify: true}, nil
	default:
		pem, err := os.ReadFile(string(mode))
		if err != nil {
			return nil, fmt.Errorf("transport: read CA bundle %s: %w", mode, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("transport: no certificates in CA bundle %s", mode)
		}
		return &tls.Config{RootCAs: pool}, nil
	}
}

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
)

// Default returns the process-wide pool, for callers that do not manage
// their own. The client facade owns a private pool instead.
func Default() *Pool {
	defaultPoolOnce.Do(func() { defaultPool = NewPool() })
	return defaultPool
}
