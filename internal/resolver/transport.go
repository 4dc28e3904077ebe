package resolver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog"
)

// DefaultDNSCacheTTL is how often cached lookups are refreshed.
const DefaultDNSCacheTTL = 5 * time.Minute

// DNSCache caches host lookups for outbound billing calls.
type DNSCache struct {
	resolver *dnscache.Resolver
	ttl      time.Duration
	logger   zerolog.Logger
	dialer   *net.Dialer
}

// NewDNSCache builds a cache. A non-positive ttl falls back to
// DefaultDNSCacheTTL.
func NewDNSCache(ttl time.Duration, logger zerolog.Logger) *DNSCache {
	if ttl <= 0 {
		ttl = DefaultDNSCacheTTL
	}
	return &DNSCache{
		resolver: &dnscache.Resolver{},
		ttl:      ttl,
		logger:   logger.With().Str("component", "dnscache").Logger(),
		dialer: &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// Run refreshes the cache every ttl until ctx ends. Unused entries are
// dropped on each refresh.
func (c *DNSCache) Run(ctx context.Context) {
	c.logger.Info().Dur("ttl", c.ttl).Msg("DNS cache started")
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.resolver.Refresh(true)
			c.logger.Debug().Msg("DNS cache refreshed")
		}
	}
}

// DialContext resolves address through the cache and dials the first IP
// that accepts the connection.
func (c *DNSCache) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := c.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := c.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// NewTransport returns an HTTP transport dialing through cache. A nil cache
// uses the default dialer.
func NewTransport(cache *DNSCache) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	if cache != nil {
		transport.DialContext = cache.DialContext
	}
	return transport
}

// NewHTTPClient returns a client over NewTransport(cache) with an overall
// request timeout.
func NewHTTPClient(cache *DNSCache, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewTransport(cache),
		Timeout:   timeout,
	}
}
