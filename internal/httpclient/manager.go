// Package httpclient manages the upstream HTTP connection pools. Clients are
// cached by configuration fingerprint so every request with the same timeout
// profile shares one pool.
package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jleechanorg/codex-plus/internal/types"

	"github.com/sirupsen/logrus"
)

// Config defines the parameters of one pooled client. The struct doubles as
// the cache key via its fingerprint.
type Config struct {
	ConnectTimeout        time.Duration
	RequestTimeout        time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	ResponseHeaderTimeout time.Duration
	TLSHandshakeTimeout   time.Duration
	DisableCompression    bool
}

// StreamConfig derives the pooled-client parameters for streaming upstream
// calls. RequestTimeout bounds the whole call; ResponseHeaderTimeout bounds
// the wait for the upstream to start answering. Compression stays off so SSE
// bytes arrive as sent.
func StreamConfig(cfg types.UpstreamConfig) *Config {
	return &Config{
		ConnectTimeout:        cfg.ConnectTimeout,
		RequestTimeout:        cfg.RequestTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		ResponseHeaderTimeout: cfg.ConnectTimeout + 30*time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		DisableCompression:    true,
	}
}

// Manager caches HTTP clients by configuration fingerprint.
type Manager struct {
	clients map[string]*http.Client
	lock    sync.RWMutex
}

// NewManager creates an empty client cache.
func NewManager() *Manager {
	return &Manager{clients: make(map[string]*http.Client)}
}

// GetClient returns the pooled client for the configuration, creating and
// caching it on first use.
func (m *Manager) GetClient(config *Config) *http.Client {
	fingerprint := config.fingerprint()

	m.lock.RLock()
	client, exists := m.clients[fingerprint]
	m.lock.RUnlock()
	if exists {
		return client
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if client, exists = m.clients[fingerprint]; exists {
		return client
	}

	maxConnsPerHost := config.MaxIdleConnsPerHost * 2
	if maxConnsPerHost < 10 {
		maxConnsPerHost = 10
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		DisableCompression:    config.DisableCompression,
	}

	client = &http.Client{
		Transport: transport,
		Timeout:   config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}
	m.clients[fingerprint] = client

	logrus.WithFields(logrus.Fields{
		"fingerprint": fingerprint,
		"timeout":     config.RequestTimeout,
	}).Debug("Created new upstream HTTP client")
	return client
}

// CloseIdleConnections releases idle connections of all cached clients,
// used during graceful shutdown.
func (m *Manager) CloseIdleConnections() {
	m.lock.RLock()
	defer m.lock.RUnlock()
	for _, client := range m.clients {
		if transport, ok := client.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}
}

func (c *Config) fingerprint() string {
	return fmt.Sprintf(
		"ct:%.0fs|rt:%.0fs|it:%.0fs|mic:%d|mich:%d|rht:%.0fs|tlst:%.0fs|dc:%t",
		c.ConnectTimeout.Seconds(),
		c.RequestTimeout.Seconds(),
		c.IdleConnTimeout.Seconds(),
		c.MaxIdleConns,
		c.MaxIdleConnsPerHost,
		c.ResponseHeaderTimeout.Seconds(),
		c.TLSHandshakeTimeout.Seconds(),
		c.DisableCompression,
	)
}
