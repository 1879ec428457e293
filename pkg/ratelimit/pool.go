package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/latticehq/lattice/pkg/config"
)

// pool holds the shared keep-alive HTTP clients, one per credential+model
// hash. Reconfiguring a key closes the previous transport and replaces it.
var pool = struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}{clients: make(map[string]*http.Client)}

// PoolKey derives the pool key from credentials and model so distinct
// providers never share connections.
func PoolKey(credential, model string) string {
	sum := sha256.Sum256([]byte(credential + "\x00" + model))
	return hex.EncodeToString(sum[:8])
}

// SharedClient returns the pooled HTTP client for the given key, creating it
// from the pooling config on first use.
func SharedClient(key string, cfg config.PoolingConfig) *http.Client {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if c, ok := pool.clients[key]; ok {
		return c
	}
	c := newClient(cfg)
	pool.clients[key] = c
	return c
}

// Reconfigure replaces the pooled client for a key, closing idle connections
// of the previous transport.
func Reconfigure(key string, cfg config.PoolingConfig) *http.Client {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if old, ok := pool.clients[key]; ok {
		if t, ok := old.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
	c := newClient(cfg)
	pool.clients[key] = c
	return c
}

func newClient(cfg config.PoolingConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		ForceAttemptHTTP2:   cfg.EnableHTTP2,
	}
	timeout := time.Duration(cfg.RequestTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
