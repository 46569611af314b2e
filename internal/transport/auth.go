// Access-token auth and per-address rate limiting of handshake
// attempts.
package transport

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// Auth gates non-loopback handshakes behind a bearer token, compared in
// constant time, and rate-limits handshake attempts per remote address.
type Auth struct {
	mu      sync.RWMutex
	enabled bool
	token   string

	bucket *limiter.TokenBucket
}

// NewAuth constructs a disabled (loopback-only) Auth gate.
func NewAuth() *Auth {
	a := &Auth{}
	a.rebuildLimiter()
	return a
}

func (a *Auth) rebuildLimiter() {
	st := store.NewMemoryStore(time.Minute)
	bucket, err := limiter.NewTokenBucket(limiter.Config{
		Rate:     10,
		Duration: time.Second,
		Burst:    20,
	}, st)
	if err == nil {
		a.bucket = bucket
	}
}

// Set implements WebSocketAccessSet{enabled, token}: when
// enabled the listener accepts non-loopback connections bearing the
// token; when disabled it reverts to loopback-only. Rotating the token
// rebuilds the rate limiter so stale bucket state from a previous token
// epoch cannot leak through.
func (a *Auth) Set(enabled bool, token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
	a.token = token
	a.rebuildLimiter()
}

func (a *Auth) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// CheckHandshake enforces the loopback/token rule for one inbound
// upgrade request.
func (a *Auth) CheckHandshake(r *http.Request) error {
	a.mu.RLock()
	enabled, token, bucket := a.enabled, a.token, a.bucket
	a.mu.RUnlock()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	loopback := ip != nil && ip.IsLoopback()

	if !enabled {
		if !loopback {
			return fmt.Errorf("unauthorized: non-loopback connections disabled")
		}
		return nil
	}

	if bucket != nil && !bucket.Allow(host) {
		return fmt.Errorf("unauthorized: rate limited")
	}

	if loopback {
		return nil
	}

	presented := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(presented) <= len(prefix) || presented[:len(prefix)] != prefix {
		return fmt.Errorf("unauthorized: missing bearer token")
	}
	presented = presented[len(prefix):]
	if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
		return fmt.Errorf("unauthorized: invalid token")
	}
	return nil
}
