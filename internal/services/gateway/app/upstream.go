package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Source tells where a dashboard section came from.
type Source string

const (
	SourceLive  Source = "live"
	SourceStale Source = "stale" // last good body, upstream failing or breaker open
	SourceNone  Source = "none"
	SourceOff   Source = "disabled"
)

// Upstream incapsula le GET verso un servizio a monte dietro un circuit breaker
// e ricorda l'ultima risposta valida.
type Upstream struct {
	name    string
	base    string
	path    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker

	mu       sync.RWMutex
	lastGood []byte
}

func NewUpstream(name, base, path string, timeout time.Duration, breaker *gobreaker.CircuitBreaker) *Upstream {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	path = "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
	return &Upstream{
		name:    name,
		base:    base,
		path:    path,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// GetJSON decodes the live body into out, or the last good body when the
// call fails. The error is the live failure, if any.
func (u *Upstream) GetJSON(ctx context.Context, out any) (Source, error) {
	if u == nil || u.base == "" {
		// upstream opzionale non configurato
		return SourceOff, nil
	}
	res, err := u.breaker.Execute(func() (any, error) {
		return u.fetch(ctx)
	})
	if err == nil {
		body := res.([]byte)
		derr := json.Unmarshal(body, out)
		if derr == nil {
			u.mu.Lock()
			u.lastGood = body
			u.mu.Unlock()
			return SourceLive, nil
		}
		err = fmt.Errorf("%s decode: %w", u.name, derr)
	}

	u.mu.RLock()
	last := u.lastGood
	u.mu.RUnlock()
	if last != nil && json.Unmarshal(last, out) == nil {
		return SourceStale, err
	}
	return SourceNone, err
}

func (u *Upstream) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.base+u.path, nil)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", u.name, err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", u.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s upstream status %d", u.name, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%s read: %w", u.name, err)
	}
	return b, nil
}

// State reports the breaker state as a string.
func (u *Upstream) State() string {
	if u == nil || u.base == "" {
		return string(SourceOff)
	}
	return u.breaker.State().String()
}
