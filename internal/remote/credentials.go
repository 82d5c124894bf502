package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Credentials manages the bearer token for the direct transport on top
// of an oauth2.TokenSource. Refresh is shared and idempotent: when two
// operations discover an invalid credential concurrently, both force a
// refresh and both receive the same freshly issued token.
type Credentials struct {
	mu          sync.Mutex
	base        oauth2.TokenSource
	cached      oauth2.TokenSource
	lastRefresh time.Time
	now         func() time.Time
}

// refreshDedupWindow collapses concurrent forced refreshes: a refresh
// completed this recently satisfies later callers without a new grant.
const refreshDedupWindow = 10 * time.Second

// NewCredentials wraps a token source. A nil source means no
// credential is obtainable and the direct transport is unusable.
func NewCredentials(src oauth2.TokenSource) *Credentials {
	c := &Credentials{base: src, now: time.Now}
	if src != nil {
		c.cached = oauth2.ReuseTokenSource(nil, src)
	}
	return c
}

// Available reports whether a credential source is configured.
func (c *Credentials) Available() bool {
	return c != nil && c.base != nil
}

// Token returns a valid bearer token, refreshing transparently when
// the cached one has expired.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	if !c.Available() {
		return "", ErrNoCredentials
	}
	c.mu.Lock()
	src := c.cached
	c.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	return tok.AccessToken, nil
}

// ForceRefresh discards the cached token and issues a new one. Callers
// racing on the mutex all observe the token minted by whichever call
// ran first; within the dedup window the source is hit only once.
func (c *Credentials) ForceRefresh(ctx context.Context) (string, error) {
	if !c.Available() {
		return "", ErrNoCredentials
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.now().Sub(c.lastRefresh) < refreshDedupWindow {
		tok, err := c.cached.Token()
		if err == nil {
			return tok.AccessToken, nil
		}
		// Fresh token already bad; fall through to a real refresh.
	}

	tok, err := c.base.Token()
	if err != nil {
		return "", fmt.Errorf("force refresh: %w", err)
	}
	c.cached = oauth2.ReuseTokenSource(tok, c.base)
	c.lastRefresh = c.now()
	return tok.AccessToken, nil
}
