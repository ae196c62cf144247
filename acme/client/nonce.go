package client

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/acme-go/acmecore/acme"
)

// noncePool holds at most one unused Replay-Nonce, per spec.md section 4.3:
// a single mutex-guarded slot rather than a queue, since an ACME client only
// ever needs one nonce in flight at a time. Every JWS response carries
// a fresh nonce (RFC 8555 section 7.2), so the slot is normally kept full by
// offer after each request; take only needs to hit the network when the pool
// is empty, such as on the very first request of a session.
type noncePool struct {
	mu    sync.Mutex
	nonce string
}

func newNoncePool() *noncePool {
	return &noncePool{}
}

// offer stores a nonce for a future request, replacing whatever was there.
func (p *noncePool) offer(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonce = nonce
}

// take removes and returns the pooled nonce, if any.
func (p *noncePool) take() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nonce == "" {
		return "", false
	}
	n := p.nonce
	p.nonce = ""
	return n, true
}

// invalidate discards the pooled nonce. Called after a badNonce problem
// response so the next Nonce call is forced to fetch a fresh one instead of
// handing back the value the server just rejected.
func (p *noncePool) invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonce = ""
}

// Nonce satisfies go-jose's NonceSource interface. It returns a pooled nonce
// if one is available, otherwise fetches one fresh from the server's
// newNonce endpoint, RFC 8555 section 7.2.
func (c *Client) Nonce() (string, error) {
	if n, ok := c.nonces.take(); ok {
		return n, nil
	}
	return c.refreshNonce()
}

// refreshNonce fetches a fresh nonce from the server's newNonce endpoint
// and returns it directly, without storing it in the pool (the caller is
// about to consume it).
func (c *Client) refreshNonce() (string, error) {
	nonceURL, err := c.endpointURL(acme.NewNonceEndpoint)
	if err != nil {
		return "", err
	}

	resp, err := c.head(nonceURL)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("%q returned HTTP status %d", acme.NewNonceEndpoint, resp.StatusCode)
	}

	nonce := resp.Header.Get(acme.ReplayNonceHeader)
	if nonce == "" {
		return "", fmt.Errorf("%q returned no %q header", acme.NewNonceEndpoint, acme.ReplayNonceHeader)
	}
	return nonce, nil
}

// observeNonce records the Replay-Nonce header of an HTTP response in the
// pool for reuse by the next signed request, if present.
func (c *Client) observeNonce(h http.Header) {
	if n := h.Get(acme.ReplayNonceHeader); n != "" {
		c.nonces.offer(n)
	}
}
