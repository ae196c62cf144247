package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/acme-go/acmecore/acme"
	"github.com/acme-go/acmecore/acme/resources"
	"github.com/stretchr/testify/require"
)

// newAccountForTest returns a fresh in-memory Account with its kid already
// set, as if a prior newAccount call had succeeded, so signAndPost can sign
// in kid mode without driving a full registration round trip.
func newAccountForTest(t *testing.T) (*resources.Account, error) {
	t.Helper()
	acct, err := resources.NewAccount([]string{"foo@bar.com"})
	if err != nil {
		return nil, err
	}
	acct.Key.SetKID("https://example.com/acme/acct/1")
	return acct, nil
}

// badNonceServer answers a fixed number of POSTs to /target with a badNonce
// problem document before succeeding, so the retry policy in signAndPost can
// be exercised without the full acmetest fixture.
type badNonceServer struct {
	*httptest.Server

	mu      sync.Mutex
	fails   int
	attempt int
}

func newBadNonceServer(fails int) *badNonceServer {
	s := &badNonceServer{fails: fails}
	mux := http.NewServeMux()
	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"newNonce": %q, "newAccount": %q, "newOrder": %q}`,
			s.URL+"/new-nonce", s.URL+"/new-acct", s.URL+"/new-order")
	})
	mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "seed-nonce")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/target", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.attempt++
		attempt := s.attempt
		s.mu.Unlock()

		w.Header().Set("Replay-Nonce", fmt.Sprintf("nonce-%d", attempt))
		if attempt <= s.fails {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusBadRequest)
			body, _ := json.Marshal(map[string]any{
				"type":   "urn:ietf:params:acme:error:badNonce",
				"detail": "bad nonce",
				"status": http.StatusBadRequest,
			})
			w.Write(body)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	s.Server = httptest.NewServer(mux)
	return s
}

func newTestClientFor(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{DirectoryURL: srv.URL + "/directory"})
	require.NoError(t, err)
	return c
}

func TestSignAndPostRetriesOnBadNonce(t *testing.T) {
	srv := newBadNonceServer(2)
	defer srv.Close()

	c := newTestClientFor(t, srv)
	acct, err := newAccountForTest(t)
	require.NoError(t, err)
	c.ActiveAccount = acct

	resp, err := c.signAndPost(srv.URL+"/target", []byte("{}"), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, srv.attempt, "should succeed on the 3rd attempt")
}

func TestSignAndPostGivesUpAfterThreeBadNonces(t *testing.T) {
	srv := newBadNonceServer(99)
	defer srv.Close()

	c := newTestClientFor(t, srv)
	acct, err := newAccountForTest(t)
	require.NoError(t, err)
	c.ActiveAccount = acct

	_, err = c.signAndPost(srv.URL+"/target", []byte("{}"), nil)
	require.Error(t, err)
	require.Equal(t, 3, srv.attempt, "must not exceed 3 total attempts")

	// spec.md section 7's propagation rule: badNonce is recovered locally up
	// to 3 attempts, then escalated as a TransportFailure rather than
	// surfacing the internal AcmeProblemError as the error's own kind.
	var transportErr *acme.TransportFailureError
	require.ErrorAs(t, err, &transportErr, "exhausted badNonce retries must escalate to TransportFailureError")
	require.NotNil(t, transportErr.Error)
	require.Equal(t, acme.KindTransportFailure, transportErr.Kind)
}
