// Package acmetest provides an in-memory ACME server for exercising the
// client package end to end, reproducing a fixed account/order/authz
// scenario rather than a general-purpose fake CA.
package acmetest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Server is a scripted ACME server. It always answers with the same
// account, order and authorization, but tracks which paths have been hit so
// tests can assert on the sequence of calls a client made.
type Server struct {
	*httptest.Server

	mu  sync.Mutex
	hit map[string]int

	// OrderStatus is returned as the Status field for the order and
	// authorization; tests can set it through SetOrderStatus to drive the
	// client through the pending -> ready -> valid lifecycle.
	orderStatus string
}

// New starts a Server listening on a loopback port and returns it. Callers
// must call Close when finished.
func New() *Server {
	s := &Server{hit: map[string]int{}, orderStatus: "pending"}
	s.Server = httptest.NewServer(http.HandlerFunc(s.route))
	return s
}

// DirectoryURL returns the server's directory endpoint URL.
func (s *Server) DirectoryURL() string {
	return s.URL + "/directory"
}

// SetOrderStatus changes the status returned for the order and
// authorization on subsequent requests.
func (s *Server) SetOrderStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderStatus = status
}

// Hits returns the number of requests this server has served at path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hit[path]
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hit[r.URL.Path]++
	s.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/directory":
		s.getDirectory(w)
	case r.Method == http.MethodHead && r.URL.Path == "/acme/new-nonce":
		s.headNewNonce(w)
	case r.Method == http.MethodPost && r.URL.Path == "/acme/new-acct":
		s.postNewAccount(w)
	case r.Method == http.MethodPost && r.URL.Path == "/acme/new-order":
		s.postNewOrder(w)
	case r.Method == http.MethodPost && r.URL.Path == "/acme/order/YTqpYUthlVfwBncUufE8":
		s.postOrder(w)
	case r.Method == http.MethodPost && r.URL.Path == "/acme/authz/YTqpYUthlVfwBncUufE8IRWLMSRqcSs":
		s.postAuthz(w)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/acme/challenge/"):
		s.postChallenge(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/acme/finalize/7738992/18234324":
		s.postFinalize(w)
	case r.Method == http.MethodPost && r.URL.Path == "/acme/cert/fae41c070f967713109028":
		s.postCertificate(w)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) getDirectory(w http.ResponseWriter) {
	body := fmt.Sprintf(`{
	"keyChange": "%[1]s/acme/key-change",
	"newAccount": "%[1]s/acme/new-acct",
	"newNonce": "%[1]s/acme/new-nonce",
	"newOrder": "%[1]s/acme/new-order",
	"revokeCert": "%[1]s/acme/revoke-cert",
	"meta": {
		"caaIdentities": ["testdir.org"]
	}
}`, s.URL)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) headNewNonce(w http.ResponseWriter) {
	w.Header().Set("Replay-Nonce", "8_uBBV3N2DBRJczhoiB46ugJKUkUHxGzVe6xIMpjHFM")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postNewAccount(w http.ResponseWriter) {
	w.Header().Set("Replay-Nonce", freshNonce())
	w.Header().Set("Location", s.URL+"/acme/acct/7728515")
	body := `{
	"key": {
		"kty": "EC",
		"crv": "P-256",
		"x": "ttpobTRK2bw7ttGBESRO7Nb23mbIRfnRZwunL1W6wRI",
		"y": "h2Z00J37_2qRKH0-flrHEsH0xbit915Tyvd2v_CAOSk"
	},
	"contact": ["mailto:foo@bar.com"],
	"status": "valid"
}`
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) postNewOrder(w http.ResponseWriter) {
	w.Header().Set("Replay-Nonce", freshNonce())
	w.Header().Set("Location", s.URL+"/acme/order/YTqpYUthlVfwBncUufE8")
	body := fmt.Sprintf(`{
	"status": "pending",
	"expires": "2019-01-09T08:26:43.570360537Z",
	"identifiers": [{"type": "dns", "value": "acme-test.example.com"}],
	"authorizations": ["%[1]s/acme/authz/YTqpYUthlVfwBncUufE8IRWLMSRqcSs"],
	"finalize": "%[1]s/acme/finalize/7738992/18234324"
}`, s.URL)
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) postOrder(w http.ResponseWriter) {
	s.mu.Lock()
	status := s.orderStatus
	s.mu.Unlock()

	w.Header().Set("Replay-Nonce", freshNonce())
	body := fmt.Sprintf(`{
	"status": %[2]q,
	"expires": "2019-01-09T08:26:43.570360537Z",
	"identifiers": [{"type": "dns", "value": "acme-test.example.com"}],
	"authorizations": ["%[1]s/acme/authz/YTqpYUthlVfwBncUufE8IRWLMSRqcSs"],
	"finalize": "%[1]s/acme/finalize/7738992/18234324",
	"certificate": "%[1]s/acme/cert/fae41c070f967713109028"
}`, s.URL, status)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) postAuthz(w http.ResponseWriter) {
	s.mu.Lock()
	status := s.orderStatus
	s.mu.Unlock()
	if status != "pending" {
		status = "valid"
	}

	w.Header().Set("Replay-Nonce", freshNonce())
	body := fmt.Sprintf(`{
	"identifier": {"type": "dns", "value": "acme-test.example.com"},
	"status": %[2]q,
	"expires": "2019-01-09T08:26:43Z",
	"challenges": [
		{"type": "http-01", "status": "pending", "url": "%[1]s/acme/challenge/YTqpYUthlVfwBncUufE8IRWLMSRqcSs/216789597", "token": "MUi-gqeOJdRkSb_YR2eaMxQBqf6al8dgt_dOttSWb0w"},
		{"type": "tls-alpn-01", "status": "pending", "url": "%[1]s/acme/challenge/YTqpYUthlVfwBncUufE8IRWLMSRqcSs/216789598", "token": "WCdRWkCy4THTD_j5IH4ISAzr59lFIg5wzYmKxuOJ1lU"},
		{"type": "dns-01", "status": "pending", "url": "%[1]s/acme/challenge/YTqpYUthlVfwBncUufE8IRWLMSRqcSs/216789599", "token": "RRo2ZcXAEqxKvMH8RGcATjSK1KknLEUmauwfQ5i3gG8"}
	]
}`, s.URL, status)
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) postChallenge(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Replay-Nonce", freshNonce())
	body := fmt.Sprintf(`{"type": "http-01", "status": "processing", "url": "%s%s"}`, s.URL, r.URL.Path)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) postFinalize(w http.ResponseWriter) {
	s.mu.Lock()
	status := s.orderStatus
	s.mu.Unlock()

	w.Header().Set("Replay-Nonce", freshNonce())
	body := fmt.Sprintf(`{
	"status": %[2]q,
	"expires": "2019-01-09T08:26:43.570360537Z",
	"identifiers": [{"type": "dns", "value": "acme-test.example.com"}],
	"authorizations": ["%[1]s/acme/authz/YTqpYUthlVfwBncUufE8IRWLMSRqcSs"],
	"finalize": "%[1]s/acme/finalize/7738992/18234324",
	"certificate": "%[1]s/acme/cert/fae41c070f967713109028"
}`, s.URL, status)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) postCertificate(w http.ResponseWriter) {
	w.Header().Set("Replay-Nonce", freshNonce())
	w.Header().Set("Content-Type", "application/pem-certificate-chain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("CERT HERE"))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

var nonceCounter int
var nonceMu sync.Mutex

// freshNonce hands out a distinct value per call so the client's nonce pool
// never sees the same nonce twice, matching RFC 8555 section 6.5's
// single-use requirement.
func freshNonce() string {
	nonceMu.Lock()
	defer nonceMu.Unlock()
	nonceCounter++
	return fmt.Sprintf("test-nonce-%d", nonceCounter)
}
