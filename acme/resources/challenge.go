package resources

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/acme-go/acmecore/acme"
	"github.com/acme-go/acmecore/acme/keys"
)

// Challenge represents an action that the client must take to authorize
// a given account for a specific identifier in order to issue a certificate
// containing that identifier.
//
// For information about the Challenge resource see
// https://tools.ietf.org/html/rfc8555#section-7.1.5
//
// For the Challenge types ACME specifies see
// https://tools.ietf.org/html/rfc8555#section-8
//
// For the Challenge Status changes ACME specifies see
// https://tools.ietf.org/html/rfc8555#section-7.1.6
type Challenge struct {
	// The Type of the challenge (expected values include "http-01", "dns-01", "tls-alpn-01")
	Type string
	// The URL/ID of the challenge (provided by the server in the associated
	// Authorization).
	URL string
	// The Token used for constructing the challenge response for this challenge.
	Token string
	// The Status of the challenge.
	Status string
	// The Error associated with an invalid challenge.
	Error *acme.Problem `json:",omitempty"`
}

// String returns the URL of the Challenge.
func (c Challenge) String() string {
	return c.URL
}

// NeedValidate reports whether this Challenge still needs to be triggered
// and validated. A Challenge the server already marked "valid" (because its
// containing Authorization was already satisfied, or because this specific
// challenge already passed) needs no further work.
func (c Challenge) NeedValidate() bool {
	return c.Status == acme.StatusPending
}

// HTTP01KeyAuthorization returns the response body an HTTP-01 validation
// server must serve at /.well-known/acme-challenge/<token>, per RFC 8555
// section 8.3: the bare key authorization, token.thumbprint.
func (c Challenge) HTTP01KeyAuthorization(key *keys.AccountKey) (string, error) {
	return key.KeyAuthorization(c.Token)
}

// DNS01KeyAuthorization returns the value an DNS-01 validation TXT record
// must carry at _acme-challenge.<domain>, per RFC 8555 section 8.4:
// base64url(SHA-256(token.thumbprint)), unpadded.
func (c Challenge) DNS01KeyAuthorization(key *keys.AccountKey) (string, error) {
	keyAuth, err := key.KeyAuthorization(c.Token)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256([]byte(keyAuth))
	return base64.RawURLEncoding.EncodeToString(digest[:]), nil
}

// TLSALPN01KeyAuthorizationDigest returns the raw 32-byte SHA-256 digest of
// the key authorization used as the id-pe-acmeIdentifier extension value
// for a TLS-ALPN-01 self-signed challenge certificate, per RFC 8737 section
// 3. Unlike DNS-01, this value is never base64 encoded; it is embedded in
// the certificate extension as raw octets.
func (c Challenge) TLSALPN01KeyAuthorizationDigest(key *keys.AccountKey) ([32]byte, error) {
	keyAuth, err := key.KeyAuthorization(c.Token)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256([]byte(keyAuth)), nil
}
