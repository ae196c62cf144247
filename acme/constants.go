// Package acme provides ACME protocol constants and the core error
// taxonomy shared by the client packages.
package acme

// Directory resource keys, as defined by RFC 8555 section 7.1.1.
const (
	// NewNonceEndpoint is the directory key for the newNonce endpoint.
	NewNonceEndpoint = "newNonce"
	// NewAccountEndpoint is the directory key for the newAccount endpoint.
	NewAccountEndpoint = "newAccount"
	// NewOrderEndpoint is the directory key for the newOrder endpoint.
	NewOrderEndpoint = "newOrder"
	// KeyChangeEndpoint is the directory key for the keyChange endpoint.
	KeyChangeEndpoint = "keyChange"
	// RevokeCertEndpoint is the directory key for the revokeCert endpoint.
	RevokeCertEndpoint = "revokeCert"
)

// ReplayNonceHeader is the HTTP response header ACME servers use to deliver
// a fresh nonce. See RFC 8555 section 6.5.1.
const ReplayNonceHeader = "Replay-Nonce"

// JOSEContentType is the Content-Type used for all signed ACME requests.
const JOSEContentType = "application/jose+json"

// ProblemContentType is the Content-Type an ACME server uses to signal
// a problem document response body.
const ProblemContentType = "application/problem+json"

// Order, Authorization and Challenge status values, RFC 8555 section 7.1.6.
const (
	StatusPending     = "pending"
	StatusProcessing  = "processing"
	StatusValid       = "valid"
	StatusInvalid     = "invalid"
	StatusReady       = "ready"
	StatusDeactivated = "deactivated"
	StatusExpired     = "expired"
	StatusRevoked     = "revoked"
)

// Challenge type names, RFC 8555 section 8.
const (
	ChallengeHTTP01    = "http-01"
	ChallengeDNS01     = "dns-01"
	ChallengeTLSALPN01 = "tls-alpn-01"
)
