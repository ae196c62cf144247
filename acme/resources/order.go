package resources

// Order represents a collection of identifiers that an account wishes to
// create a certificate for.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.3
//
// For the Status changes ACME specifies for the Order resource see
// https://tools.ietf.org/html/rfc8555#section-7.1.6
type Order struct {
	// The server-assigned ID (a URL) identifying the Order.
	ID string
	// The Status of the Order.
	Status string
	// The Identifiers the Order wishes to finalize a Certificate for once the
	// Order is ready.
	Identifiers []Identifier
	// Account is the in-memory Account that created the Order. It is not an
	// ACME wire field; it is kept so the order state machine can sign
	// subsequent requests (finalize, poll, download) without the caller
	// threading the account through every call.
	Account *Account
	// A list of URLs for Authorization resources the server specifies for the
	// Order Identifiers.
	Authorizations []string
	// A URL used to Finalize the Order with a CSR once the Order has a status
	// of "ready".
	Finalize string
	// A URL used to fetch the Certificate issued by the server for the Order
	// after being Finalized. The Certificate field should be present and
	// not-empty when the Order has a status of "valid".
	Certificate string
	// NotBefore and NotAfter optionally narrow the requested certificate
	// validity window, RFC 8555 section 7.1.3.
	NotBefore string `json:"notBefore,omitempty"`
	NotAfter  string `json:"notAfter,omitempty"`
}

// String returns the Order's ID URL.
func (o Order) String() string {
	return o.ID
}
