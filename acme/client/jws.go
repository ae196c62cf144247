package client

import (
	"crypto"
	"fmt"

	"github.com/acme-go/acmecore/acme"
	jose "github.com/go-jose/go-jose/v4"
)

// SigningOptions controls how Client.Sign produces a JWS, per spec.md
// section 4.2: either the account's public key is embedded (used for
// newAccount, and for keyChange's inner JWS) or the account's kid is used
// (used for every other authenticated request).
type SigningOptions struct {
	// EmbedKey, if true, embeds the signer's public key as a JWK instead of
	// using a KeyID header. Mutually exclusive with a non-empty KeyID.
	EmbedKey bool
	// KeyID, if non-empty, is the JWS "kid" header value. If empty and
	// EmbedKey is false, the Client's ActiveAccount ID is used.
	KeyID string
	// Signer overrides the key used to sign. If nil, the ActiveAccount's
	// key is used.
	Signer crypto.Signer
}

func (opts *SigningOptions) validate() error {
	if opts.KeyID != "" && opts.EmbedKey {
		return fmt.Errorf("SigningOptions: cannot specify both KeyID and EmbedKey")
	}
	if opts.KeyID == "" && !opts.EmbedKey {
		return fmt.Errorf("SigningOptions: must specify a KeyID or EmbedKey")
	}
	if opts.Signer == nil {
		return fmt.Errorf("SigningOptions: must specify a Signer")
	}
	return nil
}

// SignResult holds the input and output of a Sign call.
type SignResult struct {
	InputURL      string
	InputData     []byte
	JWS           *jose.JSONWebSignature
	SerializedJWS []byte
}

// Sign produces a flattened-JSON JWS over data, addressed to url via the
// "url" protected header (RFC 8555 section 6.2). If opts is nil, or leaves
// Signer/KeyID unset, the ActiveAccount supplies the defaults.
func (c *Client) Sign(url string, data []byte, opts *SigningOptions) (*SignResult, error) {
	if opts == nil {
		opts = &SigningOptions{}
	}

	if opts.Signer == nil {
		if c.ActiveAccount == nil {
			return nil, fmt.Errorf("Sign: no Signer specified and ActiveAccount is nil")
		}
		opts.Signer = c.ActiveAccount.Key.Signer()
	}

	if !opts.EmbedKey && opts.KeyID == "" {
		if c.ActiveAccount == nil {
			return nil, fmt.Errorf("Sign: no KeyID specified, EmbedKey is false, and ActiveAccount is nil")
		}
		opts.KeyID = c.ActiveAccount.ID()
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	signerKey := jose.SigningKey{Algorithm: jose.ES256, Key: opts.Signer}
	joseOpts := &jose.SignerOptions{
		NonceSource: c,
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": url,
		},
	}
	if opts.EmbedKey {
		joseOpts.EmbedJWK = true
	} else {
		signerKey.Key = jose.JSONWebKey{Key: opts.Signer, KeyID: opts.KeyID, Algorithm: "ECDSA"}
	}

	signer, err := jose.NewSigner(signerKey, joseOpts)
	if err != nil {
		return nil, acme.SigningFailedError(err, "constructing JWS signer")
	}

	signed, err := signer.Sign(data)
	if err != nil {
		return nil, acme.SigningFailedError(err, "signing JWS payload")
	}

	serialized := []byte(signed.FullSerialize())

	// Reparse to hand back a fully populated JWS object, restricting
	// acceptable algorithms to ES256 as go-jose/v4 requires an explicit
	// allow-list.
	parsed, err := jose.ParseSigned(string(serialized), []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, acme.SigningFailedError(err, "reparsing signed JWS")
	}

	return &SignResult{
		InputURL:      url,
		InputData:     data,
		JWS:           parsed,
		SerializedJWS: serialized,
	}, nil
}
