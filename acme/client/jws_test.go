package client

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"testing"

	"github.com/acme-go/acmecore/acme/keys"
	"github.com/stretchr/testify/require"
)

// protectedHeader mirrors the four fields spec.md section 4.2 requires, in
// whatever order go-jose happens to marshal them (JSON object key order
// carries no protocol meaning here).
type protectedHeader struct {
	Alg   string          `json:"alg"`
	JWK   json.RawMessage `json:"jwk,omitempty"`
	Kid   string          `json:"kid,omitempty"`
	Nonce string          `json:"nonce"`
	URL   string          `json:"url"`
}

// flattenedJWS is the RFC 7515 section 7.2.2 Flattened JSON Serialization
// ACME requires: exactly protected/payload/signature, base64url-unpadded.
type flattenedJWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

func newSigningTestClient(t *testing.T, seedNonce string) *Client {
	t.Helper()
	c := &Client{nonces: newNoncePool(), Log: log.Default()}
	c.nonces.offer(seedNonce)
	return c
}

func decodeProtectedHeader(t *testing.T, b64 string) protectedHeader {
	t.Helper()
	decoded, err := base64.RawURLEncoding.DecodeString(b64)
	require.NoError(t, err)
	var h protectedHeader
	require.NoError(t, json.Unmarshal(decoded, &h))
	return h
}

// TestSignJWKMode checks the newAccount-style signing path: the JWS embeds
// the public key, carries no kid, addresses the exact POST target, and
// produces a raw 64-byte r||s signature rather than a DER one.
func TestSignJWKMode(t *testing.T) {
	c := newSigningTestClient(t, "jwk-mode-nonce")
	key, err := keys.New()
	require.NoError(t, err)

	const target = "https://example.com/acme/new-acct"
	result, err := c.Sign(target, []byte(`{"termsOfServiceAgreed":true}`),
		&SigningOptions{EmbedKey: true, Signer: key.Signer()})
	require.NoError(t, err)

	var flat flattenedJWS
	require.NoError(t, json.Unmarshal(result.SerializedJWS, &flat))

	header := decodeProtectedHeader(t, flat.Protected)
	require.Equal(t, "ES256", header.Alg)
	require.Equal(t, target, header.URL)
	require.NotEmpty(t, header.JWK, "jwk-mode JWS must embed the public key")
	require.Empty(t, header.Kid, "jwk-mode JWS must not also carry a kid")

	sig, err := base64.RawURLEncoding.DecodeString(flat.Signature)
	require.NoError(t, err)
	require.Len(t, sig, 64, "ES256 signature must be the raw 64-byte r||s concatenation, not DER")
}

// TestSignKidMode checks the post-registration signing path: the JWS
// carries the account's kid and no embedded JWK.
func TestSignKidMode(t *testing.T) {
	c := newSigningTestClient(t, "kid-mode-nonce")
	key, err := keys.New()
	require.NoError(t, err)

	const target = "https://example.com/acme/new-order"
	const kid = "https://example.com/acme/acct/7728515"
	result, err := c.Sign(target, []byte(`{}`),
		&SigningOptions{KeyID: kid, Signer: key.Signer()})
	require.NoError(t, err)

	var flat flattenedJWS
	require.NoError(t, json.Unmarshal(result.SerializedJWS, &flat))

	header := decodeProtectedHeader(t, flat.Protected)
	require.Equal(t, "ES256", header.Alg)
	require.Equal(t, target, header.URL)
	require.Equal(t, kid, header.Kid)
	require.Empty(t, header.JWK, "kid-mode JWS must not also embed a jwk")

	sig, err := base64.RawURLEncoding.DecodeString(flat.Signature)
	require.NoError(t, err)
	require.Len(t, sig, 64)
}

// TestSignRejectsEmbedAndKidTogether checks the jwk/kid mutual exclusivity
// spec.md section 8 calls out is enforced rather than silently picking one.
func TestSignRejectsEmbedAndKidTogether(t *testing.T) {
	c := newSigningTestClient(t, "conflict-nonce")
	key, err := keys.New()
	require.NoError(t, err)

	_, err = c.Sign("https://example.com/acme/new-order", []byte(`{}`),
		&SigningOptions{EmbedKey: true, KeyID: "https://example.com/acme/acct/1", Signer: key.Signer()})
	require.Error(t, err)
}

// TestSignUsesDistinctNoncesPerCall checks no nonce value is handed out
// twice: each Sign call drains the pool, so a second call with nothing
// re-offered must fail rather than silently reusing the first nonce.
func TestSignUsesDistinctNoncesPerCall(t *testing.T) {
	c := newSigningTestClient(t, "only-nonce")
	key, err := keys.New()
	require.NoError(t, err)

	first, err := c.Sign("https://example.com/acme/new-order", []byte(`{}`),
		&SigningOptions{KeyID: "https://example.com/acme/acct/1", Signer: key.Signer()})
	require.NoError(t, err)
	flat := decodeFlattened(t, first.SerializedJWS)
	header := decodeProtectedHeader(t, flat.Protected)
	require.Equal(t, "only-nonce", header.Nonce)

	_, ok := c.nonces.take()
	require.False(t, ok, "Sign must consume the pooled nonce, leaving none for reuse")
}

func decodeFlattened(t *testing.T, raw []byte) flattenedJWS {
	t.Helper()
	var flat flattenedJWS
	require.NoError(t, json.Unmarshal(raw, &flat))
	return flat
}
