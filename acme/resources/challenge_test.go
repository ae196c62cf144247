package resources

import (
	"encoding/base64"
	"testing"

	"github.com/acme-go/acmecore/acme/keys"
	"github.com/stretchr/testify/require"
)

func TestChallengeProofDerivations(t *testing.T) {
	key, err := keys.New()
	require.NoError(t, err)

	c := Challenge{Type: "http-01", Token: "MUi-gqeOJdRkSb_YR2eaMxQBqf6al8dgt_dOttSWb0w"}

	wantKeyAuth, err := key.KeyAuthorization(c.Token)
	require.NoError(t, err)

	httpProof, err := c.HTTP01KeyAuthorization(key)
	require.NoError(t, err)
	require.Equal(t, wantKeyAuth, httpProof)

	dnsProof, err := c.DNS01KeyAuthorization(key)
	require.NoError(t, err)
	decoded, err := base64.RawURLEncoding.DecodeString(dnsProof)
	require.NoError(t, err)
	require.Len(t, decoded, 32)

	digest, err := c.TLSALPN01KeyAuthorizationDigest(key)
	require.NoError(t, err)
	require.Len(t, digest, 32)

	// DNS-01 and TLS-ALPN-01 both hash the same key authorization, so their
	// digests must agree; only the wire encoding (base64url vs raw) differs.
	require.Equal(t, decoded, digest[:])
}

func TestNeedValidateSkipsAlreadyValid(t *testing.T) {
	valid := Authorization{Status: "valid"}
	require.False(t, valid.NeedValidate(), "an already-valid authorization must not require challenge validation")

	pending := Authorization{Status: "pending"}
	require.True(t, pending.NeedValidate())

	validChall := Challenge{Status: "valid"}
	require.False(t, validChall.NeedValidate())

	pendingChall := Challenge{Status: "pending"}
	require.True(t, pendingChall.NeedValidate())
}

func TestChallengeOfType(t *testing.T) {
	auth := Authorization{
		Challenges: []Challenge{
			{Type: "http-01", URL: "https://example.com/chall/1"},
			{Type: "dns-01", URL: "https://example.com/chall/2"},
		},
	}
	c, ok := auth.ChallengeOfType("dns-01")
	require.True(t, ok)
	require.Equal(t, "https://example.com/chall/2", c.URL)

	_, ok = auth.ChallengeOfType("tls-alpn-01")
	require.False(t, ok)
}
