// Package keys implements the account signing key (C1): P-256 keygen,
// PKCS#8 PEM round-trip, the JWK projection, RFC 7638 thumbprinting, and the
// kid slot an Account fills in once it has been registered with an ACME
// server.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"sync"

	"github.com/acme-go/acmecore/acme"
	jose "github.com/go-jose/go-jose/v4"
)

// AccountKey is an ECDSA P-256 signing key plus the account identifier URL
// (kid) the ACME server assigns once the account has been created or
// looked up. The signing key is immutable for the lifetime of the value;
// kid starts empty and is set exactly once, by SetKID, after a successful
// newAccount response.
type AccountKey struct {
	signer crypto.Signer

	mu  sync.RWMutex
	kid string
}

// New generates a fresh P-256 AccountKey from the system CSPRNG.
func New() (*AccountKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, acme.SigningFailedError(err, "generating P-256 account key")
	}
	return &AccountKey{signer: priv}, nil
}

// FromPEM parses a PKCS#8 PEM blob into an AccountKey. The key has no kid
// set. Returns an InvalidKeyFormatError if the PEM is unparsable or encodes
// anything other than a P-256 ECDSA key.
func FromPEM(text string) (*AccountKey, error) {
	block, _ := pem.Decode([]byte(text))
	if block == nil {
		return nil, acme.InvalidKeyFormatError(nil, "no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, acme.InvalidKeyFormatError(err, "parsing PKCS#8 private key")
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, acme.InvalidKeyFormatError(nil, "key is %T, want *ecdsa.PrivateKey", key)
	}
	if ecKey.Curve != elliptic.P256() {
		return nil, acme.InvalidKeyFormatError(nil, "key uses curve %s, want P-256", ecKey.Curve.Params().Name)
	}
	return &AccountKey{signer: ecKey}, nil
}

// FromSigner wraps an existing P-256 crypto.Signer as an AccountKey with no
// kid set, for callers (such as a key rollover) that already hold a
// generated key rather than PEM text.
func FromSigner(signer crypto.Signer) (*AccountKey, error) {
	ecKey, ok := signer.(*ecdsa.PrivateKey)
	if !ok {
		return nil, acme.InvalidKeyFormatError(nil, "signer is %T, want *ecdsa.PrivateKey", signer)
	}
	if ecKey.Curve != elliptic.P256() {
		return nil, acme.InvalidKeyFormatError(nil, "key uses curve %s, want P-256", ecKey.Curve.Params().Name)
	}
	return &AccountKey{signer: ecKey}, nil
}

// ToPEM emits the key as PKCS#8 PEM with LF line endings. The returned
// buffer is the only copy this function retains; the caller is responsible
// for it thereafter. Because the buffer holds key material, it is built in
// a scratch byte slice that is zeroed before being discarded, mirroring the
// Zeroizing wrapper the key type this was ported from uses for the same
// purpose.
func (k *AccountKey) ToPEM() (string, error) {
	ecKey, ok := k.signer.(*ecdsa.PrivateKey)
	if !ok {
		return "", acme.InvalidKeyFormatError(nil, "signer is %T, want *ecdsa.PrivateKey", k.signer)
	}
	der, err := x509.MarshalPKCS8PrivateKey(ecKey)
	if err != nil {
		return "", acme.InvalidKeyFormatError(err, "marshaling PKCS#8 private key")
	}
	defer zero(der)

	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	out := pem.EncodeToMemory(block)
	return string(out), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Signer returns the underlying crypto.Signer for use by the JWS layer. The
// AccountKey retains ownership; callers must not assume they can mutate it.
func (k *AccountKey) Signer() crypto.Signer {
	return k.signer
}

// JWK projects the key's public components to the JWK representation
// defined in spec.md section 3: crv="P-256", kty="EC", x, y.
func (k *AccountKey) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       k.signer.Public(),
		Algorithm: "ECDSA",
	}
}

// Thumbprint computes the RFC 7638 JWK thumbprint: canonical JSON of the
// four-field JWK, SHA-256, base64url-unpadded.
func (k *AccountKey) Thumbprint() (string, error) {
	jwk := k.JWK()
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", acme.SigningFailedError(err, "computing JWK thumbprint")
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// KID returns the account URL assigned by the ACME server. It is
// a precondition violation to call KID before SetKID has succeeded;
// callers that cannot guarantee this should check HasKID first.
func (k *AccountKey) KID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.kid == "" {
		panic(acme.PreconditionViolatedError("KID called before an account URL was set").Error())
	}
	return k.kid
}

// HasKID reports whether SetKID has been called successfully.
func (k *AccountKey) HasKID() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.kid != ""
}

// SetKID records the account URL assigned by the server. It is intended to
// be called exactly once, from the account registration/lookup path.
func (k *AccountKey) SetKID(url string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kid = url
}

// KeyAuthorization returns the RFC 8555 section 8.1 key authorization
// string `token.thumbprint` used as the basis for all three challenge proof
// types.
func (k *AccountKey) KeyAuthorization(token string) (string, error) {
	thumb, err := k.Thumbprint()
	if err != nil {
		return "", err
	}
	return token + "." + thumb, nil
}
