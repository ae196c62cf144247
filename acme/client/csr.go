package client

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"strings"

	"github.com/acme-go/acmecore/acme"
)

// PEMCSR is the PEM encoding of an X.509 certificate signing request.
type PEMCSR string

// B64CSR is the base64url (unpadded) encoding of a DER certificate signing
// request, the form RFC 8555 section 7.4 requires for an order's
// finalization payload.
type B64CSR string

// CSR builds a certificate signing request for the given SAN names, using
// the first name as the CommonName if commonName is empty. If keyID names
// an existing entry in Client.Keys that key is reused as the CSR's public
// key; otherwise a fresh P-256 key is generated and stored under a key
// derived from the joined names.
func (c *Client) CSR(commonName string, names []string, keyID string) (B64CSR, PEMCSR, error) {
	if len(names) == 0 {
		return "", "", acme.PreconditionViolatedError("CSR requires at least one name")
	}
	if commonName == "" {
		commonName = names[0]
	}

	template := x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: commonName},
		DNSNames: names,
	}

	var signer crypto.Signer
	if keyID != "" {
		signer = c.Keys[keyID]
		if signer == nil {
			return "", "", acme.PreconditionViolatedError("no key in client for key ID %q", keyID)
		}
	} else {
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return "", "", acme.SigningFailedError(err, "generating certificate key")
		}
		signer = priv
		c.Keys[strings.Join(names, ",")] = signer
	}

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &template, signer)
	if err != nil {
		return "", "", acme.SigningFailedError(err, "creating certificate signing request")
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER})

	return B64CSR(base64.RawURLEncoding.EncodeToString(csrDER)), PEMCSR(pemBytes), nil
}
