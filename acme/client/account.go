package client

import (
	"crypto"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/acme-go/acmecore/acme"
	"github.com/acme-go/acmecore/acme/keys"
	"github.com/acme-go/acmecore/acme/resources"
	jose "github.com/go-jose/go-jose/v4"
)

func keyFromSigner(signer crypto.Signer, kid string) (*keys.AccountKey, error) {
	k, err := keys.FromSigner(signer)
	if err != nil {
		return nil, err
	}
	k.SetKID(kid)
	return k, nil
}

type newAccountRequest struct {
	Contact                []string         `json:"contact,omitempty"`
	TermsOfServiceAgreed   bool             `json:"termsOfServiceAgreed"`
	OnlyReturnExisting     bool             `json:"onlyReturnExisting,omitempty"`
	ExternalAccountBinding *json.RawMessage `json:"externalAccountBinding,omitempty"`
}

// RegisterAccount creates acct with the ACME server, RFC 8555 section 7.3.
// It always agrees to the server's terms of service.
func (c *Client) RegisterAccount(acct *resources.Account) error {
	if acct.Key.HasKID() {
		return fmt.Errorf("RegisterAccount: account already has an ID %q", acct.ID())
	}

	req := newAccountRequest{Contact: acct.Contact, TermsOfServiceAgreed: true}
	body, err := json.Marshal(req)
	if err != nil {
		return acme.SerializationFailedError(err, "marshaling newAccount request")
	}

	newAcctURL, err := c.endpointURL(acme.NewAccountEndpoint)
	if err != nil {
		return err
	}

	// A key already associated with an account gets a 200 response pointing
	// at the existing account rather than an error, RFC 8555 section
	// 7.3.1, so the only special case to handle here is a genuine failure.
	resp, err := c.signAndPost(newAcctURL, body, &SigningOptions{EmbedKey: true, Signer: acct.Key.Signer()})
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("RegisterAccount: server returned status %d, expected %d or %d",
			resp.StatusCode, http.StatusCreated, http.StatusOK)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return fmt.Errorf("RegisterAccount: response had no Location header")
	}
	acct.Key.SetKID(location)
	c.Log.Printf("registered account %q", location)
	return nil
}

// RegisterAccountWithEAB creates acct as RegisterAccount does, but also
// attaches an External Account Binding (RFC 8555 section 7.3.4): a JWS,
// signed with the CA-issued HMAC macKey under eabKeyID, binding the
// account's public key to the external account the CA already knows about.
// Required by CAs (e.g. enterprise or some commercial ACME providers) that
// gate issuance on an out-of-band account relationship.
func (c *Client) RegisterAccountWithEAB(acct *resources.Account, eabKeyID string, macKey []byte) error {
	if acct.Key.HasKID() {
		return fmt.Errorf("RegisterAccountWithEAB: account already has an ID %q", acct.ID())
	}

	newAcctURL, err := c.endpointURL(acme.NewAccountEndpoint)
	if err != nil {
		return err
	}

	eabJWS, err := signExternalAccountBinding(newAcctURL, acct.Key.JWK(), eabKeyID, macKey)
	if err != nil {
		return err
	}
	raw := json.RawMessage(eabJWS)

	req := newAccountRequest{
		Contact:                acct.Contact,
		TermsOfServiceAgreed:   true,
		ExternalAccountBinding: &raw,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return acme.SerializationFailedError(err, "marshaling newAccount request with EAB")
	}

	resp, err := c.signAndPost(newAcctURL, body, &SigningOptions{EmbedKey: true, Signer: acct.Key.Signer()})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("RegisterAccountWithEAB: server returned status %d, expected %d or %d",
			resp.StatusCode, http.StatusCreated, http.StatusOK)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return fmt.Errorf("RegisterAccountWithEAB: response had no Location header")
	}
	acct.Key.SetKID(location)
	c.Log.Printf("registered account %q with external account binding", location)
	return nil
}

// signExternalAccountBinding builds the inner JWS of RFC 8555 section
// 7.3.4: payload is the account's JWK, protected header carries alg
// (HS256), kid (the CA-assigned eabKeyID) and url, and the signature is an
// HMAC-SHA256 keyed by macKey rather than an asymmetric signature.
func signExternalAccountBinding(url string, accountJWK jose.JSONWebKey, eabKeyID string, macKey []byte) ([]byte, error) {
	signingKey := jose.SigningKey{Algorithm: jose.HS256, Key: macKey}
	signerOpts := &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": url,
			"kid": eabKeyID,
		},
	}
	signer, err := jose.NewSigner(signingKey, signerOpts)
	if err != nil {
		return nil, acme.SigningFailedError(err, "constructing EAB HMAC signer")
	}

	payload, err := json.Marshal(accountJWK)
	if err != nil {
		return nil, acme.SerializationFailedError(err, "marshaling account JWK for EAB")
	}

	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, acme.SigningFailedError(err, "signing external account binding")
	}
	return []byte(signed.FullSerialize()), nil
}

// FindAccount looks up an existing account for key without creating a new
// one, using onlyReturnExisting, RFC 8555 section 7.3.1. Returns
// a TransportFailureError wrapping an AcmeProblemError if no account exists
// for this key.
func (c *Client) FindAccount(acct *resources.Account) error {
	req := newAccountRequest{OnlyReturnExisting: true}
	body, err := json.Marshal(req)
	if err != nil {
		return acme.SerializationFailedError(err, "marshaling onlyReturnExisting request")
	}

	newAcctURL, err := c.endpointURL(acme.NewAccountEndpoint)
	if err != nil {
		return err
	}

	resp, err := c.signAndPost(newAcctURL, body, &SigningOptions{EmbedKey: true, Signer: acct.Key.Signer()})
	if err != nil {
		return err
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return fmt.Errorf("FindAccount: response had no Location header")
	}
	acct.Key.SetKID(location)
	return nil
}

// DeactivateAccount requests the server deactivate acct, RFC 8555 section
// 7.3.6. A deactivated account cannot be reactivated.
func (c *Client) DeactivateAccount(acct *resources.Account) error {
	if !acct.Key.HasKID() {
		return fmt.Errorf("DeactivateAccount: account has no ID")
	}

	body, err := json.Marshal(struct {
		Status string `json:"status"`
	}{Status: acme.StatusDeactivated})
	if err != nil {
		return acme.SerializationFailedError(err, "marshaling deactivate request")
	}

	_, err = c.signAndPost(acct.ID(), body, &SigningOptions{KeyID: acct.ID(), Signer: acct.Key.Signer()})
	if err != nil {
		return err
	}
	c.Log.Printf("deactivated account %q", acct.ID())
	return nil
}

type keyChangeRequest struct {
	Account string          `json:"account"`
	OldKey  jose.JSONWebKey `json:"oldKey"`
}

// RolloverKey replaces the ActiveAccount's signing key with newKey, RFC
// 8555 section 7.3.5. The request is a JWS wrapped in a JWS: an inner JWS
// signed by the new key (embedding the new key and naming the old key),
// itself signed as the outer JWS by the current account key and kid.
func (c *Client) RolloverKey(newKey crypto.Signer) error {
	acct := c.ActiveAccount
	if acct == nil || !acct.Key.HasKID() {
		return fmt.Errorf("RolloverKey: no active account, or it has no ID")
	}

	oldJWK := acct.Key.JWK()
	innerReq := keyChangeRequest{Account: acct.ID(), OldKey: oldJWK}
	innerBody, err := json.Marshal(innerReq)
	if err != nil {
		return acme.SerializationFailedError(err, "marshaling keyChange inner request")
	}

	keyChangeURL, err := c.endpointURL(acme.KeyChangeEndpoint)
	if err != nil {
		return err
	}

	innerResult, err := c.Sign(keyChangeURL, innerBody, &SigningOptions{EmbedKey: true, Signer: newKey})
	if err != nil {
		return fmt.Errorf("RolloverKey: signing inner JWS: %w", err)
	}

	resp, err := c.signAndPost(keyChangeURL, innerResult.SerializedJWS, &SigningOptions{Signer: acct.Key.Signer()})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("RolloverKey: server returned status %d, expected %d", resp.StatusCode, http.StatusOK)
	}

	rolled, err := keyFromSigner(newKey, acct.ID())
	if err != nil {
		return err
	}
	acct.Key = rolled
	c.Log.Printf("rolled over account %q to a new key", acct.ID())
	return nil
}
