package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/acme-go/acmecore/acme"
	"github.com/acme-go/acmecore/acme/resources"
)

type newOrderRequest struct {
	Identifiers []resources.Identifier `json:"identifiers"`
	NotBefore   string                 `json:"notBefore,omitempty"`
	NotAfter    string                 `json:"notAfter,omitempty"`
}

// NewOrder creates order with the ACME server, RFC 8555 section 7.4. On
// success order.ID, Status, Authorizations and Finalize are populated from
// the server's response, and the order's URL is appended to the account's
// Orders.
func (c *Client) NewOrder(order *resources.Order) error {
	if c.ActiveAccountID() == "" {
		return fmt.Errorf("NewOrder: active account is nil or has not been created")
	}

	req := newOrderRequest{
		Identifiers: order.Identifiers,
		NotBefore:   order.NotBefore,
		NotAfter:    order.NotAfter,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return acme.SerializationFailedError(err, "marshaling newOrder request")
	}

	newOrderURL, err := c.endpointURL(acme.NewOrderEndpoint)
	if err != nil {
		return err
	}

	resp, err := c.signAndPost(newOrderURL, body, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("NewOrder: server returned status %d, expected %d", resp.StatusCode, http.StatusCreated)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return fmt.Errorf("NewOrder: response had no Location header")
	}

	if err := json.Unmarshal(resp.Body, order); err != nil {
		return acme.SerializationFailedError(err, "unmarshaling newOrder response")
	}
	order.ID = location
	order.Account = c.ActiveAccount
	c.ActiveAccount.Orders = append(c.ActiveAccount.Orders, order.ID)
	c.Log.Printf("created order %q", order.ID)
	return nil
}

// UpdateOrder refreshes order in place by refetching its URL.
func (c *Client) UpdateOrder(order *resources.Order) error {
	if order.ID == "" {
		return fmt.Errorf("UpdateOrder: order must have an ID")
	}
	resp, err := c.fetch(order.ID)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, order); err != nil {
		return acme.SerializationFailedError(err, "unmarshaling order")
	}
	return nil
}

// Authorization fetches a single Authorization by URL.
func (c *Client) Authorization(url string) (*resources.Authorization, error) {
	resp, err := c.fetch(url)
	if err != nil {
		return nil, err
	}
	authz := &resources.Authorization{ID: url}
	if err := json.Unmarshal(resp.Body, authz); err != nil {
		return nil, acme.SerializationFailedError(err, "unmarshaling authorization")
	}
	return authz, nil
}

// Authorizations fetches every Authorization listed in order.
func (c *Client) Authorizations(order *resources.Order) ([]*resources.Authorization, error) {
	out := make([]*resources.Authorization, 0, len(order.Authorizations))
	for _, url := range order.Authorizations {
		authz, err := c.Authorization(url)
		if err != nil {
			return nil, err
		}
		out = append(out, authz)
	}
	return out, nil
}

// AuthorizationByIdentifier fetches order's authorizations looking for one
// matching identifier, stopping at the first match.
func (c *Client) AuthorizationByIdentifier(order *resources.Order, identifier string) (*resources.Authorization, error) {
	for _, url := range order.Authorizations {
		authz, err := c.Authorization(url)
		if err != nil {
			return nil, err
		}
		if authz.Identifier.Value == identifier {
			return authz, nil
		}
	}
	return nil, fmt.Errorf("AuthorizationByIdentifier: order %q has no authorization for %q", order.ID, identifier)
}

// DeactivateAuthorization deactivates an authorization, RFC 8555 section
// 7.5.2, revoking the client's ability to issue for that identifier under
// this account without re-validating it.
func (c *Client) DeactivateAuthorization(authz *resources.Authorization) error {
	body, err := json.Marshal(struct {
		Status string `json:"status"`
	}{Status: acme.StatusDeactivated})
	if err != nil {
		return acme.SerializationFailedError(err, "marshaling authorization deactivation request")
	}
	resp, err := c.signAndPost(authz.ID, body, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(resp.Body, authz)
}

// RespondToChallenge tells the server the client is ready for it to
// validate chall, RFC 8555 section 7.5.1: an empty JSON object POSTed to
// the challenge URL. It does not wait for validation to complete; use
// PollChallenge (or PollAuthorization) for that.
func (c *Client) RespondToChallenge(chall *resources.Challenge) error {
	resp, err := c.signAndPost(chall.URL, []byte("{}"), nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(resp.Body, chall)
}

// PollAuthorization polls authz's URL every pollInterval until it leaves the
// pending/processing status or ctx is done, per spec.md section 4.6's
// Challenge.validate(poll_interval) and section 5's "each polling operation
// accepts a poll interval". If ctx has no deadline, polling continues
// indefinitely; spec.md leaves the choice of a default timeout to the
// caller rather than imposing a silent one, per its polling Open Question.
// Returns a ValidationFailedError if the authorization (or its outstanding
// challenge) ends invalid, or an *acme.Error wrapping KindTimeout if ctx
// expires first.
func (c *Client) PollAuthorization(ctx context.Context, authz *resources.Authorization, pollInterval time.Duration) error {
	for {
		if err := c.UpdateAuthorization(authz); err != nil {
			return err
		}
		switch authz.Status {
		case acme.StatusValid:
			return nil
		case acme.StatusInvalid:
			return validationErrorFromAuthz(authz)
		case acme.StatusPending, acme.StatusProcessing:
			// keep polling
		default:
			return fmt.Errorf("PollAuthorization: unexpected status %q", authz.Status)
		}

		select {
		case <-ctx.Done():
			return acme.TimeoutError(authz.ID)
		case <-time.After(pollInterval):
		}
	}
}

// UpdateAuthorization refreshes an Authorization in place by refetching its
// URL.
func (c *Client) UpdateAuthorization(authz *resources.Authorization) error {
	resp, err := c.fetch(authz.ID)
	if err != nil {
		return err
	}
	return json.Unmarshal(resp.Body, authz)
}

func validationErrorFromAuthz(authz *resources.Authorization) error {
	for _, ch := range authz.Challenges {
		if ch.Status == acme.StatusInvalid {
			return acme.NewValidationFailedError(ch.Type, ch.Error)
		}
	}
	return acme.NewValidationFailedError("", nil)
}

// PollOrder polls order's URL every pollInterval until it leaves the
// pending/processing status or ctx is done, mirroring PollAuthorization's
// contract.
func (c *Client) PollOrder(ctx context.Context, order *resources.Order, pollInterval time.Duration) error {
	for {
		if err := c.UpdateOrder(order); err != nil {
			return err
		}
		switch order.Status {
		case acme.StatusReady, acme.StatusValid:
			return nil
		case acme.StatusInvalid:
			return acme.OrderInvalidError(order.ID)
		case acme.StatusPending, acme.StatusProcessing:
			// keep polling
		default:
			return fmt.Errorf("PollOrder: unexpected status %q", order.Status)
		}

		select {
		case <-ctx.Done():
			return acme.TimeoutError(order.ID)
		case <-time.After(pollInterval):
		}
	}
}

type finalizeRequest struct {
	CSR string `json:"csr"`
}

// Finalize submits a CSR to finalize order, RFC 8555 section 7.4, and
// refreshes the order from the server's response. The caller is expected to
// then poll (PollOrder) until the order reaches "valid" and Certificate is
// populated.
//
// Per spec.md section 4.6, finalize requires the order's status be "ready";
// if it is still "pending" (the caller has not polled since the last
// authorization was validated), Finalize polls it to "ready" itself rather
// than requiring every caller to do so first. Any other status is a
// precondition violation: "processing", "valid" and "invalid" orders cannot
// be (re)finalized.
func (c *Client) Finalize(ctx context.Context, order *resources.Order, csr B64CSR, pollInterval time.Duration) error {
	if order.Finalize == "" {
		return fmt.Errorf("Finalize: order has no finalize URL")
	}

	if order.Status == acme.StatusPending {
		if err := c.PollOrder(ctx, order, pollInterval); err != nil {
			return err
		}
	}
	if order.Status != acme.StatusReady {
		return acme.PreconditionViolatedError(
			"Finalize: order %q has status %q, want %q", order.ID, order.Status, acme.StatusReady)
	}

	body, err := json.Marshal(finalizeRequest{CSR: string(csr)})
	if err != nil {
		return acme.SerializationFailedError(err, "marshaling finalize request")
	}

	resp, err := c.signAndPost(order.Finalize, body, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(resp.Body, order)
}

// Download fetches the certificate chain for a finalized order, RFC 8555
// section 7.4.2, returning the PEM bytes as served by the server.
func (c *Client) Download(order *resources.Order) ([]byte, error) {
	if order.Certificate == "" {
		return nil, fmt.Errorf("Download: order has no certificate URL")
	}
	resp, err := c.fetch(order.Certificate)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

type revokeCertRequest struct {
	Certificate string `json:"certificate"`
	Reason      *int   `json:"reason,omitempty"`
}

// RevokeCertificate requests revocation of a DER certificate (base64url
// encoded, unpadded), RFC 8555 section 7.6. reason is an optional CRL
// reason code (RFC 5280 section 5.3.1); pass nil to omit it.
func (c *Client) RevokeCertificate(certDER B64CSR, reason *int) error {
	revokeURL, err := c.endpointURL(acme.RevokeCertEndpoint)
	if err != nil {
		return err
	}
	body, err := json.Marshal(revokeCertRequest{Certificate: string(certDER), Reason: reason})
	if err != nil {
		return acme.SerializationFailedError(err, "marshaling revokeCert request")
	}
	_, err = c.signAndPost(revokeURL, body, nil)
	return err
}
