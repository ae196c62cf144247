package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/acme-go/acmecore/acme"
	"github.com/cenkalti/backoff/v4"
)

// httpResponse is the outcome of a single HTTP round trip to the ACME
// server: status, headers and the fully read body.
type httpResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (c *Client) do(req *http.Request) (*httpResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, acme.NewTransportFailure(0, nil, err, "%s %s", req.Method, req.URL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, acme.NewTransportFailure(resp.StatusCode, nil, err, "reading response body from %s", req.URL)
	}

	c.observeNonce(resp.Header)
	return &httpResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) get(url string) (*httpResponse, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.checkProblem(c.do(req))
}

func (c *Client) head(url string) (*httpResponse, error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(url string, body []byte) (*httpResponse, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", acme.JOSEContentType)
	return c.checkProblem(c.do(req))
}

// checkProblem translates a non-2xx ACME response carrying
// application/problem+json into an *acme.AcmeProblemError, and anything
// else non-2xx into a TransportFailureError.
func (c *Client) checkProblem(resp *httpResponse, err error) (*httpResponse, error) {
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	if resp.Header.Get("Content-Type") == acme.ProblemContentType {
		var p acme.Problem
		if jsonErr := json.Unmarshal(resp.Body, &p); jsonErr == nil && p.Type != "" {
			return resp, acme.NewAcmeProblemError(&p)
		}
	}
	return resp, acme.NewTransportFailure(resp.StatusCode, resp.Body, nil,
		"unexpected HTTP status %d", resp.StatusCode)
}

// signAndPost signs body as a JWS addressed to url per opts and POSTs it,
// retrying up to three total attempts when the server rejects the nonce
// with a badNonce problem, per spec.md section 4.3/4.4. Any other failure
// (transport error, non-badNonce problem) returns immediately.
func (c *Client) signAndPost(url string, body []byte, opts *SigningOptions) (*httpResponse, error) {
	var resp *httpResponse
	attempt := 0

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(0), 2)
	op := func() error {
		attempt++
		signResult, err := c.Sign(url, body, opts)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err = c.post(url, signResult.SerializedJWS)
		if err == nil {
			return nil
		}

		var problemErr *acme.AcmeProblemError
		if errors.As(err, &problemErr) && problemErr.IsBadNonce() {
			c.nonces.invalidate()
			if attempt < 3 {
				return err
			}
			// Exhausted the retry budget on a badNonce; escalate to a
			// TransportFailure per spec.md section 7's propagation rule
			// rather than surfacing the internal badNonce problem.
			return backoff.Permanent(acme.NewTransportFailure(0, nil, err,
				"badNonce persisted after %d attempts", attempt))
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// fetch performs a POST-as-GET request (an empty-payload JWS addressed to
// url), RFC 8555 section 6.3. Per spec.md sections 4.6 and 6, this is the
// only mechanism the core uses to read Orders, Authorizations, Challenges
// and Certificates; the one-time Directory fetch (section 4.5) is the sole
// plain GET this client makes.
func (c *Client) fetch(url string) (*httpResponse, error) {
	return c.signAndPost(url, []byte{}, nil)
}
