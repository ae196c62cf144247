package client

import (
	"encoding/json"
	"fmt"

	"github.com/acme-go/acmecore/acme"
)

// Directory is the ACME server's directory resource, RFC 8555 section
// 7.1.1. Meta is typed for the fields this client understands; unknown
// directory keys are preserved in Raw so a caller can still reach a
// server-specific extension.
type Directory struct {
	NewNonce   string `json:"newNonce"`
	NewAccount string `json:"newAccount"`
	NewOrder   string `json:"newOrder"`
	NewAuthz   string `json:"newAuthz,omitempty"`
	RevokeCert string `json:"revokeCert"`
	KeyChange  string `json:"keyChange"`
	Meta       struct {
		TermsOfService          string   `json:"termsOfService,omitempty"`
		Website                 string   `json:"website,omitempty"`
		CAAIdentities           []string `json:"caaIdentities,omitempty"`
		ExternalAccountRequired bool     `json:"externalAccountRequired,omitempty"`
	} `json:"meta,omitempty"`

	// Raw is the full decoded directory document, kept for lookups of
	// endpoints this type does not name explicitly.
	Raw map[string]any `json:"-"`
}

func (c *Client) fetchDirectory() (*Directory, error) {
	resp, err := c.get(c.DirectoryURL.String())
	if err != nil {
		return nil, err
	}

	var dir Directory
	if err := json.Unmarshal(resp.Body, &dir); err != nil {
		return nil, acme.SerializationFailedError(err, "unmarshaling directory document")
	}
	if err := json.Unmarshal(resp.Body, &dir.Raw); err != nil {
		return nil, acme.SerializationFailedError(err, "unmarshaling directory document as map")
	}
	return &dir, nil
}

// Directory returns the cached directory resource, fetching it first if
// necessary.
func (c *Client) Directory() (*Directory, error) {
	if c.directory == nil {
		if err := c.UpdateDirectory(); err != nil {
			return nil, err
		}
	}
	return c.directory, nil
}

// UpdateDirectory refetches and replaces the Client's cached directory.
func (c *Client) UpdateDirectory() error {
	dir, err := c.fetchDirectory()
	if err != nil {
		return err
	}
	c.directory = dir
	c.Log.Printf("updated directory")
	return nil
}

// endpointURL looks up a named endpoint (acme.NewNonceEndpoint and
// friends) in the cached directory.
func (c *Client) endpointURL(name string) (string, error) {
	dir, err := c.Directory()
	if err != nil {
		return "", err
	}
	v, ok := dir.Raw[name]
	if !ok {
		return "", fmt.Errorf("missing %q entry in ACME server directory", name)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("directory entry %q is not a non-empty string", name)
	}
	return s, nil
}
