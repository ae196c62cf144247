// Package client provides a low-level ACME v2 client implementing the
// account, order and challenge flows of RFC 8555.
package client

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"net/http"
	"net/mail"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/acme-go/acmecore/acme/resources"
)

// Client allows interaction with an ACME server. A Client may have many
// Accounts, each corresponding to a keypair and a server-side Account
// resource. The ActiveAccount is used to authenticate requests to the ACME
// server with JSON Web Signatures (JWS). Switching ActiveAccount between
// entries in Accounts allows driving multiple identities against the same
// server instance.
type Client struct {
	// DirectoryURL is the ACME server's directory endpoint.
	DirectoryURL *url.URL
	// ActiveAccount is the Account currently used to sign requests.
	ActiveAccount *resources.Account
	// Accounts is the set of Accounts registered by this client, or loaded
	// from a previous session. ActiveAccount is always a member of this
	// slice once set.
	Accounts []*resources.Account
	// Keys holds certificate keys, indexed by an arbitrary caller-chosen
	// identifier (often a comma-joined list of the SAN names). RFC 8555
	// section 11.1 recommends the certificate key not be the account key,
	// so CSR generation draws from here rather than from an Account.
	Keys map[string]crypto.Signer
	// Log receives diagnostic messages about client activity. Defaults to
	// log.Default() in NewClient.
	Log *log.Logger

	httpClient *http.Client
	directory  *Directory
	nonces     *noncePool
}

// ClientConfig configures a Client created with NewClient.
type ClientConfig struct {
	// DirectoryURL is the ACME server's directory endpoint. Mandatory; must
	// include an http:// or https:// scheme. See RFC 8555 section 7.1.1.
	DirectoryURL string
	// CACertPath is an optional path to one or more PEM encoded CA
	// certificates to trust for HTTPS requests to the ACME server. If empty
	// the system roots are used. Used against servers with a private CA,
	// such as a local Pebble or Boulder instance.
	CACertPath string
	// ContactEmail is an optional contact address used when AutoRegister
	// creates a new account.
	ContactEmail string
	// AccountPath is an optional file path to a previously saved account. If
	// set, NewClient restores the account from this path instead of
	// auto-registering, even if AutoRegister is true.
	AccountPath string
	// AutoRegister, if true, creates a new account with the server when no
	// AccountPath is given (or restoring from it fails).
	AutoRegister bool
	// HTTPTimeout bounds every individual HTTP request made to the ACME
	// server. Defaults to 30s if zero.
	HTTPTimeout time.Duration
}

func (conf *ClientConfig) normalize() error {
	conf.DirectoryURL = strings.TrimSpace(conf.DirectoryURL)
	conf.ContactEmail = strings.TrimSpace(conf.ContactEmail)
	conf.AccountPath = strings.TrimSpace(conf.AccountPath)

	if conf.DirectoryURL == "" {
		return fmt.Errorf("DirectoryURL must not be empty")
	}
	if _, err := url.Parse(conf.DirectoryURL); err != nil {
		return fmt.Errorf("DirectoryURL invalid: %w", err)
	}
	if conf.ContactEmail != "" {
		addr, err := mail.ParseAddress(conf.ContactEmail)
		if err != nil {
			return fmt.Errorf("ContactEmail invalid: %w", err)
		}
		conf.ContactEmail = addr.Address
	}
	if conf.HTTPTimeout == 0 {
		conf.HTTPTimeout = 30 * time.Second
	}
	return nil
}

func newHTTPClient(conf ClientConfig) (*http.Client, error) {
	if conf.CACertPath == "" {
		return &http.Client{Timeout: conf.HTTPTimeout}, nil
	}

	pemBytes, err := os.ReadFile(conf.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CACertPath %q: %w", conf.CACertPath, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("no certificates parsed from CACertPath %q", conf.CACertPath)
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool},
	}
	return &http.Client{Transport: transport, Timeout: conf.HTTPTimeout}, nil
}

// NewClient creates a Client from the given ClientConfig, fetching the
// server's directory and priming the nonce pool before returning.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}

	httpClient, err := newHTTPClient(config)
	if err != nil {
		return nil, err
	}

	dirURL, _ := url.Parse(config.DirectoryURL)

	c := &Client{
		DirectoryURL: dirURL,
		Log:          log.Default(),
		httpClient:   httpClient,
		nonces:       newNoncePool(),
		Keys:         map[string]crypto.Signer{},
	}

	if config.AccountPath != "" {
		c.Log.Printf("restoring account from %q", config.AccountPath)
		acct, err := resources.RestoreAccount(config.AccountPath)
		switch {
		case err != nil && !config.AutoRegister:
			return nil, fmt.Errorf("restoring account from %q: %w", config.AccountPath, err)
		case err != nil && config.AutoRegister:
			c.Log.Printf("no account restored from %q: %s", config.AccountPath, err)
		default:
			c.Accounts = append(c.Accounts, acct)
			c.ActiveAccount = acct
			c.Log.Printf("restored account %q", acct.ID())
		}
	}

	if config.AutoRegister && c.ActiveAccountID() == "" {
		acct, err := resources.NewAccount([]string{config.ContactEmail})
		if err != nil {
			return nil, err
		}
		c.Accounts = append(c.Accounts, acct)
		c.ActiveAccount = acct

		if err := c.RegisterAccount(acct); err != nil {
			return nil, err
		}

		if config.AccountPath != "" {
			if err := resources.SaveAccount(config.AccountPath, acct); err != nil {
				return nil, fmt.Errorf("saving account to %q: %w", config.AccountPath, err)
			}
			c.Log.Printf("saved account to %q", config.AccountPath)
		}
	}

	if err := c.UpdateDirectory(); err != nil {
		return nil, err
	}

	if acctID := c.ActiveAccountID(); acctID != "" {
		c.Log.Printf("active account: %q", acctID)
	}

	return c, nil
}

// ActiveAccountID returns the ID (account URL) of the ActiveAccount, or the
// empty string if there is no ActiveAccount or it has not yet been created
// with the server.
func (c *Client) ActiveAccountID() string {
	if c.ActiveAccount == nil {
		return ""
	}
	return c.ActiveAccount.ID()
}
