package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/acme-go/acmecore/acme"
	"github.com/acme-go/acmecore/acme/client"
	"github.com/acme-go/acmecore/acme/resources"
	"github.com/acme-go/acmecore/acmetest"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *acmetest.Server) *client.Client {
	t.Helper()
	c, err := client.NewClient(client.ClientConfig{DirectoryURL: srv.DirectoryURL()})
	require.NoError(t, err)
	return c
}

func TestDirectoryAndNonce(t *testing.T) {
	srv := acmetest.New()
	defer srv.Close()

	c := newTestClient(t, srv)
	dir, err := c.Directory()
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/acme/new-order", dir.NewOrder)

	nonce, err := c.Nonce()
	require.NoError(t, err)
	require.NotEmpty(t, nonce)
}

func TestFullOrderLifecycle(t *testing.T) {
	srv := acmetest.New()
	defer srv.Close()
	srv.SetOrderStatus(acme.StatusReady)

	c := newTestClient(t, srv)

	acct, err := resources.NewAccount([]string{"foo@bar.com"})
	require.NoError(t, err)
	require.NoError(t, c.RegisterAccount(acct))
	require.NotEmpty(t, acct.ID())
	c.ActiveAccount = acct
	c.Accounts = append(c.Accounts, acct)

	order := &resources.Order{
		Identifiers: []resources.Identifier{{Type: "dns", Value: "acme-test.example.com"}},
	}
	require.NoError(t, c.NewOrder(order))
	require.NotEmpty(t, order.ID)
	require.Len(t, order.Authorizations, 1)

	authzs, err := c.Authorizations(order)
	require.NoError(t, err)
	require.Len(t, authzs, 1)

	httpChall, ok := authzs[0].ChallengeOfType(acme.ChallengeHTTP01)
	require.True(t, ok)
	proof, err := httpChall.HTTP01KeyAuthorization(acct.Key)
	require.NoError(t, err)
	require.Contains(t, proof, httpChall.Token)

	require.NoError(t, c.RespondToChallenge(&httpChall))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.PollOrder(ctx, order, 10*time.Millisecond))
	require.Equal(t, acme.StatusReady, order.Status)

	_, pemCSR, err := c.CSR("", []string{"acme-test.example.com"}, "")
	require.NoError(t, err)
	b64CSR, _, err := c.CSR("", []string{"acme-test.example.com"}, "acme-test.example.com")
	require.NoError(t, err)
	require.NotEmpty(t, pemCSR)

	require.NoError(t, c.Finalize(ctx, order, b64CSR, 10*time.Millisecond))

	cert, err := c.Download(order)
	require.NoError(t, err)
	require.Equal(t, "CERT HERE", string(cert))
}

func TestPollOrderTimesOut(t *testing.T) {
	srv := acmetest.New()
	defer srv.Close()
	srv.SetOrderStatus(acme.StatusPending)

	c := newTestClient(t, srv)
	acct, err := resources.NewAccount([]string{"foo@bar.com"})
	require.NoError(t, err)
	require.NoError(t, c.RegisterAccount(acct))
	c.ActiveAccount = acct

	order := &resources.Order{
		Identifiers: []resources.Identifier{{Type: "dns", Value: "acme-test.example.com"}},
	}
	require.NoError(t, c.NewOrder(order))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = c.PollOrder(ctx, order, time.Second)
	require.Error(t, err)
	var acmeErr *acme.Error
	require.ErrorAs(t, err, &acmeErr)
	require.Equal(t, acme.KindTimeout, acmeErr.Kind)
}
