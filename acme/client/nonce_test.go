package client

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestNoncePoolTakeEmpty(t *testing.T) {
	p := newNoncePool()
	_, ok := p.take()
	require.False(t, ok)
}

func TestNoncePoolOfferTake(t *testing.T) {
	p := newNoncePool()
	p.offer("abc")
	n, ok := p.take()
	require.True(t, ok)
	require.Equal(t, "abc", n)

	_, ok = p.take()
	require.False(t, ok, "take must drain the slot")
}

func TestNoncePoolInvalidate(t *testing.T) {
	p := newNoncePool()
	p.offer("abc")
	p.invalidate()
	_, ok := p.take()
	require.False(t, ok)
}

// TestNoncePoolConcurrentAccess exercises the pool from many goroutines at
// once; the race detector, not the assertions, is the point of this test.
func TestNoncePoolConcurrentAccess(t *testing.T) {
	p := newNoncePool()
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		i := i
		g.Go(func() error {
			p.offer(fmt.Sprintf("nonce-%d", i))
			p.take()
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
