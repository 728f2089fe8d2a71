package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/x402labs/facilitator/types"
)

func TestAcquireSerializesPerKey(t *testing.T) {
	c := New(0, nil, nil)
	ctx := context.Background()

	slot, err := c.Acquire(ctx, types.NetworkBase, "0xsponsor")
	require.NoError(t, err)

	// Same key: second acquire must wait until release.
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(waitCtx, types.NetworkBase, "0xsponsor")
	require.Error(t, err)
	require.Equal(t, types.ErrSubmissionTimeout, types.KindOf(err))

	slot.Release()
	slot2, err := c.Acquire(ctx, types.NetworkBase, "0xsponsor")
	require.NoError(t, err)
	slot2.Release()
}

func TestAcquireIndependentKeys(t *testing.T) {
	c := New(0, nil, nil)
	ctx := context.Background()

	held, err := c.Acquire(ctx, types.NetworkBase, "0xsponsor")
	require.NoError(t, err)
	defer held.Release()

	// Different network, same signer.
	s1, err := c.Acquire(ctx, types.NetworkPolygon, "0xsponsor")
	require.NoError(t, err)
	s1.Release()

	// Same network, different signer.
	s2, err := c.Acquire(ctx, types.NetworkBase, "0xother")
	require.NoError(t, err)
	s2.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := New(0, nil, nil)
	slot, err := c.Acquire(context.Background(), types.NetworkSolana, "sponsor")
	require.NoError(t, err)

	slot.Release()
	slot.Release()

	// A double release must not free the slot for a third party twice.
	next, err := c.Acquire(context.Background(), types.NetworkSolana, "sponsor")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(waitCtx, types.NetworkSolana, "sponsor")
	require.Error(t, err)
	next.Release()
}

func TestHoldTimeoutForcesRelease(t *testing.T) {
	c := New(30*time.Millisecond, nil, nil)

	_, err := c.Acquire(context.Background(), types.NetworkBase, "0xsponsor")
	require.NoError(t, err)

	// Without an explicit Release the timer frees the key.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	slot, err := c.Acquire(ctx, types.NetworkBase, "0xsponsor")
	require.NoError(t, err)
	slot.Release()
}

func TestConcurrentAcquireAdmitsOneAtATime(t *testing.T) {
	c := New(0, nil, nil)
	const workers = 8

	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := c.Acquire(context.Background(), types.NetworkAlgorand, "SPONSOR")
			require.NoError(t, err)
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			slot.Release()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxActive)
}
