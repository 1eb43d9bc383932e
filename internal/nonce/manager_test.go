package nonce

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqlabs/txgate/internal/chain"
)

const testChain = chain.ID("ethereum")

var testAddress = common.HexToAddress("0x1111111111111111111111111111111111111111")

func fixedLookup(n uint64) LookupFunc {
	return func(_ context.Context, _ chain.ID, _ common.Address) (uint64, error) {
		return n, nil
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(filepath.Join(t.TempDir(), "nonces.json"))
	require.NoError(t, err)
	return store
}

func TestManager_SeedsFromNodeOnce(t *testing.T) {
	t.Parallel()

	var lookups atomic.Int64
	lookup := func(_ context.Context, _ chain.ID, _ common.Address) (uint64, error) {
		lookups.Add(1)
		return 5, nil
	}
	m := NewManager(newTestStore(t), lookup, zerolog.Nop())

	for want := uint64(5); want < 8; want++ {
		n, err := m.NextNonce(context.Background(), testChain, testAddress)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, int64(1), lookups.Load())
}

func TestManager_LookupErrorAbortsAllocation(t *testing.T) {
	t.Parallel()

	lookupErr := errors.New("node unreachable")
	lookup := func(_ context.Context, _ chain.ID, _ common.Address) (uint64, error) {
		return 0, lookupErr
	}
	m := NewManager(newTestStore(t), lookup, zerolog.Nop())

	_, err := m.NextNonce(context.Background(), testChain, testAddress)
	require.Error(t, err)
	assert.ErrorIs(t, err, lookupErr)
	assert.Empty(t, m.Records())
}

func TestManager_ConcurrentAllocationsAreUnique(t *testing.T) {
	t.Parallel()

	m := NewManager(newTestStore(t), fixedLookup(100), zerolog.Nop())

	const n = 50
	nonces := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := m.NextNonce(context.Background(), testChain, testAddress)
			assert.NoError(t, err)
			nonces[i] = got
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, got := range nonces {
		assert.False(t, seen[got], "nonce %d allocated twice", got)
		seen[got] = true
	}
	for want := uint64(100); want < 100+n; want++ {
		assert.True(t, seen[want], "gap at nonce %d", want)
	}
}

func TestManager_AccountsAreIndependent(t *testing.T) {
	t.Parallel()

	m := NewManager(newTestStore(t), fixedLookup(0), zerolog.Nop())
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")

	n, err := m.NextNonce(context.Background(), testChain, testAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	// A different address starts its own sequence.
	n, err = m.NextNonce(context.Background(), testChain, other)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	// Same address on another chain is yet another account.
	n, err = m.NextNonce(context.Background(), chain.ID("polygon"), testAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	assert.Len(t, m.Records(), 3)
}

func TestManager_CommitIsIdempotent(t *testing.T) {
	t.Parallel()

	m := NewManager(newTestStore(t), fixedLookup(10), zerolog.Nop())
	ctx := context.Background()

	a, err := m.NextNonce(ctx, testChain, testAddress)
	require.NoError(t, err)
	b, err := m.NextNonce(ctx, testChain, testAddress)
	require.NoError(t, err)

	require.NoError(t, m.Commit(testChain, testAddress, a))
	require.NoError(t, m.Commit(testChain, testAddress, a)) // repeat is a no-op
	require.NoError(t, m.Commit(testChain, testAddress, 999))

	recs := m.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, []uint64{b}, recs[0].Pending)

	// Committing for an account that was never seeded is a no-op too.
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	require.NoError(t, m.Commit(testChain, other, 0))
	assert.Len(t, m.Records(), 1)
}

func TestManager_OverridePending(t *testing.T) {
	t.Parallel()

	m := NewManager(newTestStore(t), fixedLookup(5), zerolog.Nop())
	ctx := context.Background()

	// Allocate 5, 6, 7.
	for i := 0; i < 3; i++ {
		_, err := m.NextNonce(ctx, testChain, testAddress)
		require.NoError(t, err)
	}

	require.NoError(t, m.OverridePending(testChain, testAddress, 7))

	recs := m.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(7), recs[0].NextNonce)
	// Entries at or above the corrected value were never accepted by the
	// node and are dropped; older in-flight entries stay.
	assert.Equal(t, []uint64{5, 6}, recs[0].Pending)

	n, err := m.NextNonce(ctx, testChain, testAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)
}

func TestManager_OverrideSeedsUnknownAccount(t *testing.T) {
	t.Parallel()

	m := NewManager(newTestStore(t), fixedLookup(0), zerolog.Nop())

	require.NoError(t, m.OverridePending(testChain, testAddress, 9))

	// The override is authoritative; no node lookup happens afterwards.
	n, err := m.NextNonce(context.Background(), testChain, testAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), n)
}

func TestManager_StateSurvivesRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nonces.json")
	store, err := OpenStore(path)
	require.NoError(t, err)

	m := NewManager(store, fixedLookup(20), zerolog.Nop())
	ctx := context.Background()

	n, err := m.NextNonce(ctx, testChain, testAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), n)
	require.NoError(t, m.Commit(testChain, testAddress, n))

	// A fresh process picks up where the old one stopped, without asking
	// the node again.
	reopened, err := OpenStore(path)
	require.NoError(t, err)
	m2 := NewManager(reopened, func(_ context.Context, _ chain.ID, _ common.Address) (uint64, error) {
		t.Fatal("lookup must not run for a known account")
		return 0, nil
	}, zerolog.Nop())

	n, err = m2.NextNonce(ctx, testChain, testAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), n)
}

func TestManager_Provide(t *testing.T) {
	t.Parallel()

	m := NewManager(newTestStore(t), fixedLookup(0), zerolog.Nop())
	ctx := context.Background()

	// Allocation path: committed on success.
	var got uint64
	require.NoError(t, m.Provide(ctx, testChain, testAddress, nil, func(n uint64) error {
		got = n
		return nil
	}))
	assert.Equal(t, uint64(0), got)
	recs := m.Records()
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Pending)

	// Action failure leaves the nonce pending.
	actionErr := errors.New("send failed")
	err := m.Provide(ctx, testChain, testAddress, nil, func(_ uint64) error {
		return actionErr
	})
	assert.ErrorIs(t, err, actionErr)
	recs = m.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, []uint64{1}, recs[0].Pending)

	// Explicit nonce bypasses allocation and commit entirely.
	explicit := uint64(42)
	require.NoError(t, m.Provide(ctx, testChain, testAddress, &explicit, func(n uint64) error {
		got = n
		return nil
	}))
	assert.Equal(t, uint64(42), got)
	recs = m.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(2), recs[0].NextNonce)
}
