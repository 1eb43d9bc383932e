package nonce

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/seqlabs/txgate/internal/chain"
	"github.com/seqlabs/txgate/internal/metrics"
)

// LookupFunc fetches an account's pending nonce from the node. It is only
// invoked once per account, when no record exists yet.
type LookupFunc func(ctx context.Context, id chain.ID, address common.Address) (uint64, error)

// Manager is the single source of truth for "what nonce should the next
// transaction from this account use". Allocations are unique and
// monotonically increasing per account, and every state change is persisted
// before it is handed out.
type Manager struct {
	store  *Store
	lookup LookupFunc
	log    zerolog.Logger

	// accountLocks provides per-account serialization
	accountLocks sync.Map // map[string]*sync.Mutex
}

// NewManager creates a nonce manager on top of the given store.
func NewManager(store *Store, lookup LookupFunc, log zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		lookup: lookup,
		log:    log.With().Str("component", "nonce_manager").Logger(),
	}
}

// lockFor returns the lock for an account, creating it if necessary.
func (m *Manager) lockFor(key string) *sync.Mutex {
	lock, _ := m.accountLocks.LoadOrStore(key, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// NextNonce atomically allocates the next nonce for the account. On first
// use the record is seeded from the node's pending nonce. The allocation is
// persisted before it is returned; a storage failure aborts the allocation.
func (m *Manager) NextNonce(ctx context.Context, id chain.ID, address common.Address) (uint64, error) {
	key := chain.AccountKey(id, address)
	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	rec, ok := m.store.Get(key)
	if !ok {
		onchain, err := m.lookup(ctx, id, address)
		if err != nil {
			return 0, fmt.Errorf("looking up on-chain nonce: %w", err)
		}
		rec = Record{
			Chain:     id.String(),
			Address:   address.Hex(),
			NextNonce: onchain,
		}
		m.log.Debug().
			Str("chain", id.String()).
			Str("address", address.Hex()).
			Uint64("onchain_nonce", onchain).
			Msg("seeded nonce record from node")
	}

	n := rec.NextNonce
	rec.Pending = append(rec.Pending, n)
	rec.NextNonce = n + 1

	if err := m.store.Put(rec); err != nil {
		return 0, err
	}

	metrics.Global.RecordNonceAllocation()
	m.log.Debug().
		Str("chain", id.String()).
		Str("address", address.Hex()).
		Uint64("nonce", n).
		Msg("allocated nonce")

	return n, nil
}

// Commit marks an allocated nonce as durably consumed. Committing a nonce
// that is not pending is a no-op.
func (m *Manager) Commit(id chain.ID, address common.Address, n uint64) error {
	key := chain.AccountKey(id, address)
	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	rec, ok := m.store.Get(key)
	if !ok {
		return nil
	}

	idx := slices.Index(rec.Pending, n)
	if idx < 0 {
		return nil
	}
	rec.Pending = slices.Delete(rec.Pending, idx, idx+1)

	if err := m.store.Put(rec); err != nil {
		return err
	}

	m.log.Debug().
		Str("chain", id.String()).
		Str("address", address.Hex()).
		Uint64("nonce", n).
		Msg("committed nonce")

	return nil
}

// OverridePending corrects the account's nonce state after the node reported
// a different expected nonce. NextNonce is set to corrected and pending
// entries at or above it are dropped, since the node never accepted them.
// This is the sole correction mechanism.
func (m *Manager) OverridePending(id chain.ID, address common.Address, corrected uint64) error {
	key := chain.AccountKey(id, address)
	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	rec, ok := m.store.Get(key)
	if !ok {
		rec = Record{
			Chain:   id.String(),
			Address: address.Hex(),
		}
	}

	pending := rec.Pending[:0]
	for _, p := range rec.Pending {
		if p < corrected {
			pending = append(pending, p)
		}
	}
	rec.Pending = pending
	rec.NextNonce = corrected

	if err := m.store.Put(rec); err != nil {
		return err
	}

	metrics.Global.RecordNonceOverride()
	m.log.Info().
		Str("chain", id.String()).
		Str("address", address.Hex()).
		Uint64("corrected_nonce", corrected).
		Msg("overrode pending nonce")

	return nil
}

// Provide runs action with a nonce. An explicit nonce bypasses allocation
// entirely and the caller takes full responsibility for its correctness
// (batch flows needing specific sequencing). Otherwise a nonce is allocated,
// action is run, and the nonce is committed on success.
func (m *Manager) Provide(ctx context.Context, id chain.ID, address common.Address, explicit *uint64, action func(nonce uint64) error) error {
	if explicit != nil {
		return action(*explicit)
	}

	n, err := m.NextNonce(ctx, id, address)
	if err != nil {
		return err
	}

	if err := action(n); err != nil {
		return err
	}

	return m.Commit(id, address, n)
}

// Records returns a copy of all stored nonce records, for diagnostics.
func (m *Manager) Records() []Record {
	return m.store.All()
}
