package broadcast

import (
	"container/list"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/seqlabs/txgate/internal/chain"
	"github.com/seqlabs/txgate/internal/nonce"
	txgerr "github.com/seqlabs/txgate/pkg/errors"
)

// DefaultRegistryCapacity bounds the number of live broadcasters.
const DefaultRegistryCapacity = 50

// Registry hands out the broadcaster for a (chain, address) pair, creating
// it on first use. Capacity is enforced by least-recently-used eviction, but
// a broadcaster with pending tasks is never evicted; the registry runs over
// capacity instead until a quiet one frees up.
type Registry struct {
	clients  chain.ClientSource
	wallets  chain.WalletSource
	nonces   *nonce.Manager
	capacity int
	opts     Options
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front is most recently used
	closed  bool
}

type registryEntry struct {
	key string
	b   *Broadcaster
}

// NewRegistry creates a registry. A capacity of zero or less means
// DefaultRegistryCapacity.
func NewRegistry(clients chain.ClientSource, wallets chain.WalletSource, nonces *nonce.Manager, capacity int, opts Options) *Registry {
	if capacity <= 0 {
		capacity = DefaultRegistryCapacity
	}
	return &Registry{
		clients:  clients,
		wallets:  wallets,
		nonces:   nonces,
		capacity: capacity,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "registry").Logger(),
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// For returns the broadcaster for the pair, creating it if needed. The
// returned broadcaster is valid for the current request; callers should ask
// again rather than hold it across requests, since an idle broadcaster may
// be evicted in between.
func (r *Registry) For(id chain.ID, address common.Address) (*Broadcaster, error) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return nil, txgerr.ErrBroadcasterClosed
	}

	key := chain.AccountKey(id, address)
	if elem, ok := r.entries[key]; ok {
		r.order.MoveToFront(elem)
		b := elem.Value.(*registryEntry).b
		r.mu.Unlock()
		return b, nil
	}

	client, err := r.clients.Client(id)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	signer, err := r.wallets.Signer(id, address)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	b := New(id, client, signer, r.nonces, r.opts)
	r.entries[key] = r.order.PushFront(&registryEntry{key: key, b: b})
	r.log.Debug().Str("account", key).Int("live", r.order.Len()).
		Msg("broadcaster created")

	victim := r.evictLocked()
	r.mu.Unlock()

	// Closing outside the lock: Close waits for the worker to exit.
	if victim != nil {
		victim.Close()
	}
	return b, nil
}

// evictLocked removes the least recently used idle broadcaster when over
// capacity and returns it for closing. Busy broadcasters are skipped; if all
// are busy nothing is evicted.
func (r *Registry) evictLocked() *Broadcaster {
	if r.order.Len() <= r.capacity {
		return nil
	}

	for elem := r.order.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*registryEntry)
		if entry.b.PendingTasks() > 0 {
			continue
		}
		r.order.Remove(elem)
		delete(r.entries, entry.key)
		r.log.Debug().Str("account", entry.key).Msg("broadcaster evicted")
		return entry.b
	}

	r.log.Warn().Int("live", r.order.Len()).Int("capacity", r.capacity).
		Msg("all broadcasters busy, running over capacity")
	return nil
}

// Len returns the number of live broadcasters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// Close shuts down every broadcaster. Queued tasks fail with
// ErrBroadcasterClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	victims := make([]*Broadcaster, 0, r.order.Len())
	for elem := r.order.Front(); elem != nil; elem = elem.Next() {
		victims = append(victims, elem.Value.(*registryEntry).b)
	}
	r.entries = make(map[string]*list.Element)
	r.order.Init()
	r.mu.Unlock()

	for _, b := range victims {
		b.Close()
	}
}
