// Package nonce provides durable, per-account nonce allocation for the
// broadcast subsystem. The store survives process restarts; the manager
// layers allocation, commit, and override semantics on top of it.
package nonce

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/seqlabs/txgate/internal/chain"
	"github.com/seqlabs/txgate/internal/fileutil"
	txgerr "github.com/seqlabs/txgate/pkg/errors"
)

const (
	// storeFilePermissions is the permission mode for the nonce db file.
	storeFilePermissions = 0o600

	// storeDirPermissions is the permission mode for the nonce db directory.
	storeDirPermissions = 0o750

	// currentVersion is the current file format version.
	currentVersion = 1
)

// Record is the durable nonce state for one (chain, address) account.
type Record struct {
	Chain     string    `json:"chain"`
	Address   string    `json:"address"`
	NextNonce uint64    `json:"next_nonce"`
	Pending   []uint64  `json:"pending,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the unique identifier for this record.
func (r *Record) Key() string {
	return chain.AccountKey(chain.ID(r.Chain), common.HexToAddress(r.Address))
}

// storeFile is the on-disk representation of the store.
type storeFile struct {
	Version int               `json:"version"`
	Records map[string]Record `json:"records"`
}

// Store is a file-backed nonce database. Every mutation is written to disk
// atomically before it becomes visible in memory, so a crash never leaves an
// allocated nonce unpersisted.
type Store struct {
	path    string
	mu      sync.Mutex
	records map[string]Record
}

// OpenStore loads the nonce database at path, creating an empty one if the
// file does not exist. A corrupted file is moved aside so the store can
// start fresh rather than blocking all broadcasts.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, txgerr.WithDetails(txgerr.ErrStorage, map[string]string{
			"reason": "nonce db path is empty",
		})
	}

	s := &Store{
		path:    path,
		records: make(map[string]Record),
	}

	if err := fileutil.EnsureDir(path, storeDirPermissions); err != nil {
		return nil, txgerr.WithCause(txgerr.ErrStorage, err)
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from validated config
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, txgerr.WithCause(txgerr.ErrStorage, err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		corruptPath := fmt.Sprintf("%s.corrupt.%d", path, time.Now().UTC().UnixNano())
		if renameErr := os.Rename(path, corruptPath); renameErr != nil {
			return nil, txgerr.WithCause(txgerr.ErrStorage, fmt.Errorf("corrupt nonce db: %w (also failed to move file: %w)", err, renameErr))
		}
		return s, txgerr.WithDetails(txgerr.WithCause(txgerr.ErrStorage, err), map[string]string{
			"moved_to": corruptPath,
		})
	}

	if file.Records != nil {
		s.records = file.Records
	}

	return s, nil
}

// Get returns a copy of the record for the given key.
func (s *Store) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return cloneRecord(rec), true
}

// Put persists the record. The in-memory map is only updated after the disk
// write succeeds; callers must treat a returned error as fatal for the
// allocation in progress.
func (s *Store) Put(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.UpdatedAt = time.Now().UTC()

	next := make(map[string]Record, len(s.records)+1)
	for k, v := range s.records {
		next[k] = v
	}
	next[rec.Key()] = rec

	if err := s.writeLocked(next); err != nil {
		return txgerr.WithCause(txgerr.ErrStorage, err)
	}

	s.records = next
	return nil
}

// All returns a copy of every stored record.
func (s *Store) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	return out
}

// Path returns the db file path.
func (s *Store) Path() string {
	return s.path
}

// writeLocked serializes the given record set to disk. Caller holds s.mu.
func (s *Store) writeLocked(records map[string]Record) error {
	file := storeFile{
		Version: currentVersion,
		Records: records,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling nonce db: %w", err)
	}

	return fileutil.WriteAtomic(s.path, data, storeFilePermissions)
}

func cloneRecord(rec Record) Record {
	if rec.Pending != nil {
		pending := make([]uint64, len(rec.Pending))
		copy(pending, rec.Pending)
		rec.Pending = pending
	}
	return rec
}
