package directorydb

import (
	"fmt"
	"sync"
	"time"

	"github.com/deroproject/graviton"

	"github.com/btcpaydir/nwc-billing/internal/logger"
)

// NonceStore tracks redeemed secure-token nonces so a captured token cannot
// be replayed. Backed by a Graviton tree keyed by nonce.
type NonceStore struct {
	mu        sync.Mutex
	store     *graviton.Store
	stopSweep chan struct{}
}

// NewNonceStore opens (or creates) the nonce database at path
func NewNonceStore(path string) (*NonceStore, error) {
	store, err := graviton.NewDiskStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open nonce store: %w", err)
	}
	return &NonceStore{store: store}, nil
}

// NewMemoryNonceStore builds a nonce store with no on-disk state, for tests
// and single-run batch invocations
func NewMemoryNonceStore() (*NonceStore, error) {
	store, err := graviton.NewMemStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open nonce store: %w", err)
	}
	return &NonceStore{store: store}, nil
}

// MarkUsed records a nonce as redeemed. Returns false when the nonce was
// already present, meaning the token was seen before.
func (n *NonceStore) MarkUsed(nonce string, usedAt time.Time) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ss, err := n.store.LoadSnapshot(0)
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	tree, err := ss.GetTree(UsedNonceTreeName)
	if err != nil {
		return false, fmt.Errorf("failed to get nonce tree: %w", err)
	}

	if _, err := tree.Get([]byte(nonce)); err == nil {
		return false, nil
	}

	if err := tree.Put([]byte(nonce), []byte(usedAt.UTC().Format(time.RFC3339))); err != nil {
		return false, fmt.Errorf("failed to save nonce: %w", err)
	}

	if _, err := graviton.Commit(tree); err != nil {
		return false, fmt.Errorf("failed to commit nonce: %w", err)
	}

	return true, nil
}

// IsUsed reports whether a nonce has been redeemed before
func (n *NonceStore) IsUsed(nonce string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ss, err := n.store.LoadSnapshot(0)
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	tree, err := ss.GetTree(UsedNonceTreeName)
	if err != nil {
		return false, fmt.Errorf("failed to get nonce tree: %w", err)
	}

	if _, err := tree.Get([]byte(nonce)); err != nil {
		return false, nil
	}
	return true, nil
}

// Prune deletes nonces redeemed before cutoff. Tokens expire after their
// TTL, so a nonce older than that can never be presented successfully
// again and only costs storage.
func (n *NonceStore) Prune(cutoff time.Time) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ss, err := n.store.LoadSnapshot(0)
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshot: %w", err)
	}

	tree, err := ss.GetTree(UsedNonceTreeName)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce tree: %w", err)
	}

	var stale [][]byte
	c := tree.Cursor()
	for k, v, err := c.First(); err == nil; k, v, err = c.Next() {
		usedAt, perr := time.Parse(time.RFC3339, string(v))
		if perr != nil || usedAt.Before(cutoff) {
			key := make([]byte, len(k))
			copy(key, k)
			stale = append(stale, key)
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}

	for _, key := range stale {
		if err := tree.Delete(key); err != nil {
			return 0, fmt.Errorf("failed to delete nonce: %w", err)
		}
	}
	if _, err := graviton.Commit(tree); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	return len(stale), nil
}

// StartSweep prunes nonces older than maxAge on the given interval until
// StopSweep is called
func (n *NonceStore) StartSweep(interval, maxAge time.Duration) {
	if n.stopSweep != nil {
		return
	}
	n.stopSweep = make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pruned, err := n.Prune(time.Now().Add(-maxAge))
				if err != nil {
					logger.Error("failed to prune nonce store", "error", err)
				} else if pruned > 0 {
					logger.Info("pruned expired token nonces", "count", pruned)
				}
			case <-n.stopSweep:
				return
			}
		}
	}()
}

// StopSweep terminates the prune loop
func (n *NonceStore) StopSweep() {
	if n.stopSweep != nil {
		close(n.stopSweep)
		n.stopSweep = nil
	}
}
