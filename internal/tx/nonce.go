package tx

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceReader reads the pending transaction count of an account.
type NonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceSource hands out nonces. Reserve returns the first nonce of a
// contiguous block of count nonces owned by the caller.
type NonceSource interface {
	Reserve(ctx context.Context, reader NonceReader, account common.Address, count int) (uint64, error)
	// Reset drops local state for account so the next reservation starts
	// from the node's pending nonce again.
	Reset(ctx context.Context, account common.Address) error
}

// MemoryNonces tracks a cursor per account inside the process. The next
// nonce is the larger of the node's pending nonce and the local cursor.
type MemoryNonces struct {
	mu   sync.Mutex
	next map[common.Address]uint64
}

// NewMemoryNonces returns an empty nonce source.
func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{next: make(map[common.Address]uint64)}
}

// Reserve implements NonceSource.
func (m *MemoryNonces) Reserve(ctx context.Context, reader NonceReader, account common.Address, count int) (uint64, error) {
	if count < 1 {
		count = 1
	}
	pending, err := reader.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	start := pending
	if cursor, ok := m.next[account]; ok && cursor > start {
		start = cursor
	}
	m.next[account] = start + uint64(count)
	return start, nil
}

// Reset implements NonceSource.
func (m *MemoryNonces) Reset(_ context.Context, account common.Address) error {
	m.mu.Lock()
	delete(m.next, account)
	m.mu.Unlock()
	return nil
}
