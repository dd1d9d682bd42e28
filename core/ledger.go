package core

import (
	"fmt"
	"sync"
)

// Ledger is the append-only verdict chain. Blocks handed out by the ledger
// must be treated as read-only.
type Ledger struct {
	mu    sync.RWMutex
	chain []*Block
	store Store
	clock Clock
}

// NewLedger loads the persisted chain, or creates and persists a genesis
// block when there is none.
func NewLedger(store Store, clock Clock) (*Ledger, error) {
	chain, err := store.LoadChain()
	if err != nil {
		return nil, fmt.Errorf("failed to load chain: %v", err)
	}
	l := &Ledger{chain: chain, store: store, clock: clock}
	if len(chain) > 0 {
		return l, nil
	}

	genesis, err := NewBlock(0, clock.Now(), GenesisPreviousHash, map[string]any{
		"message": "Genesis Block",
	})
	if err != nil {
		return nil, err
	}
	if err := store.SaveChain([]*Block{genesis}); err != nil {
		return nil, persistenceError("genesis block", err)
	}
	l.chain = []*Block{genesis}
	return l, nil
}

// Append seals data into the next block and persists the whole chain. The
// in-memory chain only grows once the snapshot has been written.
func (l *Ledger) Append(data map[string]any) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.chain[len(l.chain)-1]
	block, err := NewBlock(len(l.chain), l.clock.Now(), prev.Hash, data)
	if err != nil {
		return nil, err
	}

	next := make([]*Block, len(l.chain), len(l.chain)+1)
	copy(next, l.chain)
	next = append(next, block)
	if err := l.store.SaveChain(next); err != nil {
		return nil, persistenceError("chain", err)
	}
	l.chain = next
	return block, nil
}

// Rollback removes block from the tail and persists the shorter chain. It
// fails if block is not the tail or is the genesis block.
func (l *Ledger) Rollback(block *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tail := l.chain[len(l.chain)-1]
	if len(l.chain) == 1 || tail.Hash != block.Hash {
		return fmt.Errorf("block %d is not a removable tail: %w", block.Index, ErrConflict)
	}
	next := make([]*Block, len(l.chain)-1)
	copy(next, l.chain)
	if err := l.store.SaveChain(next); err != nil {
		return persistenceError("chain", err)
	}
	l.chain = next
	return nil
}

// Blocks returns the chain in order.
func (l *Ledger) Blocks() []*Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Block, len(l.chain))
	copy(out, l.chain)
	return out
}

// Last returns the tail block.
func (l *Ledger) Last() *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[len(l.chain)-1]
}

// Len returns the number of blocks including genesis.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// Validate checks the whole chain, see ValidateChain.
func (l *Ledger) Validate() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ValidateChain(l.chain)
}

// ValidateChain recomputes every block hash and previous-hash link. It
// returns an *InvalidBlockError for the first block that does not match.
func ValidateChain(chain []*Block) error {
	if len(chain) == 0 {
		return &InvalidBlockError{Index: 0, Reason: "missing genesis block"}
	}
	for i, block := range chain {
		if block.Index != i {
			return &InvalidBlockError{Index: i, Reason: fmt.Sprintf("index %d out of sequence", block.Index)}
		}
		hash, err := block.CalculateHash()
		if err != nil {
			return &InvalidBlockError{Index: i, Reason: err.Error()}
		}
		if block.Hash != hash {
			return &InvalidBlockError{Index: i, Reason: "hash mismatch"}
		}
		if i == 0 {
			if block.PreviousHash != GenesisPreviousHash {
				return &InvalidBlockError{Index: 0, Reason: "genesis previous hash must be " + GenesisPreviousHash}
			}
			continue
		}
		if block.PreviousHash != chain[i-1].Hash {
			return &InvalidBlockError{Index: i, Reason: "previous hash does not link to block " + fmt.Sprint(i-1)}
		}
	}
	return nil
}
