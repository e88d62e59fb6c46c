package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]Transaction
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]Transaction)}
}

func (f *ListFilter) matches(tx *Transaction) bool {
	if f.Signature != "" && tx.Signature != f.Signature {
		return false
	}
	if f.From != "" && tx.From != f.From {
		return false
	}
	if f.To != "" && tx.To != f.To {
		return false
	}
	if f.ProgramID != "" && tx.ProgramID != f.ProgramID {
		return false
	}
	if f.SlotFrom > 0 && tx.Slot < f.SlotFrom {
		return false
	}
	if f.SlotTo > 0 && tx.Slot > f.SlotTo {
		return false
	}
	return true
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, filter *ListFilter) (*Page, error) {
	if err := filter.Normalize(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		if filter.matches(&tx) {
			matched = append(matched, tx)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := &matched[i], &matched[j]
		var less bool
		switch filter.SortBy {
		case SortBySignature:
			less = a.Signature < b.Signature
		case SortByBlockTime:
			if !a.BlockTime.Equal(b.BlockTime) {
				less = a.BlockTime.Before(b.BlockTime)
			} else {
				less = a.Signature < b.Signature
			}
		default:
			if a.Slot != b.Slot {
				less = a.Slot < b.Slot
			} else {
				less = a.Signature < b.Signature
			}
		}
		if strings.EqualFold(filter.Order, OrderDesc) {
			return !less
		}
		return less
	})

	total := int64(len(matched))
	start := filter.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}

	return &Page{
		Items:  matched[start:end],
		Limit:  filter.Limit,
		Offset: filter.Offset,
		Total:  total,
	}, nil
}

// GetBySignature implements Store.
func (s *MemoryStore) GetBySignature(_ context.Context, signature string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[signature]
	if !ok {
		return nil, ErrNotFound
	}
	return &tx, nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txs[tx.Signature]; exists {
		return nil
	}
	s.txs[tx.Signature] = *tx
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
