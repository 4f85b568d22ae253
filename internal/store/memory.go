package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Phenixis/Predis/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. A single store-wide mutex makes every transaction fully
// serializable; writes are staged per transaction and merged only on commit,
// so a failed operation leaves no trace.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	markets  map[string]*model.Market
	options  map[string]*model.Option
	wagers   map[string]*model.Wager
	ledger   []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		markets:  make(map[string]*model.Market),
		options:  make(map[string]*model.Option),
		wagers:   make(map[string]*model.Wager),
	}
}

func (s *MemoryStore) WithinTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:        s,
		accounts: make(map[string]*model.Account),
		markets:  make(map[string]*model.Market),
		options:  make(map[string]*model.Option),
		wagers:   make(map[string]*model.Wager),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// --- Point-in-time reads ---

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, model.ErrMarketNotFound
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) GetOptions(_ context.Context, marketID string) ([]model.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.optionsOf(marketID), nil
}

func (s *MemoryStore) optionsOf(marketID string) []model.Option {
	var opts []model.Option
	for _, o := range s.options {
		if o.MarketID == marketID {
			opts = append(opts, *o)
		}
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Ordinal < opts[j].Ordinal })
	return opts
}

func (s *MemoryStore) ListMarkets(_ context.Context, state model.MarketState) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var markets []model.Market
	for _, m := range s.markets {
		if state != "" && m.State != state {
			continue
		}
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].CreatedAt.After(markets[j].CreatedAt) })
	return markets, nil
}

func (s *MemoryStore) ListExpiredActive(_ context.Context, now time.Time) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var markets []model.Market
	for _, m := range s.markets {
		if m.State == model.MarketActive && !m.EndAt.After(now) {
			markets = append(markets, *m)
		}
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].EndAt.Before(markets[j].EndAt) })
	return markets, nil
}

func (s *MemoryStore) GetWager(_ context.Context, id string) (*model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wagers[id]
	if !ok {
		return nil, model.ErrWagerNotFound
	}
	copy := *w
	return &copy, nil
}

func (s *MemoryStore) WagersByAccount(_ context.Context, accountID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wagers []model.Wager
	for _, w := range s.wagers {
		if w.AccountID == accountID {
			wagers = append(wagers, *w)
		}
	}
	sort.Slice(wagers, func(i, j int) bool {
		if !wagers[i].PlacedAt.Equal(wagers[j].PlacedAt) {
			return wagers[i].PlacedAt.After(wagers[j].PlacedAt)
		}
		return wagers[i].ID > wagers[j].ID
	})
	return wagers, nil
}

func (s *MemoryStore) LedgerHistory(_ context.Context, accountID string, before time.Time, beforeID string, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.LedgerEntry
	for _, e := range s.ledger {
		if e.AccountID != accountID {
			continue
		}
		if !before.IsZero() {
			older := e.CreatedAt.Before(before) ||
				(e.CreatedAt.Equal(before) && e.ID < beforeID)
			if !older {
				continue
			}
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// --- Transaction ---

// memTx stages writes in its own maps; commit merges them into the store.
// The store mutex is held for the whole transaction.
type memTx struct {
	s        *MemoryStore
	accounts map[string]*model.Account
	markets  map[string]*model.Market
	options  map[string]*model.Option
	wagers   map[string]*model.Wager
	entries  []model.LedgerEntry
}

func (tx *memTx) commit() {
	for id, a := range tx.accounts {
		tx.s.accounts[id] = a
	}
	for id, m := range tx.markets {
		tx.s.markets[id] = m
	}
	for id, o := range tx.options {
		tx.s.options[id] = o
	}
	for id, w := range tx.wagers {
		tx.s.wagers[id] = w
	}
	tx.s.ledger = append(tx.s.ledger, tx.entries...)
}

func (tx *memTx) AccountForUpdate(_ context.Context, id string) (*model.Account, error) {
	if a, ok := tx.accounts[id]; ok {
		copy := *a
		return &copy, nil
	}
	a, ok := tx.s.accounts[id]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	copy := *a
	return &copy, nil
}

func (tx *memTx) MarketForUpdate(_ context.Context, id string) (*model.Market, error) {
	if m, ok := tx.markets[id]; ok {
		copy := *m
		return &copy, nil
	}
	m, ok := tx.s.markets[id]
	if !ok {
		return nil, model.ErrMarketNotFound
	}
	copy := *m
	return &copy, nil
}

func (tx *memTx) OptionsForUpdate(_ context.Context, marketID string) ([]model.Option, error) {
	opts := tx.s.optionsOf(marketID)
	for _, o := range tx.options {
		if o.MarketID != marketID {
			continue
		}
		found := false
		for i := range opts {
			if opts[i].ID == o.ID {
				opts[i] = *o
				found = true
				break
			}
		}
		if !found {
			opts = append(opts, *o)
		}
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Ordinal < opts[j].Ordinal })
	return opts, nil
}

func (tx *memTx) WagersByMarket(_ context.Context, marketID string) ([]model.Wager, error) {
	seen := make(map[string]bool)
	var wagers []model.Wager
	for _, w := range tx.wagers {
		if w.MarketID == marketID {
			wagers = append(wagers, *w)
			seen[w.ID] = true
		}
	}
	for _, w := range tx.s.wagers {
		if w.MarketID == marketID && !seen[w.ID] {
			wagers = append(wagers, *w)
		}
	}
	sort.Slice(wagers, func(i, j int) bool {
		if !wagers[i].PlacedAt.Equal(wagers[j].PlacedAt) {
			return wagers[i].PlacedAt.Before(wagers[j].PlacedAt)
		}
		return wagers[i].ID < wagers[j].ID
	})
	return wagers, nil
}

func (tx *memTx) GetWager(_ context.Context, id string) (*model.Wager, error) {
	if w, ok := tx.wagers[id]; ok {
		copy := *w
		return &copy, nil
	}
	w, ok := tx.s.wagers[id]
	if !ok {
		return nil, model.ErrWagerNotFound
	}
	copy := *w
	return &copy, nil
}

func (tx *memTx) CreateAccount(_ context.Context, a *model.Account) error {
	if _, ok := tx.s.accounts[a.ID]; ok {
		return model.ErrAccountExists
	}
	if _, ok := tx.accounts[a.ID]; ok {
		return model.ErrAccountExists
	}
	copy := *a
	tx.accounts[a.ID] = &copy
	return nil
}

func (tx *memTx) UpdateAccount(_ context.Context, a *model.Account) error {
	current, ok := tx.accounts[a.ID]
	if !ok {
		current, ok = tx.s.accounts[a.ID]
	}
	if !ok {
		return model.ErrAccountNotFound
	}
	if current.Version != a.Version-1 {
		return model.ErrVersionConflict
	}
	copy := *a
	tx.accounts[a.ID] = &copy
	return nil
}

func (tx *memTx) CreateMarket(_ context.Context, m *model.Market, opts []model.Option) error {
	if _, ok := tx.s.markets[m.ID]; ok {
		return model.ErrMarketExists
	}
	copy := *m
	tx.markets[m.ID] = &copy
	for i := range opts {
		o := opts[i]
		tx.options[o.ID] = &o
	}
	return nil
}

func (tx *memTx) UpdateMarket(_ context.Context, m *model.Market) error {
	if _, ok := tx.markets[m.ID]; !ok {
		if _, ok := tx.s.markets[m.ID]; !ok {
			return model.ErrMarketNotFound
		}
	}
	copy := *m
	tx.markets[m.ID] = &copy
	return nil
}

func (tx *memTx) UpdateOption(_ context.Context, o *model.Option) error {
	if _, ok := tx.options[o.ID]; !ok {
		if _, ok := tx.s.options[o.ID]; !ok {
			return model.ErrInvalidOption
		}
	}
	copy := *o
	tx.options[o.ID] = &copy
	return nil
}

func (tx *memTx) CreateWager(_ context.Context, w *model.Wager) error {
	copy := *w
	tx.wagers[w.ID] = &copy
	return nil
}

func (tx *memTx) UpdateWager(_ context.Context, w *model.Wager) error {
	copy := *w
	tx.wagers[w.ID] = &copy
	return nil
}

func (tx *memTx) InsertLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	tx.entries = append(tx.entries, *e)
	return nil
}
