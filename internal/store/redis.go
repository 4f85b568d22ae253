package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Phenixis/Predis/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot reads: market snapshots, option totals, and account
// balances. Mutations run through the primary inside WithinTx; keys touched
// by the transaction are invalidated after commit, so a reader never sees a
// cached balance newer than the ledger.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	recorder := &invalidatingTx{}
	err := s.primary.WithinTx(ctx, func(tx Tx) error {
		recorder.Tx = tx
		return fn(recorder)
	})
	if err != nil {
		return err
	}
	// Commit succeeded: drop every key the transaction touched.
	for _, key := range recorder.dirty {
		s.rdb.Del(ctx, key)
	}
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, accountKey(id), a)
	return a, nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketKey(id), m)
	return m, nil
}

func (s *CachedStore) GetOptions(ctx context.Context, marketID string) ([]model.Option, error) {
	data, err := s.rdb.Get(ctx, optionsKey(marketID)).Bytes()
	if err == nil {
		var opts []model.Option
		if json.Unmarshal(data, &opts) == nil {
			return opts, nil
		}
	}

	opts, err := s.primary.GetOptions(ctx, marketID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, optionsKey(marketID), opts)
	return opts, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context, state model.MarketState) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx, state)
}

func (s *CachedStore) ListExpiredActive(ctx context.Context, now time.Time) ([]model.Market, error) {
	return s.primary.ListExpiredActive(ctx, now)
}

func (s *CachedStore) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	return s.primary.GetWager(ctx, id)
}

func (s *CachedStore) WagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error) {
	return s.primary.WagersByAccount(ctx, accountID)
}

func (s *CachedStore) LedgerHistory(ctx context.Context, accountID string, before time.Time, beforeID string, limit int) ([]model.LedgerEntry, error) {
	return s.primary.LedgerHistory(ctx, accountID, before, beforeID, limit)
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
func marketKey(id string) string  { return fmt.Sprintf("market:%s", id) }
func optionsKey(id string) string { return fmt.Sprintf("options:%s", id) }

// invalidatingTx records the cache keys a transaction dirties.
type invalidatingTx struct {
	Tx
	dirty []string
}

func (t *invalidatingTx) mark(key string) {
	for _, k := range t.dirty {
		if k == key {
			return
		}
	}
	t.dirty = append(t.dirty, key)
}

func (t *invalidatingTx) CreateAccount(ctx context.Context, a *model.Account) error {
	t.mark(accountKey(a.ID))
	return t.Tx.CreateAccount(ctx, a)
}

func (t *invalidatingTx) UpdateAccount(ctx context.Context, a *model.Account) error {
	t.mark(accountKey(a.ID))
	return t.Tx.UpdateAccount(ctx, a)
}

func (t *invalidatingTx) CreateMarket(ctx context.Context, m *model.Market, opts []model.Option) error {
	t.mark(marketKey(m.ID))
	t.mark(optionsKey(m.ID))
	return t.Tx.CreateMarket(ctx, m, opts)
}

func (t *invalidatingTx) UpdateMarket(ctx context.Context, m *model.Market) error {
	t.mark(marketKey(m.ID))
	return t.Tx.UpdateMarket(ctx, m)
}

func (t *invalidatingTx) UpdateOption(ctx context.Context, o *model.Option) error {
	t.mark(optionsKey(o.MarketID))
	return t.Tx.UpdateOption(ctx, o)
}
