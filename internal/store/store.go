// Package store defines the persistence interface for the coin ledger and
// market engine. Implementations include PostgreSQL (source of truth),
// Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/Phenixis/Predis/internal/model"
)

// Store is the persistence interface. Point-in-time reads are served
// directly; every mutation runs inside WithinTx so that an operation either
// fully commits or leaves no trace.
type Store interface {
	// WithinTx runs fn inside a scoped transaction. The transaction commits
	// only when fn returns nil; any error rolls back every write made
	// through the Tx.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Point-in-time reads ---

	// GetAccount retrieves an account by id.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetMarket retrieves a market by id.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetOptions returns a market's options ordered by ordinal.
	GetOptions(ctx context.Context, marketID string) ([]model.Option, error)

	// ListMarkets returns markets, optionally filtered by state
	// (empty state means all), newest first.
	ListMarkets(ctx context.Context, state model.MarketState) ([]model.Market, error)

	// ListExpiredActive returns ACTIVE markets whose end date has passed.
	ListExpiredActive(ctx context.Context, now time.Time) ([]model.Market, error)

	// GetWager retrieves a wager by id.
	GetWager(ctx context.Context, id string) (*model.Wager, error)

	// WagersByAccount returns all wagers placed by an account, newest first.
	WagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error)

	// LedgerHistory returns up to limit entries for an account, newest
	// first, strictly older than the (before, beforeID) position. A zero
	// before means "from the top". Ordering is creation time with id as
	// tiebreak, so pages are restartable.
	LedgerHistory(ctx context.Context, accountID string, before time.Time, beforeID string, limit int) ([]model.LedgerEntry, error)
}

// Tx is the scoped transaction handed to mutating operations. ForUpdate
// reads take row-level locks (or their in-memory equivalent) so two
// transactions touching the same account or market serialize.
type Tx interface {
	// --- Locked reads ---

	AccountForUpdate(ctx context.Context, id string) (*model.Account, error)
	MarketForUpdate(ctx context.Context, id string) (*model.Market, error)

	// OptionsForUpdate returns the market's options, ordered by ordinal,
	// locked for the duration of the transaction.
	OptionsForUpdate(ctx context.Context, marketID string) ([]model.Option, error)

	// WagersByMarket returns every wager on a market, in placement order.
	WagersByMarket(ctx context.Context, marketID string) ([]model.Wager, error)

	GetWager(ctx context.Context, id string) (*model.Wager, error)

	// --- Writes ---

	CreateAccount(ctx context.Context, a *model.Account) error

	// UpdateAccount persists balance and version. Fails with
	// model.ErrVersionConflict when the stored version does not precede
	// the one being written.
	UpdateAccount(ctx context.Context, a *model.Account) error

	CreateMarket(ctx context.Context, m *model.Market, opts []model.Option) error
	UpdateMarket(ctx context.Context, m *model.Market) error
	UpdateOption(ctx context.Context, o *model.Option) error

	CreateWager(ctx context.Context, w *model.Wager) error
	UpdateWager(ctx context.Context, w *model.Wager) error

	// InsertLedgerEntry appends an immutable ledger record.
	InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
}
