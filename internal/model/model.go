// Package model defines the core domain types shared across the coin ledger
// and market engine. Coin amounts are int64 — coins are indivisible integer
// units, never floats. Odds ratios use shopspring/decimal.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerKind classifies a coin movement.
type LedgerKind string

const (
	KindInitialGrant    LedgerKind = "INITIAL_GRANT"
	KindWagerPlaced     LedgerKind = "WAGER_PLACED"
	KindWagerWon        LedgerKind = "WAGER_WON"
	KindWagerRefunded   LedgerKind = "WAGER_REFUNDED"
	KindCreatorReward   LedgerKind = "CREATOR_REWARD"
	KindAdminAdjustment LedgerKind = "ADMIN_ADJUSTMENT"
)

// IssuesCoins reports whether entries of this kind introduce new coins into
// the system. Every other kind, creator rewards included, moves coins that
// already exist in an account or a market pool.
func (k LedgerKind) IssuesCoins() bool {
	return k == KindInitialGrant || k == KindAdminAdjustment
}

// Account holds a user's coin balance. The balance is mutated only through
// ledger entries; Version is a monotonic counter for optimistic concurrency.
type Account struct {
	ID        string    `json:"id" db:"id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LedgerEntry is an immutable record of one coin movement. Once created,
// these are never modified or deleted. Replaying an account's entries in
// creation order must reproduce its current balance exactly.
type LedgerEntry struct {
	ID            string     `json:"id" db:"id"`
	AccountID     string     `json:"account_id" db:"account_id"`
	Kind          LedgerKind `json:"kind" db:"kind"`
	Amount        int64      `json:"amount" db:"amount"` // signed: credit > 0, debit < 0
	BalanceBefore int64      `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64      `json:"balance_after" db:"balance_after"`
	WagerID       string     `json:"wager_id,omitempty" db:"wager_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// MarketState is a market's lifecycle state.
type MarketState string

const (
	MarketActive    MarketState = "ACTIVE"
	MarketLocked    MarketState = "LOCKED"
	MarketDisputed  MarketState = "DISPUTED"
	MarketResolved  MarketState = "RESOLVED"
	MarketCancelled MarketState = "CANCELLED"
)

// Terminal reports whether the state accepts no further transitions.
func (s MarketState) Terminal() bool {
	return s == MarketResolved || s == MarketCancelled
}

// Market is a proposition with mutually exclusive options that accounts
// wager coins on. Pool is the total coins wagered across all options.
type Market struct {
	ID              string      `json:"id" db:"id"`
	CreatorID       string      `json:"creator_id" db:"creator_id"`
	Question        string      `json:"question" db:"question"`
	State           MarketState `json:"state" db:"state"`
	Pool            int64       `json:"pool" db:"pool"`
	WagerCount      int         `json:"wager_count" db:"wager_count"`
	CorrectOptionID string      `json:"correct_option_id,omitempty" db:"correct_option_id"`
	EndAt           time.Time   `json:"end_at" db:"end_at"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Option is one possible outcome of a market. Coins across all options of a
// market sum to the market's pool.
type Option struct {
	ID         string `json:"id" db:"id"`
	MarketID   string `json:"market_id" db:"market_id"`
	Ordinal    int    `json:"ordinal" db:"ordinal"`
	Label      string `json:"label" db:"label"`
	WagerCount int    `json:"wager_count" db:"wager_count"`
	Coins      int64  `json:"coins" db:"coins"`
}

// WagerState tracks a wager from placement through settlement.
type WagerState string

const (
	WagerPending  WagerState = "PENDING"
	WagerWon      WagerState = "WON"
	WagerLost     WagerState = "LOST"
	WagerRefunded WagerState = "REFUNDED"
)

// Wager is one account's stake on one option of one market. Never deleted;
// state and payout change only during resolution or cancellation.
// OddsAtPlacement is informational — payouts use final pool totals.
type Wager struct {
	ID              string          `json:"id" db:"id"`
	AccountID       string          `json:"account_id" db:"account_id"`
	MarketID        string          `json:"market_id" db:"market_id"`
	OptionID        string          `json:"option_id" db:"option_id"`
	Amount          int64           `json:"amount" db:"amount"`
	OddsAtPlacement decimal.Decimal `json:"odds_at_placement" db:"odds_at_placement"`
	State           WagerState      `json:"state" db:"state"`
	Payout          int64           `json:"payout" db:"payout"`
	PlacedAt        time.Time       `json:"placed_at" db:"placed_at"`
}

// OptionOdds pairs an option with its live payout multiplier.
type OptionOdds struct {
	OptionID string          `json:"option_id"`
	Ordinal  int             `json:"ordinal"`
	Label    string          `json:"label"`
	Coins    int64           `json:"coins"`
	Odds     decimal.Decimal `json:"odds"`
}

// ResolutionSummary reports the outcome of resolving a market, forwarded to
// notification collaborators.
type ResolutionSummary struct {
	MarketID        string `json:"market_id"`
	CorrectOptionID string `json:"correct_option_id"`
	Winners         int    `json:"winners"`
	Losers          int    `json:"losers"`
	TotalPayout     int64  `json:"total_payout"`
	CreatorReward   int64  `json:"creator_reward"`
}

// RefundSummary reports the outcome of cancelling a market.
type RefundSummary struct {
	MarketID      string `json:"market_id"`
	Refunded      int    `json:"refunded"`
	TotalRefunded int64  `json:"total_refunded"`
}
