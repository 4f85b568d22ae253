// Package ledger maintains coin balances through an append-only entry log.
// Balances are never written directly: every movement goes through Debit or
// Credit inside the caller's transaction, producing an immutable entry whose
// balance_before/balance_after chain makes the history replayable.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Phenixis/Predis/internal/model"
	"github.com/Phenixis/Predis/internal/store"
)

// Debit atomically removes amount coins from an account and appends the
// matching entry. Fails with model.ErrInsufficientFunds when the balance
// cannot cover the amount; the transaction sees no partial effect.
func Debit(ctx context.Context, tx store.Tx, accountID string, amount int64, kind model.LedgerKind, wagerID string) (*model.LedgerEntry, error) {
	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}
	return apply(ctx, tx, accountID, -amount, kind, wagerID)
}

// Credit atomically adds amount coins to an account and appends the
// matching entry.
func Credit(ctx context.Context, tx store.Tx, accountID string, amount int64, kind model.LedgerKind, wagerID string) (*model.LedgerEntry, error) {
	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}
	return apply(ctx, tx, accountID, amount, kind, wagerID)
}

func apply(ctx context.Context, tx store.Tx, accountID string, delta int64, kind model.LedgerKind, wagerID string) (*model.LedgerEntry, error) {
	account, err := tx.AccountForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}

	before := account.Balance
	after := before + delta
	if after < 0 {
		if delta < 0 {
			return nil, model.ErrInsufficientFunds
		}
		// Overflow or corrupted stored balance: abort, never clamp.
		return nil, model.ErrNegativeBalance
	}

	account.Balance = after
	account.Version++
	if err := tx.UpdateAccount(ctx, account); err != nil {
		return nil, err
	}

	entry := &model.LedgerEntry{
		ID:            uuid.New().String(),
		AccountID:     accountID,
		Kind:          kind,
		Amount:        delta,
		BalanceBefore: before,
		BalanceAfter:  after,
		WagerID:       wagerID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// BalanceOf returns an account's current balance, a point-in-time read.
func BalanceOf(ctx context.Context, st store.Store, accountID string) (int64, error) {
	account, err := st.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// History returns one page of an account's entries, newest first, plus the
// cursor for the next page ("" when exhausted). The cursor is opaque and
// restartable: it encodes the creation-order position of the last entry.
func History(ctx context.Context, st store.Store, accountID, cursor string, limit int) ([]model.LedgerEntry, string, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	var before time.Time
	var beforeID string
	if cursor != "" {
		pos, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		before, beforeID = pos.CreatedAt, pos.ID
	}

	entries, err := st.LedgerHistory(ctx, accountID, before, beforeID, limit)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(entries) == limit {
		last := entries[len(entries)-1]
		next = encodeCursor(cursorPos{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return entries, next, nil
}

// Issued sums the coins the given entries introduced into the system: grants
// and admin adjustments create coins, while wager movements and creator
// rewards shuffle coins already backed by a grant. Together with Replay this
// is the system-wide conservation check — once every market has settled,
// issued coins equal the sum of account balances plus unallocated dust.
func Issued(entries []model.LedgerEntry) int64 {
	var total int64
	for _, e := range entries {
		if e.Kind.IssuesCoins() {
			total += e.Amount
		}
	}
	return total
}

// Replay walks entries in creation order and verifies the balance chain:
// each entry's balance_after must equal balance_before + amount, and each
// balance_before must equal the previous balance_after. Returns the final
// balance. This is the offline conservation check for one account.
func Replay(entries []model.LedgerEntry) (int64, error) {
	var balance int64
	for i, e := range entries {
		if e.BalanceAfter != e.BalanceBefore+e.Amount {
			return 0, fmt.Errorf("entry %s: balance_after %d != balance_before %d + amount %d",
				e.ID, e.BalanceAfter, e.BalanceBefore, e.Amount)
		}
		if e.BalanceBefore != balance {
			return 0, fmt.Errorf("entry %d (%s): balance_before %d, expected %d",
				i, e.ID, e.BalanceBefore, balance)
		}
		if e.BalanceAfter < 0 {
			return 0, fmt.Errorf("entry %s: negative balance %d", e.ID, e.BalanceAfter)
		}
		balance = e.BalanceAfter
	}
	return balance, nil
}
