package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Phenixis/Predis/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Coin amounts are BIGINT columns; odds ratios are stored as NUMERIC.
// Mutations run in serializable transactions with FOR UPDATE row locks on
// the accounts, markets, and options they touch.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const (
	accountColumns = `id, balance, version, created_at`
	marketColumns  = `id, creator_id, question, state, pool, wager_count,
	        COALESCE(correct_option_id, ''), end_at, created_at, resolved_at`
	optionColumns = `id, market_id, ordinal, label, wager_count, coins`
	wagerColumns  = `id, account_id, market_id, option_id, amount,
	        odds_at_placement::TEXT, state, payout, placed_at`
	ledgerColumns = `id, account_id, kind, amount, balance_before,
	        balance_after, COALESCE(wager_id, ''), created_at`
)

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgtx.Rollback(ctx)

	if err := fn(&pgTx{tx: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Point-in-time reads ---

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
}

func (s *PostgresStore) GetOptions(ctx context.Context, marketID string) ([]model.Option, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+optionColumns+` FROM options WHERE market_id = $1 ORDER BY ordinal`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOptions(rows)
}

func (s *PostgresStore) ListMarkets(ctx context.Context, state model.MarketState) ([]model.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets`
	args := []any{}
	if state != "" {
		query += ` WHERE state = $1`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarkets(rows)
}

func (s *PostgresStore) ListExpiredActive(ctx context.Context, now time.Time) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets
		 WHERE state = $1 AND end_at <= $2 ORDER BY end_at`,
		string(model.MarketActive), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarkets(rows)
}

func (s *PostgresStore) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	return scanWager(s.pool.QueryRow(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE id = $1`, id))
}

func (s *PostgresStore) WagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers
		 WHERE account_id = $1 ORDER BY placed_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWagers(rows)
}

func (s *PostgresStore) LedgerHistory(ctx context.Context, accountID string, before time.Time, beforeID string, limit int) ([]model.LedgerEntry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if before.IsZero() {
		rows, err = s.pool.Query(ctx,
			`SELECT `+ledgerColumns+` FROM ledger_entries
			 WHERE account_id = $1
			 ORDER BY created_at DESC, id DESC LIMIT $2`,
			accountID, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+ledgerColumns+` FROM ledger_entries
			 WHERE account_id = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC LIMIT $4`,
			accountID, before, beforeID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.AccountID, &kind, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &e.WagerID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = model.LedgerKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Transaction ---

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) AccountForUpdate(ctx context.Context, id string) (*model.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) MarketForUpdate(ctx context.Context, id string) (*model.Market, error) {
	return scanMarket(t.tx.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) OptionsForUpdate(ctx context.Context, marketID string) ([]model.Option, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+optionColumns+` FROM options
		 WHERE market_id = $1 ORDER BY ordinal FOR UPDATE`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOptions(rows)
}

func (t *pgTx) WagersByMarket(ctx context.Context, marketID string) ([]model.Wager, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers
		 WHERE market_id = $1 ORDER BY placed_at, id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWagers(rows)
}

func (t *pgTx) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	return scanWager(t.tx.QueryRow(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE id = $1`, id))
}

func (t *pgTx) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (id, balance, version, created_at)
		 VALUES ($1, $2, $3, $4)`,
		a.ID, a.Balance, a.Version, a.CreatedAt)
	return err
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *model.Account) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = $2, version = $3
		 WHERE id = $1 AND version = $4`,
		a.ID, a.Balance, a.Version, a.Version-1)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrVersionConflict
	}
	return nil
}

func (t *pgTx) CreateMarket(ctx context.Context, m *model.Market, opts []model.Option) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO markets (id, creator_id, question, state, pool, wager_count, end_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.CreatorID, m.Question, string(m.State),
		m.Pool, m.WagerCount, m.EndAt, m.CreatedAt)
	if err != nil {
		return err
	}
	for _, o := range opts {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO options (id, market_id, ordinal, label, wager_count, coins)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.MarketID, o.Ordinal, o.Label, o.WagerCount, o.Coins); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) UpdateMarket(ctx context.Context, m *model.Market) error {
	correct := any(nil)
	if m.CorrectOptionID != "" {
		correct = m.CorrectOptionID
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE markets
		 SET state = $2, pool = $3, wager_count = $4,
		     correct_option_id = $5, resolved_at = $6
		 WHERE id = $1`,
		m.ID, string(m.State), m.Pool, m.WagerCount, correct, m.ResolvedAt)
	return err
}

func (t *pgTx) UpdateOption(ctx context.Context, o *model.Option) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE options SET wager_count = $2, coins = $3 WHERE id = $1`,
		o.ID, o.WagerCount, o.Coins)
	return err
}

func (t *pgTx) CreateWager(ctx context.Context, w *model.Wager) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wagers (id, account_id, market_id, option_id, amount,
		     odds_at_placement, state, payout, placed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9)`,
		w.ID, w.AccountID, w.MarketID, w.OptionID, w.Amount,
		w.OddsAtPlacement.String(), string(w.State), w.Payout, w.PlacedAt)
	return err
}

func (t *pgTx) UpdateWager(ctx context.Context, w *model.Wager) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE wagers SET state = $2, payout = $3 WHERE id = $1`,
		w.ID, string(w.State), w.Payout)
	return err
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	wagerID := any(nil)
	if e.WagerID != "" {
		wagerID = e.WagerID
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, kind, amount,
		     balance_before, balance_after, wager_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.AccountID, string(e.Kind), e.Amount,
		e.BalanceBefore, e.BalanceAfter, wagerID, e.CreatedAt)
	return err
}

// --- Scan helpers ---

type pgxRow interface {
	Scan(dest ...any) error
}

func scanAccount(row pgxRow) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Balance, &a.Version, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

func scanMarket(row pgxRow) (*model.Market, error) {
	var m model.Market
	var state string
	err := row.Scan(&m.ID, &m.CreatorID, &m.Question, &state,
		&m.Pool, &m.WagerCount, &m.CorrectOptionID,
		&m.EndAt, &m.CreatedAt, &m.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan market: %w", err)
	}
	m.State = model.MarketState(state)
	return &m, nil
}

func scanMarkets(rows pgx.Rows) ([]model.Market, error) {
	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func scanOptions(rows pgx.Rows) ([]model.Option, error) {
	var opts []model.Option
	for rows.Next() {
		var o model.Option
		if err := rows.Scan(&o.ID, &o.MarketID, &o.Ordinal, &o.Label,
			&o.WagerCount, &o.Coins); err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

func scanWager(row pgxRow) (*model.Wager, error) {
	var w model.Wager
	var oddsS, state string
	err := row.Scan(&w.ID, &w.AccountID, &w.MarketID, &w.OptionID, &w.Amount,
		&oddsS, &state, &w.Payout, &w.PlacedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrWagerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan wager: %w", err)
	}
	w.OddsAtPlacement, _ = decimal.NewFromString(oddsS)
	w.State = model.WagerState(state)
	return &w, nil
}

func scanWagers(rows pgx.Rows) ([]model.Wager, error) {
	var wagers []model.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		wagers = append(wagers, *w)
	}
	return wagers, rows.Err()
}
