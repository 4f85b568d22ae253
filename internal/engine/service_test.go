package engine_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Phenixis/Predis/internal/config"
	"github.com/Phenixis/Predis/internal/engine"
	"github.com/Phenixis/Predis/internal/ledger"
	"github.com/Phenixis/Predis/internal/model"
	"github.com/Phenixis/Predis/internal/store"
)

type testEnv struct {
	svc *engine.Service
	ms  *store.MemoryStore
	cfg *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		InitialGrant:     1000,
		MaxWager:         10000,
		CreatorRewardPct: decimal.RequireFromString("0.05"),
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	cfg := testConfig()
	return &testEnv{svc: engine.NewService(ms, cfg, nil), ms: ms, cfg: cfg}
}

func (e *testEnv) account(t *testing.T, id string) {
	t.Helper()
	if _, err := e.svc.CreateAccount(context.Background(), id); err != nil {
		t.Fatalf("create account %s: %v", id, err)
	}
}

func (e *testEnv) market(t *testing.T, creator string, labels ...string) (*model.Market, []model.Option) {
	t.Helper()
	m, opts, err := e.svc.CreateMarket(context.Background(), creator, "Will it happen?", labels, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return m, opts
}

// lock forces a market into LOCKED, standing in for the sweep that normally
// does this once the end date passes.
func (e *testEnv) lock(t *testing.T, marketID string) {
	t.Helper()
	err := e.ms.WithinTx(context.Background(), func(tx store.Tx) error {
		m, err := tx.MarketForUpdate(context.Background(), marketID)
		if err != nil {
			return err
		}
		m.State = model.MarketLocked
		return tx.UpdateMarket(context.Background(), m)
	})
	if err != nil {
		t.Fatalf("lock market: %v", err)
	}
}

func (e *testEnv) balance(t *testing.T, id string) int64 {
	t.Helper()
	b, err := ledger.BalanceOf(context.Background(), e.ms, id)
	if err != nil {
		t.Fatalf("balance of %s: %v", id, err)
	}
	return b
}

func (e *testEnv) wager(t *testing.T, account, market, option string, amount int64) *engine.PlaceWagerResult {
	t.Helper()
	res, err := e.svc.PlaceWager(context.Background(), engine.PlaceWagerRequest{
		AccountID: account,
		MarketID:  market,
		OptionID:  option,
		Amount:    amount,
	})
	if err != nil {
		t.Fatalf("wager %d by %s: %v", amount, account, err)
	}
	return res
}

func TestResolve_PaysWinnersFromPool(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	env.account(t, "bob")
	m, opts := env.market(t, "carol", "Yes", "No")

	env.wager(t, "alice", m.ID, opts[0].ID, 100)
	env.wager(t, "bob", m.ID, opts[1].ID, 300)
	env.lock(t, m.ID)

	sum, err := env.svc.Resolve(context.Background(), m.ID, opts[0].ID, "carol")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Pool 400, winning coins 100: alice gets floor(100*400/100) = 400.
	if sum.Winners != 1 || sum.Losers != 1 {
		t.Errorf("winners=%d losers=%d, want 1/1", sum.Winners, sum.Losers)
	}
	if sum.TotalPayout != 400 {
		t.Errorf("total payout = %d, want 400", sum.TotalPayout)
	}
	if got := env.balance(t, "alice"); got != 1300 {
		t.Errorf("alice balance = %d, want 1300", got)
	}
	if got := env.balance(t, "bob"); got != 700 {
		t.Errorf("bob balance = %d, want 700", got)
	}

	market, _ := env.ms.GetMarket(context.Background(), m.ID)
	if market.State != model.MarketResolved || market.CorrectOptionID != opts[0].ID {
		t.Errorf("market state=%s correct=%s", market.State, market.CorrectOptionID)
	}
	if market.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}

	wagers, _ := env.ms.WagersByAccount(context.Background(), "alice")
	if len(wagers) != 1 || wagers[0].State != model.WagerWon || wagers[0].Payout != 400 {
		t.Errorf("alice wager = %+v", wagers)
	}
	wagers, _ = env.ms.WagersByAccount(context.Background(), "bob")
	if len(wagers) != 1 || wagers[0].State != model.WagerLost || wagers[0].Payout != 0 {
		t.Errorf("bob wager = %+v", wagers)
	}
}

func TestResolve_FlooringDustRewardsCreator(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"carol", "alice", "bob", "dave"} {
		env.account(t, id)
	}
	m, opts := env.market(t, "carol", "Yes", "No")

	// Pool 250, winning coins 150: floor(100*250/150)=166, floor(50*250/150)=83.
	// One coin of dust goes to the creator (cap floor(0.05*250)=12).
	env.wager(t, "alice", m.ID, opts[0].ID, 100)
	env.wager(t, "bob", m.ID, opts[0].ID, 50)
	env.wager(t, "dave", m.ID, opts[1].ID, 100)
	env.lock(t, m.ID)

	sum, err := env.svc.Resolve(context.Background(), m.ID, opts[0].ID, "carol")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sum.TotalPayout != 249 {
		t.Errorf("total payout = %d, want 249", sum.TotalPayout)
	}
	if sum.CreatorReward != 1 {
		t.Errorf("creator reward = %d, want 1", sum.CreatorReward)
	}
	if got := env.balance(t, "alice"); got != 1066 {
		t.Errorf("alice balance = %d, want 1066", got)
	}
	if got := env.balance(t, "bob"); got != 1033 {
		t.Errorf("bob balance = %d, want 1033", got)
	}
	if got := env.balance(t, "carol"); got != 1001 {
		t.Errorf("carol balance = %d, want 1001", got)
	}

	// Every coin granted is accounted for after settlement.
	total := int64(0)
	for _, id := range []string{"carol", "alice", "bob", "dave"} {
		total += env.balance(t, id)
	}
	if total != 4*env.cfg.InitialGrant {
		t.Errorf("coins not conserved: total %d, want %d", total, 4*env.cfg.InitialGrant)
	}

	// The market is settled and all dust allocated, so every issued coin
	// sits in an account: the ledgers agree with the balances.
	var entries []model.LedgerEntry
	for _, id := range []string{"carol", "alice", "bob", "dave"} {
		es, _, err := ledger.History(context.Background(), env.ms, id, "", 100)
		if err != nil {
			t.Fatalf("history %s: %v", id, err)
		}
		entries = append(entries, es...)
	}
	if issued := ledger.Issued(entries); issued != total {
		t.Errorf("issued coins %d != total balances %d", issued, total)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	m, opts := env.market(t, "carol", "Yes", "No")
	env.wager(t, "alice", m.ID, opts[0].ID, 100)
	env.lock(t, m.ID)

	if _, err := env.svc.Resolve(context.Background(), m.ID, opts[0].ID, "carol"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	before := env.balance(t, "alice")

	_, err := env.svc.Resolve(context.Background(), m.ID, opts[0].ID, "carol")
	if !errors.Is(err, model.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if got := env.balance(t, "alice"); got != before {
		t.Errorf("replayed resolve moved coins: %d -> %d", before, got)
	}
}

func TestResolve_Guards(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "mallory")
	m, opts := env.market(t, "carol", "Yes", "No")

	// ACTIVE markets cannot be resolved.
	if _, err := env.svc.Resolve(context.Background(), m.ID, opts[0].ID, "carol"); !errors.Is(err, model.ErrMarketNotLocked) {
		t.Errorf("resolve ACTIVE: expected ErrMarketNotLocked, got %v", err)
	}

	env.lock(t, m.ID)

	// Only the creator may resolve.
	if _, err := env.svc.Resolve(context.Background(), m.ID, opts[0].ID, "mallory"); !errors.Is(err, model.ErrNotAuthorized) {
		t.Errorf("resolve by stranger: expected ErrNotAuthorized, got %v", err)
	}

	// The winning option must belong to the market.
	if _, err := env.svc.Resolve(context.Background(), m.ID, "nope", "carol"); !errors.Is(err, model.ErrInvalidOption) {
		t.Errorf("resolve bad option: expected ErrInvalidOption, got %v", err)
	}
}

func TestCancel_RefundsPendingWagers(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	env.account(t, "bob")
	m, opts := env.market(t, "carol", "Yes", "No")

	env.wager(t, "alice", m.ID, opts[0].ID, 100)
	env.wager(t, "bob", m.ID, opts[1].ID, 200)

	sum, err := env.svc.Cancel(context.Background(), m.ID, "carol")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sum.Refunded != 2 || sum.TotalRefunded != 300 {
		t.Errorf("refunded=%d total=%d, want 2/300", sum.Refunded, sum.TotalRefunded)
	}
	if got := env.balance(t, "alice"); got != 1000 {
		t.Errorf("alice balance = %d, want 1000", got)
	}
	if got := env.balance(t, "bob"); got != 1000 {
		t.Errorf("bob balance = %d, want 1000", got)
	}

	market, _ := env.ms.GetMarket(context.Background(), m.ID)
	if market.State != model.MarketCancelled {
		t.Errorf("market state = %s, want CANCELLED", market.State)
	}
	wagers, _ := env.ms.WagersByAccount(context.Background(), "alice")
	if wagers[0].State != model.WagerRefunded {
		t.Errorf("wager state = %s, want REFUNDED", wagers[0].State)
	}

	// Replay is rejected and moves nothing.
	if _, err := env.svc.Cancel(context.Background(), m.ID, "carol"); !errors.Is(err, model.ErrAlreadyCancelled) {
		t.Errorf("second cancel: expected ErrAlreadyCancelled, got %v", err)
	}
	if got := env.balance(t, "alice"); got != 1000 {
		t.Errorf("alice balance after replay = %d, want 1000", got)
	}
}

func TestCancel_OnlyCreator(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "mallory")
	m, _ := env.market(t, "carol", "Yes", "No")

	if _, err := env.svc.Cancel(context.Background(), m.ID, "mallory"); !errors.Is(err, model.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestDispute_ThenResolve(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	m, opts := env.market(t, "carol", "Yes", "No")
	env.wager(t, "alice", m.ID, opts[0].ID, 100)

	// Only LOCKED markets can be disputed.
	if _, err := env.svc.Dispute(context.Background(), m.ID, "carol"); !errors.Is(err, model.ErrMarketNotLocked) {
		t.Errorf("dispute ACTIVE: expected ErrMarketNotLocked, got %v", err)
	}

	env.lock(t, m.ID)
	disputed, err := env.svc.Dispute(context.Background(), m.ID, "carol")
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if disputed.State != model.MarketDisputed {
		t.Errorf("state = %s, want DISPUTED", disputed.State)
	}

	// Resolution proceeds from DISPUTED.
	if _, err := env.svc.Resolve(context.Background(), m.ID, opts[0].ID, "carol"); err != nil {
		t.Fatalf("resolve disputed market: %v", err)
	}
}

func TestPlaceWager_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	m, opts := env.market(t, "carol", "Yes", "No")

	_, err := env.svc.PlaceWager(context.Background(), engine.PlaceWagerRequest{
		AccountID: "alice", MarketID: m.ID, OptionID: opts[0].ID, Amount: 2000,
	})
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// The rejected wager leaves no trace anywhere.
	if got := env.balance(t, "alice"); got != 1000 {
		t.Errorf("alice balance = %d, want 1000", got)
	}
	market, _ := env.ms.GetMarket(context.Background(), m.ID)
	if market.Pool != 0 || market.WagerCount != 0 {
		t.Errorf("market mutated: pool=%d wagers=%d", market.Pool, market.WagerCount)
	}
	wagers, _ := env.ms.WagersByAccount(context.Background(), "alice")
	if len(wagers) != 0 {
		t.Errorf("wager row created: %+v", wagers)
	}
}

func TestPlaceWager_AmountBounds(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	m, opts := env.market(t, "carol", "Yes", "No")

	for _, amount := range []int64{0, -5, env.cfg.MaxWager + 1} {
		_, err := env.svc.PlaceWager(context.Background(), engine.PlaceWagerRequest{
			AccountID: "alice", MarketID: m.ID, OptionID: opts[0].ID, Amount: amount,
		})
		if !errors.Is(err, model.ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestPlaceWager_UnknownOption(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	m, _ := env.market(t, "carol", "Yes", "No")

	_, err := env.svc.PlaceWager(context.Background(), engine.PlaceWagerRequest{
		AccountID: "alice", MarketID: m.ID, OptionID: "nope", Amount: 10,
	})
	if !errors.Is(err, model.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
}

func TestPlaceWager_ClosedMarket(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	m, opts := env.market(t, "carol", "Yes", "No")
	env.lock(t, m.ID)

	_, err := env.svc.PlaceWager(context.Background(), engine.PlaceWagerRequest{
		AccountID: "alice", MarketID: m.ID, OptionID: opts[0].ID, Amount: 10,
	})
	if !errors.Is(err, model.ErrMarketClosed) {
		t.Fatalf("expected ErrMarketClosed, got %v", err)
	}
}

func TestPlaceWager_PastEndDate(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	m, opts, err := env.svc.CreateMarket(context.Background(), "carol", "Soon?", []string{"Yes", "No"}, time.Now().Add(30*time.Millisecond))
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	// Still ACTIVE until the sweep runs, but past end date refuses wagers.
	_, err = env.svc.PlaceWager(context.Background(), engine.PlaceWagerRequest{
		AccountID: "alice", MarketID: m.ID, OptionID: opts[0].ID, Amount: 10,
	})
	if !errors.Is(err, model.ErrMarketClosed) {
		t.Fatalf("expected ErrMarketClosed, got %v", err)
	}
}

func TestPlaceWager_CreatorPolicy(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	m, opts := env.market(t, "carol", "Yes", "No")

	_, err := env.svc.PlaceWager(context.Background(), engine.PlaceWagerRequest{
		AccountID: "carol", MarketID: m.ID, OptionID: opts[0].ID, Amount: 10,
	})
	if !errors.Is(err, model.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	env.cfg.AllowCreatorWager = true
	if _, err := env.svc.PlaceWager(context.Background(), engine.PlaceWagerRequest{
		AccountID: "carol", MarketID: m.ID, OptionID: opts[0].ID, Amount: 10,
	}); err != nil {
		t.Fatalf("creator wager with flag on: %v", err)
	}
}

func TestPlaceWager_DuplicatePolicy(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	m, opts := env.market(t, "carol", "Yes", "No")

	env.wager(t, "alice", m.ID, opts[0].ID, 10)

	// A second wager on the same option is rejected by default.
	_, err := env.svc.PlaceWager(context.Background(), engine.PlaceWagerRequest{
		AccountID: "alice", MarketID: m.ID, OptionID: opts[0].ID, Amount: 20,
	})
	if !errors.Is(err, model.ErrDuplicateWager) {
		t.Fatalf("expected ErrDuplicateWager, got %v", err)
	}

	// A different option is always fine.
	env.wager(t, "alice", m.ID, opts[1].ID, 20)

	env.cfg.AllowDuplicateWager = true
	env.wager(t, "alice", m.ID, opts[0].ID, 30)
}

func TestPlaceWager_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	m, opts := env.market(t, "carol", "Yes", "No")

	req := engine.PlaceWagerRequest{
		AccountID: "alice", MarketID: m.ID, OptionID: opts[0].ID,
		Amount: 100, WagerID: "retry-me",
	}
	first, err := env.svc.PlaceWager(context.Background(), req)
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	second, err := env.svc.PlaceWager(context.Background(), req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if second.Wager.ID != first.Wager.ID {
		t.Errorf("retry produced a new wager: %s vs %s", second.Wager.ID, first.Wager.ID)
	}

	// Debited exactly once.
	if got := env.balance(t, "alice"); got != 900 {
		t.Errorf("alice balance = %d, want 900", got)
	}
	market, _ := env.ms.GetMarket(context.Background(), m.ID)
	if market.Pool != 100 || market.WagerCount != 1 {
		t.Errorf("pool=%d wagers=%d, want 100/1", market.Pool, market.WagerCount)
	}
}

type failingReadTx struct {
	store.Tx
	err error
}

func (t failingReadTx) GetWager(context.Context, string) (*model.Wager, error) {
	return nil, t.err
}

// failingReadStore breaks transactional wager reads, standing in for a
// transient database failure.
type failingReadStore struct {
	store.Store
	err error
}

func (s failingReadStore) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.WithinTx(ctx, func(tx store.Tx) error {
		return fn(failingReadTx{Tx: tx, err: s.err})
	})
}

func TestPlaceWager_IdempotencyCheckReadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	m, opts := env.market(t, "carol", "Yes", "No")

	readErr := errors.New("connection reset")
	svc := engine.NewService(failingReadStore{Store: env.ms, err: readErr}, env.cfg, nil)

	// A failed replay lookup must abort the attempt, not fall through and
	// place the wager a second time.
	_, err := svc.PlaceWager(context.Background(), engine.PlaceWagerRequest{
		AccountID: "alice", MarketID: m.ID, OptionID: opts[0].ID,
		Amount: 100, WagerID: "retry-me",
	})
	if !errors.Is(err, readErr) {
		t.Fatalf("expected store read error, got %v", err)
	}
	if got := env.balance(t, "alice"); got != 1000 {
		t.Errorf("alice balance = %d, want 1000", got)
	}
	wagers, _ := env.ms.WagersByAccount(context.Background(), "alice")
	if len(wagers) != 0 {
		t.Errorf("wager created despite read failure: %+v", wagers)
	}
}

func TestPlaceWager_ConcurrentNoLostUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	accounts := []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9"}
	for _, id := range accounts {
		env.account(t, id)
	}
	m, opts := env.market(t, "carol", "Yes", "No")

	var wg sync.WaitGroup
	for _, id := range accounts {
		wg.Add(1)
		go func(account string) {
			defer wg.Done()
			_, err := env.svc.PlaceWager(context.Background(), engine.PlaceWagerRequest{
				AccountID: account, MarketID: m.ID, OptionID: opts[0].ID, Amount: 10,
			})
			if err != nil {
				t.Errorf("wager by %s: %v", account, err)
			}
		}(id)
	}
	wg.Wait()

	market, _ := env.ms.GetMarket(context.Background(), m.ID)
	if market.Pool != 100 || market.WagerCount != 10 {
		t.Errorf("pool=%d wagers=%d, want 100/10", market.Pool, market.WagerCount)
	}
	options, _ := env.ms.GetOptions(context.Background(), m.ID)
	if options[0].Coins != 100 {
		t.Errorf("option coins = %d, want 100", options[0].Coins)
	}
	for _, id := range accounts {
		if got := env.balance(t, id); got != 990 {
			t.Errorf("%s balance = %d, want 990", id, got)
		}
	}
}

func TestTick_LocksExpiredMarkets(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	m, _, err := env.svc.CreateMarket(context.Background(), "carol", "Soon?", []string{"Yes", "No"}, time.Now().Add(30*time.Millisecond))
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	env.market(t, "carol", "Yes", "No") // far future, must stay ACTIVE

	time.Sleep(60 * time.Millisecond)
	locked, err := env.svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if locked != 1 {
		t.Errorf("locked = %d, want 1", locked)
	}
	market, _ := env.ms.GetMarket(context.Background(), m.ID)
	if market.State != model.MarketLocked {
		t.Errorf("state = %s, want LOCKED", market.State)
	}

	// A second sweep finds nothing.
	locked, err = env.svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if locked != 0 {
		t.Errorf("second sweep locked = %d, want 0", locked)
	}
}

func TestOddsFor_TracksPool(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	env.account(t, "alice")
	env.account(t, "bob")
	m, opts := env.market(t, "carol", "Yes", "No")

	// Empty market: every option at the floor.
	table, err := env.svc.OddsFor(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("odds: %v", err)
	}
	for _, o := range table {
		if !o.Odds.Equal(decimal.NewFromInt(1)) {
			t.Errorf("empty market odds for %s = %s, want 1", o.Label, o.Odds)
		}
	}

	env.wager(t, "alice", m.ID, opts[0].ID, 100)
	env.wager(t, "bob", m.ID, opts[1].ID, 300)

	table, err = env.svc.OddsFor(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("odds: %v", err)
	}
	if !table[0].Odds.Equal(decimal.NewFromInt(4)) {
		t.Errorf("odds[0] = %s, want 4", table[0].Odds)
	}
	// 400/300 at scale 4.
	if table[1].Odds.String() != "1.3333" {
		t.Errorf("odds[1] = %s, want 1.3333", table[1].Odds)
	}

	// Option coins always sum to the pool.
	var coins int64
	for _, o := range table {
		coins += o.Coins
	}
	market, _ := env.ms.GetMarket(context.Background(), m.ID)
	if coins != market.Pool {
		t.Errorf("option coins %d != pool %d", coins, market.Pool)
	}
}

func TestCreateMarket_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "carol")
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	cases := []struct {
		name    string
		creator string
		q       string
		labels  []string
		endAt   time.Time
	}{
		{"no creator", "", "Q?", []string{"a", "b"}, future},
		{"blank question", "carol", "  ", []string{"a", "b"}, future},
		{"one option", "carol", "Q?", []string{"a"}, future},
		{"past end date", "carol", "Q?", []string{"a", "b"}, time.Now().Add(-time.Minute)},
	}
	for _, tc := range cases {
		_, _, err := env.svc.CreateMarket(ctx, tc.creator, tc.q, tc.labels, tc.endAt)
		if !errors.Is(err, model.ErrInvalidMarket) {
			t.Errorf("%s: expected ErrInvalidMarket, got %v", tc.name, err)
		}
	}

	// Unknown creators cannot open markets.
	_, _, err := env.svc.CreateMarket(ctx, "ghost", "Q?", []string{"a", "b"}, future)
	if !errors.Is(err, model.ErrAccountNotFound) {
		t.Errorf("unknown creator: expected ErrAccountNotFound, got %v", err)
	}
}

func TestCreateAccount_GrantIsLedgered(t *testing.T) {
	env := newTestEnv(t)

	account, err := env.svc.CreateAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if account.Balance != 1000 {
		t.Errorf("balance = %d, want 1000", account.Balance)
	}

	entries, _, err := ledger.History(context.Background(), env.ms, "alice", "", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != model.KindInitialGrant || entries[0].Amount != 1000 {
		t.Errorf("grant entry = %+v", entries)
	}

	if _, err := env.svc.CreateAccount(context.Background(), "alice"); !errors.Is(err, model.ErrAccountExists) {
		t.Errorf("duplicate create: expected ErrAccountExists, got %v", err)
	}
}

// --- HTTP surface ---

func (e *testEnv) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/accounts", e.svc.HandleCreateAccount)
		r.Get("/accounts/{accountID}/balance", e.svc.HandleBalance)
		r.Get("/accounts/{accountID}/ledger", e.svc.HandleLedger)
		r.Get("/accounts/{accountID}/wagers", e.svc.HandleAccountWagers)
		r.Post("/markets", e.svc.HandleCreateMarket)
		r.Get("/markets", e.svc.HandleListMarkets)
		r.Get("/markets/{marketID}", e.svc.HandleGetMarket)
		r.Get("/markets/{marketID}/odds", e.svc.HandleOdds)
		r.Post("/markets/{marketID}/wagers", e.svc.HandlePlaceWager)
		r.Post("/markets/{marketID}/resolve", e.svc.HandleResolve)
		r.Post("/markets/{marketID}/cancel", e.svc.HandleCancel)
		r.Post("/markets/{marketID}/dispute", e.svc.HandleDispute)
	})
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set("X-Account-ID", account)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_WagerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	h := env.router()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/accounts", "", engine.CreateAccountRequest{AccountID: "carol"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create carol: status %d: %s", rec.Code, rec.Body)
	}
	doJSON(t, h, http.MethodPost, "/api/v1/accounts", "", engine.CreateAccountRequest{AccountID: "alice"})
	doJSON(t, h, http.MethodPost, "/api/v1/accounts", "", engine.CreateAccountRequest{AccountID: "bob"})

	rec = doJSON(t, h, http.MethodPost, "/api/v1/markets", "carol", engine.CreateMarketRequest{
		Question: "Rain tomorrow?",
		Options:  []string{"Yes", "No"},
		EndAt:    time.Now().Add(time.Hour),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create market: status %d: %s", rec.Code, rec.Body)
	}
	var mr engine.MarketResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &mr); err != nil {
		t.Fatalf("decode market: %v", err)
	}
	marketID := mr.Market.ID
	yes, no := mr.Options[0].ID, mr.Options[1].ID

	rec = doJSON(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/wagers", "alice", engine.WagerRequest{OptionID: yes, Amount: 100})
	if rec.Code != http.StatusCreated {
		t.Fatalf("alice wager: status %d: %s", rec.Code, rec.Body)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/wagers", "bob", engine.WagerRequest{OptionID: no, Amount: 300})
	if rec.Code != http.StatusCreated {
		t.Fatalf("bob wager: status %d: %s", rec.Code, rec.Body)
	}

	// Missing identity header.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/wagers", "", engine.WagerRequest{OptionID: yes, Amount: 10})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("headerless wager: status %d, want 400", rec.Code)
	}

	// Overdrawn wager maps to 422.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/wagers", "bob", engine.WagerRequest{OptionID: yes, Amount: 5000})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("overdrawn wager: status %d, want 422", rec.Code)
	}

	// Resolving an ACTIVE market conflicts.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/resolve", "carol", engine.ResolveRequest{CorrectOptionID: yes})
	if rec.Code != http.StatusConflict {
		t.Errorf("resolve ACTIVE: status %d, want 409", rec.Code)
	}

	env.lock(t, marketID)

	// Strangers get 403.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/resolve", "bob", engine.ResolveRequest{CorrectOptionID: yes})
	if rec.Code != http.StatusForbidden {
		t.Errorf("resolve by stranger: status %d, want 403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/resolve", "carol", engine.ResolveRequest{CorrectOptionID: yes})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: status %d: %s", rec.Code, rec.Body)
	}
	var sum model.ResolutionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.TotalPayout != 400 {
		t.Errorf("payout = %d, want 400", sum.TotalPayout)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/accounts/alice/balance", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: status %d", rec.Code)
	}
	var bal engine.BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if bal.Balance != 1300 {
		t.Errorf("alice balance = %d, want 1300", bal.Balance)
	}

	// Ledger history: grant, debit, payout.
	rec = doJSON(t, h, http.MethodGet, "/api/v1/accounts/alice/ledger", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ledger: status %d", rec.Code)
	}
	var page engine.LedgerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if len(page.Entries) != 3 {
		t.Fatalf("ledger entries = %d, want 3", len(page.Entries))
	}
	if page.Entries[0].Kind != model.KindWagerWon || page.Entries[0].Amount != 400 {
		t.Errorf("newest entry = %+v", page.Entries[0])
	}
}

func TestHTTP_NotFound(t *testing.T) {
	env := newTestEnv(t)
	h := env.router()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/markets/unknown", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown market: status %d, want 404", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/accounts/ghost/balance", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown account: status %d, want 404", rec.Code)
	}
}
