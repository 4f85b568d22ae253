// Package engine implements the betting and resolution engine: validating
// and committing wagers, settling markets, and sweeping expired markets
// into the locked state. Every mutating operation runs inside one store
// transaction — a failure at any point leaves no observable effect.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Phenixis/Predis/internal/config"
	"github.com/Phenixis/Predis/internal/ledger"
	"github.com/Phenixis/Predis/internal/metrics"
	"github.com/Phenixis/Predis/internal/model"
	"github.com/Phenixis/Predis/internal/odds"
	"github.com/Phenixis/Predis/internal/store"
)

// Service executes wager and settlement operations. A mutex serializes
// mutating operations (single-instance); the store transaction plus row
// locks carry the same guarantee when scaled out over PostgreSQL.
type Service struct {
	store store.Store
	cfg   *config.Config
	mu    sync.Mutex
	hub   *EventHub // optional event hub for domain-event broadcasts
}

// NewService creates a new engine service.
// Pass nil for hub if event broadcasting is not needed.
func NewService(st store.Store, cfg *config.Config, hub *EventHub) *Service {
	return &Service{
		store: st,
		cfg:   cfg,
		hub:   hub,
	}
}

// publish forwards an event to the hub when one is attached.
func (s *Service) publish(e Event) {
	if s.hub != nil {
		s.hub.Broadcast(e)
	}
}

// CreateAccount creates an account and credits the configured initial grant
// through the ledger, so even the first coins have an audit trail.
func (s *Service) CreateAccount(ctx context.Context, accountID string) (*model.Account, error) {
	if accountID == "" {
		accountID = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		account := &model.Account{
			ID:        accountID,
			Balance:   0,
			Version:   0,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.CreateAccount(ctx, account); err != nil {
			return err
		}
		if s.cfg.InitialGrant > 0 {
			if _, err := ledger.Credit(ctx, tx, accountID, s.cfg.InitialGrant, model.KindInitialGrant, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("account created", "account", accountID, "grant", s.cfg.InitialGrant)
	return s.store.GetAccount(ctx, accountID)
}

// CreateMarket creates an ACTIVE market with the given option labels.
// Options are fixed at creation; at least two are required.
func (s *Service) CreateMarket(ctx context.Context, creatorID, question string, labels []string, endAt time.Time) (*model.Market, []model.Option, error) {
	if creatorID == "" || strings.TrimSpace(question) == "" || len(labels) < 2 || !endAt.After(time.Now()) {
		return nil, nil, model.ErrInvalidMarket
	}

	market := &model.Market{
		ID:        uuid.New().String(),
		CreatorID: creatorID,
		Question:  strings.TrimSpace(question),
		State:     model.MarketActive,
		EndAt:     endAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	opts := make([]model.Option, 0, len(labels))
	for i, label := range labels {
		opts = append(opts, model.Option{
			ID:       uuid.New().String(),
			MarketID: market.ID,
			Ordinal:  i,
			Label:    strings.TrimSpace(label),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.AccountForUpdate(ctx, creatorID); err != nil {
			return err
		}
		return tx.CreateMarket(ctx, market, opts)
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created",
		"market", market.ID,
		"creator", creatorID,
		"options", len(opts),
		"end_at", market.EndAt,
	)
	return market, opts, nil
}

// PlaceWagerRequest carries one wager attempt. WagerID is an optional
// caller-supplied idempotency key: retrying with the same id returns the
// original wager without a second debit.
type PlaceWagerRequest struct {
	AccountID string
	MarketID  string
	OptionID  string
	Amount    int64
	WagerID   string
}

// PlaceWagerResult is the committed wager plus freshly recomputed odds for
// every option, so callers can display updated odds immediately.
type PlaceWagerResult struct {
	Wager model.Wager        `json:"wager"`
	Odds  []model.OptionOdds `json:"odds"`
}

// PlaceWager validates and commits a wager as one atomic unit: ledger
// debit, wager row, and pool/option increments all land together or not at
// all. Preconditions are checked in order, each with a distinct error.
func (s *Service) PlaceWager(ctx context.Context, req PlaceWagerRequest) (*PlaceWagerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *PlaceWagerResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		market, err := tx.MarketForUpdate(ctx, req.MarketID)
		if err != nil {
			return err
		}
		options, err := tx.OptionsForUpdate(ctx, req.MarketID)
		if err != nil {
			return err
		}

		// Idempotent replay: the wager already committed on a previous
		// attempt, return it unchanged. Only a definitive not-found may fall
		// through to creation; a failed read must abort the attempt.
		if req.WagerID != "" {
			existing, err := tx.GetWager(ctx, req.WagerID)
			switch {
			case err == nil:
				if existing.AccountID != req.AccountID || existing.MarketID != req.MarketID {
					return model.ErrDuplicateWager
				}
				result = &PlaceWagerResult{Wager: *existing, Odds: oddsTable(market.Pool, options)}
				return nil
			case !errors.Is(err, model.ErrWagerNotFound):
				return err
			}
		}

		var option *model.Option
		for i := range options {
			if options[i].ID == req.OptionID {
				option = &options[i]
				break
			}
		}
		if option == nil {
			return model.ErrInvalidOption
		}

		if market.State != model.MarketActive || !time.Now().Before(market.EndAt) {
			return model.ErrMarketClosed
		}
		if !s.cfg.AllowCreatorWager && req.AccountID == market.CreatorID {
			return model.ErrNotAuthorized
		}
		if req.Amount <= 0 || req.Amount > s.cfg.MaxWager {
			return model.ErrInvalidAmount
		}
		if !s.cfg.AllowDuplicateWager {
			wagers, err := tx.WagersByMarket(ctx, req.MarketID)
			if err != nil {
				return err
			}
			for _, w := range wagers {
				if w.AccountID == req.AccountID && w.OptionID == req.OptionID && w.State == model.WagerPending {
					return model.ErrDuplicateWager
				}
			}
		}

		wagerID := req.WagerID
		if wagerID == "" {
			wagerID = uuid.New().String()
		}

		// Funds check and debit are one step: the ledger rejects the wager
		// when the balance cannot cover it.
		if _, err := ledger.Debit(ctx, tx, req.AccountID, req.Amount, model.KindWagerPlaced, wagerID); err != nil {
			return err
		}

		market.Pool += req.Amount
		market.WagerCount++
		option.Coins += req.Amount
		option.WagerCount++

		wager := &model.Wager{
			ID:              wagerID,
			AccountID:       req.AccountID,
			MarketID:        req.MarketID,
			OptionID:        req.OptionID,
			Amount:          req.Amount,
			OddsAtPlacement: odds.ForOption(market.Pool, option.Coins),
			State:           model.WagerPending,
			PlacedAt:        time.Now().UTC(),
		}
		if err := tx.CreateWager(ctx, wager); err != nil {
			return err
		}
		if err := tx.UpdateOption(ctx, option); err != nil {
			return err
		}
		if err := tx.UpdateMarket(ctx, market); err != nil {
			return err
		}

		result = &PlaceWagerResult{Wager: *wager, Odds: oddsTable(market.Pool, options)}
		return nil
	})
	if err != nil {
		metrics.WagersRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	metrics.WagersPlaced.Inc()
	metrics.CoinsWagered.Add(float64(result.Wager.Amount))
	slog.Info("wager placed",
		"wager", result.Wager.ID,
		"account", req.AccountID,
		"market", req.MarketID,
		"option", req.OptionID,
		"amount", req.Amount,
		"odds", result.Wager.OddsAtPlacement.String(),
	)
	s.publish(Event{
		Type:      EventWagerPlaced,
		MarketID:  req.MarketID,
		AccountID: req.AccountID,
		OptionID:  req.OptionID,
		Amount:    result.Wager.Amount,
		Odds:      result.Odds,
	})
	return result, nil
}

// Resolve settles a LOCKED (or DISPUTED) market: every winning wager is
// credited its floor-rounded share of the pool, losers are marked LOST, and
// dust up to the configured cap rewards the creator — one atomic unit
// spanning every wager on the market. Replaying against an already-settled
// market fails with ErrAlreadyResolved/ErrAlreadyCancelled and mutates
// nothing.
func (s *Service) Resolve(ctx context.Context, marketID, correctOptionID, actingAccountID string) (*model.ResolutionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var summary *model.ResolutionSummary
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		market, err := tx.MarketForUpdate(ctx, marketID)
		if err != nil {
			return err
		}
		if err := settleGate(market.State); err != nil {
			return err
		}
		if actingAccountID != market.CreatorID {
			return model.ErrNotAuthorized
		}

		options, err := tx.OptionsForUpdate(ctx, marketID)
		if err != nil {
			return err
		}
		var winning *model.Option
		for i := range options {
			if options[i].ID == correctOptionID {
				winning = &options[i]
				break
			}
		}
		if winning == nil {
			return model.ErrInvalidOption
		}

		wagers, err := tx.WagersByMarket(ctx, marketID)
		if err != nil {
			return err
		}

		sum := model.ResolutionSummary{MarketID: marketID, CorrectOptionID: correctOptionID}
		for i := range wagers {
			w := &wagers[i]
			if w.State != model.WagerPending {
				continue
			}
			if w.OptionID == correctOptionID {
				payout := odds.Payout(w.Amount, market.Pool, winning.Coins)
				if payout > 0 {
					if _, err := ledger.Credit(ctx, tx, w.AccountID, payout, model.KindWagerWon, w.ID); err != nil {
						return err
					}
				}
				w.State = model.WagerWon
				w.Payout = payout
				sum.Winners++
				sum.TotalPayout += payout
			} else {
				w.State = model.WagerLost
				w.Payout = 0
				sum.Losers++
			}
			if err := tx.UpdateWager(ctx, w); err != nil {
				return err
			}
		}

		dust := market.Pool - sum.TotalPayout
		if reward := odds.CreatorReward(dust, market.Pool, s.cfg.CreatorRewardPct); reward > 0 {
			if _, err := ledger.Credit(ctx, tx, market.CreatorID, reward, model.KindCreatorReward, ""); err != nil {
				return err
			}
			sum.CreatorReward = reward
		}

		now := time.Now().UTC()
		market.State = model.MarketResolved
		market.CorrectOptionID = correctOptionID
		market.ResolvedAt = &now
		if err := tx.UpdateMarket(ctx, market); err != nil {
			return err
		}

		summary = &sum
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.MarketsResolved.WithLabelValues("resolved").Inc()
	metrics.CoinsPaidOut.Add(float64(summary.TotalPayout))
	metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
	slog.Info("market resolved",
		"market", marketID,
		"correct_option", correctOptionID,
		"winners", summary.Winners,
		"losers", summary.Losers,
		"total_payout", summary.TotalPayout,
		"creator_reward", summary.CreatorReward,
	)
	s.publish(Event{Type: EventMarketResolved, MarketID: marketID, Resolution: summary})
	return summary, nil
}

// Cancel refunds every pending wager in full and moves the market to
// CANCELLED. Creator-only, idempotent, and atomic across all wagers.
func (s *Service) Cancel(ctx context.Context, marketID, actingAccountID string) (*model.RefundSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summary *model.RefundSummary
	var wasActive bool
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		market, err := tx.MarketForUpdate(ctx, marketID)
		if err != nil {
			return err
		}
		if market.State.Terminal() {
			return settleGateConflict(market.State)
		}
		if actingAccountID != market.CreatorID {
			return model.ErrNotAuthorized
		}

		wagers, err := tx.WagersByMarket(ctx, marketID)
		if err != nil {
			return err
		}

		sum := model.RefundSummary{MarketID: marketID}
		for i := range wagers {
			w := &wagers[i]
			if w.State != model.WagerPending {
				continue
			}
			if _, err := ledger.Credit(ctx, tx, w.AccountID, w.Amount, model.KindWagerRefunded, w.ID); err != nil {
				return err
			}
			w.State = model.WagerRefunded
			if err := tx.UpdateWager(ctx, w); err != nil {
				return err
			}
			sum.Refunded++
			sum.TotalRefunded += w.Amount
		}

		wasActive = market.State == model.MarketActive
		market.State = model.MarketCancelled
		if err := tx.UpdateMarket(ctx, market); err != nil {
			return err
		}

		summary = &sum
		return nil
	})
	if err != nil {
		return nil, err
	}

	if wasActive {
		metrics.ActiveMarkets.Dec()
	}
	metrics.MarketsResolved.WithLabelValues("cancelled").Inc()
	slog.Info("market cancelled",
		"market", marketID,
		"refunded", summary.Refunded,
		"total_refunded", summary.TotalRefunded,
	)
	s.publish(Event{Type: EventMarketCancelled, MarketID: marketID, Refund: summary})
	return summary, nil
}

// Dispute moves a LOCKED market into manual review. The creator flags it;
// resolution or cancellation then proceeds from DISPUTED.
func (s *Service) Dispute(ctx context.Context, marketID, actingAccountID string) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var disputed *model.Market
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		market, err := tx.MarketForUpdate(ctx, marketID)
		if err != nil {
			return err
		}
		if market.State != model.MarketLocked {
			return settleGateConflict(market.State)
		}
		if actingAccountID != market.CreatorID {
			return model.ErrNotAuthorized
		}
		market.State = model.MarketDisputed
		if err := tx.UpdateMarket(ctx, market); err != nil {
			return err
		}
		disputed = market
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("market disputed", "market", marketID)
	return disputed, nil
}

// Tick sweeps markets past their end date from ACTIVE to LOCKED and emits
// a MarketLocked event per transition, flagging the creator to resolve.
// Safe to call repeatedly; each market locks exactly once.
func (s *Service) Tick(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpiredActive(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	locked := 0
	for _, m := range expired {
		didLock := false
		err := s.store.WithinTx(ctx, func(tx store.Tx) error {
			market, err := tx.MarketForUpdate(ctx, m.ID)
			if err != nil {
				return err
			}
			// Re-check under the lock: a concurrent cancel may have won.
			if market.State != model.MarketActive || market.EndAt.After(time.Now()) {
				return nil
			}
			market.State = model.MarketLocked
			if err := tx.UpdateMarket(ctx, market); err != nil {
				return err
			}
			didLock = true
			return nil
		})
		if err != nil {
			return locked, err
		}
		if !didLock {
			continue
		}
		locked++
		metrics.MarketsLocked.Inc()
		metrics.ActiveMarkets.Dec()
		slog.Info("market locked", "market", m.ID, "creator", m.CreatorID)
		s.publish(Event{Type: EventMarketLocked, MarketID: m.ID, AccountID: m.CreatorID})
	}
	return locked, nil
}

// OddsFor returns live odds for every option of a market, recomputed from
// the authoritative pool and option totals.
func (s *Service) OddsFor(ctx context.Context, marketID string) ([]model.OptionOdds, error) {
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	options, err := s.store.GetOptions(ctx, marketID)
	if err != nil {
		return nil, err
	}
	return oddsTable(market.Pool, options), nil
}

// oddsTable recomputes odds for every option from current totals.
func oddsTable(pool int64, options []model.Option) []model.OptionOdds {
	table := make([]model.OptionOdds, 0, len(options))
	for _, o := range options {
		table = append(table, model.OptionOdds{
			OptionID: o.ID,
			Ordinal:  o.Ordinal,
			Label:    o.Label,
			Coins:    o.Coins,
			Odds:     odds.ForOption(pool, o.Coins),
		})
	}
	return table
}

// settleGate rejects settlement of markets that are not yet locked or are
// already terminal, with the idempotency errors the caller retries on.
func settleGate(state model.MarketState) error {
	switch state {
	case model.MarketLocked, model.MarketDisputed:
		return nil
	default:
		return settleGateConflict(state)
	}
}

func settleGateConflict(state model.MarketState) error {
	switch state {
	case model.MarketResolved:
		return model.ErrAlreadyResolved
	case model.MarketCancelled:
		return model.ErrAlreadyCancelled
	default:
		return model.ErrMarketNotLocked
	}
}

// rejectReason maps a precondition failure to a metrics label.
func rejectReason(err error) string {
	switch err {
	case model.ErrMarketNotFound:
		return "market_not_found"
	case model.ErrInvalidOption:
		return "invalid_option"
	case model.ErrMarketClosed:
		return "market_closed"
	case model.ErrInvalidAmount:
		return "invalid_amount"
	case model.ErrInsufficientFunds:
		return "insufficient_funds"
	case model.ErrDuplicateWager:
		return "duplicate"
	case model.ErrNotAuthorized:
		return "not_authorized"
	default:
		return "other"
	}
}
