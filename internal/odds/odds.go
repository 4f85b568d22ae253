// Package odds implements the parimutuel payout math for markets.
//
// All wagers on a market share one pool. An option's odds are the ratio of
// the whole pool to the coins staked on that option, so winners split the
// losers' coins in proportion to their stakes. Odds are always recomputed
// from authoritative pool/option totals — never incrementally drifted — so
// rounding error cannot compound.
//
// Coin amounts are int64; odds ratios use shopspring/decimal.
package odds

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// FloorOdds is the odds reported for an option with zero coins. The
	// payout ratio is undefined there; the floor avoids division by zero
	// and infinite odds.
	FloorOdds = decimal.NewFromInt(1)

	// Scale is the number of decimal places odds are rounded to.
	Scale int32 = 4
)

// ForOption returns the payout multiplier pool/coinsOnOption, or FloorOdds
// when the option holds no coins.
func ForOption(pool, coinsOnOption int64) decimal.Decimal {
	if coinsOnOption <= 0 {
		return FloorOdds
	}
	return decimal.NewFromInt(pool).
		Div(decimal.NewFromInt(coinsOnOption)).
		Round(Scale)
}

// Payout returns the coins a winning wager collects at resolution:
//
//	floor(amount * pool / coinsOnWinningOption)
//
// Truncation guarantees the sum of payouts never exceeds the pool; the
// shortfall accumulates as dust (see CreatorReward). The multiplication is
// done in big-integer space so large pools cannot overflow int64.
func Payout(amount, pool, coinsOnWinningOption int64) int64 {
	if coinsOnWinningOption <= 0 {
		return 0
	}
	p := new(big.Int).Mul(big.NewInt(amount), big.NewInt(pool))
	p.Quo(p, big.NewInt(coinsOnWinningOption))
	return p.Int64()
}

// CreatorReward returns the portion of the flooring dust granted to the
// market creator: the dust itself, capped at rewardPct of the pool. The
// remainder above the cap stays unallocated. Never creates coins beyond
// the dust.
func CreatorReward(dust, pool int64, rewardPct decimal.Decimal) int64 {
	if dust <= 0 || rewardPct.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	cap := rewardPct.Mul(decimal.NewFromInt(pool)).Floor().IntPart()
	if dust < cap {
		return dust
	}
	return cap
}
