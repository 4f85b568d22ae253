package odds_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Phenixis/Predis/internal/odds"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestForOption(t *testing.T) {
	tests := []struct {
		name  string
		pool  int64
		coins int64
		want  decimal.Decimal
	}{
		{"even split", 400, 200, d("2")},
		{"heavy favorite", 400, 300, d("1.3333")},
		{"long shot", 400, 100, d("4")},
		{"all on one option", 400, 400, d("1")},
		{"empty option floors at 1", 400, 0, d("1")},
		{"empty market floors at 1", 0, 0, d("1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := odds.ForOption(tt.pool, tt.coins)
			if !got.Equal(tt.want) {
				t.Errorf("ForOption(%d, %d) = %s, want %s", tt.pool, tt.coins, got, tt.want)
			}
		})
	}
}

func TestPayout(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		pool   int64
		coins  int64
		want   int64
	}{
		{"4x long shot", 100, 400, 100, 400},
		{"truncates toward zero", 100, 1000, 300, 333},
		{"sole winner takes pool", 250, 250, 250, 250},
		{"zero winning coins pays nothing", 100, 400, 0, 0},
		{"large pool no overflow", 1_000_000_000, 9_000_000_000, 3_000_000_000, 3_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := odds.Payout(tt.amount, tt.pool, tt.coins)
			if got != tt.want {
				t.Errorf("Payout(%d, %d, %d) = %d, want %d", tt.amount, tt.pool, tt.coins, got, tt.want)
			}
		})
	}
}

// Payouts across all winners must never exceed the pool, whatever the split.
func TestPayout_NeverExceedsPool(t *testing.T) {
	pool := int64(1000)
	winningCoins := int64(301)
	stakes := []int64{100, 100, 101}

	var total int64
	for _, s := range stakes {
		total += odds.Payout(s, pool, winningCoins)
	}
	if total > pool {
		t.Errorf("total payout %d exceeds pool %d", total, pool)
	}
}

func TestCreatorReward(t *testing.T) {
	pct := d("0.05")

	tests := []struct {
		name string
		dust int64
		pool int64
		pct  decimal.Decimal
		want int64
	}{
		{"dust under cap granted fully", 7, 1000, pct, 7},
		{"dust capped at pct of pool", 120, 1000, pct, 50},
		{"no dust no reward", 0, 1000, pct, 0},
		{"zero pct leaves dust unallocated", 30, 1000, decimal.Zero, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := odds.CreatorReward(tt.dust, tt.pool, tt.pct)
			if got != tt.want {
				t.Errorf("CreatorReward(%d, %d, %s) = %d, want %d", tt.dust, tt.pool, tt.pct, got, tt.want)
			}
		})
	}
}
