package coinselect

import (
	"math"
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/stretchr/testify/require"
)

func coinsOf(amounts ...uint64) []chain.Coin {
	coins := make([]chain.Coin, 0, len(amounts))
	for i, a := range amounts {
		coins = append(coins, chain.Coin{
			ParentCoinInfo: chainhash.Hash{byte(i + 1)},
			PuzzleHash:     chainhash.Hash{0xaa},
			Amount:         a,
		})
	}

	return coins
}

func amounts(coins []chain.Coin) []uint64 {
	out := make([]uint64, 0, len(coins))
	for _, c := range coins {
		out = append(out, c.Amount)
	}

	return out
}

func TestStrategies(t *testing.T) {
	t.Parallel()

	candidates := coinsOf(5, 50, 20, 1)

	tests := []struct {
		name     string
		strategy Strategy
		target   uint64
		want     []uint64
	}{
		{"largest exact", LargestFirst, 50, []uint64{50}},
		{"largest two", LargestFirst, 60, []uint64{50, 20}},
		{"largest all", LargestFirst, 76, []uint64{50, 20, 5, 1}},
		{"largest short", LargestFirst, 77, nil},
		{"smallest", SmallestFirst, 6, []uint64{1, 5}},
		{"smallest short", SmallestFirst, 100, nil},
		{"all", AllCoins, 1, []uint64{5, 50, 20, 1}},
		{"all short", AllCoins, 77, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.strategy(candidates, tc.target)
			if tc.want == nil {
				require.Nil(t, got)
				return
			}
			require.Equal(t, tc.want, amounts(got))
		})
	}

	// Candidates are never reordered in place.
	require.Equal(t, []uint64{5, 50, 20, 1}, amounts(candidates))
}

func TestRandomFirst(t *testing.T) {
	t.Parallel()

	strategy := RandomFirst(rand.New(rand.NewSource(1)))
	candidates := coinsOf(10, 10, 10, 10, 10)

	for range 20 {
		got := strategy(candidates, 25)
		require.Len(t, got, 3)
	}
	require.Nil(t, strategy(candidates, 51))
}

func TestAccumulateSaturates(t *testing.T) {
	t.Parallel()

	got := LargestFirst(coinsOf(math.MaxUint64, 10), math.MaxUint64)
	require.Len(t, got, 1)

	got = AllCoins(coinsOf(math.MaxUint64, 10), math.MaxUint64)
	require.Len(t, got, 2)
}

func TestStrategyByName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"largest", "smallest", "random", "all"} {
		s, err := StrategyByName(name)
		require.NoError(t, err)
		require.NotNil(t, s)
	}

	_, err := StrategyByName("knapsack")
	require.Error(t, err)
}
