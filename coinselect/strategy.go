package coinselect

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/coinwatch/coinwatch/chain"
)

// Strategy picks a subset of candidates whose amounts sum to at least
// target. It returns nil when the candidates cannot cover target.
type Strategy func(candidates []chain.Coin, target uint64) []chain.Coin

// accumulate takes coins in order until target is covered.
func accumulate(coins []chain.Coin, target uint64) []chain.Coin {
	var total uint64
	for i, c := range coins {
		// Saturate instead of wrapping, the target is covered anyway.
		if total+c.Amount < total {
			total = ^uint64(0)
		} else {
			total += c.Amount
		}

		if total >= target {
			return append([]chain.Coin(nil), coins[:i+1]...)
		}
	}

	return nil
}

// LargestFirst selects the largest coins first, keeping the number of coins
// spent low.
func LargestFirst(candidates []chain.Coin, target uint64) []chain.Coin {
	sorted := append([]chain.Coin(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount > sorted[j].Amount
	})

	return accumulate(sorted, target)
}

// SmallestFirst selects the smallest coins first, consolidating dust.
func SmallestFirst(candidates []chain.Coin, target uint64) []chain.Coin {
	sorted := append([]chain.Coin(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount < sorted[j].Amount
	})

	return accumulate(sorted, target)
}

// RandomFirst returns a strategy that considers coins in random order. It
// lowers the chance that concurrent selections contend for the same coins.
func RandomFirst(r *rand.Rand) Strategy {
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	var mu sync.Mutex

	return func(candidates []chain.Coin, target uint64) []chain.Coin {
		shuffled := append([]chain.Coin(nil), candidates...)

		mu.Lock()
		r.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		mu.Unlock()

		return accumulate(shuffled, target)
	}
}

// AllCoins selects every candidate when together they cover target.
func AllCoins(candidates []chain.Coin, target uint64) []chain.Coin {
	if len(candidates) == 0 {
		return nil
	}

	// A sum that does not fit covers any target.
	total, ok := chain.TotalAmount(candidates)
	if ok && total < target {
		return nil
	}

	return append([]chain.Coin(nil), candidates...)
}

// StrategyByName maps a configuration name to a strategy.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "largest":
		return LargestFirst, nil
	case "smallest":
		return SmallestFirst, nil
	case "random":
		return RandomFirst(nil), nil
	case "all":
		return AllCoins, nil
	default:
		return nil, fmt.Errorf("unknown coin selection strategy %q",
			name)
	}
}
