package chain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MojoPerCoin is the number of base units in one coin.
const MojoPerCoin = 1_000_000_000_000

// coinDecimals is the number of decimal places of MojoPerCoin.
const coinDecimals = 12

// ErrAmountRange is returned when a decimal amount does not fit into a mojo
// count.
var ErrAmountRange = errors.New("amount out of range")

// Amount is a quantity of mojos.
type Amount uint64

// String formats the amount in whole coins without losing precision.
func (a Amount) String() string {
	whole := uint64(a) / MojoPerCoin
	frac := uint64(a) % MojoPerCoin
	if frac == 0 {
		return fmt.Sprintf("%d XCH", whole)
	}

	fracStr := strings.TrimRight(fmt.Sprintf("%012d", frac), "0")
	return fmt.Sprintf("%d.%s XCH", whole, fracStr)
}

// ParseAmount parses a decimal coin amount such as "1.25" or "0.000000000001"
// into mojos. Floating point is never involved so every representable amount
// round trips exactly.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(strings.TrimSuffix(s, "XCH"))
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty amount")
	}

	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if len(fracStr) > coinDecimals {
		return 0, fmt.Errorf("amount %q has more than %d decimals", s,
			coinDecimals)
	}
	fracStr += strings.Repeat("0", coinDecimals-len(fracStr))

	var whole uint64
	if wholeStr != "" {
		var err error
		whole, err = strconv.ParseUint(wholeStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
	}
	frac, err := strconv.ParseUint(fracStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	if whole > (math.MaxUint64-frac)/MojoPerCoin {
		return 0, ErrAmountRange
	}

	return Amount(whole*MojoPerCoin + frac), nil
}
