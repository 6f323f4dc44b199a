package chain

import (
	"crypto/sha256"
	"math"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// TestAmountBytes checks the minimal signed encoding of coin amounts.
func TestAmountBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount   uint64
		expected []byte
	}{
		{0, nil},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x00, 0x80}},
		{255, []byte{0x00, 0xff}},
		{256, []byte{0x01, 0x00}},
		{1_000_000_000_000, []byte{0x00, 0xe8, 0xd4, 0xa5, 0x10, 0x00}},
		{
			math.MaxUint64,
			[]byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		},
	}

	for _, test := range tests {
		require.Equal(t, test.expected, amountBytes(test.amount),
			"amount %d", test.amount)
	}
}

// TestCoinID ensures the coin id commits to all coin fields.
func TestCoinID(t *testing.T) {
	t.Parallel()

	coin := Coin{
		ParentCoinInfo: chainhash.Hash{0x01},
		PuzzleHash:     chainhash.Hash{0x02},
		Amount:         1000,
	}

	preimage := append([]byte{}, coin.ParentCoinInfo[:]...)
	preimage = append(preimage, coin.PuzzleHash[:]...)
	preimage = append(preimage, 0x03, 0xe8)
	expected := chainhash.Hash(sha256.Sum256(preimage))

	require.Equal(t, expected, coin.ID())

	other := coin
	other.Amount++
	require.NotEqual(t, coin.ID(), other.ID())
}

func TestHashStringRoundTrip(t *testing.T) {
	t.Parallel()

	h := chainhash.Hash{0xde, 0xad, 0xbe, 0xef}
	str := HashString(h)
	require.Equal(t, "0xdeadbeef", str[:10])

	parsed, err := ParseHash(str)
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	parsed, err = ParseHash(str[2:])
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	_, err = ParseHash("0x1234")
	require.Error(t, err)
}

func TestTotalAmount(t *testing.T) {
	t.Parallel()

	total, ok := TotalAmount([]Coin{{Amount: 1}, {Amount: 2}})
	require.True(t, ok)
	require.EqualValues(t, 3, total)

	_, ok = TotalAmount([]Coin{{Amount: math.MaxUint64}, {Amount: 1}})
	require.False(t, ok)
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		expected Amount
		err      bool
	}{
		{in: "1", expected: MojoPerCoin},
		{in: "1.5 XCH", expected: MojoPerCoin + MojoPerCoin/2},
		{in: "0.000000000001", expected: 1},
		{in: ".25", expected: MojoPerCoin / 4},
		{in: "0.0000000000001", err: true},
		{in: "abc", err: true},
		{in: "", err: true},
		{in: "18446745", err: true},
	}

	for _, test := range tests {
		amt, err := ParseAmount(test.in)
		if test.err {
			require.Error(t, err, test.in)
			continue
		}
		require.NoError(t, err, test.in)
		require.Equal(t, test.expected, amt, test.in)
	}

	require.Equal(t, "1.5 XCH", Amount(MojoPerCoin+MojoPerCoin/2).String())
	require.Equal(t, "2 XCH", Amount(2*MojoPerCoin).String())
}
