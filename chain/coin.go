package chain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Coin is an unspent output of the coin set, identified by the hash of its
// contents.
type Coin struct {
	ParentCoinInfo chainhash.Hash
	PuzzleHash     chainhash.Hash
	Amount         uint64
}

// ID returns the content derived identifier of the coin:
// sha256(parent || puzzle hash || amount), with the amount serialized as a
// minimal big-endian two's complement integer.
func (c *Coin) ID() chainhash.Hash {
	amt := amountBytes(c.Amount)

	buf := make([]byte, 0, 2*chainhash.HashSize+len(amt))
	buf = append(buf, c.ParentCoinInfo[:]...)
	buf = append(buf, c.PuzzleHash[:]...)
	buf = append(buf, amt...)

	return chainhash.HashH(buf)
}

// amountBytes serializes v in the minimal signed big-endian form used by the
// chain's coin id preimage. Zero encodes as an empty slice and a leading zero
// byte is kept when the high bit would otherwise be set.
func amountBytes(v uint64) []byte {
	if v == 0 {
		return nil
	}

	var b [9]byte
	binary.BigEndian.PutUint64(b[1:], v)

	i := 1
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	if b[i]&0x80 != 0 {
		i--
	}

	return b[i:]
}

// HashString returns the 0x prefixed hex form of h in natural byte order, the
// way full nodes print coin ids and puzzle hashes.
func HashString(h chainhash.Hash) string {
	return "0x" + hex.EncodeToString(h[:])
}

// ParseHash decodes a natural byte order hex hash, with or without a 0x
// prefix.
func ParseHash(s string) (chainhash.Hash, error) {
	var h chainhash.Hash

	s = strings.TrimPrefix(s, "0x")
	if len(s) != 2*chainhash.HashSize {
		return h, fmt.Errorf("invalid hash length %d", len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, err
	}

	return h, nil
}

// TotalAmount sums the amounts of coins, reporting false on overflow.
func TotalAmount(coins []Coin) (uint64, bool) {
	var total uint64
	for _, c := range coins {
		if total+c.Amount < total {
			return 0, false
		}
		total += c.Amount
	}

	return total, true
}
