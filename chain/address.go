package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// EncodeAddress returns the bech32m address of puzzleHash on net.
func EncodeAddress(puzzleHash chainhash.Hash, net Network) (string, error) {
	conv, err := bech32.ConvertBits(puzzleHash[:], 8, 5, true)
	if err != nil {
		return "", err
	}

	return bech32.EncodeM(net.AddressPrefix(), conv)
}

// DecodeAddress returns the puzzle hash encoded in addr, verifying that the
// address belongs to net.
func DecodeAddress(addr string, net Network) (chainhash.Hash, error) {
	var puzzleHash chainhash.Hash

	hrp, data, version, err := bech32.DecodeGeneric(addr)
	if err != nil {
		return puzzleHash, fmt.Errorf("decode address %s: %w", addr, err)
	}
	if version != bech32.VersionM {
		return puzzleHash, fmt.Errorf("address %s is not bech32m", addr)
	}
	if hrp != net.AddressPrefix() {
		return puzzleHash, fmt.Errorf("address %s is not for network %v",
			addr, net)
	}

	conv, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return puzzleHash, fmt.Errorf("decode address %s: %w", addr, err)
	}
	if len(conv) != chainhash.HashSize {
		return puzzleHash, fmt.Errorf("address %s has invalid puzzle "+
			"hash length %d", addr, len(conv))
	}
	copy(puzzleHash[:], conv)

	return puzzleHash, nil
}
