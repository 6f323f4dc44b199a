package chain

import "fmt"

// Network identifies the chain a daemon instance follows.
type Network uint8

const (
	// Mainnet is the production network.
	Mainnet Network = iota

	// Testnet is the public test network.
	Testnet

	// Simnet is a local simulator network.
	Simnet
)

// String returns the name full nodes report for the network.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet11"
	case Simnet:
		return "simulator0"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(n))
	}
}

// AddressPrefix returns the human readable part used by addresses on the
// network.
func (n Network) AddressPrefix() string {
	if n == Mainnet {
		return "xch"
	}

	return "txch"
}

// DefaultRPCPort returns the default full node RPC port for the network.
func (n Network) DefaultRPCPort() string {
	if n == Simnet {
		return "18555"
	}

	return "8555"
}

// ParseNetwork maps a network name as reported by a full node back to a
// Network.
func ParseNetwork(name string) (Network, error) {
	switch name {
	case "mainnet":
		return Mainnet, nil
	case "testnet", "testnet10", "testnet11":
		return Testnet, nil
	case "simulator0", "simnet":
		return Simnet, nil
	default:
		return 0, fmt.Errorf("unknown network %q", name)
	}
}
