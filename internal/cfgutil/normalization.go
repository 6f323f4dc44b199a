// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"errors"
	"net"
	"strings"
)

// NormalizeAddress returns addr as host:port, adding defaultPort when addr
// carries none. Bare IPv6 hosts are bracketed.
func NormalizeAddress(addr, defaultPort string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.New("empty address")
	}

	host, port, splitErr := net.SplitHostPort(addr)
	if splitErr == nil {
		return net.JoinHostPort(host, port), nil
	}

	// Only a missing port is repaired. If the address still does not
	// split with the default port added, report the original problem.
	withPort := net.JoinHostPort(addr, defaultPort)
	if _, _, err := net.SplitHostPort(withPort); err != nil {
		return "", splitErr
	}

	return withPort, nil
}

// NormalizeAddresses normalizes every address with NormalizeAddress and drops
// duplicates, keeping the first occurrence.
func NormalizeAddresses(addrs []string, defaultPort string) ([]string, error) {
	normalized := make([]string, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))

	for _, addr := range addrs {
		n, err := NormalizeAddress(addr, defaultPort)
		if err != nil {
			return nil, err
		}

		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		normalized = append(normalized, n)
	}

	return normalized, nil
}
