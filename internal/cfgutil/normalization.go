// Copyright (c) 2015 The btcsuite developers
// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import "net"

// NormalizeAddress returns addr in host:port form, adding defaultPort when
// addr has no port.  An error is returned if the address, even without a
// port, is not valid.
func NormalizeAddress(addr string, defaultPort string) (string, error) {
	host, port, origErr := net.SplitHostPort(addr)
	if origErr == nil {
		return net.JoinHostPort(host, port), nil
	}

	// The port may be what is missing.  If adding one does not help, the
	// host itself is invalid and the original error is returned.
	addr = net.JoinHostPort(addr, defaultPort)
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", origErr
	}
	return addr, nil
}

// NormalizeAddresses normalizes every address with NormalizeAddress and
// drops duplicates, keeping the first occurrence.
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
