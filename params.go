// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"path/filepath"

	"github.com/btcsuite/btcjoin/netparams"
)

var activeNet = &netparams.MainNetParams

// networkDir returns the directory name of a network directory to hold
// coordinator files.
func networkDir(dataDir string, params *netparams.Params) string {
	netname := params.Name

	// For now, we must always name the testnet data directory as "testnet"
	// and not "testnet3" or any other version, as the chaincfg testnet3
	// paramaters will likely be switched to being named "testnet3" in the
	// future.  This is done to future proof that change, and an upgrade
	// plan to move the testnet3 data directory can be worked out later.
	if params.Net == netparams.TestNet3Params.Net {
		netname = "testnet"
	}

	return filepath.Join(dataDir, netname)
}
