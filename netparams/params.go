// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import "github.com/btcsuite/btcd/chaincfg"

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// NodeRPCPort is the default port of the bitcoind RPC server the
	// coordinator reads the chain from.
	NodeRPCPort string

	// CoordinatorPort is the default port of the coordinator's gRPC
	// server.
	CoordinatorPort string
}

// MainNetParams contains parameters specific running the coordinator and
// bitcoind on the main network (wire.MainNet).
var MainNetParams = Params{
	Params:          &chaincfg.MainNetParams,
	NodeRPCPort:     "8332",
	CoordinatorPort: "9840",
}

// TestNet3Params contains parameters specific running the coordinator and
// bitcoind on the test network (version 3) (wire.TestNet3).
var TestNet3Params = Params{
	Params:          &chaincfg.TestNet3Params,
	NodeRPCPort:     "18332",
	CoordinatorPort: "19840",
}

// SigNetParams contains parameters specific to the default signet.
var SigNetParams = Params{
	Params:          &chaincfg.SigNetParams,
	NodeRPCPort:     "38332",
	CoordinatorPort: "39840",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).
var RegressionNetParams = Params{
	Params:          &chaincfg.RegressionNetParams,
	NodeRPCPort:     "18443",
	CoordinatorPort: "18840",
}

// SimNetParams contains parameters specific to the simulation test network
// (wire.SimNet).
var SimNetParams = Params{
	Params:          &chaincfg.SimNetParams,
	NodeRPCPort:     "18556",
	CoordinatorPort: "18841",
}
