package main

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcjoin/netparams"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/stretchr/testify/require"
)

func TestNetworkDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		params *netparams.Params
		want   string
	}{
		{&netparams.MainNetParams, chaincfg.MainNetParams.Name},
		{&netparams.TestNet3Params, "testnet"},
		{&netparams.RegressionNetParams, chaincfg.RegressionNetParams.Name},
		{&netparams.SimNetParams, chaincfg.SimNetParams.Name},
	}

	for _, test := range tests {
		got := networkDir("/data", test.params)
		require.Equal(t, filepath.Join("/data", test.want), got)
	}
}

func TestParseDebugLevels(t *testing.T) {
	t.Parallel()

	for _, level := range []string{"verbose", "JOIN", "NOPE=info",
		"JOIN=loud", "JOIN=info,debug"} {

		require.Error(t, parseAndSetDebugLevels(level), level)
	}

	require.NoError(t, parseAndSetDebugLevels("info"))
	require.NoError(t, parseAndSetDebugLevels("CRDN=debug,BANL=info"))
}

func TestGenCertPair(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "rpc.cert")
	keyFile := filepath.Join(dir, "keys", "rpc.key")

	require.NoError(t, genCertPair(certFile, keyFile))

	_, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)
}

func TestOpenDB(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "coordinator.db")

	db, err := openDB(dbPath)
	require.NoError(t, err)

	key := []byte("bucket")
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(key)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// The second open finds the existing database.
	db, err = openDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		require.NotNil(t, tx.ReadBucket(key))
		return nil
	})
	require.NoError(t, err)
}
