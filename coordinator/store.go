// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// coordinatorBucket holds the coordinator state that must survive
	// restarts. Its sequence is the last issued round id.
	coordinatorBucket = []byte("coordinator")

	denominationKey = []byte("denomination")
)

// store persists round ids and the adjusted denomination.
type store struct {
	db walletdb.DB
}

func newStore(db walletdb.DB) (*store, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(coordinatorBucket)
		return err
	})
	if err != nil {
		return nil, coordError(ErrBackend, "create coordinator bucket",
			err)
	}

	return &store{db: db}, nil
}

// nextRoundID returns a round id greater than every id issued before,
// including before a restart.
func (s *store) nextRoundID() (uint64, error) {
	var id uint64
	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		var err error
		id, err = tx.ReadWriteBucket(coordinatorBucket).NextSequence()
		return err
	})
	if err != nil {
		return 0, coordError(ErrBackend, "next round id", err)
	}

	return id, nil
}

// denomination returns the persisted denomination, if any.
func (s *store) denomination() (fn.Option[btcutil.Amount], error) {
	denom := fn.None[btcutil.Amount]()
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		v := tx.ReadBucket(coordinatorBucket).Get(denominationKey)
		if len(v) == 8 {
			denom = fn.Some(btcutil.Amount(
				binary.BigEndian.Uint64(v),
			))
		}
		return nil
	})
	if err != nil {
		return denom, coordError(ErrBackend, "read denomination", err)
	}

	return denom, nil
}

func (s *store) putDenomination(denom btcutil.Amount) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(denom))

	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(coordinatorBucket).Put(
			denominationKey, v[:],
		)
	})
	if err != nil {
		return coordError(ErrBackend, "write denomination", err)
	}

	return nil
}
