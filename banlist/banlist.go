// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package banlist keeps the persistent record of unspent outputs whose owners
// disrupted a round.
//
// Entries live in a walletdb bucket keyed by the serialized outpoint. Every
// read-modify-write sequence runs inside a single database update so
// concurrent callers never lose an escalation.
package banlist

import (
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/coinjoin"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/clock"
)

var bucketKey = []byte("banned")

// DefaultBanDuration is the ban length of a severity one entry.
const DefaultBanDuration = 30 * 24 * time.Hour

// Config holds the ban list parameters.
type Config struct {
	// BanDuration is the length of a ban per level of severity.
	BanDuration time.Duration

	// Clock provides the ban time. The wall clock is used if nil.
	Clock clock.Clock
}

// BanList is the registry of banned and noted outputs.
type BanList struct {
	db    walletdb.DB
	cfg   Config
	clock clock.Clock
}

// New opens the ban list stored in db, creating its bucket if needed.
func New(db walletdb.DB, cfg Config) (*BanList, error) {
	if cfg.BanDuration <= 0 {
		cfg.BanDuration = DefaultBanDuration
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(bucketKey)
		return err
	})
	if err != nil {
		return nil, banError(ErrDatabase, "create ban bucket", err)
	}

	return &BanList{db: db, cfg: cfg, clock: clk}, nil
}

// BanDuration returns the per-severity ban length.
func (b *BanList) BanDuration() time.Duration {
	return b.cfg.BanDuration
}

// Ban records an offence committed in roundID by each of ops. A real ban
// escalates any existing entry by one level of severity. A noted offence
// creates a soft entry, or turns an existing soft entry from an earlier
// round into a real ban. Outputs already recorded for roundID are left
// untouched so one round never escalates an output twice.
func (b *BanList) Ban(roundID uint64, noted bool,
	ops ...wire.OutPoint) error {

	now := b.clock.Now()

	err := walletdb.Update(b.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(bucketKey)

		for _, op := range ops {
			key := coinjoin.SerializeOutPoint(&op)

			var existing *Entry
			if v := bucket.Get(key); v != nil {
				e, err := deserializeEntry(op, v)
				if err != nil {
					return banError(ErrCorruptEntry,
						"decode "+op.String(), err)
				}
				existing = e
			}

			entry := nextEntry(existing, op, roundID, noted, now)
			if entry == nil {
				continue
			}

			v, err := serializeEntry(entry)
			if err != nil {
				return err
			}
			if err := bucket.Put(key, v); err != nil {
				return err
			}

			log.Infof("Output %v %s in round %d (severity %d)", op,
				pickVerb(entry.Noted), roundID, entry.Severity)
		}

		return nil
	})

	return wrapDBError("ban outputs", err)
}

// nextEntry returns the entry replacing existing after an offence, or nil if
// the offence does not change the record.
func nextEntry(existing *Entry, op wire.OutPoint, roundID uint64,
	noted bool, now time.Time) *Entry {

	switch {
	case existing == nil && noted:
		return &Entry{
			OutPoint: op, BannedAt: now, Noted: true,
			RoundID: roundID,
		}

	case existing == nil:
		return &Entry{
			OutPoint: op, Severity: 1, BannedAt: now,
			RoundID: roundID,
		}

	case existing.RoundID == roundID:
		return nil

	// A soft entry noted again becomes a real ban, a real ban noted
	// again is left alone.
	case noted && !existing.Noted:
		return nil
	}

	return &Entry{
		OutPoint: op,
		Severity: existing.Severity + 1,
		BannedAt: now,
		RoundID:  roundID,
	}
}

// Get returns the entry for op, real or noted, expired or not.
func (b *BanList) Get(op wire.OutPoint) (*Entry, error) {
	var entry *Entry
	err := walletdb.View(b.db, func(tx walletdb.ReadTx) error {
		v := tx.ReadBucket(bucketKey).Get(coinjoin.SerializeOutPoint(&op))
		if v == nil {
			return banError(ErrNotFound, op.String()+" is not banned",
				nil)
		}

		e, err := deserializeEntry(op, v)
		if err != nil {
			return banError(ErrCorruptEntry, "decode "+op.String(), err)
		}
		entry = e

		return nil
	})
	if err != nil {
		return nil, wrapDBError("get entry", err)
	}

	return entry, nil
}

// IsBanned returns the entry of op if it currently excludes op from rounds.
func (b *BanList) IsBanned(op wire.OutPoint) (*Entry, bool, error) {
	entry, err := b.Get(op)
	switch {
	case IsError(err, ErrNotFound):
		return nil, false, nil

	case err != nil:
		return nil, false, err
	}

	if !entry.IsActive(b.clock.Now(), b.cfg.BanDuration) {
		return nil, false, nil
	}

	return entry, true, nil
}

// Unban removes any entry for op.
func (b *BanList) Unban(op wire.OutPoint) error {
	err := walletdb.Update(b.db, func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(bucketKey).Delete(
			coinjoin.SerializeOutPoint(&op),
		)
	})
	return wrapDBError("unban output", err)
}

// ProcessTransaction follows bans through a transaction seen on the network.
// A banned output spent by tx can never be registered again so its entry is
// dropped, and every output of tx inherits the ban one level more severe.
func (b *BanList) ProcessTransaction(tx *wire.MsgTx) error {
	now := b.clock.Now()
	txHash := tx.TxHash()

	err := walletdb.Update(b.db, func(dbtx walletdb.ReadWriteTx) error {
		bucket := dbtx.ReadWriteBucket(bucketKey)

		var inherited *Entry
		for _, in := range tx.TxIn {
			key := coinjoin.SerializeOutPoint(&in.PreviousOutPoint)
			v := bucket.Get(key)
			if v == nil {
				continue
			}

			e, err := deserializeEntry(in.PreviousOutPoint, v)
			if err != nil {
				return banError(ErrCorruptEntry, "decode "+
					in.PreviousOutPoint.String(), err)
			}
			if err := bucket.Delete(key); err != nil {
				return err
			}
			if !e.IsActive(now, b.cfg.BanDuration) {
				continue
			}

			if inherited == nil || e.Severity > inherited.Severity {
				inherited = e
			}
		}

		if inherited == nil {
			return nil
		}

		for i := range tx.TxOut {
			op := wire.OutPoint{Hash: txHash, Index: uint32(i)}
			entry := &Entry{
				OutPoint: op,
				Severity: inherited.Severity + 1,
				BannedAt: now,
				RoundID:  inherited.RoundID,
			}

			v, err := serializeEntry(entry)
			if err != nil {
				return err
			}
			err = bucket.Put(coinjoin.SerializeOutPoint(&op), v)
			if err != nil {
				return err
			}
		}

		log.Infof("Banned outputs of %v spending banned output "+
			"(severity %d)", txHash, inherited.Severity+1)

		return nil
	})

	return wrapDBError("process transaction", err)
}

// Refresh removes every entry that no longer excludes its output and
// returns how many were removed.
func (b *BanList) Refresh() (int, error) {
	now := b.clock.Now()

	var removed int
	err := walletdb.Update(b.db, func(tx walletdb.ReadWriteTx) error {
		removed = 0
		bucket := tx.ReadWriteBucket(bucketKey)

		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			op, err := coinjoin.DeserializeOutPoint(k)
			if err != nil {
				return banError(ErrCorruptEntry, "decode key", err)
			}
			e, err := deserializeEntry(op, v)
			if err != nil {
				return banError(ErrCorruptEntry,
					"decode "+op.String(), err)
			}

			if !now.Before(e.BannedUntil(b.cfg.BanDuration)) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)

		return nil
	})
	if err != nil {
		return 0, wrapDBError("refresh bans", err)
	}

	if removed > 0 {
		log.Debugf("Removed %d expired ban entries", removed)
	}

	return removed, nil
}

// ForEach calls fn for every stored entry, including noted and expired ones.
func (b *BanList) ForEach(fn func(*Entry) error) error {
	err := walletdb.View(b.db, func(tx walletdb.ReadTx) error {
		return tx.ReadBucket(bucketKey).ForEach(func(k, v []byte) error {
			op, err := coinjoin.DeserializeOutPoint(k)
			if err != nil {
				return banError(ErrCorruptEntry, "decode key", err)
			}
			e, err := deserializeEntry(op, v)
			if err != nil {
				return banError(ErrCorruptEntry,
					"decode "+op.String(), err)
			}
			return fn(e)
		})
	})
	return wrapDBError("iterate bans", err)
}

// ActiveCount returns the number of entries currently excluding outputs.
func (b *BanList) ActiveCount() (int, error) {
	now := b.clock.Now()

	var n int
	err := b.ForEach(func(e *Entry) error {
		if e.IsActive(now, b.cfg.BanDuration) {
			n++
		}
		return nil
	})
	return n, err
}

// wrapDBError passes typed errors through and wraps anything else as a
// database error.
func wrapDBError(desc string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(Error); ok {
		return err
	}
	return banError(ErrDatabase, desc, err)
}

func pickVerb(noted bool) string {
	if noted {
		return "noted"
	}
	return "banned"
}
