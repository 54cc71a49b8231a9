// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package banlist

import (
	"bytes"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	severityType tlv.Type = 0
	bannedAtType tlv.Type = 2
	notedType    tlv.Type = 4
	roundIDType  tlv.Type = 6
)

// Entry is the ban record of one unspent output.
type Entry struct {
	OutPoint wire.OutPoint

	// Severity counts the offences of this output and every output it
	// was spent into while banned. Noted entries have severity zero.
	Severity uint32

	// BannedAt is the time of the most recent offence.
	BannedAt time.Time

	// Noted marks a soft ban: the output is not excluded from rounds,
	// but a second offence turns the entry into a real ban.
	Noted bool

	// RoundID is the round the most recent offence happened in.
	RoundID uint64
}

// BannedUntil returns the time the entry stops excluding its output. Each
// level of severity extends the ban by another duration.
func (e *Entry) BannedUntil(duration time.Duration) time.Time {
	if e.Noted {
		return e.BannedAt.Add(duration)
	}
	return e.BannedAt.Add(duration * time.Duration(e.Severity))
}

// IsActive reports whether the entry excludes its output at now.
func (e *Entry) IsActive(now time.Time, duration time.Duration) bool {
	return !e.Noted && now.Before(e.BannedUntil(duration))
}

func (e *Entry) records() (*tlv.Stream, *uint64, *uint8, error) {
	bannedAt := uint64(e.BannedAt.Unix())
	var noted uint8
	if e.Noted {
		noted = 1
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(severityType, &e.Severity),
		tlv.MakePrimitiveRecord(bannedAtType, &bannedAt),
		tlv.MakePrimitiveRecord(notedType, &noted),
		tlv.MakePrimitiveRecord(roundIDType, &e.RoundID),
	)

	return stream, &bannedAt, &noted, err
}

func serializeEntry(e *Entry) ([]byte, error) {
	stream, _, _, err := e.records()
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func deserializeEntry(op wire.OutPoint, v []byte) (*Entry, error) {
	e := &Entry{OutPoint: op}
	stream, bannedAt, noted, err := e.records()
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(bytes.NewReader(v)); err != nil {
		return nil, err
	}

	e.BannedAt = time.Unix(int64(*bannedAt), 0)
	e.Noted = *noted != 0

	return e, nil
}
