// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package joinrpc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/coinjoin"
	"google.golang.org/grpc/metadata"
)

// BannedInputsKey is the trailer key listing the banned inputs of a
// rejected registration. Each value is "txid:index=unix-seconds".
const BannedInputsKey = "x-banned-inputs"

// BannedInput is a rejected input and the time its ban expires.
type BannedInput struct {
	OutPoint    wire.OutPoint
	BannedUntil time.Time
}

// BannedInputsTrailer encodes banned inputs as trailer metadata.
func BannedInputsTrailer(banned []BannedInput) metadata.MD {
	values := make([]string, len(banned))
	for i, b := range banned {
		values[i] = fmt.Sprintf("%v=%d", b.OutPoint,
			b.BannedUntil.Unix())
	}
	return metadata.MD{BannedInputsKey: values}
}

// ParseBannedInputs decodes the banned inputs in trailer md.
func ParseBannedInputs(md metadata.MD) ([]BannedInput, error) {
	values := md.Get(BannedInputsKey)

	banned := make([]BannedInput, 0, len(values))
	for _, v := range values {
		opStr, untilStr, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("malformed banned input %q", v)
		}

		op, err := coinjoin.ParseOutPoint(opStr)
		if err != nil {
			return nil, err
		}
		until, err := strconv.ParseInt(untilStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed ban expiry %q: %w",
				untilStr, err)
		}

		banned = append(banned, BannedInput{
			OutPoint:    op,
			BannedUntil: time.Unix(until, 0),
		})
	}

	return banned, nil
}
