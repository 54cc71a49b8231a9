// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// CoinJoinLog is the append-only log of the coinjoins the coordinator
// published, one txid per line.
type CoinJoinLog struct {
	mu    sync.Mutex
	file  *os.File
	txids []chainhash.Hash
	set   map[chainhash.Hash]struct{}
}

// OpenCoinJoinLog opens or creates the log at path and loads its entries.
// Lines that do not parse as txids are skipped.
func OpenCoinJoinLog(path string) (*CoinJoinLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}

	l := &CoinJoinLog{
		file: f,
		set:  make(map[chainhash.Hash]struct{}),
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		txid, err := chainhash.NewHashFromStr(line)
		if err != nil {
			log.Warnf("Skipping malformed coinjoin log line %q",
				line)
			continue
		}
		l.addLocked(*txid)
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("read coinjoin log: %w", err)
	}

	return l, nil
}

func (l *CoinJoinLog) addLocked(txid chainhash.Hash) bool {
	if _, ok := l.set[txid]; ok {
		return false
	}
	l.set[txid] = struct{}{}
	l.txids = append(l.txids, txid)
	return true
}

// Append records txid. Recording a txid twice has no effect.
func (l *CoinJoinLog) Append(txid chainhash.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.addLocked(txid) {
		return nil
	}

	_, err := l.file.WriteString(txid.String() + "\n")
	if err != nil {
		return err
	}
	return l.file.Sync()
}

// Contains reports whether txid is one of our coinjoins.
func (l *CoinJoinLog) Contains(txid chainhash.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.set[txid]
	return ok
}

// TxIDs returns every logged txid in append order.
func (l *CoinJoinLog) TxIDs() []chainhash.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()

	txids := make([]chainhash.Hash, len(l.txids))
	copy(txids, l.txids)
	return txids
}

// Close closes the underlying file.
func (l *CoinJoinLog) Close() error {
	return l.file.Close()
}
