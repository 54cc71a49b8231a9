// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// mempool is our view of the node's mempool. The boolean in the txs map marks
// the transactions still present during a refresh; unmarked ones are dropped
// once the refresh completes.
type mempool struct {
	sync.RWMutex

	txs map[chainhash.Hash]bool
}

// newMempool creates a new mempool object.
func newMempool() *mempool {
	return &mempool{
		txs: make(map[chainhash.Hash]bool),
	}
}

// containsTx returns true if the given transaction hash is already in our
// mempool.
func (m *mempool) containsTx(hash chainhash.Hash) bool {
	m.RLock()
	defer m.RUnlock()

	_, ok := m.txs[hash]
	return ok
}

// add inserts the given hash into our mempool and marks it to indicate that it
// should not be deleted.
func (m *mempool) add(hash chainhash.Hash) {
	m.Lock()
	defer m.Unlock()

	m.txs[hash] = true
}

// unmarkAll un-marks all the transactions in the mempool. This should be done
// just before we re-evaluate the contents of our local mempool compared to the
// chain backend's mempool.
func (m *mempool) unmarkAll() {
	m.Lock()
	defer m.Unlock()

	for hash := range m.txs {
		m.txs[hash] = false
	}
}

// mark marks the transaction of the given hash to indicate that it is still
// present in the chain backend's mempool.
func (m *mempool) mark(hash chainhash.Hash) {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.txs[hash]; !ok {
		return
	}

	m.txs[hash] = true
}

// deleteUnmarked removes all the unmarked transactions from our local mempool
// and returns how many were removed.
func (m *mempool) deleteUnmarked() int {
	m.Lock()
	defer m.Unlock()

	var n int
	for hash, marked := range m.txs {
		if marked {
			continue
		}

		delete(m.txs, hash)
		n++
	}

	return n
}

// txids returns a snapshot of the transactions in the mempool.
func (m *mempool) txids() []chainhash.Hash {
	m.RLock()
	defer m.RUnlock()

	ids := make([]chainhash.Hash, 0, len(m.txs))
	for hash := range m.txs {
		ids = append(ids, hash)
	}
	return ids
}
