// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/ticker"
)

// MempoolWatcher polls the node's mempool on a ticker, keeps the local view
// up to date and hands every newly seen transaction to a callback.
type MempoolWatcher struct {
	backend Backend
	ticker  ticker.Ticker
	onTx    func(*wire.MsgTx)
	mempool *mempool

	started sync.Once
	stopped sync.Once
	wg      sync.WaitGroup
	quit    chan struct{}
}

// NewMempoolWatcher creates a watcher polling backend on every tick. onTx
// may be nil.
func NewMempoolWatcher(backend Backend, t ticker.Ticker,
	onTx func(*wire.MsgTx)) *MempoolWatcher {

	return &MempoolWatcher{
		backend: backend,
		ticker:  t,
		onTx:    onTx,
		mempool: newMempool(),
		quit:    make(chan struct{}),
	}
}

// Start performs an initial poll and begins polling on the ticker.
func (w *MempoolWatcher) Start() error {
	var err error
	w.started.Do(func() {
		if err = w.Poll(); err != nil {
			return
		}

		w.ticker.Resume()

		w.wg.Add(1)
		go w.pollLoop()
	})
	return err
}

// Stop stops polling.
func (w *MempoolWatcher) Stop() {
	w.stopped.Do(func() {
		close(w.quit)
		w.ticker.Stop()
		w.wg.Wait()
	})
}

func (w *MempoolWatcher) pollLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ticker.Ticks():
			if err := w.Poll(); err != nil {
				log.Warnf("Unable to refresh mempool: %v", err)
			}

		case <-w.quit:
			return
		}
	}
}

// Poll refreshes the mempool view once.
func (w *MempoolWatcher) Poll() error {
	txids, err := w.backend.RawMempool()
	if err != nil {
		return err
	}

	w.mempool.unmarkAll()

	for _, txid := range txids {
		if w.mempool.containsTx(txid) {
			w.mempool.mark(txid)
			continue
		}

		tx, err := w.backend.GetRawTransaction(txid)
		if err != nil {
			// The transaction may have been evicted or mined
			// between the two calls.
			log.Debugf("Unable to fetch mempool tx %v: %v", txid,
				err)
			continue
		}

		w.mempool.add(txid)
		if w.onTx != nil {
			w.onTx(tx)
		}
	}

	if n := w.mempool.deleteUnmarked(); n > 0 {
		log.Tracef("Removed %d transactions no longer in the mempool",
			n)
	}

	return nil
}

// TxIDs returns the transactions currently known to be in the mempool.
func (w *MempoolWatcher) TxIDs() []chainhash.Hash {
	return w.mempool.txids()
}

// Contains reports whether txid is in the mempool view.
func (w *MempoolWatcher) Contains(txid chainhash.Hash) bool {
	return w.mempool.containsTx(txid)
}
