package chain

import (
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

func txWithLockTime(lockTime uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: lockTime}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	tx.LockTime = lockTime
	return tx
}

// TestMempoolRefresh checks mark and sweep of the local mempool view.
func TestMempoolRefresh(t *testing.T) {
	t.Parallel()

	m := newMempool()
	a, b := chainhash.Hash{1}, chainhash.Hash{2}

	m.add(a)
	m.add(b)
	require.True(t, m.containsTx(a))

	m.unmarkAll()
	m.mark(a)
	m.mark(chainhash.Hash{3})
	require.Equal(t, 1, m.deleteUnmarked())

	require.True(t, m.containsTx(a))
	require.False(t, m.containsTx(b))
	require.False(t, m.containsTx(chainhash.Hash{3}))
	require.Equal(t, []chainhash.Hash{a}, m.txids())
}

// TestMempoolWatcherPoll checks that new transactions are delivered once and
// evicted ones leave the view.
func TestMempoolWatcherPoll(t *testing.T) {
	t.Parallel()

	tx1, tx2 := txWithLockTime(1), txWithLockTime(2)
	h1, h2 := tx1.TxHash(), tx2.TxHash()
	missing := chainhash.Hash{9}

	backend := &mockBackend{}
	backend.On("RawMempool").Return(
		[]chainhash.Hash{h1, missing}, nil,
	).Once()
	backend.On("GetRawTransaction", h1).Return(tx1, nil).Once()
	backend.On("GetRawTransaction", missing).Return(
		nil, errors.New("not found"),
	).Twice()

	var seen []chainhash.Hash
	w := NewMempoolWatcher(backend, ticker.NewForce(time.Hour),
		func(tx *wire.MsgTx) {
			seen = append(seen, tx.TxHash())
		},
	)

	require.NoError(t, w.Poll())
	require.True(t, w.Contains(h1))
	require.False(t, w.Contains(missing))

	backend.On("RawMempool").Return(
		[]chainhash.Hash{h1, h2, missing}, nil,
	).Once()
	backend.On("GetRawTransaction", h2).Return(tx2, nil).Once()
	require.NoError(t, w.Poll())
	require.ElementsMatch(t, []chainhash.Hash{h1, h2}, w.TxIDs())

	backend.On("RawMempool").Return([]chainhash.Hash{h2}, nil).Once()
	require.NoError(t, w.Poll())
	require.Equal(t, []chainhash.Hash{h2}, w.TxIDs())

	require.Equal(t, []chainhash.Hash{h1, h2}, seen)
	backend.AssertExpectations(t)
}

// TestMempoolWatcherTicks checks the watcher polls on forced ticks and stops
// cleanly.
func TestMempoolWatcherTicks(t *testing.T) {
	t.Parallel()

	tx := txWithLockTime(7)
	backend := &mockBackend{}
	backend.On("RawMempool").Return([]chainhash.Hash{}, nil).Once()
	backend.On("RawMempool").Return(
		[]chainhash.Hash{tx.TxHash()}, nil,
	)
	backend.On("GetRawTransaction", tx.TxHash()).Return(tx, nil).Once()

	seen := make(chan chainhash.Hash, 1)
	forceTicker := ticker.NewForce(time.Hour)
	w := NewMempoolWatcher(backend, forceTicker, func(tx *wire.MsgTx) {
		seen <- tx.TxHash()
	})
	require.NoError(t, w.Start())
	require.Empty(t, w.TxIDs())

	forceTicker.Force <- time.Now()

	select {
	case hash := <-seen:
		require.Equal(t, tx.TxHash(), hash)
	case <-time.After(5 * time.Second):
		t.Fatal("transaction not delivered")
	}

	w.Stop()
	w.Stop()
}

// TestMempoolWatcherStartError checks a failing initial poll is reported.
func TestMempoolWatcherStartError(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{}
	backend.On("RawMempool").Return(nil, errors.New("offline"))

	w := NewMempoolWatcher(backend, ticker.NewForce(time.Hour), nil)
	require.Error(t, w.Start())
}
