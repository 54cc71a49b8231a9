package chain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/pkg/unit"
	"github.com/stretchr/testify/mock"
)

// mockBackend is a mock implementation of the Backend interface.
type mockBackend struct {
	mock.Mock
}

// A compile-time assertion to ensure mockBackend meets the Backend interface.
var _ Backend = (*mockBackend)(nil)

func (m *mockBackend) GetTxOut(op wire.OutPoint) (*UtxoInfo, error) {
	args := m.Called(op)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*UtxoInfo), args.Error(1)
}

func (m *mockBackend) RawMempool() ([]chainhash.Hash, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]chainhash.Hash), args.Error(1)
}

func (m *mockBackend) GetRawTransaction(
	hash chainhash.Hash) (*wire.MsgTx, error) {

	args := m.Called(hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wire.MsgTx), args.Error(1)
}

func (m *mockBackend) EstimateFeeRate(
	confTarget uint32) (unit.SatPerKVByte, error) {

	args := m.Called(confTarget)
	return args.Get(0).(unit.SatPerKVByte), args.Error(1)
}

func (m *mockBackend) PublishTransaction(tx *wire.MsgTx) error {
	args := m.Called(tx)
	return args.Error(0)
}
