package onchain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

const (
	testKey       = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testCondition = "0xab000000000000000000000000000000000000000000000000000000000000cd"
)

// fakeBackend records sent transactions and answers reads from fields.
type fakeBackend struct {
	mu       sync.Mutex
	sent     []*types.Transaction
	sendErr  error
	nonce    uint64
	receipts map[common.Hash]*types.Receipt
	pending  map[common.Hash]bool
	callOut  []byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		receipts: make(map[common.Hash]*types.Receipt),
		pending:  make(map[common.Hash]bool),
	}
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return f.callOut, nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(50_000_000_000), nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeBackend) TransactionByHash(ctx context.Context, h common.Hash) (*types.Transaction, bool, error) {
	p, ok := f.pending[h]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return types.NewTx(&types.LegacyTx{}), p, nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func newTestSettlement(t *testing.T) (*SettlementClient, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend()
	sc, err := newSettlementClient(fb, testKey)
	require.NoError(t, err)
	return sc, fb
}

func TestSubmitMerge_PacksCTFCall(t *testing.T) {
	sc, fb := newTestSettlement(t)

	txID, err := sc.SubmitMerge(context.Background(), testCondition, decimal.RequireFromString("12.5"), false)
	require.NoError(t, err)
	require.Len(t, fb.sent, 1)

	tx := fb.sent[0]
	assert.Equal(t, tx.Hash().Hex(), txID)
	assert.Equal(t, common.HexToAddress(ctfAddress), *tx.To())
	assert.Equal(t, uint64(120_000), tx.Gas(), "estimate plus 20%")
	assert.Equal(t, "55000000000", tx.GasPrice().String(), "suggested plus 10%")

	method := ctfABI.Methods["mergePositions"]
	assert.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(usdcEAddress), args[0])
	partition := args[3].([]*big.Int)
	require.Len(t, partition, 2)
	assert.Equal(t, "1", partition[0].String())
	assert.Equal(t, "2", partition[1].String())
	assert.Equal(t, "12500000", args[4].(*big.Int).String())
}

func TestSubmitMerge_NegRiskUsesAdapter(t *testing.T) {
	sc, fb := newTestSettlement(t)

	_, err := sc.SubmitMerge(context.Background(), testCondition, decimal.NewFromInt(3), true)
	require.NoError(t, err)
	require.Len(t, fb.sent, 1)
	assert.Equal(t, common.HexToAddress(negRiskAdapter), *fb.sent[0].To())
	assert.Equal(t, negRiskABI.Methods["mergePositions"].ID, fb.sent[0].Data()[:4])
}

func TestSubmitMerge_Errors(t *testing.T) {
	t.Run("bad condition id", func(t *testing.T) {
		sc, _ := newTestSettlement(t)
		_, err := sc.SubmitMerge(context.Background(), "0x1234", decimal.NewFromInt(1), false)
		assert.ErrorIs(t, err, domain.ErrIrrecoverable)
	})

	t.Run("dust amount", func(t *testing.T) {
		sc, fb := newTestSettlement(t)
		_, err := sc.SubmitMerge(context.Background(), testCondition, decimal.RequireFromString("0.0000001"), false)
		assert.ErrorIs(t, err, domain.ErrPrecondition)
		assert.Empty(t, fb.sent)
	})

	t.Run("send timeout keeps the hash", func(t *testing.T) {
		sc, fb := newTestSettlement(t)
		fb.sendErr = context.DeadlineExceeded
		txID, err := sc.SubmitMerge(context.Background(), testCondition, decimal.NewFromInt(1), false)
		assert.ErrorIs(t, err, domain.ErrUnknownOutcome)
		assert.True(t, strings.HasPrefix(txID, "0x"))
	})

	t.Run("node rejection", func(t *testing.T) {
		sc, fb := newTestSettlement(t)
		fb.sendErr = errors.New("insufficient funds for gas")
		txID, err := sc.SubmitMerge(context.Background(), testCondition, decimal.NewFromInt(1), false)
		assert.ErrorIs(t, err, domain.ErrTransient)
		assert.Empty(t, txID)
	})
}

func TestSubmitRedeem(t *testing.T) {
	sc, fb := newTestSettlement(t)

	_, err := sc.SubmitRedeem(context.Background(), testCondition, false)
	require.NoError(t, err)
	require.Len(t, fb.sent, 1)
	assert.Equal(t, ctfABI.Methods["redeemPositions"].ID, fb.sent[0].Data()[:4])

	_, err = sc.SubmitRedeem(context.Background(), testCondition, true)
	assert.ErrorIs(t, err, domain.ErrIrrecoverable)
}

func TestTxStatus(t *testing.T) {
	sc, fb := newTestSettlement(t)
	ok := common.HexToHash("0x01")
	reverted := common.HexToHash("0x02")
	mempool := common.HexToHash("0x03")
	dropped := common.HexToHash("0x04")
	fb.receipts[ok] = &types.Receipt{Status: types.ReceiptStatusSuccessful}
	fb.receipts[reverted] = &types.Receipt{Status: types.ReceiptStatusFailed}
	fb.pending[mempool] = true

	tests := []struct {
		hash common.Hash
		want domain.TxStatus
	}{
		{ok, domain.TxConfirmed},
		{reverted, domain.TxFailed},
		{mempool, domain.TxPending},
		{dropped, domain.TxFailed},
	}
	for _, tt := range tests {
		got, err := sc.TxStatus(context.Background(), tt.hash.Hex())
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.hash.Hex())
	}
}

func TestPositionBalance(t *testing.T) {
	sc, fb := newTestSettlement(t)
	out, err := erc1155ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(7_250_000))
	require.NoError(t, err)
	fb.callOut = out

	bal, err := sc.PositionBalance(context.Background(), "123456789")
	require.NoError(t, err)
	assert.Equal(t, "7.25", bal.String())

	_, err = sc.PositionBalance(context.Background(), "not-a-number")
	assert.ErrorIs(t, err, domain.ErrIrrecoverable)
}
