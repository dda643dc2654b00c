package onchain

// settlement.go: on-chain merge and redeem through the Conditional Token
// Framework.
//
// mergePositions turns equal YES+NO balances back into USDC.e collateral:
//   100 YES + 100 NO → 100 USDC.e
// redeemPositions pays the winning side of a resolved condition.
//
// Submit* return as soon as the transaction is accepted by the node; the
// engine follows up with TxStatus.

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

const (
	polygonChainID = int64(137)

	// USDC.e collateral on Polygon
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// CTF contract: holds conditional tokens (ERC1155)
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// Exchange contracts that need ERC1155 setApprovalForAll
	normalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	negRiskAdapter  = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"

	// Gas limits used when estimation fails
	mergeGasLimit    = uint64(200_000)
	redeemGasLimit   = uint64(250_000)
	approvalGasLimit = uint64(80_000)

	gasPriceUpdateInterval = 5 * time.Minute
	fallbackGasPriceWei    = 30_000_000_000 // 30 gwei
)

// backend is the subset of ethclient.Client used here.
type backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionSender
	TransactionByHash(ctx context.Context, txHash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// SettlementClient implements ports.Settlement on Polygon.
type SettlementClient struct {
	client     backend
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	// sendMu keeps nonce allocation and send in order.
	sendMu sync.Mutex

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// NewSettlementClient dials the Polygon RPC. privateKeyHex may carry a 0x
// prefix.
func NewSettlementClient(rpcURL, privateKeyHex string) (*SettlementClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("settlement: dial rpc: %w", err)
	}
	return newSettlementClient(client, privateKeyHex)
}

func newSettlementClient(b backend, privateKeyHex string) (*SettlementClient, error) {
	pkBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("settlement: decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(pkBytes)
	if err != nil {
		return nil, fmt.Errorf("settlement: invalid private key: %w", err)
	}
	return &SettlementClient{
		client:     b,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    big.NewInt(polygonChainID),
	}, nil
}

// SubmitMerge merges amount full sets of the condition. Amounts are truncated
// to the token's 6 decimals.
func (sc *SettlementClient) SubmitMerge(ctx context.Context, conditionID string, amount decimal.Decimal, negRisk bool) (string, error) {
	cond, err := hexToBytes32(conditionID)
	if err != nil {
		return "", fmt.Errorf("merge: %w: condition id: %w", domain.ErrIrrecoverable, err)
	}
	raw := toTokenUnits(amount)
	if raw.Sign() <= 0 {
		return "", fmt.Errorf("merge: %w: non-positive amount %s", domain.ErrPrecondition, amount)
	}

	var (
		to       common.Address
		callData []byte
	)
	if negRisk {
		to = common.HexToAddress(negRiskAdapter)
		callData, err = negRiskABI.Pack("mergePositions", cond, raw)
	} else {
		to = common.HexToAddress(ctfAddress)
		callData, err = ctfABI.Pack("mergePositions",
			common.HexToAddress(usdcEAddress),
			[32]byte{},
			cond,
			[]*big.Int{big.NewInt(1), big.NewInt(2)},
			raw,
		)
	}
	if err != nil {
		return "", fmt.Errorf("merge: pack: %w", err)
	}

	txID, err := sc.send(ctx, to, callData, mergeGasLimit)
	if err != nil {
		return txID, fmt.Errorf("merge %s: %w", shortID(conditionID), err)
	}
	slog.Info("merge: transaction sent", "condition", shortID(conditionID), "amount", amount, "tx", txID)
	return txID, nil
}

// SubmitRedeem redeems both index sets of a resolved condition; the CTF
// pays only the winning one. Neg-risk redemption needs per-outcome amounts
// and is not supported.
func (sc *SettlementClient) SubmitRedeem(ctx context.Context, conditionID string, negRisk bool) (string, error) {
	if negRisk {
		return "", fmt.Errorf("redeem %s: %w: neg-risk redemption unsupported", shortID(conditionID), domain.ErrIrrecoverable)
	}
	cond, err := hexToBytes32(conditionID)
	if err != nil {
		return "", fmt.Errorf("redeem: %w: condition id: %w", domain.ErrIrrecoverable, err)
	}
	callData, err := ctfABI.Pack("redeemPositions",
		common.HexToAddress(usdcEAddress),
		[32]byte{},
		cond,
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
	)
	if err != nil {
		return "", fmt.Errorf("redeem: pack: %w", err)
	}

	txID, err := sc.send(ctx, common.HexToAddress(ctfAddress), callData, redeemGasLimit)
	if err != nil {
		return txID, fmt.Errorf("redeem %s: %w", shortID(conditionID), err)
	}
	slog.Info("redeem: transaction sent", "condition", shortID(conditionID), "tx", txID)
	return txID, nil
}

// TxStatus reports the receipt state. A hash the node no longer knows was
// dropped and is reported as failed.
func (sc *SettlementClient) TxStatus(ctx context.Context, txID string) (domain.TxStatus, error) {
	hash := common.HexToHash(txID)
	receipt, err := sc.client.TransactionReceipt(ctx, hash)
	switch {
	case err == nil:
		if receipt.Status == types.ReceiptStatusSuccessful {
			return domain.TxConfirmed, nil
		}
		return domain.TxFailed, nil
	case !errors.Is(err, ethereum.NotFound):
		return "", fmt.Errorf("tx status %s: %w: %w", txID, domain.ErrTransient, err)
	}

	_, pending, err := sc.client.TransactionByHash(ctx, hash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		return domain.TxFailed, nil
	case err != nil:
		return "", fmt.Errorf("tx status %s: %w: %w", txID, domain.ErrTransient, err)
	case pending:
		return domain.TxPending, nil
	}
	// mined but the receipt is not indexed yet
	return domain.TxPending, nil
}

// PositionBalance returns the wallet's CTF balance of tokenID in shares.
func (sc *SettlementClient) PositionBalance(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("balance: %w: bad token id %q", domain.ErrIrrecoverable, tokenID)
	}
	callData, err := erc1155ABI.Pack("balanceOf", sc.address, id)
	if err != nil {
		return decimal.Zero, err
	}
	ctf := common.HexToAddress(ctfAddress)
	out, err := sc.client.CallContract(ctx, ethereum.CallMsg{To: &ctf, Data: callData}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance: %w: %w", domain.ErrTransient, err)
	}
	vals, err := erc1155ABI.Unpack("balanceOf", out)
	if err != nil || len(vals) == 0 {
		return decimal.Zero, fmt.Errorf("balance: unpack: %w", err)
	}
	return decimal.NewFromBigInt(vals[0].(*big.Int), -6), nil
}

// EnsureApprovals checks and sets:
//   - ERC1155 setApprovalForAll for the exchanges and the neg-risk adapter
//   - ERC20 USDC.e allowance for both exchanges (BUY collateral)
//
// Run once at startup; it waits for each approval to be mined.
func (sc *SettlementClient) EnsureApprovals(ctx context.Context) error {
	ctf := common.HexToAddress(ctfAddress)
	for _, op := range []string{normalExchange, negRiskExchange, negRiskAdapter} {
		approved, err := sc.isApprovedForAll(ctx, common.HexToAddress(op))
		if err != nil {
			return fmt.Errorf("check ERC1155 approval for %s: %w", op, err)
		}
		if approved {
			continue
		}
		slog.Info("settlement: setting ERC1155 approval", "operator", op)
		callData, err := erc1155ABI.Pack("setApprovalForAll", common.HexToAddress(op), true)
		if err != nil {
			return err
		}
		if err := sc.sendAndWait(ctx, ctf, callData, approvalGasLimit); err != nil {
			return fmt.Errorf("set ERC1155 approval for %s: %w", op, err)
		}
	}

	usdc := common.HexToAddress(usdcEAddress)
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	minAllowance := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000)) // 1M USDC.e
	for _, ex := range []string{normalExchange, negRiskExchange} {
		allowance, err := sc.erc20Allowance(ctx, usdc, common.HexToAddress(ex))
		if err != nil {
			return fmt.Errorf("check USDC.e allowance for %s: %w", ex, err)
		}
		if allowance.Cmp(minAllowance) >= 0 {
			continue
		}
		slog.Info("settlement: setting USDC.e approval", "exchange", ex)
		callData, err := erc20ABI.Pack("approve", common.HexToAddress(ex), maxUint256)
		if err != nil {
			return err
		}
		if err := sc.sendAndWait(ctx, usdc, callData, approvalGasLimit); err != nil {
			return fmt.Errorf("set USDC.e approval for %s: %w", ex, err)
		}
	}
	return nil
}

// send signs and submits a transaction and returns its hash. A send that
// fails on the context deadline may still have reached the mempool: the hash
// is returned with domain.ErrUnknownOutcome. Other send errors are rejections
// by the node and are reported as transient.
func (sc *SettlementClient) send(ctx context.Context, to common.Address, callData []byte, fallbackGas uint64) (string, error) {
	sc.sendMu.Lock()
	defer sc.sendMu.Unlock()

	nonce, err := sc.client.PendingNonceAt(ctx, sc.address)
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %w", domain.ErrTransient, err)
	}
	gasPrice := sc.gasPrice(ctx)

	gas, err := sc.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     sc.address,
		To:       &to,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		slog.Warn("settlement: gas estimate failed, using default", "err", err, "limit", fallbackGas)
		gas = fallbackGas
	}
	gas = gas * 12 / 10

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(sc.chainID), sc.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	txID := signed.Hash().Hex()

	if err := sc.client.SendTransaction(ctx, signed); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return txID, fmt.Errorf("%w: send tx %s: %w", domain.ErrUnknownOutcome, txID, err)
		}
		return "", fmt.Errorf("%w: send tx: %w", domain.ErrTransient, err)
	}
	return txID, nil
}

func (sc *SettlementClient) sendAndWait(ctx context.Context, to common.Address, callData []byte, gas uint64) error {
	txID, err := sc.send(ctx, to, callData, gas)
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("wait receipt %s: %w", txID, waitCtx.Err())
		case <-ticker.C:
			st, err := sc.TxStatus(waitCtx, txID)
			if err != nil || st == domain.TxPending {
				continue
			}
			if st == domain.TxFailed {
				return fmt.Errorf("tx %s reverted or dropped", txID)
			}
			return nil
		}
	}
}

func (sc *SettlementClient) isApprovedForAll(ctx context.Context, operator common.Address) (bool, error) {
	callData, err := erc1155ABI.Pack("isApprovedForAll", sc.address, operator)
	if err != nil {
		return false, err
	}
	ctf := common.HexToAddress(ctfAddress)
	out, err := sc.client.CallContract(ctx, ethereum.CallMsg{To: &ctf, Data: callData}, nil)
	if err != nil {
		return false, err
	}
	vals, err := erc1155ABI.Unpack("isApprovedForAll", out)
	if err != nil || len(vals) == 0 {
		return false, err
	}
	return vals[0].(bool), nil
}

func (sc *SettlementClient) erc20Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	callData, err := erc20ABI.Pack("allowance", sc.address, spender)
	if err != nil {
		return nil, err
	}
	out, err := sc.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: callData}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(vals) == 0 {
		return big.NewInt(0), err
	}
	return vals[0].(*big.Int), nil
}

// gasPrice returns the suggested price plus 10%, cached for a few minutes.
func (sc *SettlementClient) gasPrice(ctx context.Context) *big.Int {
	sc.mu.RLock()
	cached, updatedAt := sc.cachedGasWei, sc.gasUpdatedAt
	sc.mu.RUnlock()
	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached
	}

	price, err := sc.client.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached
		}
		return big.NewInt(fallbackGasPriceWei)
	}
	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	sc.mu.Lock()
	sc.cachedGasWei = buffered
	sc.gasUpdatedAt = time.Now()
	sc.mu.Unlock()
	return buffered
}

// toTokenUnits converts shares to the 6-decimal on-chain integer.
func toTokenUnits(shares decimal.Decimal) *big.Int {
	return shares.Truncate(6).Shift(6).BigInt()
}

// hexToBytes32 converts a 0x-prefixed hex string to [32]byte.
func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
