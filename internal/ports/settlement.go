package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// Settlement submits on-chain merge and redeem transactions.
type Settlement interface {
	// SubmitMerge sends a merge of amount full sets and returns without
	// waiting for the receipt. A send that timed out returns the tx id
	// together with an error wrapping domain.ErrUnknownOutcome.
	SubmitMerge(ctx context.Context, conditionID string, amount decimal.Decimal, negRisk bool) (txID string, err error)

	// SubmitRedeem redeems every resolved position of the condition.
	SubmitRedeem(ctx context.Context, conditionID string, negRisk bool) (txID string, err error)

	TxStatus(ctx context.Context, txID string) (domain.TxStatus, error)

	// PositionBalance returns the wallet's ERC-1155 balance of tokenID in shares.
	PositionBalance(ctx context.Context, tokenID string) (decimal.Decimal, error)
}
