package executor

import (
	"context"

	"github.com/shopspring/decimal"
)

// Receipt captures the outcome of a confirmed transfer submission.
type Receipt struct {
	TxHash string
}

// Submitter is the settlement boundary the kernel talks to. Submit sends
// exactly one transfer for the canonical recipient and amount and returns
// after one on-chain confirmation. Implementations own the signing
// identity and must serialize concurrent submissions sufficiently to
// avoid nonce conflicts.
type Submitter interface {
	Submit(ctx context.Context, recipient string, amount decimal.Decimal) (Receipt, error)
}
