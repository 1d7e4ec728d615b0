// internal/types/interfaces.go
package types

import (
	"context"
)

// ReceiptJournal records purchases that completed on-chain so the local view
// of "purchased" stays in step with the chain.
type ReceiptJournal interface {
	Add(ctx context.Context, receipt *PurchaseReceipt) error
	List(ctx context.Context) ([]*PurchaseReceipt, error)
}
