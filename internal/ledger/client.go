package ledger

import "context"

// Client abstracts the node interaction for the escrow queue program. The
// implementation must apply submitted transactions in a single linearized
// order; that ordering is the only serialization point in the system.
type Client interface {
	// SuggestedParams returns validity and fee parameters for a new
	// transaction.
	SuggestedParams(ctx context.Context) (Params, error)

	// Submit broadcasts a signed transaction and returns its id. Ledger
	// state rejections surface here as the program's own errors.
	Submit(ctx context.Context, stx SignedTransaction) (string, error)

	// WaitForConfirmation blocks until the transaction is confirmed or ctx
	// is done.
	WaitForConfirmation(ctx context.Context, txID string) (Receipt, error)

	// QueueStatus is the read-only status query. It never mutates state.
	QueueStatus(ctx context.Context, instanceID string) (Status, error)
}
