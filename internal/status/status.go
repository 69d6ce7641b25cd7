package status

import "errors"

// Ledger state errors. These are authoritative rejections from the escrow
// ledger program; callers recover by choosing a different action, never by
// retrying the same one.
var (
	ErrLedgerNotConfigured     = errors.New("ledger: not configured")
	ErrAlreadyConfigured       = errors.New("ledger: queue already configured for marketplace")
	ErrThresholdNotMet         = errors.New("ledger: threshold not met")
	ErrWindowExpired           = errors.New("ledger: time window expired")
	ErrWindowAlreadyExpired    = errors.New("ledger: join rejected, time window already expired")
	ErrAlreadyTriggered        = errors.New("ledger: queue already triggered")
	ErrNoEscrowToRefund        = errors.New("ledger: no escrow to refund")
	ErrRefundWindowStillOpen   = errors.New("ledger: refund rejected, time window still open")
	ErrRefundAfterThresholdMet = errors.New("ledger: refund rejected, threshold was met")
)

// Economic invariant errors, rejected before any transaction is built.
var (
	ErrInsufficientPayment = errors.New("economics: payment does not cover base cost")
	ErrInvalidAmount       = errors.New("economics: amount must be positive")
	ErrBatchTooLarge       = errors.New("economics: too many assets in one batch")
)

// Configuration errors are fatal deploy-parameter problems.
var (
	ErrInvalidThreshold  = errors.New("config: threshold must be positive")
	ErrInvalidCosts      = errors.New("config: effective cost must be below base cost")
	ErrInvalidTimeWindow = errors.New("config: time window must be positive")
	ErrInvalidAddress    = errors.New("config: malformed address")
)

// Submission and fan-out errors.
var (
	ErrLedgerUnavailable = errors.New("ledger: node unavailable")
	ErrTxnNotFound       = errors.New("ledger: transaction not found")
	ErrBadSignature      = errors.New("ledger: signature verification failed")
	ErrAlreadyMinted     = errors.New("mint: asset already minted")
	ErrMintInterrupted   = errors.New("mint: fan-out interrupted before completion")
)

// IsRefundRejection reports whether err is one of the refund precondition
// failures that the caller must be able to tell apart.
func IsRefundRejection(err error) bool {
	return errors.Is(err, ErrNoEscrowToRefund) ||
		errors.Is(err, ErrRefundWindowStillOpen) ||
		errors.Is(err, ErrRefundAfterThresholdMet)
}

// IsTransient reports whether err is a submission failure worth retrying
// with backoff. Ledger state rejections are never transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable)
}
