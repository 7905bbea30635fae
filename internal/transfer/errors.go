package transfer

import (
	"errors"
	"fmt"

	"solana-custody-bot/internal/confirm"
)

var (
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrInvalidDestination  = errors.New("invalid destination")
	ErrInvalidAsset        = errors.New("invalid asset")
	ErrSubmissionRejected  = errors.New("submission rejected")
	ErrTransferTimeout     = errors.New("transfer timed out")
	ErrInsufficientReserve = errors.New("insufficient reserve")
	// ErrBelowRentMinimum means a native transfer would create a destination
	// account holding less than the rent-exempt minimum
	ErrBelowRentMinimum = errors.New("amount below rent-exempt minimum for a new account")
	// ErrAlreadySubmitted means the idempotency key is in flight or was used
	// by submissions that have not been seen to land
	ErrAlreadySubmitted = errors.New("transfer already submitted")

	// Shared with the confirmation poller
	ErrRejected              = confirm.ErrRejected
	ErrConfirmationExhausted = confirm.ErrConfirmationExhausted
)

// Error is a typed transfer failure. Receipt is set once anything was broadcast,
// since the ledger may have been mutated even though the call failed.
type Error struct {
	Kind    error
	Receipt *Receipt
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is/As
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func fail(kind error, receipt *Receipt, cause error) *Error {
	return &Error{Kind: kind, Receipt: receipt, Err: cause}
}
