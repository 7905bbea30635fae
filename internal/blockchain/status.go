package blockchain

import (
	"context"

	"solana-custody-bot/internal/confirm"
)

// SignatureSource is satisfied by *RPCClient
type SignatureSource interface {
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)
}

// StatusLookup adapts getSignatureStatuses to the confirmation poller
func StatusLookup(src SignatureSource) confirm.StatusFunc {
	return func(ctx context.Context, signature string) (confirm.Status, error) {
		statuses, err := src.GetSignatureStatuses(ctx, []string{signature})
		if err != nil {
			return confirm.Status{}, err
		}
		if len(statuses) == 0 || statuses[0] == nil {
			return confirm.Status{}, nil
		}
		return ToConfirmStatus(statuses[0]), nil
	}
}

// ToConfirmStatus converts one RPC status entry; nil means not found
func ToConfirmStatus(s *SignatureStatus) confirm.Status {
	if s == nil {
		return confirm.Status{}
	}
	return confirm.Status{
		Found:      true,
		Err:        s.Err,
		Slot:       s.Slot,
		Commitment: s.ConfirmationStatus,
	}
}
