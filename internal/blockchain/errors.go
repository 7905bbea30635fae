package blockchain

import (
	"errors"
	"strings"
)

// TxError is a chat-friendly rendering of an RPC or transaction failure
type TxError struct {
	Code    int
	Raw     string
	Message string
	Action  string
}

func (e *TxError) Error() string {
	return e.Message
}

var txErrorPatterns = []struct {
	match   string
	message string
	action  string
}{
	{"no record of a prior credit", "❌ INSUFFICIENT BALANCE - Wallet has 0 SOL", "Fund wallet with SOL"},
	{"insufficient funds for rent", "❌ RENT - Account would fall below rent exemption", "Leave more SOL in the wallet"},
	{"insufficient funds", "❌ INSUFFICIENT BALANCE - Not enough SOL for amount + fees", "Add more SOL to wallet"},
	{"insufficient lamports", "❌ INSUFFICIENT BALANCE - Not enough lamports", "Add more SOL to wallet"},
	{"slippage", "❌ SLIPPAGE TOO HIGH - Price moved too much", "Increase slippage in settings"},
	{"already been processed", "⚠️ DUPLICATE - Transaction already landed", "Check history before retrying"},
	{"blockhash not found", "❌ BLOCKHASH EXPIRED - Transaction took too long", "Retry"},
	{"block height exceeded", "❌ TRANSACTION EXPIRED - Blockhash too old", "Retry"},
	{"429", "⚠️ RATE LIMITED - Too many requests", "Wait and retry"},
	{"rate limit", "⚠️ RATE LIMITED - RPC throttled", "Wait 1-2 seconds and retry"},
	{"accountnotfound", "❌ ACCOUNT MISSING - Required account doesn't exist", "Fund the wallet first"},
	{"account not found", "❌ TOKEN ACCOUNT NOT FOUND - You may not own this token", "Check your token balance"},
	{"compute budget exceeded", "❌ OUT OF COMPUTE - Transaction too complex", "Increase compute unit limit"},
	{"custom program error", "❌ PROGRAM ERROR - Program rejected the transaction", "Check logs for the reason"},
	{"connection refused", "❌ RPC CONNECTION FAILED", "Check RPC endpoint"},
	{"timeout", "⚠️ RPC TIMEOUT - Network slow", "Retry"},
	{"simulation failed", "❌ SIMULATION FAILED - Transaction would fail on-chain", "Check logs for the reason"},
}

// ParseTxError converts an RPC error to a human-readable message
func ParseTxError(err error) *TxError {
	if err == nil {
		return nil
	}

	raw := err.Error()
	txErr := &TxError{
		Raw:     raw,
		Message: "❌ TRANSACTION FAILED",
		Action:  "Check raw error",
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		txErr.Code = rpcErr.Code
		// Preflight failures carry the program logs in data
		raw += " " + string(rpcErr.Data)
	}

	lower := strings.ToLower(raw)
	for _, p := range txErrorPatterns {
		if strings.Contains(lower, p.match) {
			txErr.Message = p.message
			txErr.Action = p.action
			break
		}
	}

	return txErr
}

// HumanError returns a human-readable error string
func HumanError(err error) string {
	if err == nil {
		return ""
	}
	return ParseTxError(err).Message
}

// HumanErrorWithAction returns error + suggested action
func HumanErrorWithAction(err error) string {
	if err == nil {
		return ""
	}
	txErr := ParseTxError(err)
	return txErr.Message + " → " + txErr.Action
}
