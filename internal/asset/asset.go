package asset

import (
	"errors"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

// NativeSymbol identifies the chain's native coin (lamports)
const NativeSymbol = "SOL"

// WrappedSOLMint is the SPL mint that wraps native SOL. It resolves to an SPL
// asset: withdrawing it moves token accounts, not lamports.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

var (
	// ErrInvalidAddress is returned when a string is not a 32-byte base58 account key
	ErrInvalidAddress = errors.New("invalid account address")
	// ErrUnknownAsset is returned when an asset name cannot be resolved to a mint
	ErrUnknownAsset = errors.New("unknown asset")
)

// O(1) Base58 lookup table
var base58Set = func() [256]bool {
	var set [256]bool
	const base58Chars = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	for i := 0; i < len(base58Chars); i++ {
		set[base58Chars[i]] = true
	}
	return set
}()

// ID identifies a transferable asset: the native coin or an SPL mint
type ID struct {
	Mint string // empty for native
}

// Native returns the native coin identifier
func Native() ID { return ID{} }

// IsNative reports whether the asset is the chain's native coin
func (a ID) IsNative() bool { return a.Mint == "" }

func (a ID) String() string {
	if a.IsNative() {
		return NativeSymbol
	}
	return a.Mint
}

// Resolver maps user input (symbol, alias or mint) to an asset ID
type Resolver struct {
	aliases map[string]string // upper-case symbol -> mint
}

// NewResolver creates a resolver with optional symbol aliases
func NewResolver(aliases map[string]string) *Resolver {
	r := &Resolver{aliases: make(map[string]string, len(aliases))}
	for k, v := range aliases {
		r.aliases[strings.ToUpper(k)] = v
	}
	return r
}

// Resolve returns the asset for a symbol or mint address
// Priority:
// 1. Native symbol (SOL) or empty input
// 2. Mint already provided (passthrough, wSOL included)
// 3. Alias lookup
func (r *Resolver) Resolve(input string) (ID, error) {
	input = strings.TrimSpace(input)
	if strings.EqualFold(input, NativeSymbol) || input == "" {
		return Native(), nil
	}

	if ValidAddress(input) {
		return ID{Mint: input}, nil
	}

	if mint, ok := r.aliases[strings.ToUpper(input)]; ok {
		log.Debug().Str("symbol", input).Str("mint", mint).Msg("asset resolved from alias")
		return ID{Mint: mint}, nil
	}

	return ID{}, ErrUnknownAsset
}

// ValidAddress reports whether s decodes to a 32-byte account key
func ValidAddress(s string) bool {
	if len(s) < 32 || len(s) > 44 || !isValidBase58(s) {
		return false
	}
	raw, err := base58.Decode(s)
	return err == nil && len(raw) == 32
}

func isValidBase58(s string) bool {
	for i := 0; i < len(s); i++ {
		if !base58Set[s[i]] {
			return false
		}
	}
	return true
}
