// Package lestnet is the public Go SDK for the Lestnet chain. It converts
// between LETH and wei, classifies JSON-RPC failures, retries flaky calls,
// builds wallets and submits single or bundled transactions.
package lestnet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"lestnet-sdk/internal/faucet"
	"lestnet-sdk/internal/network"
	"lestnet-sdk/internal/retry"
	"lestnet-sdk/internal/rpcerr"
	"lestnet-sdk/internal/tx"
	"lestnet-sdk/internal/units"
	"lestnet-sdk/internal/wallet"
)

type (
	// Network describes the chain the SDK talks to.
	Network = network.Network
	// Wallet is a signing credential.
	Wallet = wallet.Wallet
	// WalletOptions selects a credential for GetWallet.
	WalletOptions = wallet.Options
	// RetryPolicy is the exponential backoff schedule.
	RetryPolicy = retry.Policy
	// RetryOption adjusts a single WithRetry call.
	RetryOption = retry.Option
	// RPCError is the normalized {code, message} shape.
	RPCError = rpcerr.Error
	// TransactionRequest describes a plain or blob transaction.
	TransactionRequest = tx.Request
	// BundleError reports the failed members of a bundle.
	BundleError = tx.BundleError
	// Receipt is a mined transaction receipt.
	Receipt = types.Receipt
	// NonceSource hands out nonces to submitters.
	NonceSource = tx.NonceSource
	// Journal receives transaction stage events.
	Journal = tx.Journal
	// Event is one transaction stage transition.
	Event = tx.Event
	// FaucetError carries the HTTP status of a rejected faucet request.
	FaucetError = faucet.Error
)

// Error categories, matched with errors.Is.
var (
	ErrParse             = units.ErrParse
	ErrInvalidMnemonic   = wallet.ErrInvalidMnemonic
	ErrInvalidPrivateKey = wallet.ErrInvalidPrivateKey
	ErrMissingCredential = wallet.ErrMissingCredential
	ErrFaucet            = faucet.ErrFaucet
	ErrInvalidAddress    = faucet.ErrInvalidAddress
	ErrInvalidRequest    = tx.ErrInvalidRequest
	ErrReverted          = tx.ErrReverted
	ErrNonceGap          = tx.ErrNonceGap
)

// Retry options.
var (
	WithPolicy         = retry.WithPolicy
	WithMaxAttempts    = retry.WithMaxAttempts
	WithInitialDelay   = retry.WithInitialDelay
	WithMaxDelay       = retry.WithMaxDelay
	WithBackoffFactor  = retry.WithBackoffFactor
	WithRetryCondition = retry.WithRetryIf
)

// DefaultNetwork returns the Lestnet definition.
func DefaultNetwork() Network { return network.Default() }

// DefaultRetryPolicy returns three attempts with 1s, 2s waits capped at 10s.
func DefaultRetryPolicy() RetryPolicy { return retry.DefaultPolicy() }

// ToSmallestUnit converts a LETH amount to wei.
func ToSmallestUnit(amount any) (*big.Int, error) { return units.ToSmallestUnit(amount) }

// ToDisplayUnit converts wei to a LETH decimal string.
func ToDisplayUnit(amount any) (string, error) { return units.ToDisplayUnit(amount) }

// FormatDisplay renders wei as "<amount> LETH".
func FormatDisplay(amount any) (string, error) { return units.FormatDisplay(amount) }

// FormatFiat renders a number as US dollars.
func FormatFiat(amount float64) string { return units.FormatFiat(amount) }

// IsRPCError reports whether v carries a JSON-RPC code and message.
func IsRPCError(v any) bool { return rpcerr.IsRPCError(v) }

// ParseRPCError normalizes v, falling back to {-32603, "Internal error"}.
func ParseRPCError(v any) RPCError { return rpcerr.ParseRPCError(v) }

// WithRetry runs op until it succeeds or the policy is exhausted, returning
// the last error unchanged.
func WithRetry[T any](ctx context.Context, op func(context.Context) (T, error), opts ...RetryOption) (T, error) {
	return retry.Do(ctx, op, opts...)
}

// CreateRandomWallet generates a fresh 12 word mnemonic wallet.
func CreateRandomWallet() (*Wallet, error) { return wallet.CreateRandom() }

// CreateWalletFromMnemonic derives the default account of phrase.
func CreateWalletFromMnemonic(phrase string) (*Wallet, error) {
	return wallet.CreateFromMnemonic(phrase)
}

// GetWallet builds a wallet from a private key or a mnemonic. The private key
// wins when both are set.
func GetWallet(opts WalletOptions) (*Wallet, error) { return wallet.GetWallet(opts) }

// TopUpFromFaucet asks the public faucet to fund address.
func TopUpFromFaucet(ctx context.Context, address string) (string, error) {
	return wallet.TopUpFromFaucet(ctx, address)
}
