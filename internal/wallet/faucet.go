package wallet

import (
	"context"

	"lestnet-sdk/internal/faucet"
)

// Funder requests test funds for an address.
type Funder interface {
	TopUp(ctx context.Context, address string) (string, error)
}

// TopUpFromFaucet funds address through the Lestnet faucet. Transient
// failures are retried with the default policy.
func TopUpFromFaucet(ctx context.Context, address string) (string, error) {
	return TopUpWith(ctx, faucet.NewClient(""), address)
}

// TopUpWith funds address through the given funder.
func TopUpWith(ctx context.Context, funder Funder, address string) (string, error) {
	return funder.TopUp(ctx, address)
}

// TopUp funds the wallet's own address.
func (w *Wallet) TopUp(ctx context.Context, funder Funder) (string, error) {
	return funder.TopUp(ctx, w.address.Hex())
}
