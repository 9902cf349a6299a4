// Command examples walks through the SDK against the public Lestnet
// endpoints: wallet creation, faucet funding, balance lookup and a transfer.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lestnet-sdk/sdk/go/lestnet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	wallet, err := lestnet.CreateRandomWallet()
	if err != nil {
		return err
	}
	fmt.Printf("1. created wallet %s\n   mnemonic: %s\n", wallet.Address().Hex(), wallet.Mnemonic())

	client, err := lestnet.Dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	snap, err := client.Snapshot(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("2. connected to %s: chain id %s, block %d\n", snap.Network, snap.ChainID, snap.BlockNumber)

	hash, err := lestnet.TopUpFromFaucet(ctx, wallet.Address().Hex())
	if err != nil {
		return err
	}
	fmt.Printf("3. faucet transaction %s\n", hash)

	balance, err := client.Balance(ctx, wallet.Address().Hex())
	if err != nil {
		return err
	}
	display, err := lestnet.FormatDisplay(balance)
	if err != nil {
		return err
	}
	fmt.Printf("4. balance %s\n", display)

	recovered, err := lestnet.CreateWalletFromMnemonic(wallet.Mnemonic())
	if err != nil {
		return err
	}
	fmt.Printf("5. recovered %s, matches: %t\n", recovered.Address().Hex(), recovered.Address() == wallet.Address())

	value, err := lestnet.ToSmallestUnit("0.1")
	if err != nil {
		return err
	}
	to := common.HexToAddress("0x1234567890123456789012345678901234567890")
	receipt, err := client.SendTx(ctx, lestnet.TransactionRequest{To: &to, Value: value}, wallet)
	if err != nil {
		return err
	}
	amount, _ := lestnet.ToDisplayUnit(value)
	fmt.Printf("6. sent %s LETH in %s (block %s)\n", amount, receipt.TxHash.Hex(), receipt.BlockNumber)
	return nil
}
