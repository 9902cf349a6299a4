// Package wallet creates signing credentials from fresh entropy, BIP-39
// mnemonics or raw private keys. Credentials live in memory only.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "lestnet-sdk/internal/errors"
)

// DefaultPath is the first account of the standard Ethereum derivation.
const DefaultPath = "m/44'/60'/0'/0/0"

var (
	// ErrInvalidMnemonic reports a phrase with unknown words, a bad checksum or
	// an unsupported length.
	ErrInvalidMnemonic = xerrors.New(xerrors.CodeInvalidMnemonic, "")
	// ErrInvalidPrivateKey reports key material that is not a valid secp256k1 scalar.
	ErrInvalidPrivateKey = xerrors.New(xerrors.CodeInvalidPrivateKey, "")
	// ErrMissingCredential is returned by GetWallet when no credential is given.
	ErrMissingCredential = xerrors.New(xerrors.CodeMissingCredential, "")
)

// Wallet is an in-memory signing credential.
type Wallet struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	mnemonic string
	path     string
}

func newWallet(key *ecdsa.PrivateKey, mnemonic, path string) *Wallet {
	return &Wallet{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		mnemonic: mnemonic,
		path:     path,
	}
}

// Address returns the account address.
func (w *Wallet) Address() common.Address { return w.address }

// PrivateKey returns the signing key.
func (w *Wallet) PrivateKey() *ecdsa.PrivateKey { return w.key }

// PrivateKeyHex returns the key as 0x-prefixed hex.
func (w *Wallet) PrivateKeyHex() string {
	return "0x" + common.Bytes2Hex(crypto.FromECDSA(w.key))
}

// Mnemonic returns the phrase the wallet was derived from, if any.
func (w *Wallet) Mnemonic() string { return w.mnemonic }

// Path returns the derivation path, empty for raw-key wallets.
func (w *Wallet) Path() string { return w.path }

// Signer returns the latest signer for chainID.
func (w *Wallet) Signer(chainID *big.Int) types.Signer {
	return types.LatestSignerForChainID(chainID)
}

// SignTx signs tx for chainID.
func (w *Wallet) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, w.Signer(chainID), w.key)
}

// Transactor returns binding options for contract interaction.
func (w *Wallet) Transactor(chainID *big.Int) (*bind.TransactOpts, error) {
	return bind.NewKeyedTransactorWithChainID(w.key, chainID)
}

// String never prints key material.
func (w *Wallet) String() string {
	return fmt.Sprintf("Wallet(%s)", w.address.Hex())
}

// FromPrivateKey parses a hex key, with or without 0x prefix.
func FromPrivateKey(hexKey string) (*Wallet, error) {
	trimmed := strings.TrimSpace(hexKey)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidPrivateKey, err, ErrInvalidPrivateKey.Message())
	}
	return newWallet(key, "", ""), nil
}

// Options selects the credential used by GetWallet.
type Options struct {
	Mnemonic   string `yaml:"mnemonic" json:"mnemonic,omitempty"`
	PrivateKey string `yaml:"private_key" json:"privateKey,omitempty"`
	Path       string `yaml:"path" json:"path,omitempty"`
}

// GetWallet builds a wallet from opts. A private key takes precedence over a
// mnemonic when both are present.
func GetWallet(opts Options) (*Wallet, error) {
	if strings.TrimSpace(opts.PrivateKey) != "" {
		return FromPrivateKey(opts.PrivateKey)
	}
	if strings.TrimSpace(opts.Mnemonic) != "" {
		if opts.Path != "" {
			return CreateFromMnemonicPath(opts.Mnemonic, opts.Path)
		}
		return CreateFromMnemonic(opts.Mnemonic)
	}
	return nil, ErrMissingCredential
}

// parsePath accepts the "m/44'/60'/..." notation.
func parsePath(path string) (accounts.DerivationPath, error) {
	parsed, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid derivation path")
	}
	return parsed, nil
}
