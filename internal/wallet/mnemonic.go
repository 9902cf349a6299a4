package wallet

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"

	xerrors "lestnet-sdk/internal/errors"
)

// entropyBits yields a 12 word phrase.
const entropyBits = 128

// CreateRandom generates a fresh mnemonic and derives its first account.
func CreateRandom() (*Wallet, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "generate entropy")
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "encode mnemonic")
	}
	return CreateFromMnemonic(phrase)
}

// CreateFromMnemonic derives the account at DefaultPath.
func CreateFromMnemonic(phrase string) (*Wallet, error) {
	return CreateFromMnemonicPath(phrase, DefaultPath)
}

// CreateFromMnemonicPath derives the account at path. The same phrase and
// path always yield the same key.
func CreateFromMnemonicPath(phrase, path string) (*Wallet, error) {
	normalized := normalizeMnemonic(phrase)
	seed, err := bip39.NewSeedWithErrorChecking(normalized, "")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidMnemonic, err, ErrInvalidMnemonic.Message())
	}
	derivation, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidMnemonic, err, "derive master key")
	}
	for _, index := range derivation {
		key, err = key.Derive(index)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "derive child key")
		}
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "extract private key")
	}
	return newWallet(priv.ToECDSA(), normalized, derivation.String()), nil
}

func normalizeMnemonic(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}
