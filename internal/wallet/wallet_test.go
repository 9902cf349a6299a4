package wallet

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	testMnemonic = "test test test test test test test test test test test junk"
	testKey      = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress  = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	secondAddr   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func TestCreateFromMnemonicIsDeterministic(t *testing.T) {
	first, err := CreateFromMnemonic(testMnemonic)
	if err != nil {
		t.Fatalf("CreateFromMnemonic: %v", err)
	}
	second, err := CreateFromMnemonic("  Test test TEST test test test test test test test test junk ")
	if err != nil {
		t.Fatalf("CreateFromMnemonic: %v", err)
	}
	if first.Address() != common.HexToAddress(testAddress) {
		t.Fatalf("unexpected address %s", first.Address().Hex())
	}
	if first.Address() != second.Address() {
		t.Fatalf("same phrase produced %s and %s", first.Address().Hex(), second.Address().Hex())
	}
	if first.PrivateKeyHex() != testKey {
		t.Fatalf("unexpected key %s", first.PrivateKeyHex())
	}
	if first.Mnemonic() != testMnemonic || first.Path() != DefaultPath {
		t.Fatalf("unexpected metadata %q %q", first.Mnemonic(), first.Path())
	}
}

func TestCreateFromMnemonicPath(t *testing.T) {
	w, err := CreateFromMnemonicPath(testMnemonic, "m/44'/60'/0'/0/1")
	if err != nil {
		t.Fatalf("CreateFromMnemonicPath: %v", err)
	}
	if w.Address() != common.HexToAddress(secondAddr) {
		t.Fatalf("unexpected address %s", w.Address().Hex())
	}
	if _, err := CreateFromMnemonicPath(testMnemonic, "not/a/path"); err == nil {
		t.Fatal("expected invalid path error")
	}
}

func TestCreateFromMnemonicRejectsMalformed(t *testing.T) {
	for _, phrase := range []string{
		"",
		"test test test",
		"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon",
		"notaword test test test test test test test test test test junk",
	} {
		_, err := CreateFromMnemonic(phrase)
		if !errors.Is(err, ErrInvalidMnemonic) {
			t.Fatalf("phrase %q: expected ErrInvalidMnemonic, got %v", phrase, err)
		}
	}
}

func TestCreateRandom(t *testing.T) {
	w, err := CreateRandom()
	if err != nil {
		t.Fatalf("CreateRandom: %v", err)
	}
	if words := strings.Fields(w.Mnemonic()); len(words) != 12 {
		t.Fatalf("expected 12 words, got %d", len(words))
	}
	again, err := CreateFromMnemonic(w.Mnemonic())
	if err != nil {
		t.Fatalf("re-derive: %v", err)
	}
	if again.Address() != w.Address() {
		t.Fatalf("re-derived %s, want %s", again.Address().Hex(), w.Address().Hex())
	}
	other, err := CreateRandom()
	if err != nil {
		t.Fatalf("CreateRandom: %v", err)
	}
	if other.Address() == w.Address() {
		t.Fatal("two random wallets share an address")
	}
}

func TestFromPrivateKey(t *testing.T) {
	for _, key := range []string{testKey, strings.TrimPrefix(testKey, "0x")} {
		w, err := FromPrivateKey(key)
		if err != nil {
			t.Fatalf("FromPrivateKey(%q): %v", key, err)
		}
		if w.Address() != common.HexToAddress(testAddress) {
			t.Fatalf("unexpected address %s", w.Address().Hex())
		}
		if w.Mnemonic() != "" {
			t.Fatal("raw key wallet should have no mnemonic")
		}
	}
	for _, bad := range []string{"", "0x1234", "zz" + strings.Repeat("0", 62)} {
		if _, err := FromPrivateKey(bad); !errors.Is(err, ErrInvalidPrivateKey) {
			t.Fatalf("key %q: expected ErrInvalidPrivateKey, got %v", bad, err)
		}
	}
}

func TestGetWalletPrecedence(t *testing.T) {
	other, err := CreateFromMnemonicPath(testMnemonic, "m/44'/60'/0'/0/1")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	w, err := GetWallet(Options{Mnemonic: testMnemonic, PrivateKey: other.PrivateKeyHex()})
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if w.Address() != other.Address() {
		t.Fatalf("private key should win, got %s", w.Address().Hex())
	}

	w, err = GetWallet(Options{Mnemonic: testMnemonic})
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if w.Address() != common.HexToAddress(testAddress) {
		t.Fatalf("unexpected mnemonic wallet %s", w.Address().Hex())
	}

	if _, err := GetWallet(Options{}); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestSignTxRecoversSender(t *testing.T) {
	w, err := FromPrivateKey(testKey)
	if err != nil {
		t.Fatalf("FromPrivateKey: %v", err)
	}
	chainID := big.NewInt(21363)
	to := common.HexToAddress(secondAddr)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     1,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(5),
	})
	signed, err := w.SignTx(tx, chainID)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	sender, err := types.Sender(w.Signer(chainID), signed)
	if err != nil {
		t.Fatalf("Sender: %v", err)
	}
	if sender != w.Address() {
		t.Fatalf("recovered %s, want %s", sender.Hex(), w.Address().Hex())
	}
	opts, err := w.Transactor(chainID)
	if err != nil {
		t.Fatalf("Transactor: %v", err)
	}
	if opts.From != w.Address() {
		t.Fatalf("transactor from %s", opts.From.Hex())
	}
	if strings.Contains(w.String(), strings.TrimPrefix(testKey, "0x")) {
		t.Fatal("String leaks key material")
	}
}

type stubFunder struct {
	addresses []string
}

func (s *stubFunder) TopUp(_ context.Context, address string) (string, error) {
	s.addresses = append(s.addresses, address)
	return "0x01", nil
}

func TestTopUpUsesWalletAddress(t *testing.T) {
	w, err := FromPrivateKey(testKey)
	if err != nil {
		t.Fatalf("FromPrivateKey: %v", err)
	}
	funder := &stubFunder{}
	if _, err := w.TopUp(context.Background(), funder); err != nil {
		t.Fatalf("TopUp: %v", err)
	}
	if _, err := TopUpWith(context.Background(), funder, secondAddr); err != nil {
		t.Fatalf("TopUpWith: %v", err)
	}
	if len(funder.addresses) != 2 || funder.addresses[0] != testAddress || funder.addresses[1] != secondAddr {
		t.Fatalf("unexpected funded addresses %v", funder.addresses)
	}
}
