package tx

import (
	"context"
	"math/big"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"lestnet-sdk/internal/network"
	"lestnet-sdk/internal/retry"
	"lestnet-sdk/internal/wallet"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeBackend struct {
	mu sync.Mutex

	pendingNonce   uint64
	tip            *big.Int
	baseFee        *big.Int
	gas            uint64
	maxPriorityFee *big.Int
	pendingPolls   int

	// strictNonces only mines a transaction once every lower nonce from
	// pendingNonce has been accepted, like a real pool.
	strictNonces bool
	// pollsFor overrides pendingPolls per transaction.
	pollsFor func(tx *types.Transaction) int

	sendErr  func(tx *types.Transaction) error
	reverted func(tx *types.Transaction) bool

	sent          map[common.Hash]*types.Transaction
	order         []common.Hash
	polls         map[common.Hash]int
	confirmed     []common.Hash
	sendCalls     int
	rawCalls      int
	estimateCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		pendingNonce:   5,
		tip:            big.NewInt(2_000_000_000),
		baseFee:        big.NewInt(7_000_000_000),
		gas:            21_000,
		maxPriorityFee: big.NewInt(3_000_000_000),
		sent:           make(map[common.Hash]*types.Transaction),
		polls:          make(map[common.Hash]int),
	}
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingNonce, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.tip), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(99), BaseFee: new(big.Int).Set(f.baseFee)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	f.mu.Lock()
	f.estimateCalls++
	f.mu.Unlock()
	return f.gas, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		if err := f.sendErr(tx); err != nil {
			if err.Error() == "already known" {
				f.accept(tx)
			}
			return err
		}
	}
	f.accept(tx)
	return nil
}

func (f *fakeBackend) accept(tx *types.Transaction) {
	if _, ok := f.sent[tx.Hash()]; !ok {
		f.order = append(f.order, tx.Hash())
	}
	f.sent[tx.Hash()] = tx
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.sent[hash]
	if !ok {
		return nil, gethcore.NotFound
	}
	if f.strictNonces && !f.gapless(tx.Nonce()) {
		return nil, gethcore.NotFound
	}
	wait := f.pendingPolls
	if f.pollsFor != nil {
		wait = f.pollsFor(tx)
	}
	if f.polls[hash] < wait {
		f.polls[hash]++
		return nil, gethcore.NotFound
	}
	if f.polls[hash] == wait {
		f.polls[hash]++
		f.confirmed = append(f.confirmed, hash)
	}
	status := types.ReceiptStatusSuccessful
	if f.reverted != nil && f.reverted(tx) {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{
		Type:        tx.Type(),
		Status:      status,
		TxHash:      hash,
		GasUsed:     tx.Gas(),
		BlockNumber: big.NewInt(100),
	}, nil
}

// gapless reports whether every nonce below nonce has been accepted.
func (f *fakeBackend) gapless(nonce uint64) bool {
	have := make(map[uint64]bool, len(f.sent))
	for _, tx := range f.sent {
		have[tx.Nonce()] = true
	}
	for n := f.pendingNonce; n < nonce; n++ {
		if !have[n] {
			return false
		}
	}
	return true
}

func (f *fakeBackend) confirmedOrder() []common.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.Hash(nil), f.confirmed...)
}

func (f *fakeBackend) CallContext(_ context.Context, result any, method string, _ ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawCalls++
	if method != "eth_maxPriorityFeePerGas" {
		return gethcore.NotFound
	}
	out := result.(*hexutil.Big)
	*out = hexutil.Big(*new(big.Int).Set(f.maxPriorityFee))
	return nil
}

func (f *fakeBackend) txByHash(hash common.Hash) *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[hash]
}

func testWallet(t interface{ Fatalf(string, ...any) }) *wallet.Wallet {
	w, err := wallet.FromPrivateKey(testKey)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return w
}

func newTestSubmitter(backend Backend, opts ...Option) *Submitter {
	base := []Option{
		WithPollInterval(time.Millisecond),
		WithRetry(retry.WithInitialDelay(time.Millisecond), retry.WithMaxDelay(time.Millisecond)),
	}
	return NewSubmitter(backend, network.Default(), append(base, opts...)...)
}

func addr(hex string) *common.Address {
	a := common.HexToAddress(hex)
	return &a
}
