package tx

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestBundleAndSendAssignsContiguousNoncesInOrder(t *testing.T) {
	backend := newFakeBackend()
	backend.pendingPolls = 1
	s := newTestSubmitter(backend)

	reqs := make([]Request, 5)
	for i := range reqs {
		reqs[i] = Request{To: addr(recipient), Value: big.NewInt(int64(i + 1))}
	}
	receipts, err := s.BundleAndSend(context.Background(), reqs, testWallet(t))
	if err != nil {
		t.Fatalf("BundleAndSend: %v", err)
	}
	if len(receipts) != len(reqs) {
		t.Fatalf("expected %d receipts, got %d", len(reqs), len(receipts))
	}
	for i, receipt := range receipts {
		sent := backend.txByHash(receipt.TxHash)
		if sent == nil {
			t.Fatalf("receipt %d does not match a broadcast", i)
		}
		if sent.Value().Int64() != int64(i+1) {
			t.Fatalf("receipt %d belongs to value %s", i, sent.Value())
		}
		if sent.Nonce() != uint64(5+i) {
			t.Fatalf("member %d got nonce %d, want %d", i, sent.Nonce(), 5+i)
		}
	}
}

func TestBundleAndSendMixesBlobAndPlain(t *testing.T) {
	backend := newFakeBackend()
	s := newTestSubmitter(backend)
	reqs := []Request{
		{To: addr(recipient), Value: big.NewInt(1)},
		{To: addr(recipient), BlobHashes: []common.Hash{common.HexToHash("0x01aa")}},
	}
	receipts, err := s.BundleAndSend(context.Background(), reqs, testWallet(t))
	if err != nil {
		t.Fatalf("BundleAndSend: %v", err)
	}
	if backend.txByHash(receipts[0].TxHash).Type() != types.DynamicFeeTxType {
		t.Fatal("first member should be a dynamic fee tx")
	}
	blob := backend.txByHash(receipts[1].TxHash)
	if blob.Type() != types.BlobTxType || blob.BlobGasFeeCap().Cmp(backend.maxPriorityFee) != 0 {
		t.Fatalf("unexpected blob member type %d fee %s", blob.Type(), blob.BlobGasFeeCap())
	}
}

func TestBundleAndSendPartialFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.strictNonces = true
	cause := errors.New("insufficient funds for gas * price + value")
	backend.sendErr = func(tx *types.Transaction) error {
		if tx.Value().Int64() == 2 {
			return cause
		}
		return nil
	}
	s := newTestSubmitter(backend)
	reqs := []Request{
		{To: addr(recipient), Value: big.NewInt(1)},
		{To: addr(recipient), Value: big.NewInt(2)},
		{To: addr(recipient), Value: big.NewInt(3)},
		{BlobHashes: []common.Hash{{1}}},
	}
	receipts, err := s.BundleAndSend(context.Background(), reqs, testWallet(t))

	var bundleErr *BundleError
	if !errors.As(err, &bundleErr) {
		t.Fatalf("expected *BundleError, got %v", err)
	}
	if len(bundleErr.Errs) != len(reqs) {
		t.Fatalf("errors not aligned: %d", len(bundleErr.Errs))
	}
	if bundleErr.Errs[0] != nil {
		t.Fatalf("member below the failure reported %v", bundleErr.Errs[0])
	}
	if bundleErr.Errs[1] != cause {
		t.Fatalf("member 1 error %v, want the node error", bundleErr.Errs[1])
	}
	if !errors.Is(bundleErr.Errs[2], ErrNonceGap) {
		t.Fatalf("member 2 error %v, want ErrNonceGap", bundleErr.Errs[2])
	}
	if !errors.Is(bundleErr.Errs[3], ErrInvalidRequest) {
		t.Fatalf("member 3 error %v, want ErrInvalidRequest", bundleErr.Errs[3])
	}
	if !errors.Is(err, cause) {
		t.Fatal("bundle error should unwrap to member causes")
	}
	if failed := bundleErr.Failed(); len(failed) != 3 || failed[0] != 1 || failed[1] != 2 || failed[2] != 3 {
		t.Fatalf("unexpected failed indexes %v", failed)
	}
	if receipts[0] == nil || receipts[1] != nil || receipts[2] != nil || receipts[3] != nil {
		t.Fatalf("unexpected receipts %v", receipts)
	}
	if got := backend.txByHash(receipts[0].TxHash).Nonce(); got != 5 {
		t.Fatalf("confirmed member has nonce %d, want 5", got)
	}
	for _, tx := range backend.sent {
		if tx.Value().Int64() == 3 {
			t.Fatal("member above the gap must not be broadcast")
		}
	}
}

func TestBundleAndSendGapAllowsResubmission(t *testing.T) {
	backend := newFakeBackend()
	backend.strictNonces = true
	failing := true
	backend.sendErr = func(tx *types.Transaction) error {
		if failing && tx.Value().Int64() == 1 {
			return errors.New("nonce too low")
		}
		return nil
	}
	s := newTestSubmitter(backend)
	w := testWallet(t)
	reqs := []Request{
		{To: addr(recipient), Value: big.NewInt(1)},
		{To: addr(recipient), Value: big.NewInt(2)},
	}
	_, err := s.BundleAndSend(context.Background(), reqs, w)
	var bundleErr *BundleError
	if !errors.As(err, &bundleErr) || !errors.Is(bundleErr.Errs[1], ErrNonceGap) {
		t.Fatalf("expected the second member to be held back, got %v", err)
	}

	backend.mu.Lock()
	failing = false
	backend.mu.Unlock()
	receipts, err := s.BundleAndSend(context.Background(), reqs, w)
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	for i, receipt := range receipts {
		if got := backend.txByHash(receipt.TxHash).Nonce(); got != uint64(5+i) {
			t.Fatalf("member %d got nonce %d after reset, want %d", i, got, 5+i)
		}
	}
}

func TestBundleAndSendKeepsInputOrderWhenLaterMembersConfirmFirst(t *testing.T) {
	backend := newFakeBackend()
	backend.pollsFor = func(tx *types.Transaction) int {
		return int(5-tx.Value().Int64()) * 20
	}
	s := newTestSubmitter(backend)
	reqs := make([]Request, 4)
	for i := range reqs {
		reqs[i] = Request{To: addr(recipient), Value: big.NewInt(int64(i + 1))}
	}
	receipts, err := s.BundleAndSend(context.Background(), reqs, testWallet(t))
	if err != nil {
		t.Fatalf("BundleAndSend: %v", err)
	}
	for i, receipt := range receipts {
		if got := backend.txByHash(receipt.TxHash).Value().Int64(); got != int64(i+1) {
			t.Fatalf("receipt %d belongs to value %d", i, got)
		}
	}
	order := backend.confirmedOrder()
	if len(order) != len(reqs) {
		t.Fatalf("expected %d confirmations, got %d", len(reqs), len(order))
	}
	if order[0] != receipts[3].TxHash || order[len(order)-1] != receipts[0].TxHash {
		t.Fatal("expected the last member to confirm first and the first member last")
	}
}

// gatedFeeBackend holds every eth_maxPriorityFeePerGas call until want calls
// are in flight at the same time.
type gatedFeeBackend struct {
	*fakeBackend
	want    int
	mu      sync.Mutex
	arrived int
	release chan struct{}
	stalled bool
}

func (g *gatedFeeBackend) CallContext(ctx context.Context, result any, method string, args ...any) error {
	g.mu.Lock()
	g.arrived++
	if g.arrived == g.want {
		close(g.release)
	}
	g.mu.Unlock()
	select {
	case <-g.release:
	case <-time.After(2 * time.Second):
		g.mu.Lock()
		g.stalled = true
		g.mu.Unlock()
	}
	return g.fakeBackend.CallContext(ctx, result, method, args...)
}

func TestBundleAndSendLooksUpFeesConcurrently(t *testing.T) {
	const members = 3
	backend := &gatedFeeBackend{fakeBackend: newFakeBackend(), want: members, release: make(chan struct{})}
	s := newTestSubmitter(backend)
	reqs := make([]Request, members)
	for i := range reqs {
		reqs[i] = Request{To: addr(recipient), BlobHashes: []common.Hash{common.HexToHash("0x01aa")}, Value: big.NewInt(int64(i + 1))}
	}
	if _, err := s.BundleAndSend(context.Background(), reqs, testWallet(t)); err != nil {
		t.Fatalf("BundleAndSend: %v", err)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.stalled || backend.arrived != members {
		t.Fatalf("fee lookups were not issued together: arrived=%d stalled=%v", backend.arrived, backend.stalled)
	}
}

func TestBundleAndSendEmpty(t *testing.T) {
	receipts, err := newTestSubmitter(newFakeBackend()).BundleAndSend(context.Background(), nil, testWallet(t))
	if err != nil || receipts != nil {
		t.Fatalf("expected no-op, got %v %v", receipts, err)
	}
}

func TestBundleErrorMessage(t *testing.T) {
	err := &BundleError{Errs: []error{nil, errors.New("boom")}}
	if got := err.Error(); got != "bundle: 1 of 2 transactions failed: [1] boom" {
		t.Fatalf("unexpected message %q", got)
	}
}
