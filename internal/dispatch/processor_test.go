package dispatch

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"lestnet-sdk/internal/alerting"
	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/rpcerr"
	"lestnet-sdk/internal/tx"
	"lestnet-sdk/internal/wallet"
)

const (
	testKey       = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testRecipient = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

type fakeSender struct {
	mu       sync.Mutex
	requests []tx.Request
	errs     []error
	reverted bool
}

func (f *fakeSender) SendTx(_ context.Context, req tx.Request, _ *wallet.Wallet) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	receipt := &types.Receipt{
		TxHash:      common.HexToHash("0x1234"),
		BlockNumber: big.NewInt(42),
		GasUsed:     21000,
		Status:      types.ReceiptStatusSuccessful,
	}
	if f.reverted {
		receipt.Status = types.ReceiptStatusFailed
		return receipt, tx.ErrReverted
	}
	return receipt, nil
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type recordingProducer struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (p *recordingProducer) Publish(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, id)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func testWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.FromPrivateKey(testKey)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return w
}

func createJob(t *testing.T, store Store, job *Job) {
	t.Helper()
	if job.Status == "" {
		job.Status = StatusPending
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
}

func TestProcessorHandleSuccess(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{}
	createJob(t, store, &Job{ID: "ok", To: testRecipient, Amount: "1.5", Value: "1500000000000000000", Data: "0xdeadbeef"})

	p := NewProcessor(sender, testWallet(t), store, nil, &recordingProducer{})
	if err := p.Handle(context.Background(), "ok"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if sender.calls() != 1 {
		t.Fatalf("expected one send, got %d", sender.calls())
	}
	req := sender.requests[0]
	if req.To == nil || *req.To != common.HexToAddress(testRecipient) {
		t.Fatalf("unexpected recipient: %v", req.To)
	}
	if req.Value.String() != "1500000000000000000" {
		t.Fatalf("unexpected value: %s", req.Value)
	}
	if len(req.Data) != 4 || req.Data[0] != 0xde {
		t.Fatalf("unexpected data: %x", req.Data)
	}

	job, err := store.Get(context.Background(), "ok")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != StatusSucceeded || job.Result == nil {
		t.Fatalf("expected success, got %+v", job)
	}
	if job.Result.BlockNumber != 42 || job.Result.GasUsed != 21000 || job.Result.TxHash != common.HexToHash("0x1234").Hex() {
		t.Fatalf("unexpected result: %+v", job.Result)
	}
}

func TestProcessorRequeuesRetryableFailure(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{errs: []error{xerrors.New(xerrors.CodeTimeout, "node slow")}}
	producer := &recordingProducer{}
	createJob(t, store, &Job{ID: "r", To: testRecipient, Value: "1"})

	p := NewProcessor(sender, testWallet(t), store, nil, producer)
	if err := p.Handle(context.Background(), "r"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	job, _ := store.Get(context.Background(), "r")
	if job.Status != StatusFailed || job.ErrorCode != string(xerrors.CodeTimeout) || job.Done() {
		t.Fatalf("expected retryable failure, got %+v", job)
	}
	if len(producer.ids) != 1 || producer.ids[0] != "r" {
		t.Fatalf("expected job to be republished, got %v", producer.ids)
	}

	if err := p.Handle(context.Background(), "r"); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	job, _ = store.Get(context.Background(), "r")
	if job.Status != StatusSucceeded || job.Attempts != 2 {
		t.Fatalf("expected success on second attempt, got %+v", job)
	}
}

func TestProcessorNodeErrorIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	nodeErr := rpcerr.Error{Code: -32000, Message: "insufficient funds for gas * price + value"}
	sender := &fakeSender{errs: []error{nodeErr}}
	producer := &recordingProducer{}
	createJob(t, store, &Job{ID: "n", To: testRecipient, Value: "1"})

	p := NewProcessor(sender, testWallet(t), store, nil, producer)
	if err := p.Handle(context.Background(), "n"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	job, _ := store.Get(context.Background(), "n")
	if !job.Done() || job.ErrorCode != string(xerrors.CodeRPC) {
		t.Fatalf("expected terminal rpc failure, got %+v", job)
	}
	if job.LastError != "rpc error -32000: insufficient funds for gas * price + value" {
		t.Fatalf("unexpected last error: %q", job.LastError)
	}
	if len(producer.ids) != 0 {
		t.Fatalf("terminal failure must not be republished: %v", producer.ids)
	}
}

type recordingAlerter struct {
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, event alerting.Event) error {
	r.events = append(r.events, event)
	return nil
}

func TestProcessorAlertsOnTerminalFailureOnly(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{errs: []error{
		xerrors.New(xerrors.CodeTimeout, "node slow"),
		rpcerr.Error{Code: -32000, Message: "insufficient funds for gas * price + value"},
	}}
	alerter := &recordingAlerter{}
	createJob(t, store, &Job{ID: "a", To: testRecipient, Value: "1", MaxRetries: 3})

	p := NewProcessor(sender, testWallet(t), store, nil, &recordingProducer{}, WithAlertDispatcher(alerter))
	for i := 0; i < 2; i++ {
		if err := p.Handle(context.Background(), "a"); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
		if i == 0 && len(alerter.events) != 0 {
			t.Fatalf("retryable failure must not alert: %+v", alerter.events)
		}
	}
	if len(alerter.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerter.events))
	}
	event := alerter.events[0]
	if event.JobID != "a" || event.Code != xerrors.CodeRPC || event.Attempts != 2 || event.Metadata["to"] != testRecipient {
		t.Fatalf("unexpected alert %+v", event)
	}
	if event.Severity != xerrors.SeverityWarning {
		t.Fatalf("unexpected severity %q", event.Severity)
	}
}

func TestProcessorRevertedReceiptKeepsHash(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{reverted: true}
	createJob(t, store, &Job{ID: "rev", To: testRecipient, Value: "1"})

	p := NewProcessor(sender, testWallet(t), store, nil, &recordingProducer{})
	if err := p.Handle(context.Background(), "rev"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	job, _ := store.Get(context.Background(), "rev")
	if !job.Done() || job.ErrorCode != string(tx.CodeReverted) {
		t.Fatalf("expected reverted terminal job, got %+v", job)
	}
	if want := common.HexToHash("0x1234").Hex(); !strings.Contains(job.LastError, want) {
		t.Fatalf("expected last error to mention %s, got %q", want, job.LastError)
	}
}

func TestProcessorRejectsMalformedJob(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{}
	createJob(t, store, &Job{ID: "bad", To: testRecipient, Value: "1", Data: "0xzz"})

	p := NewProcessor(sender, testWallet(t), store, nil, &recordingProducer{})
	if err := p.Handle(context.Background(), "bad"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sender.calls() != 0 {
		t.Fatalf("malformed job must not reach the sender")
	}
	job, _ := store.Get(context.Background(), "bad")
	if !job.Done() || job.ErrorCode != string(CodeJobValidation) {
		t.Fatalf("expected validation failure, got %+v", job)
	}
}

func TestProcessorSkipsCompletedJob(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{}
	createJob(t, store, &Job{ID: "done", To: testRecipient, Value: "1"})
	if err := store.MarkSucceeded(context.Background(), "done", Result{TxHash: "0x1"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	p := NewProcessor(sender, testWallet(t), store, nil, nil)
	if err := p.Handle(context.Background(), "done"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := p.Handle(context.Background(), "unknown"); err != nil {
		t.Fatalf("handle unknown: %v", err)
	}
	if sender.calls() != 0 {
		t.Fatalf("expected no sends, got %d", sender.calls())
	}
}

func TestProcessorStartRequiresConsumer(t *testing.T) {
	p := NewProcessor(&fakeSender{}, testWallet(t), NewMemoryStore(), nil, nil)
	err := p.Start(context.Background())
	if !errors.Is(err, xerrors.New(xerrors.CodeInitializationFailure, "")) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestServiceAndProcessorEndToEnd(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	sender := &fakeSender{errs: []error{xerrors.New(xerrors.CodeStorageFailure, "flaky")}}
	service := NewService(store, queue, 3)
	processor := NewProcessor(sender, testWallet(t), store, queue, queue, WithWorkerCount(2))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- processor.Start(ctx) }()

	job, err := service.Submit(ctx, TransferRequest{To: testRecipient, Amount: "0.25"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final, err := service.WaitUntilCompleted(ctx, job.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != StatusSucceeded || final.Attempts != 2 {
		t.Fatalf("expected success after one retry, got %+v", final)
	}
	if final.Value != "250000000000000000" {
		t.Fatalf("unexpected wei value: %s", final.Value)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled consumer, got %v", err)
	}
}
