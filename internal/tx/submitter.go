// Package tx completes, signs, broadcasts and confirms transactions on
// Lestnet, one at a time or as concurrent bundles.
package tx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/metrics"
	"lestnet-sdk/internal/network"
	"lestnet-sdk/internal/retry"
	"lestnet-sdk/internal/wallet"
	"lestnet-sdk/pkg/logger"
)

// DefaultPollInterval is the wait between receipt lookups.
const DefaultPollInterval = 2 * time.Second

// CodeReverted marks a mined transaction whose execution failed.
const CodeReverted xerrors.Code = "TX_REVERTED"

// CodeNonceGap marks a bundle member held back because a lower nonce of the
// same bundle was never broadcast.
const CodeNonceGap xerrors.Code = "TX_NONCE_GAP"

func init() {
	xerrors.Register(CodeReverted, xerrors.Attributes{Message: "transaction reverted", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeNonceGap, xerrors.Attributes{Message: "nonce gap", Severity: xerrors.SeverityWarning, Retryable: true})
}

// ErrReverted is returned together with the receipt of a failed execution.
var ErrReverted = xerrors.New(CodeReverted, "transaction reverted")

// ErrNonceGap matches the failure of bundle members that were not broadcast
// because a lower nonce failed. Such members never reached the node.
var ErrNonceGap = xerrors.New(CodeNonceGap, "nonce gap")

// Backend is the node access the submitter needs.
type Backend interface {
	NonceReader
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Submitter drives requests through Prepared, FeeCompleted, Broadcast and
// Confirmed.
type Submitter struct {
	backend      Backend
	network      network.Network
	chainID      *big.Int
	nonces       NonceSource
	journal      Journal
	retryOpts    []retry.Option
	pollInterval time.Duration
	log          *slog.Logger
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithRetry appends options for the retried node calls.
func WithRetry(opts ...retry.Option) Option {
	return func(s *Submitter) { s.retryOpts = append(s.retryOpts, opts...) }
}

// WithPollInterval sets the wait between receipt lookups.
func WithPollInterval(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithJournal records every stage transition in j.
func WithJournal(j Journal) Option {
	return func(s *Submitter) { s.journal = j }
}

// WithNonceSource replaces the in-process nonce cursor.
func WithNonceSource(n NonceSource) Option {
	return func(s *Submitter) {
		if n != nil {
			s.nonces = n
		}
	}
}

// NewSubmitter builds a submitter for net.
func NewSubmitter(backend Backend, net network.Network, opts ...Option) *Submitter {
	net = net.WithDefaults()
	s := &Submitter{
		backend:      backend,
		network:      net,
		chainID:      net.ChainIDBig(),
		nonces:       NewMemoryNonces(),
		pollInterval: DefaultPollInterval,
		log:          logger.Named("tx"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SendTx submits req signed by w and waits for its receipt. Errors are
// returned as produced by the failing step.
func (s *Submitter) SendTx(ctx context.Context, req Request, w *wallet.Wallet) (*types.Receipt, error) {
	if w == nil {
		return nil, wallet.ErrMissingCredential
	}
	from := w.Address()
	prepared, err := s.prepare(ctx, req, from)
	if err != nil {
		return nil, err
	}
	if err := s.completeFees(ctx, &prepared, from); err != nil {
		return nil, err
	}
	if prepared.Nonce == nil {
		nonce, err := s.reserve(ctx, from, 1)
		if err != nil {
			s.fail(ctx, from, prepared, common.Hash{}, StagePrepared, err)
			return nil, err
		}
		prepared.Nonce = &nonce
	}
	signed, err := s.sign(prepared, w)
	if err != nil {
		s.fail(ctx, from, prepared, common.Hash{}, StageBroadcast, err)
		return nil, err
	}
	return s.broadcastAndConfirm(ctx, prepared, signed, from)
}

func (s *Submitter) prepare(ctx context.Context, req Request, from common.Address) (Request, error) {
	prepared := req.clone()
	if err := prepared.Validate(); err != nil {
		s.fail(ctx, from, prepared, common.Hash{}, StagePrepared, err)
		return prepared, err
	}
	s.record(ctx, Event{From: from, To: prepared.To, Nonce: prepared.Nonce, Stage: StagePrepared, Blob: prepared.IsBlob()})
	return prepared, nil
}

// completeFees fills every absent fee field and the gas limit.
func (s *Submitter) completeFees(ctx context.Context, req *Request, from common.Address) error {
	err := s.fillFees(ctx, req, from)
	if err != nil {
		s.fail(ctx, from, *req, common.Hash{}, StageFeeCompleted, err)
		return err
	}
	s.record(ctx, Event{From: from, To: req.To, Nonce: req.Nonce, Stage: StageFeeCompleted, Blob: req.IsBlob()})
	return nil
}

func (s *Submitter) fillFees(ctx context.Context, req *Request, from common.Address) error {
	if len(req.BlobHashes) > 0 && req.BlobFeeCap == nil {
		fee, err := s.blobFee(ctx)
		if err != nil {
			return err
		}
		req.BlobFeeCap = fee
	}
	if req.GasTipCap == nil {
		tip, err := retry.Do(ctx, s.backend.SuggestGasTipCap, s.opts("suggest_gas_tip_cap")...)
		if err != nil {
			return err
		}
		req.GasTipCap = tip
	}
	if req.GasFeeCap == nil {
		head, err := retry.Do(ctx, func(ctx context.Context) (*types.Header, error) {
			return s.backend.HeaderByNumber(ctx, nil)
		}, s.opts("header_by_number")...)
		if err != nil {
			return err
		}
		feeCap := new(big.Int).Set(req.GasTipCap)
		if head != nil && head.BaseFee != nil {
			feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		}
		req.GasFeeCap = feeCap
	}
	if req.Gas == 0 {
		msg := gethcore.CallMsg{
			From:          from,
			To:            req.To,
			Value:         req.Value,
			Data:          req.Data,
			GasTipCap:     req.GasTipCap,
			GasFeeCap:     req.GasFeeCap,
			AccessList:    req.AccessList,
			BlobGasFeeCap: req.BlobFeeCap,
			BlobHashes:    req.BlobHashes,
		}
		gas, err := retry.Do(ctx, func(ctx context.Context) (uint64, error) {
			return s.backend.EstimateGas(ctx, msg)
		}, s.opts("estimate_gas")...)
		if err != nil {
			return err
		}
		req.Gas = gas
	}
	return nil
}

// blobFee asks the node for eth_maxPriorityFeePerGas and uses it as the blob
// fee cap.
func (s *Submitter) blobFee(ctx context.Context) (*big.Int, error) {
	return retry.Do(ctx, func(ctx context.Context) (*big.Int, error) {
		var fee hexutil.Big
		if err := s.backend.CallContext(ctx, &fee, "eth_maxPriorityFeePerGas"); err != nil {
			return nil, err
		}
		return fee.ToInt(), nil
	}, s.opts("max_priority_fee_per_gas")...)
}

func (s *Submitter) reserve(ctx context.Context, from common.Address, count int) (uint64, error) {
	return retry.Do(ctx, func(ctx context.Context) (uint64, error) {
		return s.nonces.Reserve(ctx, s.backend, from, count)
	}, s.opts("reserve_nonce")...)
}

func (s *Submitter) sign(req Request, w *wallet.Wallet) (*types.Transaction, error) {
	unsigned, err := s.build(req)
	if err != nil {
		return nil, err
	}
	return w.SignTx(unsigned, s.chainID)
}

func (s *Submitter) build(req Request) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	if !req.IsBlob() {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:    s.chainID,
			Nonce:      *req.Nonce,
			GasTipCap:  req.GasTipCap,
			GasFeeCap:  req.GasFeeCap,
			Gas:        req.Gas,
			To:         req.To,
			Value:      value,
			Data:       req.Data,
			AccessList: req.AccessList,
		}), nil
	}

	if req.BlobFeeCap == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "blob transaction without blob fee cap")
	}
	fields := []struct {
		name string
		in   *big.Int
	}{{"chain id", s.chainID}, {"gas tip cap", req.GasTipCap}, {"gas fee cap", req.GasFeeCap}, {"value", value}, {"blob fee cap", req.BlobFeeCap}}
	out := make([]*uint256.Int, len(fields))
	for i, f := range fields {
		v, overflow := uint256.FromBig(f.in)
		if overflow {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, f.name+" overflows 256 bits")
		}
		out[i] = v
	}
	return types.NewTx(&types.BlobTx{
		ChainID:    out[0],
		Nonce:      *req.Nonce,
		GasTipCap:  out[1],
		GasFeeCap:  out[2],
		Gas:        req.Gas,
		To:         *req.To,
		Value:      out[3],
		Data:       req.Data,
		AccessList: req.AccessList,
		BlobFeeCap: out[4],
		BlobHashes: req.BlobHashes,
		Sidecar:    req.Sidecar,
	}), nil
}

func (s *Submitter) broadcastAndConfirm(ctx context.Context, req Request, signed *types.Transaction, from common.Address) (*types.Receipt, error) {
	if err := s.broadcastSigned(ctx, req, signed, from); err != nil {
		return nil, err
	}
	return s.confirm(ctx, req, signed, from, time.Now())
}

// broadcastSigned sends signed and records the Broadcast stage. A failed send
// resets the nonce cursor of from.
func (s *Submitter) broadcastSigned(ctx context.Context, req Request, signed *types.Transaction, from common.Address) error {
	if err := s.broadcast(ctx, signed); err != nil {
		s.fail(ctx, from, req, signed.Hash(), StageBroadcast, err)
		s.resetNonces(ctx, from)
		return err
	}
	s.record(ctx, Event{From: from, To: req.To, Nonce: req.Nonce, Hash: signed.Hash(), Stage: StageBroadcast, Blob: req.IsBlob()})
	logger.Audit().Info("transaction broadcast",
		slog.String("hash", signed.Hash().Hex()),
		slog.String("from", from.Hex()),
		slog.Uint64("nonce", signed.Nonce()),
		slog.Bool("blob", req.IsBlob()))
	return nil
}

func (s *Submitter) confirm(ctx context.Context, req Request, signed *types.Transaction, from common.Address, sentAt time.Time) (*types.Receipt, error) {
	receipt, err := s.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		s.fail(ctx, from, req, signed.Hash(), StageConfirmed, err)
		return nil, err
	}
	metrics.ConfirmationLatency.Observe(time.Since(sentAt).Seconds())
	if receipt.Status != types.ReceiptStatusSuccessful {
		err := xerrors.New(CodeReverted, "transaction reverted", xerrors.WithMetadata("hash", signed.Hash().Hex()))
		s.fail(ctx, from, req, signed.Hash(), StageConfirmed, err)
		return receipt, err
	}
	block := uint64(0)
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	s.record(ctx, Event{From: from, To: req.To, Nonce: req.Nonce, Hash: signed.Hash(), Stage: StageConfirmed, BlockNumber: block, Blob: req.IsBlob()})
	logger.Audit().Info("transaction confirmed",
		slog.String("hash", signed.Hash().Hex()),
		slog.Uint64("block", block),
		slog.Uint64("gas_used", receipt.GasUsed))
	return receipt, nil
}

func (s *Submitter) resetNonces(ctx context.Context, from common.Address) {
	if err := s.nonces.Reset(ctx, from); err != nil {
		s.log.Warn("reset nonce cursor failed", slog.String("from", from.Hex()), slog.Any("error", err))
	}
}

// broadcast sends signed, treating a node that already holds the same
// transaction as a successful send.
func (s *Submitter) broadcast(ctx context.Context, signed *types.Transaction) error {
	return retry.Run(ctx, func(ctx context.Context) error {
		err := s.backend.SendTransaction(ctx, signed)
		if err != nil && isAlreadyKnown(err) {
			return nil
		}
		return err
	}, s.opts("send_transaction")...)
}

func isAlreadyKnown(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already known")
}

func (s *Submitter) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	notPending := func(err error) bool { return !errors.Is(err, gethcore.NotFound) }
	opts := append(s.opts("transaction_receipt"), retry.WithRetryIf(notPending))
	for {
		receipt, err := retry.Do(ctx, func(ctx context.Context) (*types.Receipt, error) {
			return s.backend.TransactionReceipt(ctx, hash)
		}, opts...)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && notPending(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Submitter) opts(name string) []retry.Option {
	opts := make([]retry.Option, 0, len(s.retryOpts)+1)
	opts = append(opts, retry.WithName(name))
	return append(opts, s.retryOpts...)
}

func (s *Submitter) record(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	metrics.Submissions.WithLabelValues(string(ev.Stage)).Inc()
	attrs := []any{slog.String("stage", string(ev.Stage)), slog.String("from", ev.From.Hex())}
	if ev.Hash != (common.Hash{}) {
		attrs = append(attrs, slog.String("hash", ev.Hash.Hex()))
	}
	if ev.Nonce != nil {
		attrs = append(attrs, slog.Uint64("nonce", *ev.Nonce))
	}
	if ev.Stage == StageFailed {
		attrs = append(attrs, slog.String("failed_stage", string(ev.FailedStage)), slog.String("error", ev.Error))
		s.log.Warn("transaction failed", attrs...)
	} else {
		s.log.Debug("transaction stage", attrs...)
	}
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("journal record failed", slog.String("stage", string(ev.Stage)), slog.Any("error", err))
	}
}

func (s *Submitter) fail(ctx context.Context, from common.Address, req Request, hash common.Hash, stage Stage, err error) {
	s.record(ctx, Event{
		From:        from,
		To:          req.To,
		Nonce:       req.Nonce,
		Hash:        hash,
		Stage:       StageFailed,
		FailedStage: stage,
		Error:       fmt.Sprint(err),
		Blob:        req.IsBlob(),
	})
}
