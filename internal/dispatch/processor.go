package dispatch

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"lestnet-sdk/internal/alerting"
	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/metrics"
	"lestnet-sdk/internal/rpcerr"
	"lestnet-sdk/internal/tx"
	"lestnet-sdk/internal/wallet"
	"lestnet-sdk/pkg/logger"
)

// Sender 定义了处理器所需的交易发送能力，由 tx.Submitter 实现。
type Sender interface {
	SendTx(ctx context.Context, req tx.Request, w *wallet.Wallet) (*types.Receipt, error)
}

// Processor 负责从队列消费任务并交给交易提交器执行。
type Processor struct {
	sender      Sender
	wallet      *wallet.Wallet
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	alerter     alerting.Dispatcher
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 设置任务最终失败时使用的告警广播器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。所有任务都由 w 签名发送。
func NewProcessor(sender Sender, w *wallet.Wallet, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		sender:      sender,
		wallet:      w,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("dispatch")
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 执行单个任务，可直接作为队列 Handler 使用。
func (p *Processor) Handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.sender == nil || p.wallet == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobExhausted) {
			p.logger.Debug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		return err
	}

	req, err := buildRequest(job)
	if err != nil {
		return p.handleFailure(ctx, job, err)
	}
	receipt, sendErr := p.sender.SendTx(ctx, req, p.wallet)
	if sendErr != nil {
		if receipt != nil {
			sendErr = fmt.Errorf("%w (tx %s)", sendErr, receipt.TxHash.Hex())
		}
		return p.handleFailure(ctx, job, sendErr)
	}

	result := Result{TxHash: receipt.TxHash.Hex(), GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if err := p.store.MarkSucceeded(ctx, job.ID, result); err != nil {
		// 交易已上链，不能重新排队，否则会重复转账。
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID), slog.String("tx_hash", result.TxHash))
		return err
	}
	metrics.DispatchJobs.WithLabelValues(string(StatusSucceeded)).Inc()
	logger.Audit().Info("转账任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("to", job.To),
		slog.String("amount", job.Amount),
		slog.String("tx_hash", result.TxHash),
		slog.Uint64("block", result.BlockNumber),
	)
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, job *Job, execErr error) error {
	code, message := classify(execErr)
	retryable := xerrors.RetryableError(execErr)
	terminal := job.Attempts >= job.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, message, terminal); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("转账任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("to", job.To),
		slog.Bool("terminal", terminal),
		slog.String("error", message),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	if terminal {
		metrics.DispatchJobs.WithLabelValues(string(StatusFailed)).Inc()
		p.emitAlert(ctx, job, code, message)
		return nil
	}
	metrics.DispatchJobs.WithLabelValues("retried").Inc()
	if p.producer == nil {
		return nil
	}
	if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
		return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", job.ID))
	}
	p.logger.Debug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, message string) {
	if p.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   xerrors.AttributesOf(code).Severity,
		JobID:      job.ID,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata: map[string]string{
			"to":     job.To,
			"amount": job.Amount,
		},
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("job_id", job.ID))
	}
}

// classify 把执行错误映射为错误码与可读描述。节点返回的 JSON-RPC 错误统一记为
// RPC_ERROR，并保留原始 code。
func classify(err error) (xerrors.Code, string) {
	if coded, ok := xerrors.From(err); ok {
		return coded.Code(), err.Error()
	}
	if shape, ok := rpcerr.As(err); ok {
		return xerrors.CodeRPC, shape.Error()
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.CodeTimeout, err.Error()
	}
	return CodeJobProcessing, err.Error()
}

func buildRequest(job *Job) (tx.Request, error) {
	if !common.IsHexAddress(job.To) {
		return tx.Request{}, xerrors.New(CodeJobValidation, fmt.Sprintf("收款地址无效: %s", job.To))
	}
	value, ok := new(big.Int).SetString(job.Value, 10)
	if !ok || value.Sign() < 0 {
		return tx.Request{}, xerrors.New(CodeJobValidation, fmt.Sprintf("转账金额无效: %s", job.Value))
	}
	to := common.HexToAddress(job.To)
	req := tx.Request{To: &to, Value: value}
	if data := strings.TrimSpace(job.Data); data != "" {
		decoded, err := hexutil.Decode(data)
		if err != nil {
			return tx.Request{}, xerrors.Wrap(CodeJobValidation, err, "交易 data 不是合法的十六进制")
		}
		req.Data = decoded
	}
	return req, nil
}
