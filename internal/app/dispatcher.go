package app

import (
	"context"
	"fmt"

	"lestnet-sdk/internal/alerting"
	"lestnet-sdk/internal/dispatch"
	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/wallet"
	"lestnet-sdk/pkg/logger"
)

// Dispatcher 组合异步转账的任务服务与处理器。
type Dispatcher struct {
	Service   *dispatch.Service
	Processor *dispatch.Processor
}

// NewDispatcher 按 queue 与 journal 配置创建任务存储和队列，处理器使用 w 签名。
// MySQL 日志驱动下任务存储与交易日志共用同一个连接池。
func (a *App) NewDispatcher(ctx context.Context, w *wallet.Wallet) (*Dispatcher, error) {
	if w == nil {
		return nil, wallet.ErrMissingCredential
	}
	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	queue, err := a.buildQueue(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	cfg := a.Config.Queue
	service := dispatch.NewService(store, queue, cfg.MaxRetries)
	opts := []dispatch.ProcessorOption{
		dispatch.WithWorkerCount(cfg.Workers),
		dispatch.WithProcessorLogger(logger.Named("dispatch")),
	}
	if alerter := alerting.FromConfig(a.Config.Alerting); alerter != nil {
		opts = append(opts, dispatch.WithAlertDispatcher(alerter))
	}
	processor := dispatch.NewProcessor(a.Submitter, w, store, queue, queue, opts...)
	return &Dispatcher{Service: service, Processor: processor}, nil
}

// Run 启动处理器，直到上下文取消。
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.Processor.Start(ctx)
}

// Close 关闭任务存储与队列。
func (d *Dispatcher) Close() error {
	if d == nil || d.Service == nil {
		return nil
	}
	return d.Service.Close()
}

func (a *App) buildStore(ctx context.Context) (dispatch.Store, error) {
	if a.Config.Journal.Driver != "mysql" {
		return dispatch.NewMemoryStore(), nil
	}
	db, err := a.openMySQL(ctx)
	if err != nil {
		return nil, err
	}
	return dispatch.NewMySQLStore(db), nil
}

func (a *App) buildQueue(ctx context.Context) (dispatch.Queue, error) {
	cfg := a.Config.Queue
	switch cfg.Driver {
	case "", "memory":
		return dispatch.NewMemoryQueue(cfg.BufferSize), nil
	case "redis":
		client, err := a.openRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return dispatch.NewRedisQueueWithClient(client, cfg.Name, 0), nil
	case "rabbitmq":
		queue, err := dispatch.NewRabbitMQQueue(dispatch.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.Name,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  cfg.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的队列驱动: %s", cfg.Driver))
	}
}
