package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"

	"lestnet-sdk/internal/chain"
	"lestnet-sdk/internal/config"
	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/faucet"
	"lestnet-sdk/internal/retry"
	"lestnet-sdk/internal/storage/mysql"
	redisstore "lestnet-sdk/internal/storage/redis"
	"lestnet-sdk/internal/tx"
	"lestnet-sdk/internal/wallet"
	"lestnet-sdk/pkg/logger"
)

// App 持有按配置创建的运行时组件。
type App struct {
	Config    *config.Config
	Chain     *chain.Client
	Submitter *tx.Submitter
	Journal   tx.Journal
	Faucet    *faucet.Client

	db      *sql.DB
	closers []func() error
	log     *slog.Logger
}

// New 按配置依次连接链节点、nonce 存储与交易日志存储。任一步失败都会释放已创建的资源。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "配置不能为空")
	}
	a := &App{Config: cfg, log: logger.Named("app")}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	retryOpts := []retry.Option{retry.WithPolicy(cfg.Retry)}

	transport, err := chain.ParseTransport(cfg.Submitter.Transport)
	if err != nil {
		return err
	}
	client, err := chain.Dial(ctx, cfg.Network, transport, chain.WithRetry(retryOpts...))
	if err != nil {
		return err
	}
	a.Chain = client
	a.closers = append(a.closers, func() error {
		client.Close()
		return nil
	})

	nonces, err := a.buildNonceSource(ctx)
	if err != nil {
		return err
	}
	journal, err := a.buildJournal(ctx)
	if err != nil {
		return err
	}
	a.Journal = journal

	opts := []tx.Option{
		tx.WithRetry(retryOpts...),
		tx.WithPollInterval(cfg.Submitter.PollInterval),
		tx.WithNonceSource(nonces),
	}
	if journal != nil {
		opts = append(opts, tx.WithJournal(journal))
	}
	a.Submitter = tx.NewSubmitter(client, cfg.Network, opts...)

	a.Faucet = faucet.NewClient(cfg.Faucet.URL,
		faucet.WithHTTPClient(&http.Client{Timeout: cfg.Faucet.Timeout}),
		faucet.WithRetry(retryOpts...),
	)
	a.log.Debug("运行时组件已就绪",
		slog.String("network", cfg.Network.Name),
		slog.String("transport", transport.String()),
		slog.String("nonce", cfg.Nonce.Driver),
		slog.String("journal", cfg.Journal.Driver))
	return nil
}

func (a *App) buildNonceSource(ctx context.Context) (tx.NonceSource, error) {
	cfg := a.Config.Nonce
	switch cfg.Driver {
	case "", "memory":
		return tx.NewMemoryNonces(), nil
	case "redis":
		client, err := a.openRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return tx.NewRedisNonces(client,
			tx.WithKeyPrefix(cfg.KeyPrefix),
			tx.WithCursorTTL(cfg.TTL),
		), nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的 nonce 驱动: %s", cfg.Driver))
	}
}

func (a *App) buildJournal(ctx context.Context) (tx.Journal, error) {
	switch a.Config.Journal.Driver {
	case "", "memory":
		return tx.NewMemoryJournal(), nil
	case "none":
		return nil, nil
	case "mysql":
		db, err := a.openMySQL(ctx)
		if err != nil {
			return nil, err
		}
		return mysql.NewJournalStore(db), nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的交易日志驱动: %s", a.Config.Journal.Driver))
	}
}

func (a *App) openRedis(ctx context.Context, cfg config.RedisConfig) (goredis.UniversalClient, error) {
	client, err := redisstore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// openMySQL 在首次调用时建立连接池并执行迁移，交易日志与任务存储共用该连接池。
func (a *App) openMySQL(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := mysql.Open(ctx, a.Config.Journal.MySQL)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

// Wallet 根据配置中的助记词或私钥构造签名钱包。
func (a *App) Wallet() (*wallet.Wallet, error) {
	return wallet.GetWallet(wallet.Options{
		Mnemonic:   a.Config.Wallet.Mnemonic,
		PrivateKey: a.Config.Wallet.PrivateKey,
		Path:       a.Config.Wallet.Path,
	})
}

// Close 按创建的逆序释放资源。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
