package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"lestnet-sdk/internal/api"
	"lestnet-sdk/internal/app"
	"lestnet-sdk/internal/auth"
	"lestnet-sdk/internal/config"
	"lestnet-sdk/pkg/logger"
)

// main 是 Lestnet 转账守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("lestnetd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("LESTNET_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "lestnet.yaml")
	}

	cfg, err := config.Load(configPath, ".env")
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	appLog := logger.Named("lestnetd")

	runtime, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer runtime.Close()

	signer, err := runtime.Wallet()
	if err != nil {
		return err
	}
	appLog.Info("签名账户已加载", slog.String("address", signer.Address().Hex()))

	dispatcher, err := runtime.NewDispatcher(ctx, signer)
	if err != nil {
		return err
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			appLog.Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := dispatcher.Run(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	authService, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}
	appLog.Info("接口认证模式", slog.String("mode", string(authService.Mode())))

	server := api.NewServer(cfg.Server.Address, dispatcher.Service,
		api.WithChainCheck(runtime.Chain),
		api.WithAuth(authService),
		api.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
