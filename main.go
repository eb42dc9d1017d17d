package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/lendwatch/internal/api"
	"github.com/life2you_mini/lendwatch/internal/config"
	"github.com/life2you_mini/lendwatch/internal/logger"
	"github.com/life2you_mini/lendwatch/internal/model"
	"github.com/life2you_mini/lendwatch/internal/services"
	"github.com/life2you_mini/lendwatch/internal/trading"
)

var (
	configFile = flag.String("config", "config/config.yaml", "配置文件路径")
	initConfig = flag.Bool("init-config", false, "生成默认配置文件后退出")
	action     = flag.String("action", "", "执行一次操作后退出: deposit|withdraw|borrow|repay")
	amount     = flag.String("amount", "", "操作金额，十进制，如 1.5")
	asset      = flag.String("asset", "weth", "操作资产，符号或地址")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.WriteDefaultConfig(*configFile); err != nil {
			fmt.Printf("生成默认配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("已生成默认配置: %s\n", *configFile)
		return
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.System.LogDir, cfg.System.LogLevel)
	if err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zl := log.Named("lendwatch").Logger
	zl.Info("加载配置成功", zap.String("配置文件", *configFile), zap.String("network", cfg.Ledger.Network))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	service, err := services.NewLendwatchService(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("创建服务失败", zap.Error(err))
	}

	network, err := config.LookupNetwork(cfg.Ledger.Network)
	if err != nil {
		zl.Fatal("解析网络失败", zap.Error(err))
	}

	if *action != "" {
		code := runOnce(ctx, service, network, zl)
		_ = log.Sync()
		os.Exit(code)
	}

	service.Start()
	zl.Info("服务已启动")

	var server *http.Server
	if cfg.HTTP.Enabled {
		addrs, err := cfg.ResolveAddresses()
		if err != nil {
			zl.Fatal("解析合约地址失败", zap.Error(err))
		}
		server = api.NewServer(cfg.HTTP.ListenAddr, api.NewRouter(api.Config{
			Service:        service,
			Assets:         addrs.Assets,
			Tokens:         addrs.Tokens,
			ResolveAsset:   network.Token,
			RequestTimeout: cfg.HTTP.RequestTimeout(),
			Logger:         zl,
		}))
		go func() {
			zl.Info("HTTP服务已启动", zap.String("addr", cfg.HTTP.ListenAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zl.Error("HTTP服务异常退出", zap.Error(err))
				cancel()
			}
		}()
	}

	<-ctx.Done()
	zl.Info("接收到信号，准备关闭服务")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			zl.Error("关闭HTTP服务失败", zap.Error(err))
		}
	}

	if err := service.Stop(shutdownCtx); err != nil {
		zl.Error("服务关闭失败", zap.Error(err))
		os.Exit(1)
	}

	zl.Info("服务已优雅关闭")
}

// runOnce 执行一次操作并输出结果，返回进程退出码
func runOnce(ctx context.Context, service *services.LendwatchService, network config.NetworkAddresses, zl *zap.Logger) int {
	defer func() {
		if err := service.Stop(context.Background()); err != nil {
			zl.Error("服务关闭失败", zap.Error(err))
		}
	}()

	assetAddr, err := network.Token(*asset)
	if err != nil {
		zl.Error("解析资产失败", zap.Error(err))
		return 2
	}
	kind, err := model.ParseActionKind(*action)
	if err != nil {
		zl.Error("解析操作失败", zap.Error(err))
		return 2
	}

	var outcome model.ActionOutcome
	req, err := model.ParseActionRequest(*action, assetAddr, *amount)
	switch {
	case errors.Is(err, model.ErrInvalidAmount):
		outcome = trading.RejectInvalidAmount(kind, assetAddr, *amount, err)
	case err != nil:
		zl.Error("解析操作失败", zap.Error(err))
		return 2
	default:
		outcome = service.PerformAction(ctx, req)
	}
	data, _ := json.MarshalIndent(outcome, "", "  ")
	fmt.Println(string(data))

	if !outcome.Succeeded() {
		return 1
	}
	return 0
}
