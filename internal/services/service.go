package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/life2you_mini/lendwatch/internal/cache"
	"github.com/life2you_mini/lendwatch/internal/config"
	"github.com/life2you_mini/lendwatch/internal/ledger"
	"github.com/life2you_mini/lendwatch/internal/model"
	"github.com/life2you_mini/lendwatch/internal/monitor"
	_redisClient "github.com/life2you_mini/lendwatch/internal/redis"
	"github.com/life2you_mini/lendwatch/internal/trading"
)

// 等待轮询协程退出的超时时间
const shutdownTimeout = 5 * time.Second

// Publisher Redis发布器需要实现的全部输出
type Publisher interface {
	cache.Publisher
	monitor.RiskPublisher
	trading.HistoryRecorder
}

// Dependencies 服务依赖，便于测试时替换
type Dependencies struct {
	Gateway         ledger.Gateway
	Publisher       Publisher // 可以为 nil
	Assets          []common.Address
	Tokens          []common.Address
	BalanceInterval time.Duration
	RiskInterval    time.Duration
	DepositGasLimit uint64
	Closers         []func() error
}

// SubscriptionHandle 一个账户的订阅，包含余额与风险两个轮询
type SubscriptionHandle struct {
	ID      uuid.UUID
	Account common.Address
	risk    *monitor.Subscription
	balance *monitor.Subscription
	done    chan struct{}
}

func newSubscriptionHandle(account common.Address, risk, balance *monitor.Subscription) *SubscriptionHandle {
	h := &SubscriptionHandle{
		ID:      uuid.New(),
		Account: account,
		risk:    risk,
		balance: balance,
		done:    make(chan struct{}),
	}
	go func() {
		<-risk.Done()
		<-balance.Done()
		close(h.done)
	}()
	return h
}

// Done 两个轮询都退出后关闭
func (h *SubscriptionHandle) Done() <-chan struct{} {
	return h.done
}

// LendwatchService 借贷仓位监控与操作服务
type LendwatchService struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	gateway          ledger.Gateway
	cache            *cache.PositionCache
	monitor          *monitor.PositionMonitor
	balanceScheduler *monitor.Scheduler
	riskScheduler    *monitor.Scheduler
	orchestrator     *trading.Orchestrator
	closers          []func() error

	mu      sync.Mutex
	handles map[uuid.UUID]*SubscriptionHandle

	stopOnce sync.Once
	stopErr  error
}

// NewLendwatchService 根据配置连接账本和Redis并创建服务
func NewLendwatchService(parentCtx context.Context, cfg *config.Config, logger *zap.Logger) (*LendwatchService, error) {
	addrs, err := cfg.ResolveAddresses()
	if err != nil {
		return nil, fmt.Errorf("解析合约地址失败: %w", err)
	}

	gateway, client, err := ledger.DialEVMGateway(parentCtx, ledger.EVMConfig{
		RPCURL:              cfg.Ledger.RPCURL,
		ChainID:             addrs.ChainID,
		LendingProtocol:     addrs.LendingProtocol,
		RiskContract:        addrs.RiskContract,
		Account:             addrs.Account,
		PrivateKey:          cfg.Ledger.PrivateKey,
		ConfirmPollInterval: cfg.Ledger.ConfirmPollInterval(),
		ConfirmTimeout:      cfg.Ledger.ConfirmTimeout(),
		RequestsPerSecond:   cfg.Ledger.RequestsPerSecond,
		Burst:               cfg.Ledger.Burst,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化账本网关失败: %w", err)
	}

	deps := Dependencies{
		Gateway:         gateway,
		Assets:          addrs.Assets,
		Tokens:          addrs.Tokens,
		BalanceInterval: cfg.Monitor.BalanceInterval(),
		RiskInterval:    cfg.Monitor.RiskInterval(),
		DepositGasLimit: cfg.Action.DepositGasLimit,
		Closers: []func() error{func() error {
			client.Close()
			return nil
		}},
	}

	// Redis 未启用时不发布
	if cfg.Redis.Enabled {
		publisher, err := _redisClient.NewPublisher(parentCtx, _redisClient.ClientOptions{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.KeyPrefix, cfg.Redis.SnapshotTTL())
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("初始化Redis客户端失败: %w", err)
		}
		deps.Publisher = publisher
		deps.Closers = append(deps.Closers, publisher.Close)
	}

	return NewService(parentCtx, deps, logger), nil
}

// NewService 使用给定依赖创建服务
func NewService(parentCtx context.Context, deps Dependencies, logger *zap.Logger) *LendwatchService {
	ctx, cancel := context.WithCancel(parentCtx)

	balanceInterval := deps.BalanceInterval
	if balanceInterval <= 0 {
		balanceInterval = monitor.DefaultBalanceInterval
	}
	riskInterval := deps.RiskInterval
	if riskInterval <= 0 {
		riskInterval = monitor.DefaultRiskInterval
	}

	// 显式区分 nil，避免带类型的 nil 接口
	var cachePublisher cache.Publisher
	var riskPublisher monitor.RiskPublisher
	var opts []trading.Option
	if deps.Publisher != nil {
		cachePublisher = deps.Publisher
		riskPublisher = deps.Publisher
		opts = append(opts, trading.WithHistory(deps.Publisher))
	}

	positionCache := cache.NewPositionCache(deps.Gateway, cachePublisher, logger)
	positionMonitor := monitor.NewPositionMonitor(positionCache, deps.Assets, deps.Tokens, riskPublisher, logger)

	s := &LendwatchService{
		ctx:              ctx,
		cancel:           cancel,
		logger:           logger.With(zap.String("component", "service")),
		gateway:          deps.Gateway,
		cache:            positionCache,
		monitor:          positionMonitor,
		balanceScheduler: monitor.NewScheduler("balance", balanceInterval, positionMonitor.BalanceJob(), logger),
		riskScheduler:    monitor.NewScheduler("risk", riskInterval, positionMonitor.RiskJob(), logger),
		closers:          deps.Closers,
		handles:          make(map[uuid.UUID]*SubscriptionHandle),
	}

	opts = append(opts, trading.WithSuccessHook(s.onActionSucceeded))
	s.orchestrator = trading.NewOrchestrator(deps.Gateway, positionCache, deps.DepositGasLimit, logger, opts...)

	return s
}

// Start 启动服务，开始监控签名账户
func (s *LendwatchService) Start() *SubscriptionHandle {
	s.logger.Info("启动借贷仓位监控服务", zap.String("account", s.gateway.Account().Hex()))
	return s.Subscribe(s.gateway.Account())
}

// Stop 停止所有订阅并释放连接，重复调用只执行一次
func (s *LendwatchService) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx)
	})
	return s.stopErr
}

func (s *LendwatchService) stop(ctx context.Context) error {
	s.logger.Info("停止借贷仓位监控服务")

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, sch := range []*monitor.Scheduler{s.riskScheduler, s.balanceScheduler} {
			wg.Add(1)
			go func(sch *monitor.Scheduler) {
				defer wg.Done()
				sch.StopAll(shutdownTimeout)
			}(sch)
		}
		wg.Wait()
		close(done)
	}()

	var stopErr error
	select {
	case <-done:
	case <-ctx.Done():
		stopErr = ctx.Err()
	}

	s.cancel()

	s.mu.Lock()
	s.handles = make(map[uuid.UUID]*SubscriptionHandle)
	s.mu.Unlock()

	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.logger.Error("关闭连接失败", zap.Error(err))
		}
	}
	return stopErr
}

// Account 签名（或只读监控）账户
func (s *LendwatchService) Account() common.Address {
	return s.gateway.Account()
}

// Subscribe 开始监控账户的余额与风险
func (s *LendwatchService) Subscribe(account common.Address) *SubscriptionHandle {
	h := newSubscriptionHandle(account,
		s.riskScheduler.Subscribe(s.ctx, account),
		s.balanceScheduler.Subscribe(s.ctx, account))

	s.mu.Lock()
	s.handles[h.ID] = h
	s.mu.Unlock()

	return h
}

// Unsubscribe 停止订阅，返回后不会再有读取结果写入缓存
func (s *LendwatchService) Unsubscribe(h *SubscriptionHandle) {
	if h == nil {
		return
	}
	s.riskScheduler.Unsubscribe(h.risk)
	s.balanceScheduler.Unsubscribe(h.balance)

	s.mu.Lock()
	delete(s.handles, h.ID)
	s.mu.Unlock()
}

// Subscription 按ID查找订阅
func (s *LendwatchService) Subscription(id uuid.UUID) (*SubscriptionHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

// GetLatestRisk 最近一次的风险指标
func (s *LendwatchService) GetLatestRisk(account common.Address) (model.RiskIndicators, bool) {
	return s.monitor.LatestRisk(account)
}

// GetLatestPosition 缓存中的仓位
func (s *LendwatchService) GetLatestPosition(account, asset common.Address) (model.PositionSnapshot, bool) {
	return s.cache.GetPosition(account, asset)
}

// GetLatestBalance 缓存中的余额
func (s *LendwatchService) GetLatestBalance(account, token common.Address) (model.BalanceSnapshot, bool) {
	return s.cache.GetBalance(account, token)
}

// PerformAction 执行存款/取款/借款/还款
func (s *LendwatchService) PerformAction(ctx context.Context, req model.ActionRequest) model.ActionOutcome {
	return s.orchestrator.PerformAction(ctx, req)
}

func (s *LendwatchService) onActionSucceeded(outcome model.ActionOutcome) {
	s.logger.Info("操作成功",
		zap.String("request_id", outcome.RequestID.String()),
		zap.String("kind", string(outcome.Kind)),
		zap.String("amount", outcome.Amount))
}
