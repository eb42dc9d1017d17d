package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/life2you_mini/lendwatch/internal/ledger"
	"github.com/life2you_mini/lendwatch/internal/model"
)

// ErrDiscarded 读取完成时订阅已停止，结果未写入缓存
var ErrDiscarded = errors.New("cache: refresh result discarded")

// Committer 决定一次刷新结果能否写入缓存
// 返回 false 时 fn 不会被执行
type Committer interface {
	Commit(fn func()) bool
}

type alwaysCommit struct{}

func (alwaysCommit) Commit(fn func()) bool {
	fn()
	return true
}

// Publisher 已提交快照的外部镜像（只写）
type Publisher interface {
	SavePositionSnapshot(ctx context.Context, snap model.PositionSnapshot) error
	SaveBalance(ctx context.Context, snap model.BalanceSnapshot) error
}

type positionKey struct {
	account common.Address
	asset   common.Address
}

type balanceKey struct {
	account common.Address
	token   common.Address
}

// PositionCache 按账户缓存最近一次的仓位、余额与健康因子
type PositionCache struct {
	gateway   ledger.Gateway
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.RWMutex
	positions map[positionKey]model.PositionSnapshot
	balances  map[balanceKey]model.BalanceSnapshot
	risk      map[common.Address]model.RiskInputs
}

// NewPositionCache 创建缓存，publisher 可以为 nil
func NewPositionCache(gateway ledger.Gateway, publisher Publisher, logger *zap.Logger) *PositionCache {
	return &PositionCache{
		gateway:   gateway,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "position_cache")),
		now:       time.Now,
		positions: make(map[positionKey]model.PositionSnapshot),
		balances:  make(map[balanceKey]model.BalanceSnapshot),
		risk:      make(map[common.Address]model.RiskInputs),
	}
}

// GetPosition 返回缓存的仓位；首次刷新成功前返回 false
func (c *PositionCache) GetPosition(account, asset common.Address) (model.PositionSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.positions[positionKey{account, asset}]
	return snap, ok
}

// Refresh 从账本读取仓位并整体替换缓存
func (c *PositionCache) Refresh(ctx context.Context, account, asset common.Address) (model.PositionSnapshot, error) {
	return c.RefreshWith(ctx, account, asset, alwaysCommit{})
}

// RefreshWith 同 Refresh，写入前经过 committer 检查
func (c *PositionCache) RefreshWith(ctx context.Context, account, asset common.Address, committer Committer) (model.PositionSnapshot, error) {
	reading, err := c.gateway.GetPosition(ctx, account, asset)
	if err != nil {
		return model.PositionSnapshot{}, fmt.Errorf("刷新仓位失败: %w", err)
	}

	snap := model.PositionSnapshot{
		Account:        account,
		Asset:          asset,
		DepositAmount:  reading.DepositAmount,
		BorrowAmount:   reading.BorrowAmount,
		LastUpdateTime: reading.LastUpdateTime,
		FetchedAt:      c.now(),
	}

	// 以完成时间为准：后完成的刷新覆盖先完成的
	if !committer.Commit(func() {
		c.mu.Lock()
		c.positions[positionKey{account, asset}] = snap
		c.mu.Unlock()
	}) {
		return snap, ErrDiscarded
	}

	if c.publisher != nil {
		if err := c.publisher.SavePositionSnapshot(ctx, snap); err != nil {
			c.logger.Warn("发布仓位快照失败", zap.Error(err))
		}
	}
	return snap, nil
}

// GetBalance 返回缓存的代币余额
func (c *PositionCache) GetBalance(account, token common.Address) (model.BalanceSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.balances[balanceKey{account, token}]
	return snap, ok
}

// RefreshBalance 读取代币余额并替换缓存
func (c *PositionCache) RefreshBalance(ctx context.Context, account, token common.Address) (model.BalanceSnapshot, error) {
	return c.RefreshBalanceWith(ctx, account, token, alwaysCommit{})
}

// RefreshBalanceWith 同 RefreshBalance，写入前经过 committer 检查
func (c *PositionCache) RefreshBalanceWith(ctx context.Context, account, token common.Address, committer Committer) (model.BalanceSnapshot, error) {
	amount, err := c.gateway.GetTokenBalance(ctx, token, account)
	if err != nil {
		return model.BalanceSnapshot{}, fmt.Errorf("刷新余额失败: %w", err)
	}

	snap := model.BalanceSnapshot{
		Account:   account,
		Token:     token,
		Amount:    amount,
		FetchedAt: c.now(),
	}

	if !committer.Commit(func() {
		c.mu.Lock()
		c.balances[balanceKey{account, token}] = snap
		c.mu.Unlock()
	}) {
		return snap, ErrDiscarded
	}

	if c.publisher != nil {
		if err := c.publisher.SaveBalance(ctx, snap); err != nil {
			c.logger.Warn("发布余额快照失败", zap.Error(err))
		}
	}
	return snap, nil
}

// GetRiskInputs 返回缓存的健康因子原始值
func (c *PositionCache) GetRiskInputs(account common.Address) (model.RiskInputs, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inputs, ok := c.risk[account]
	return inputs, ok
}

// RefreshRiskInputsWith 并发读取健康因子与清算健康因子，两者都成功才写入
func (c *PositionCache) RefreshRiskInputsWith(ctx context.Context, account common.Address, committer Committer) (model.RiskInputs, error) {
	inputs := model.RiskInputs{Account: account}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hf, err := c.gateway.GetHealthFactor(gctx, account)
		if err != nil {
			return fmt.Errorf("读取健康因子失败: %w", err)
		}
		inputs.HealthFactor = hf
		return nil
	})
	g.Go(func() error {
		lhf, err := c.gateway.GetLiquidationHealthFactor(gctx, account)
		if err != nil {
			return fmt.Errorf("读取清算健康因子失败: %w", err)
		}
		inputs.LiquidationHealthFactor = lhf
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.RiskInputs{}, err
	}
	inputs.FetchedAt = c.now()

	if !committer.Commit(func() {
		c.mu.Lock()
		c.risk[account] = inputs
		c.mu.Unlock()
	}) {
		return inputs, ErrDiscarded
	}
	return inputs, nil
}
