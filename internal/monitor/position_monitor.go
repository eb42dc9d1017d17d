package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/life2you_mini/lendwatch/internal/cache"
	"github.com/life2you_mini/lendwatch/internal/metrics"
	"github.com/life2you_mini/lendwatch/internal/model"
	"github.com/life2you_mini/lendwatch/internal/risk"
)

const nearLiquidationMessage = "健康因子接近清算阈值，请补充抵押或偿还借款"

// RiskPublisher 风险指标与告警的外部输出
type RiskPublisher interface {
	SaveRiskIndicators(ctx context.Context, account common.Address, indicators model.RiskIndicators) error
	PushAlert(ctx context.Context, alert model.RiskAlert) error
}

// PositionMonitor 提供仓位/风险与余额两类轮询任务
type PositionMonitor struct {
	cache     *cache.PositionCache
	assets    []common.Address // 监控仓位的资产，第一个为主资产
	tokens    []common.Address // 监控余额的代币
	publisher RiskPublisher
	logger    *zap.Logger
}

// NewPositionMonitor 创建监控器，publisher 可以为 nil
func NewPositionMonitor(
	c *cache.PositionCache,
	assets []common.Address,
	tokens []common.Address,
	publisher RiskPublisher,
	logger *zap.Logger,
) *PositionMonitor {
	return &PositionMonitor{
		cache:     c,
		assets:    assets,
		tokens:    tokens,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "position_monitor")),
	}
}

// RiskJob 刷新仓位与健康因子并计算风险指标
func (m *PositionMonitor) RiskJob() Job {
	return JobFunc(m.refreshRisk)
}

// BalanceJob 刷新代币余额
func (m *PositionMonitor) BalanceJob() Job {
	return JobFunc(m.refreshBalances)
}

// LatestRisk 根据缓存重新计算风险指标，没有缓存时返回 false
func (m *PositionMonitor) LatestRisk(account common.Address) (model.RiskIndicators, bool) {
	inputs, ok := m.cache.GetRiskInputs(account)
	if !ok {
		return model.RiskIndicators{}, false
	}
	return risk.DeriveFromInputs(m.primaryPosition(account), inputs), true
}

func (m *PositionMonitor) primaryPosition(account common.Address) model.PositionSnapshot {
	if len(m.assets) > 0 {
		if snap, ok := m.cache.GetPosition(account, m.assets[0]); ok {
			return snap
		}
	}
	return model.PositionSnapshot{Account: account}
}

func (m *PositionMonitor) refreshRisk(ctx context.Context, sub *Subscription) error {
	var errs []error
	for _, asset := range m.assets {
		if _, err := m.cache.RefreshWith(ctx, sub.Account, asset, sub); err != nil {
			if errors.Is(err, cache.ErrDiscarded) {
				return err
			}
			errs = append(errs, err)
		}
	}

	inputs, err := m.cache.RefreshRiskInputsWith(ctx, sub.Account, sub)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}

	if sub.State() == StateStopped {
		return cache.ErrDiscarded
	}
	m.report(ctx, risk.DeriveFromInputs(m.primaryPosition(sub.Account), inputs))

	return errors.Join(errs...)
}

func (m *PositionMonitor) report(ctx context.Context, indicators model.RiskIndicators) {
	account := indicators.Account.Hex()

	m.logger.Info("风险指标",
		zap.String("account", account),
		zap.String("health_factor", indicators.HealthFactor.StringFixed(2)),
		zap.String("liquidation_health_factor", indicators.LiquidationHealthFactor.StringFixed(2)),
		zap.String("liquidation_risk", indicators.LiquidationRiskPercent.StringFixed(2)+"%"),
		zap.String("safety_rating", string(indicators.SafetyRating)))

	metrics.LiquidationRiskPercent.WithLabelValues(account).Set(indicators.LiquidationRiskPercent.InexactFloat64())

	if m.publisher != nil {
		if err := m.publisher.SaveRiskIndicators(ctx, indicators.Account, indicators); err != nil {
			m.logger.Warn("保存风险指标失败", zap.Error(err))
		}
	}

	if !indicators.NearLiquidation {
		return
	}

	m.logger.Warn("接近清算",
		zap.String("account", account),
		zap.String("liquidation_health_factor", indicators.LiquidationHealthFactor.StringFixed(2)))
	metrics.NearLiquidationAlerts.WithLabelValues(account).Inc()

	if m.publisher != nil {
		alert := model.RiskAlert{
			Account:    indicators.Account,
			Indicators: indicators,
			Message:    nearLiquidationMessage,
			CreatedAt:  time.Now(),
		}
		if err := m.publisher.PushAlert(ctx, alert); err != nil {
			m.logger.Warn("推送告警失败", zap.Error(err))
		}
	}
}

func (m *PositionMonitor) refreshBalances(ctx context.Context, sub *Subscription) error {
	var errs []error
	for _, token := range m.tokens {
		snap, err := m.cache.RefreshBalanceWith(ctx, sub.Account, token, sub)
		if err != nil {
			if errors.Is(err, cache.ErrDiscarded) {
				return err
			}
			errs = append(errs, err)
			continue
		}
		m.logger.Debug("余额已刷新",
			zap.String("account", sub.Account.Hex()),
			zap.String("token", token.Hex()),
			zap.String("amount", model.FormatAmount(snap.Amount)))
	}
	return errors.Join(errs...)
}
