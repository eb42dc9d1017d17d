package risk

import (
	"github.com/shopspring/decimal"

	"github.com/life2you_mini/lendwatch/internal/model"
)

// Thresholds 风险阈值（清算健康因子）
type Thresholds struct {
	NoDebt          decimal.Decimal // 大于此值视为无负债，清算风险为0
	Floor           decimal.Decimal // 小于此值清算风险为100%
	SafeHigh        decimal.Decimal // 大于等于此值为高安全评级
	SafeMedium      decimal.Decimal // 大于等于此值为中安全评级
	NearLiquidation decimal.Decimal // 小于此值发出临近清算告警
}

// DefaultThresholds 默认风险阈值
var DefaultThresholds = Thresholds{
	NoDebt:          decimal.NewFromInt(1_000_000),
	Floor:           decimal.RequireFromString("0.01"),
	SafeHigh:        decimal.NewFromInt(2),
	SafeMedium:      decimal.RequireFromString("1.5"),
	NearLiquidation: decimal.RequireFromString("1.2"),
}

var hundred = decimal.NewFromInt(100)

// DeriveRisk 根据健康因子计算风险指标，无副作用
func DeriveRisk(position model.PositionSnapshot, healthFactor, liquidationHealthFactor decimal.Decimal) model.RiskIndicators {
	return DefaultThresholds.Derive(position, healthFactor, liquidationHealthFactor)
}

// DeriveFromInputs 从缓存中的定点健康因子计算风险指标
func DeriveFromInputs(position model.PositionSnapshot, inputs model.RiskInputs) model.RiskIndicators {
	indicators := DeriveRisk(
		position,
		model.FromFixed(&inputs.HealthFactor, model.RatioDecimals),
		model.FromFixed(&inputs.LiquidationHealthFactor, model.RatioDecimals),
	)
	indicators.Account = inputs.Account
	indicators.AsOf = inputs.FetchedAt
	return indicators
}

// Derive 按给定阈值计算风险指标
// 百分比与评级使用完整精度，展示值保留2位小数
func (t Thresholds) Derive(position model.PositionSnapshot, healthFactor, liquidationHealthFactor decimal.Decimal) model.RiskIndicators {
	return model.RiskIndicators{
		Account:                 position.Account,
		HealthFactor:            healthFactor.Round(2),
		LiquidationHealthFactor: liquidationHealthFactor.Round(2),
		LiquidationRiskPercent:  t.LiquidationRiskPercent(liquidationHealthFactor),
		SafetyRating:            t.SafetyRating(liquidationHealthFactor),
		NearLiquidation:         liquidationHealthFactor.LessThan(t.NearLiquidation),
		AsOf:                    position.FetchedAt,
	}
}

// LiquidationRiskPercent 清算风险百分比 0-100
func (t Thresholds) LiquidationRiskPercent(lhf decimal.Decimal) decimal.Decimal {
	if lhf.GreaterThan(t.NoDebt) {
		return decimal.Zero
	}
	// 0 也落在这里，不会除零
	if lhf.LessThan(t.Floor) {
		return hundred
	}
	return decimal.Min(hundred, hundred.DivRound(lhf, 16)).Round(2)
}

// SafetyRating 安全评级
func (t Thresholds) SafetyRating(lhf decimal.Decimal) model.SafetyRating {
	switch {
	case lhf.GreaterThanOrEqual(t.SafeHigh):
		return model.SafetyHigh
	case lhf.GreaterThanOrEqual(t.SafeMedium):
		return model.SafetyMedium
	default:
		return model.SafetyLow
	}
}
