package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// 定点数精度
const (
	AmountDecimals int32 = 18 // 仓位金额、代币余额
	RatioDecimals  int32 = 4  // 健康因子
)

// PositionSnapshot 某账户在某资产上的仓位快照
// 由 PositionCache 独占持有，每次刷新整体替换
type PositionSnapshot struct {
	Account        common.Address `json:"account"`
	Asset          common.Address `json:"asset"`
	DepositAmount  uint256.Int    `json:"-"`
	BorrowAmount   uint256.Int    `json:"-"`
	LastUpdateTime time.Time      `json:"last_update_time"`
	FetchedAt      time.Time      `json:"fetched_at"`
}

// BalanceSnapshot 代币余额快照
type BalanceSnapshot struct {
	Account   common.Address `json:"account"`
	Token     common.Address `json:"token"`
	Amount    uint256.Int    `json:"-"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// RiskInputs 从账本读取的原始健康因子（4位定点）
// 风险指标只从这里重新推导，不单独缓存
type RiskInputs struct {
	Account                 common.Address `json:"account"`
	HealthFactor            uint256.Int    `json:"-"`
	LiquidationHealthFactor uint256.Int    `json:"-"`
	FetchedAt               time.Time      `json:"fetched_at"`
}

// SafetyRating 安全评级
type SafetyRating string

const (
	SafetyHigh   SafetyRating = "High"
	SafetyMedium SafetyRating = "Medium"
	SafetyLow    SafetyRating = "Low"
)

// RiskIndicators 风险指标
type RiskIndicators struct {
	Account                 common.Address  `json:"account"`
	HealthFactor            decimal.Decimal `json:"health_factor"`             // 展示用，保留2位小数
	LiquidationHealthFactor decimal.Decimal `json:"liquidation_health_factor"` // 展示用，保留2位小数
	LiquidationRiskPercent  decimal.Decimal `json:"liquidation_risk_percent"`  // 0-100
	SafetyRating            SafetyRating    `json:"safety_rating"`
	NearLiquidation         bool            `json:"near_liquidation"`
	AsOf                    time.Time       `json:"as_of"`
}

// FromFixed 将定点整数转换为十进制数
func FromFixed(v *uint256.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -decimals)
}

// ErrInvalidAmount 金额为负、格式错误或超出精度
var ErrInvalidAmount = errors.New("无效金额")

// ToFixed 将十进制数转换为定点整数，小数位超出精度时返回错误
func ToFixed(d decimal.Decimal, decimals int32) (uint256.Int, error) {
	var out uint256.Int
	if d.IsNegative() {
		return out, fmt.Errorf("%w: 金额不能为负数: %s", ErrInvalidAmount, d.String())
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return out, fmt.Errorf("%w: 小数位超过%d位: %s", ErrInvalidAmount, decimals, d.String())
	}
	v, overflow := uint256.FromBig(scaled.Truncate(0).BigInt())
	if overflow {
		return out, fmt.Errorf("%w: 金额超出uint256范围: %s", ErrInvalidAmount, d.String())
	}
	return *v, nil
}

// FormatAmount 按18位精度格式化金额
func FormatAmount(v uint256.Int) string {
	return FromFixed(&v, AmountDecimals).String()
}
