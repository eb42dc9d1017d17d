package mocks

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/lendwatch/internal/model"
)

// MockPublisher Redis发布器的模拟实现
type MockPublisher struct {
	mock.Mock
}

// SavePositionSnapshot 保存仓位快照的模拟实现
func (m *MockPublisher) SavePositionSnapshot(ctx context.Context, snap model.PositionSnapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

// SaveBalance 保存余额快照的模拟实现
func (m *MockPublisher) SaveBalance(ctx context.Context, snap model.BalanceSnapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

// SaveRiskIndicators 保存风险指标的模拟实现
func (m *MockPublisher) SaveRiskIndicators(ctx context.Context, account common.Address, indicators model.RiskIndicators) error {
	args := m.Called(ctx, account, indicators)
	return args.Error(0)
}

// PushAlert 推送告警的模拟实现
func (m *MockPublisher) PushAlert(ctx context.Context, alert model.RiskAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// SaveActionOutcome 记录操作结果的模拟实现
func (m *MockPublisher) SaveActionOutcome(ctx context.Context, outcome model.ActionOutcome) error {
	args := m.Called(ctx, outcome)
	return args.Error(0)
}
