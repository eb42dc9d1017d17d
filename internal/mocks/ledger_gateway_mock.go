package mocks

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/lendwatch/internal/ledger"
)

// MockLedgerGateway 账本网关的模拟实现
type MockLedgerGateway struct {
	mock.Mock
}

// Account 签名账户的模拟实现
func (m *MockLedgerGateway) Account() common.Address {
	args := m.Called()
	return args.Get(0).(common.Address)
}

// GetPosition 读取仓位的模拟实现
func (m *MockLedgerGateway) GetPosition(ctx context.Context, account, asset common.Address) (ledger.PositionReading, error) {
	args := m.Called(ctx, account, asset)
	return args.Get(0).(ledger.PositionReading), args.Error(1)
}

// GetHealthFactor 读取健康因子的模拟实现
func (m *MockLedgerGateway) GetHealthFactor(ctx context.Context, account common.Address) (uint256.Int, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint256.Int), args.Error(1)
}

// GetLiquidationHealthFactor 读取清算健康因子的模拟实现
func (m *MockLedgerGateway) GetLiquidationHealthFactor(ctx context.Context, account common.Address) (uint256.Int, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint256.Int), args.Error(1)
}

// GetTokenBalance 读取代币余额的模拟实现
func (m *MockLedgerGateway) GetTokenBalance(ctx context.Context, token, account common.Address) (uint256.Int, error) {
	args := m.Called(ctx, token, account)
	return args.Get(0).(uint256.Int), args.Error(1)
}

// SubmitAction 提交交易的模拟实现
func (m *MockLedgerGateway) SubmitAction(ctx context.Context, req ledger.SubmitRequest) (ledger.TxHandle, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ledger.TxHandle), args.Error(1)
}

// AwaitConfirmation 等待确认的模拟实现
func (m *MockLedgerGateway) AwaitConfirmation(ctx context.Context, handle ledger.TxHandle) (ledger.Receipt, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).(ledger.Receipt), args.Error(1)
}
