package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/lendwatch/internal/cache"
	"github.com/life2you_mini/lendwatch/internal/ledger"
	"github.com/life2you_mini/lendwatch/internal/mocks"
	"github.com/life2you_mini/lendwatch/internal/model"
)

var (
	testWETH = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testUSDC = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

func runningSubscription() *Subscription {
	return &Subscription{
		Account: testAccount,
		state:   StateRunning,
		cancel:  func() {},
		done:    make(chan struct{}),
	}
}

func TestPositionMonitor_RiskJob(t *testing.T) {
	tests := []struct {
		name       string
		lhf        uint64
		expectWarn bool
	}{
		{name: "安全", lhf: 25000, expectWarn: false},
		{name: "接近清算", lhf: 11000, expectWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := new(mocks.MockLedgerGateway)
			gw.On("GetPosition", mock.Anything, testAccount, testWETH).Return(ledger.PositionReading{
				DepositAmount: *uint256.NewInt(10),
				BorrowAmount:  *uint256.NewInt(4),
			}, nil).Once()
			gw.On("GetHealthFactor", mock.Anything, testAccount).Return(*uint256.NewInt(30000), nil).Once()
			gw.On("GetLiquidationHealthFactor", mock.Anything, testAccount).Return(*uint256.NewInt(tt.lhf), nil).Once()

			pub := new(mocks.MockPublisher)
			pub.On("SaveRiskIndicators", mock.Anything, testAccount, mock.AnythingOfType("model.RiskIndicators")).Return(nil).Once()
			if tt.expectWarn {
				pub.On("PushAlert", mock.Anything, mock.MatchedBy(func(a model.RiskAlert) bool {
					return a.Account == testAccount && a.Indicators.NearLiquidation
				})).Return(nil).Once()
			}

			logger := zaptest.NewLogger(t)
			c := cache.NewPositionCache(gw, nil, logger)
			m := NewPositionMonitor(c, []common.Address{testWETH}, nil, pub, logger)

			err := m.RiskJob().Run(context.Background(), runningSubscription())
			require.NoError(t, err)

			snap, ok := c.GetPosition(testAccount, testWETH)
			require.True(t, ok)
			assert.Equal(t, uint64(10), snap.DepositAmount.Uint64())

			indicators, ok := m.LatestRisk(testAccount)
			require.True(t, ok)
			assert.Equal(t, tt.expectWarn, indicators.NearLiquidation)

			gw.AssertExpectations(t)
			pub.AssertExpectations(t)
			if !tt.expectWarn {
				pub.AssertNotCalled(t, "PushAlert", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestPositionMonitor_RiskJobPartialFailure(t *testing.T) {
	gw := new(mocks.MockLedgerGateway)
	gw.On("GetPosition", mock.Anything, testAccount, testWETH).
		Return(ledger.PositionReading{}, fmt.Errorf("userPositions: %w", ledger.ErrUnavailable))
	gw.On("GetHealthFactor", mock.Anything, testAccount).Return(*uint256.NewInt(30000), nil)
	gw.On("GetLiquidationHealthFactor", mock.Anything, testAccount).Return(*uint256.NewInt(20000), nil)

	logger := zaptest.NewLogger(t)
	c := cache.NewPositionCache(gw, nil, logger)
	m := NewPositionMonitor(c, []common.Address{testWETH}, nil, nil, logger)

	err := m.RiskJob().Run(context.Background(), runningSubscription())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrUnavailable))

	// 健康因子读取成功的部分仍然写入
	_, ok := m.LatestRisk(testAccount)
	assert.True(t, ok)
	_, ok = c.GetPosition(testAccount, testWETH)
	assert.False(t, ok)
}

func TestPositionMonitor_StoppedSubscriptionDiscards(t *testing.T) {
	gw := new(mocks.MockLedgerGateway)
	gw.On("GetPosition", mock.Anything, testAccount, testWETH).Return(ledger.PositionReading{}, nil)

	pub := new(mocks.MockPublisher)
	logger := zaptest.NewLogger(t)
	c := cache.NewPositionCache(gw, nil, logger)
	m := NewPositionMonitor(c, []common.Address{testWETH}, nil, pub, logger)

	sub := runningSubscription()
	sub.Stop()

	err := m.RiskJob().Run(context.Background(), sub)
	assert.ErrorIs(t, err, cache.ErrDiscarded)
	_, ok := c.GetPosition(testAccount, testWETH)
	assert.False(t, ok)
	gw.AssertNotCalled(t, "GetHealthFactor", mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "SaveRiskIndicators", mock.Anything, mock.Anything, mock.Anything)
}

func TestPositionMonitor_BalanceJob(t *testing.T) {
	gw := new(mocks.MockLedgerGateway)
	gw.On("GetTokenBalance", mock.Anything, testWETH, testAccount).Return(*uint256.NewInt(3), nil)
	gw.On("GetTokenBalance", mock.Anything, testUSDC, testAccount).
		Return(uint256.Int{}, fmt.Errorf("balanceOf: %w", ledger.ErrUnavailable))

	logger := zaptest.NewLogger(t)
	c := cache.NewPositionCache(gw, nil, logger)
	m := NewPositionMonitor(c, nil, []common.Address{testWETH, testUSDC}, nil, logger)

	err := m.BalanceJob().Run(context.Background(), runningSubscription())
	require.Error(t, err)

	weth, ok := c.GetBalance(testAccount, testWETH)
	require.True(t, ok)
	assert.Equal(t, uint64(3), weth.Amount.Uint64())
	_, ok = c.GetBalance(testAccount, testUSDC)
	assert.False(t, ok)
}

func TestPositionMonitor_WithScheduler(t *testing.T) {
	gw := new(mocks.MockLedgerGateway)
	gw.On("GetTokenBalance", mock.Anything, testWETH, testAccount).Return(*uint256.NewInt(9), nil)

	logger := zaptest.NewLogger(t)
	c := cache.NewPositionCache(gw, nil, logger)
	m := NewPositionMonitor(c, nil, []common.Address{testWETH}, nil, logger)

	s := NewScheduler("balance", time.Hour, m.BalanceJob(), logger)
	sub := s.Subscribe(context.Background(), testAccount)
	defer s.Unsubscribe(sub)

	assert.Eventually(t, func() bool {
		_, ok := c.GetBalance(testAccount, testWETH)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}
