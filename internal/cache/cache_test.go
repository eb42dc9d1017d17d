package cache

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

	"github.com/life2you_mini/lendwatch/internal/ledger"
	"github.com/life2you_mini/lendwatch/internal/mocks"
)

var (
	account = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	weth    = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

type denyCommit struct{}

func (denyCommit) Commit(fn func()) bool { return false }

func reading(deposit, borrow uint64) ledger.PositionReading {
	return ledger.PositionReading{
		DepositAmount:  *uint256.NewInt(deposit),
		BorrowAmount:   *uint256.NewInt(borrow),
		LastUpdateTime: time.Unix(1700000000, 0),
	}
}

func TestPositionCache_AbsentIsNotZero(t *testing.T) {
	gw := new(mocks.MockLedgerGateway)
	gw.On("GetPosition", mock.Anything, account, weth).Return(reading(0, 0), nil).Once()

	c := NewPositionCache(gw, nil, zaptest.NewLogger(t))

	_, ok := c.GetPosition(account, weth)
	assert.False(t, ok)

	snap, err := c.Refresh(context.Background(), account, weth)
	require.NoError(t, err)
	assert.True(t, snap.DepositAmount.IsZero())

	cached, ok := c.GetPosition(account, weth)
	assert.True(t, ok)
	assert.Equal(t, snap, cached)
	gw.AssertExpectations(t)
}

func TestPositionCache_RefreshFailureKeepsPrevious(t *testing.T) {
	gw := new(mocks.MockLedgerGateway)
	gw.On("GetPosition", mock.Anything, account, weth).Return(reading(10, 2), nil).Once()
	gw.On("GetPosition", mock.Anything, account, weth).
		Return(ledger.PositionReading{}, fmt.Errorf("userPositions: %w", ledger.ErrUnavailable)).Once()

	c := NewPositionCache(gw, nil, zaptest.NewLogger(t))

	first, err := c.Refresh(context.Background(), account, weth)
	require.NoError(t, err)

	_, err = c.Refresh(context.Background(), account, weth)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrUnavailable))

	cached, ok := c.GetPosition(account, weth)
	require.True(t, ok)
	assert.Equal(t, first, cached)
}

func TestPositionCache_LastCompletionWins(t *testing.T) {
	gw := new(mocks.MockLedgerGateway)
	started := make(chan struct{})
	release := make(chan struct{})

	// 先发起的读取阻塞到后发起的读取完成之后
	gw.On("GetPosition", mock.Anything, account, weth).Return(reading(1, 0), nil).Run(func(args mock.Arguments) {
		close(started)
		<-release
	}).Once()
	gw.On("GetPosition", mock.Anything, account, weth).Return(reading(2, 0), nil).Once()

	c := NewPositionCache(gw, nil, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background(), account, weth)
		done <- err
	}()
	<-started

	_, err := c.Refresh(context.Background(), account, weth)
	require.NoError(t, err)
	cached, _ := c.GetPosition(account, weth)
	assert.Equal(t, uint64(2), cached.DepositAmount.Uint64())

	close(release)
	require.NoError(t, <-done)

	cached, _ = c.GetPosition(account, weth)
	assert.Equal(t, uint64(1), cached.DepositAmount.Uint64())
}

func TestPositionCache_DiscardedCommit(t *testing.T) {
	gw := new(mocks.MockLedgerGateway)
	gw.On("GetPosition", mock.Anything, account, weth).Return(reading(5, 0), nil)
	gw.On("GetTokenBalance", mock.Anything, weth, account).Return(*uint256.NewInt(7), nil)

	pub := new(mocks.MockPublisher)
	c := NewPositionCache(gw, pub, zaptest.NewLogger(t))

	_, err := c.RefreshWith(context.Background(), account, weth, denyCommit{})
	assert.ErrorIs(t, err, ErrDiscarded)
	_, ok := c.GetPosition(account, weth)
	assert.False(t, ok)

	_, err = c.RefreshBalanceWith(context.Background(), account, weth, denyCommit{})
	assert.ErrorIs(t, err, ErrDiscarded)
	_, ok = c.GetBalance(account, weth)
	assert.False(t, ok)

	pub.AssertNotCalled(t, "SavePositionSnapshot", mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "SaveBalance", mock.Anything, mock.Anything)
}

func TestPositionCache_PublishesCommittedSnapshots(t *testing.T) {
	gw := new(mocks.MockLedgerGateway)
	gw.On("GetPosition", mock.Anything, account, weth).Return(reading(5, 1), nil)
	gw.On("GetTokenBalance", mock.Anything, weth, account).Return(*uint256.NewInt(7), nil)

	pub := new(mocks.MockPublisher)
	pub.On("SavePositionSnapshot", mock.Anything, mock.AnythingOfType("model.PositionSnapshot")).Return(nil).Once()
	// 发布失败不影响缓存
	pub.On("SaveBalance", mock.Anything, mock.AnythingOfType("model.BalanceSnapshot")).Return(errors.New("redis down")).Once()

	c := NewPositionCache(gw, pub, zaptest.NewLogger(t))

	_, err := c.Refresh(context.Background(), account, weth)
	require.NoError(t, err)
	balance, err := c.RefreshBalance(context.Background(), account, weth)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), balance.Amount.Uint64())

	cached, ok := c.GetBalance(account, weth)
	require.True(t, ok)
	assert.Equal(t, balance, cached)
	pub.AssertExpectations(t)
}

func TestPositionCache_RefreshRiskInputs(t *testing.T) {
	t.Run("两项都成功", func(t *testing.T) {
		gw := new(mocks.MockLedgerGateway)
		gw.On("GetHealthFactor", mock.Anything, account).Return(*uint256.NewInt(25000), nil)
		gw.On("GetLiquidationHealthFactor", mock.Anything, account).Return(*uint256.NewInt(18000), nil)

		c := NewPositionCache(gw, nil, zaptest.NewLogger(t))
		inputs, err := c.RefreshRiskInputsWith(context.Background(), account, alwaysCommit{})
		require.NoError(t, err)
		assert.Equal(t, uint64(25000), inputs.HealthFactor.Uint64())
		assert.Equal(t, uint64(18000), inputs.LiquidationHealthFactor.Uint64())

		cached, ok := c.GetRiskInputs(account)
		require.True(t, ok)
		assert.Equal(t, inputs, cached)
	})

	t.Run("任一失败不写入", func(t *testing.T) {
		gw := new(mocks.MockLedgerGateway)
		gw.On("GetHealthFactor", mock.Anything, account).Return(*uint256.NewInt(25000), nil)
		gw.On("GetLiquidationHealthFactor", mock.Anything, account).
			Return(uint256.Int{}, fmt.Errorf("getLiquidationHealthFactor: %w", ledger.ErrUnavailable))

		c := NewPositionCache(gw, nil, zaptest.NewLogger(t))
		_, err := c.RefreshRiskInputsWith(context.Background(), account, alwaysCommit{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ledger.ErrUnavailable))

		_, ok := c.GetRiskInputs(account)
		assert.False(t, ok)
	})
}
