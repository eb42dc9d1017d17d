package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/life2you_mini/lendwatch/internal/model"
)

type mockCommands struct {
	mock.Mock
}

func (m *mockCommands) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(key, value, expiration)
	return redis.NewStatusResult("OK", args.Error(0))
}

func (m *mockCommands) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	args := m.Called(key, values)
	return redis.NewIntResult(1, args.Error(0))
}

func (m *mockCommands) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	args := m.Called(key, start, stop)
	return redis.NewStatusResult("OK", args.Error(0))
}

var (
	testAccount = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	testWETH    = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

func TestPublisher_SavePositionSnapshot(t *testing.T) {
	cmds := new(mockCommands)
	var stored string
	cmds.On("Set", "lendwatch:position:"+testAccount.Hex()+":"+testWETH.Hex(), mock.Anything, time.Minute).
		Run(func(args mock.Arguments) { stored = args.String(1) }).
		Return(nil).Once()

	p := newPublisher(cmds, "lendwatch:", time.Minute)
	err := p.SavePositionSnapshot(context.Background(), model.PositionSnapshot{
		Account:       testAccount,
		Asset:         testWETH,
		DepositAmount: *uint256.MustFromDecimal("1500000000000000000"),
	})
	require.NoError(t, err)
	cmds.AssertExpectations(t)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stored), &doc))
	assert.Equal(t, "1.5", doc["deposit_amount"])
	assert.Equal(t, "0", doc["borrow_amount"])
}

func TestPublisher_SaveActionOutcomeTrimsHistory(t *testing.T) {
	cmds := new(mockCommands)
	key := "lendwatch:" + QueueActionHistory
	cmds.On("LPush", key, mock.Anything).Return(nil).Once()
	cmds.On("LTrim", key, int64(0), int64(999)).Return(nil).Once()

	p := newPublisher(cmds, "lendwatch:", 0)
	err := p.SaveActionOutcome(context.Background(), model.ActionOutcome{
		Kind:   model.ActionDeposit,
		Status: model.StatusSucceeded,
	})
	require.NoError(t, err)
	cmds.AssertExpectations(t)
}

func TestPublisher_PushAlertError(t *testing.T) {
	cmds := new(mockCommands)
	cmds.On("LPush", "lendwatch:"+QueueAlerts, mock.Anything).Return(errors.New("connection refused")).Once()

	p := newPublisher(cmds, "lendwatch:", 0)
	err := p.PushAlert(context.Background(), model.RiskAlert{Account: testAccount})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	cmds.AssertNotCalled(t, "LTrim", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublisher_CloseWithoutClient(t *testing.T) {
	p := newPublisher(new(mockCommands), "", 0)
	assert.NoError(t, p.Close())
}
