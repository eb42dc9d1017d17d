package trading

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/life2you_mini/lendwatch/internal/ledger"
	"github.com/life2you_mini/lendwatch/internal/model"
)

func TestClassifyLedgerError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		diagnostic string
		expected   model.ErrorKind
	}{
		{name: "传输失败", err: fmt.Errorf("发送交易: %w: %w", ledger.ErrUnavailable, errors.New("EOF")), expected: model.ErrorKindLedgerUnavailable},
		{name: "WETH余额不足", diagnostic: "execution reverted: Insufficient WETH balance", expected: model.ErrorKindInsufficientDeposit},
		{name: "超额借款", diagnostic: "Cannot borrow more than collateral allows", expected: model.ErrorKindInsufficientDeposit},
		{name: "超额取款", diagnostic: "cannot withdraw more than deposited", expected: model.ErrorKindInsufficientDeposit},
		{name: "超额还款", diagnostic: "Cannot repay more than borrowed", expected: model.ErrorKindInsufficientBorrow},
		{name: "抵押不足", diagnostic: "INSUFFICIENT COLLATERAL", expected: model.ErrorKindInsufficientCollateral},
		{name: "健康度不足", diagnostic: "execution reverted: Unhealthy position", expected: model.ErrorKindUnhealthyPositionResult},
		{name: "未知错误", diagnostic: "nonce too low", expected: model.ErrorKindUnknown},
		{name: "空信息", diagnostic: "", expected: model.ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyLedgerError(tt.err, tt.diagnostic))
		})
	}
}

func TestUserMessage(t *testing.T) {
	for _, p := range ledgerErrorPatterns {
		assert.NotEmpty(t, UserMessage(p.kind))
		assert.NotContains(t, UserMessage(p.kind), p.phrase)
	}
	assert.Equal(t, UserMessage(model.ErrorKindUnknown), UserMessage(model.ErrorKind("Other")))
}
