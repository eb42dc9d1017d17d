package trading

import (
	"errors"
	"strings"

	"github.com/life2you_mini/lendwatch/internal/ledger"
	"github.com/life2you_mini/lendwatch/internal/model"
)

type ledgerErrorPattern struct {
	phrase string
	kind   model.ErrorKind
}

// 账本错误信息匹配表，按顺序匹配，不区分大小写
var ledgerErrorPatterns = []ledgerErrorPattern{
	{phrase: "Insufficient WETH balance", kind: model.ErrorKindInsufficientDeposit},
	{phrase: "Cannot borrow more than", kind: model.ErrorKindInsufficientDeposit},
	{phrase: "Cannot withdraw more than", kind: model.ErrorKindInsufficientDeposit},
	{phrase: "Cannot repay more than", kind: model.ErrorKindInsufficientBorrow},
	{phrase: "Insufficient collateral", kind: model.ErrorKindInsufficientCollateral},
	{phrase: "Unhealthy position", kind: model.ErrorKindUnhealthyPositionResult},
}

// ClassifyLedgerError 将提交/确认阶段的错误归类
func ClassifyLedgerError(err error, diagnostic string) model.ErrorKind {
	if err != nil && errors.Is(err, ledger.ErrUnavailable) {
		return model.ErrorKindLedgerUnavailable
	}
	lower := strings.ToLower(diagnostic)
	for _, p := range ledgerErrorPatterns {
		if strings.Contains(lower, strings.ToLower(p.phrase)) {
			return p.kind
		}
	}
	return model.ErrorKindUnknown
}

var userMessages = map[model.ErrorKind]string{
	model.ErrorKindLedgerUnavailable:       "无法连接到链上节点，请稍后重试",
	model.ErrorKindInvalidAmount:           "请输入大于0的有效金额",
	model.ErrorKindInsufficientDeposit:     "存款余额不足",
	model.ErrorKindInsufficientBorrow:      "还款金额超过借款余额",
	model.ErrorKindInsufficientCollateral:  "抵押品不足，无法完成操作",
	model.ErrorKindUnhealthyPositionResult: "该操作会使仓位健康度过低",
	model.ErrorKindCancelled:               "操作已取消",
	model.ErrorKindUnknown:                 "交易失败，请稍后重试",
}

// UserMessage 面向用户的简短提示
func UserMessage(kind model.ErrorKind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[model.ErrorKindUnknown]
}
