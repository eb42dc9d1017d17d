package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ActionKind 用户操作类型
type ActionKind string

const (
	ActionDeposit  ActionKind = "DEPOSIT"
	ActionWithdraw ActionKind = "WITHDRAW"
	ActionBorrow   ActionKind = "BORROW"
	ActionRepay    ActionKind = "REPAY"
)

// Valid 是否为已知的操作类型
func (k ActionKind) Valid() bool {
	switch k {
	case ActionDeposit, ActionWithdraw, ActionBorrow, ActionRepay:
		return true
	}
	return false
}

// AttachesValue 存款和还款以原生资产计价，需要随交易附带金额
func (k ActionKind) AttachesValue() bool {
	return k == ActionDeposit || k == ActionRepay
}

// ParseActionKind 解析操作类型（不区分大小写）
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("未知的操作类型: %s", s)
	}
	return k, nil
}

// ActionStatus 操作的最终状态
type ActionStatus string

const (
	StatusSucceeded ActionStatus = "Succeeded"
	StatusRejected  ActionStatus = "Rejected"
	StatusFailed    ActionStatus = "Failed"
)

// ErrorKind 稳定的错误分类
type ErrorKind string

const (
	ErrorKindNone                    ErrorKind = ""
	ErrorKindLedgerUnavailable       ErrorKind = "LedgerUnavailable"
	ErrorKindInvalidAmount           ErrorKind = "InvalidAmount"
	ErrorKindInsufficientDeposit     ErrorKind = "InsufficientDeposit"
	ErrorKindInsufficientBorrow      ErrorKind = "InsufficientBorrow"
	ErrorKindInsufficientCollateral  ErrorKind = "InsufficientCollateral"
	ErrorKindUnhealthyPositionResult ErrorKind = "UnhealthyPositionResult"
	ErrorKindCancelled               ErrorKind = "Cancelled"
	ErrorKindUnknown                 ErrorKind = "Unknown"
)

// ActionRequest 用户发起的操作请求，创建后不可修改
type ActionRequest struct {
	ID     uuid.UUID      `json:"id"`
	Kind   ActionKind     `json:"kind"`
	Asset  common.Address `json:"asset"`
	Amount uint256.Int    `json:"-"`
}

// NewActionRequest 创建操作请求
func NewActionRequest(kind ActionKind, asset common.Address, amount uint256.Int) ActionRequest {
	return ActionRequest{
		ID:     uuid.New(),
		Kind:   kind,
		Asset:  asset,
		Amount: amount,
	}
}

// ParseActionRequest 从十进制字符串金额（如 "1.5"）创建操作请求
func ParseActionRequest(kind string, asset common.Address, amount string) (ActionRequest, error) {
	k, err := ParseActionKind(kind)
	if err != nil {
		return ActionRequest{}, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return ActionRequest{}, fmt.Errorf("%w: 金额格式错误: %v", ErrInvalidAmount, err)
	}
	fixed, err := ToFixed(d, AmountDecimals)
	if err != nil {
		return ActionRequest{}, err
	}
	return NewActionRequest(k, asset, fixed), nil
}

// ActionOutcome 操作结果，每个请求只产生一次
type ActionOutcome struct {
	RequestID  uuid.UUID    `json:"request_id"`
	Kind       ActionKind   `json:"kind"`
	Asset      string       `json:"asset"`
	Amount     string       `json:"amount"`
	Status     ActionStatus `json:"status"`
	TxHash     *common.Hash `json:"tx_hash,omitempty"`
	ErrorKind  ErrorKind    `json:"error_kind,omitempty"`
	Diagnostic string       `json:"diagnostic,omitempty"` // 原始错误信息，仅用于日志
	Message    string       `json:"message,omitempty"`    // 面向用户的简短提示
}

// Succeeded 是否成功
func (o ActionOutcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}
