package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/life2you_mini/lendwatch/internal/model"
)

// ErrUnavailable 无法连接账本（网络/传输层失败）
var ErrUnavailable = errors.New("ledger: unavailable")

// PositionReading 账本返回的原始仓位数据
type PositionReading struct {
	DepositAmount  uint256.Int
	BorrowAmount   uint256.Int
	LastUpdateTime time.Time
}

// SubmitRequest 提交到账本的操作
type SubmitRequest struct {
	Kind     model.ActionKind
	Asset    common.Address
	Amount   uint256.Int
	Value    uint256.Int // 随交易附带的原生资产数量
	GasLimit uint64      // 0 表示由网关估算
}

// TxHandle 已提交交易的句柄
type TxHandle struct {
	Hash common.Hash
	// 用于在交易失败后重放以获取 revert 原因
	call ethereum.CallMsg
}

// Receipt 交易确认结果
type Receipt struct {
	Success      bool
	ErrorMessage string
	BlockNumber  *big.Int
	GasUsed      uint64
}

// Gateway 账本网关：只读查询与提交操作
type Gateway interface {
	// Account 返回签名账户
	Account() common.Address

	GetPosition(ctx context.Context, account, asset common.Address) (PositionReading, error)
	GetHealthFactor(ctx context.Context, account common.Address) (uint256.Int, error)
	GetLiquidationHealthFactor(ctx context.Context, account common.Address) (uint256.Int, error)
	GetTokenBalance(ctx context.Context, token, account common.Address) (uint256.Int, error)

	SubmitAction(ctx context.Context, req SubmitRequest) (TxHandle, error)
	AwaitConfirmation(ctx context.Context, handle TxHandle) (Receipt, error)
}
