package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/life2you_mini/lendwatch/internal/model"
)

// 借贷协议合约ABI（只包含用到的方法）
const lendingProtocolABI = `[
	{"type":"function","name":"userPositions","stateMutability":"view",
	 "inputs":[{"name":"token","type":"address"},{"name":"user","type":"address"}],
	 "outputs":[{"name":"depositAmount","type":"uint256"},{"name":"borrowAmount","type":"uint256"},{"name":"lastUpdateTime","type":"uint256"}]},
	{"type":"function","name":"getHealthFactor","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getLiquidationHealthFactor","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"deposit","stateMutability":"payable",
	 "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"borrow","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"repay","stateMutability":"payable",
	 "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

// ERC-20 balanceOf
const erc20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const (
	methodUserPositions              = "userPositions"
	methodGetHealthFactor            = "getHealthFactor"
	methodGetLiquidationHealthFactor = "getLiquidationHealthFactor"
	methodBalanceOf                  = "balanceOf"
)

func parseABIs() (lending abi.ABI, erc20 abi.ABI, err error) {
	lending, err = abi.JSON(strings.NewReader(lendingProtocolABI))
	if err != nil {
		return lending, erc20, fmt.Errorf("解析借贷协议ABI失败: %w", err)
	}
	erc20, err = abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return lending, erc20, fmt.Errorf("解析ERC20 ABI失败: %w", err)
	}
	return lending, erc20, nil
}

// methodForKind 操作类型对应的合约方法
func methodForKind(kind model.ActionKind) (string, error) {
	switch kind {
	case model.ActionDeposit:
		return "deposit", nil
	case model.ActionWithdraw:
		return "withdraw", nil
	case model.ActionBorrow:
		return "borrow", nil
	case model.ActionRepay:
		return "repay", nil
	}
	return "", fmt.Errorf("不支持的操作类型: %s", kind)
}
