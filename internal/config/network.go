package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// 支持的网络
const (
	NetworkLocal   = "local"
	NetworkMainnet = "mainnet"
)

// NetworkAddresses 某个网络上部署的合约地址
type NetworkAddresses struct {
	ChainID         int64
	WETH            common.Address
	USDC            common.Address
	LendingProtocol common.Address
	PriceOracle     common.Address
	APIManager      common.Address // 健康因子查询
	StakingPool     common.Address
}

// 网络地址簿
var networks = map[string]NetworkAddresses{
	NetworkLocal: {
		ChainID:         31337,
		WETH:            common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		USDC:            common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
		LendingProtocol: common.HexToAddress("0xDc64a140Aa3E981100a9becA4E685f962f0cF6C9"),
		PriceOracle:     common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"),
		APIManager:      common.HexToAddress("0x5FC8d32690cc91D4c39d9d3abcBD16989F875707"),
		StakingPool:     common.HexToAddress("0xB7f8BC63BbcaD18155201308C8f3540b07f84F5e"),
	},
	NetworkMainnet: {
		ChainID:         1,
		WETH:            common.HexToAddress("0xC070A317F23E9A4e982e356485416251dd3Ed944"),
		USDC:            common.HexToAddress("0x6D39d71fF4ab56a4873febd34e1a3BDefc01b41e"),
		LendingProtocol: common.HexToAddress("0xe3EF345391654121f385679613Cea79A692C2Dd8"),
		PriceOracle:     common.HexToAddress("0x6D39d71fF4ab56a4873febd34e1a3BDefc01b41e"),
		APIManager:      common.HexToAddress("0x5FC8d32690cc91D4c39d9d3abcBD16989F875707"),
		StakingPool:     common.HexToAddress("0x6C2d83262fF84cBaDb3e416D527403135D757892"),
	},
}

// LookupNetwork 按网络名查找地址簿
func LookupNetwork(name string) (NetworkAddresses, error) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return NetworkAddresses{}, fmt.Errorf("不支持的网络: %s", name)
	}
	return n, nil
}

// Token 按符号（weth/usdc）或十六进制地址解析代币
func (n NetworkAddresses) Token(nameOrAddress string) (common.Address, error) {
	s := strings.TrimSpace(nameOrAddress)
	switch strings.ToLower(s) {
	case "weth":
		return n.WETH, nil
	case "usdc":
		return n.USDC, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("无效的代币: %s", nameOrAddress)
	}
	return common.HexToAddress(s), nil
}
