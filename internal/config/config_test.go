package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
ledger:
  network: local
  rpc_url: http://localhost:8545
  account: `+testAccount+`
monitor:
  risk_interval_seconds: 60
  assets: [weth]
  tokens: [weth, usdc]
redis:
  enabled: true
  host: redis
  port: 6380
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.Ledger.RPCURL)
	assert.Equal(t, 60*time.Second, cfg.Monitor.RiskInterval())
	// 未配置的项使用默认值
	assert.Equal(t, 10*time.Second, cfg.Monitor.BalanceInterval())
	assert.Equal(t, uint64(500000), cfg.Action.DepositGasLimit)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr())
	assert.Equal(t, "lendwatch:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 120*time.Second, cfg.Ledger.ConfirmTimeout())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
ledger:
  network: local
  rpc_url: http://localhost:8545
`)
	t.Setenv("LENDWATCH_PRIVATE_KEY", "0xabc")
	t.Setenv("LEDGER_RPC_URL", "http://node:8545")
	t.Setenv("LENDWATCH_SYSTEM_LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0xabc", cfg.Ledger.PrivateKey)
	assert.Equal(t, "http://node:8545", cfg.Ledger.RPCURL)
	assert.Equal(t, "DEBUG", cfg.System.LogLevel)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "读取配置文件失败")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"默认配置加账户有效", func(c *Config) {}, ""},
		{"RPC为空", func(c *Config) { c.Ledger.RPCURL = "" }, "RPC地址不能为空"},
		{"未知网络", func(c *Config) { c.Ledger.Network = "goerli" }, "不支持的网络"},
		{"无私钥无账户", func(c *Config) { c.Ledger.Account = "" }, "必须指定监控账户"},
		{"账户地址无效", func(c *Config) { c.Ledger.Account = "0x123" }, "不是有效地址"},
		{"轮询间隔为0", func(c *Config) { c.Monitor.RiskIntervalSeconds = 0 }, "轮询间隔必须大于0"},
		{"没有资产", func(c *Config) { c.Monitor.Assets = nil }, "至少需要监控一个资产"},
		{"代币无效", func(c *Config) { c.Monitor.Tokens = []string{"dai"} }, "无效的代币"},
		{"Redis端口无效", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Port = 0
		}, "无效的Redis端口"},
		{"Redis关闭时不校验", func(c *Config) {
			c.Redis.Enabled = false
			c.Redis.Host = ""
		}, ""},
		{"HTTP监听地址为空", func(c *Config) { c.HTTP.ListenAddr = "" }, "HTTP监听地址不能为空"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			cfg.Ledger.Account = testAccount
			tt.mutate(cfg)

			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "private_key")

	// 默认配置缺少账户，需要通过环境变量提供私钥
	_, err = LoadConfig(path)
	require.Error(t, err)

	t.Setenv("LENDWATCH_PRIVATE_KEY", "0xabc")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, NetworkLocal, cfg.Ledger.Network)
	assert.Equal(t, []string{"weth", "usdc"}, cfg.Monitor.Tokens)
}

func TestResolveAddresses(t *testing.T) {
	local, err := LookupNetwork(NetworkLocal)
	require.NoError(t, err)

	t.Run("使用地址簿", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Ledger.Account = testAccount

		addrs, err := cfg.ResolveAddresses()
		require.NoError(t, err)
		assert.Equal(t, int64(31337), addrs.ChainID)
		assert.Equal(t, local.LendingProtocol, addrs.LendingProtocol)
		assert.Equal(t, local.APIManager, addrs.RiskContract)
		assert.Equal(t, common.HexToAddress(testAccount), addrs.Account)
		assert.Equal(t, []common.Address{local.WETH}, addrs.Assets)
		assert.Equal(t, []common.Address{local.WETH, local.USDC}, addrs.Tokens)
	})

	t.Run("覆盖合约地址", func(t *testing.T) {
		override := "0x0000000000000000000000000000000000000042"
		cfg := GetDefaultConfig()
		cfg.Ledger.LendingProtocol = override
		cfg.Monitor.Tokens = []string{override}

		addrs, err := cfg.ResolveAddresses()
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(override), addrs.LendingProtocol)
		assert.Equal(t, local.APIManager, addrs.RiskContract)
		assert.Equal(t, []common.Address{common.HexToAddress(override)}, addrs.Tokens)
		assert.Equal(t, common.Address{}, addrs.Account)
	})
}
