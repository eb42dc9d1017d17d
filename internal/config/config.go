package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 应用配置结构
type Config struct {
	Ledger  LedgerConfig  `mapstructure:"ledger" yaml:"ledger"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Action  ActionConfig  `mapstructure:"action" yaml:"action"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	System  SystemConfig  `mapstructure:"system" yaml:"system"`
}

// LedgerConfig 链上账本配置
type LedgerConfig struct {
	Network    string `mapstructure:"network" yaml:"network"`
	RPCURL     string `mapstructure:"rpc_url" yaml:"rpc_url"`
	PrivateKey string `mapstructure:"private_key" yaml:"private_key,omitempty"` // 从环境变量中读取
	Account    string `mapstructure:"account" yaml:"account,omitempty"`         // 只读模式下监控的账户

	// 覆盖地址簿中的合约地址
	LendingProtocol string `mapstructure:"lending_protocol" yaml:"lending_protocol,omitempty"`
	RiskContract    string `mapstructure:"risk_contract" yaml:"risk_contract,omitempty"`

	RequestsPerSecond          float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst                      int     `mapstructure:"burst" yaml:"burst"`
	ConfirmPollIntervalSeconds int     `mapstructure:"confirm_poll_interval_seconds" yaml:"confirm_poll_interval_seconds"`
	ConfirmTimeoutSeconds      int     `mapstructure:"confirm_timeout_seconds" yaml:"confirm_timeout_seconds"`
}

// MonitorConfig 监控配置
type MonitorConfig struct {
	BalanceIntervalSeconds int      `mapstructure:"balance_interval_seconds" yaml:"balance_interval_seconds"`
	RiskIntervalSeconds    int      `mapstructure:"risk_interval_seconds" yaml:"risk_interval_seconds"`
	Assets                 []string `mapstructure:"assets" yaml:"assets"` // 第一个为主资产
	Tokens                 []string `mapstructure:"tokens" yaml:"tokens"`
}

// ActionConfig 操作配置
type ActionConfig struct {
	DepositGasLimit uint64 `mapstructure:"deposit_gas_limit" yaml:"deposit_gas_limit"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled            bool   `mapstructure:"enabled" yaml:"enabled"`
	Host               string `mapstructure:"host" yaml:"host"`
	Port               int    `mapstructure:"port" yaml:"port"`
	Password           string `mapstructure:"password" yaml:"password,omitempty"`
	DB                 int    `mapstructure:"db" yaml:"db"`
	KeyPrefix          string `mapstructure:"key_prefix" yaml:"key_prefix"`
	SnapshotTTLSeconds int    `mapstructure:"snapshot_ttl_seconds" yaml:"snapshot_ttl_seconds"`
}

// HTTPConfig 查询接口与指标暴露
type HTTPConfig struct {
	Enabled               bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr            string `mapstructure:"listen_addr" yaml:"listen_addr"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogDir   string `mapstructure:"log_dir" yaml:"log_dir"`
}

// LoadConfig 从文件加载配置
func LoadConfig(filePath string) (*Config, error) {
	// .env 文件可选
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 环境变量覆盖，如 LENDWATCH_LEDGER_RPC_URL
	v.SetEnvPrefix("LENDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 特定环境变量映射
	if privateKey := os.Getenv("LENDWATCH_PRIVATE_KEY"); privateKey != "" {
		v.Set("ledger.private_key", privateKey)
	}
	if rpcURL := os.Getenv("LEDGER_RPC_URL"); rpcURL != "" {
		v.Set("ledger.rpc_url", rpcURL)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()
	v.SetDefault("ledger.network", d.Ledger.Network)
	v.SetDefault("ledger.rpc_url", d.Ledger.RPCURL)
	v.SetDefault("ledger.private_key", "")
	v.SetDefault("ledger.account", "")
	v.SetDefault("ledger.lending_protocol", "")
	v.SetDefault("ledger.risk_contract", "")
	v.SetDefault("ledger.requests_per_second", d.Ledger.RequestsPerSecond)
	v.SetDefault("ledger.burst", d.Ledger.Burst)
	v.SetDefault("ledger.confirm_poll_interval_seconds", d.Ledger.ConfirmPollIntervalSeconds)
	v.SetDefault("ledger.confirm_timeout_seconds", d.Ledger.ConfirmTimeoutSeconds)
	v.SetDefault("monitor.balance_interval_seconds", d.Monitor.BalanceIntervalSeconds)
	v.SetDefault("monitor.risk_interval_seconds", d.Monitor.RiskIntervalSeconds)
	v.SetDefault("monitor.assets", d.Monitor.Assets)
	v.SetDefault("monitor.tokens", d.Monitor.Tokens)
	v.SetDefault("action.deposit_gas_limit", d.Action.DepositGasLimit)
	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("redis.snapshot_ttl_seconds", d.Redis.SnapshotTTLSeconds)
	v.SetDefault("http.enabled", d.HTTP.Enabled)
	v.SetDefault("http.listen_addr", d.HTTP.ListenAddr)
	v.SetDefault("http.request_timeout_seconds", d.HTTP.RequestTimeoutSeconds)
	v.SetDefault("system.log_level", d.System.LogLevel)
	v.SetDefault("system.log_dir", d.System.LogDir)
}

// validateConfig 验证配置有效性
func validateConfig(config *Config) error {
	if config.Ledger.RPCURL == "" {
		return fmt.Errorf("RPC地址不能为空")
	}

	if _, err := LookupNetwork(config.Ledger.Network); err != nil {
		return err
	}

	for name, addr := range map[string]string{
		"account":          config.Ledger.Account,
		"lending_protocol": config.Ledger.LendingProtocol,
		"risk_contract":    config.Ledger.RiskContract,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%s 不是有效地址: %s", name, addr)
		}
	}

	if config.Ledger.PrivateKey == "" && config.Ledger.Account == "" {
		return fmt.Errorf("未配置私钥时必须指定监控账户")
	}

	if config.Ledger.RequestsPerSecond < 0 {
		return fmt.Errorf("每秒请求数不能为负数")
	}

	if config.Ledger.ConfirmPollIntervalSeconds <= 0 || config.Ledger.ConfirmTimeoutSeconds <= 0 {
		return fmt.Errorf("确认轮询间隔和超时必须大于0")
	}

	if config.Monitor.BalanceIntervalSeconds <= 0 || config.Monitor.RiskIntervalSeconds <= 0 {
		return fmt.Errorf("轮询间隔必须大于0")
	}

	if len(config.Monitor.Assets) == 0 {
		return fmt.Errorf("至少需要监控一个资产")
	}

	network, _ := LookupNetwork(config.Ledger.Network)
	for _, token := range append(append([]string{}, config.Monitor.Assets...), config.Monitor.Tokens...) {
		if _, err := network.Token(token); err != nil {
			return err
		}
	}

	if config.Redis.Enabled {
		if config.Redis.Host == "" {
			return fmt.Errorf("Redis主机不能为空")
		}
		if config.Redis.Port <= 0 || config.Redis.Port > 65535 {
			return fmt.Errorf("无效的Redis端口")
		}
	}

	if config.HTTP.Enabled && config.HTTP.ListenAddr == "" {
		return fmt.Errorf("HTTP监听地址不能为空")
	}

	return nil
}

// GetDefaultConfig 获取默认配置（用于生成示例配置）
func GetDefaultConfig() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Network:                    NetworkLocal,
			RPCURL:                     "http://127.0.0.1:8545",
			RequestsPerSecond:          10,
			Burst:                      5,
			ConfirmPollIntervalSeconds: 1,
			ConfirmTimeoutSeconds:      120,
		},
		Monitor: MonitorConfig{
			BalanceIntervalSeconds: 10,
			RiskIntervalSeconds:    30,
			Assets:                 []string{"weth"},
			Tokens:                 []string{"weth", "usdc"},
		},
		Action: ActionConfig{
			DepositGasLimit: 500000,
		},
		Redis: RedisConfig{
			Enabled:            false,
			Host:               "localhost",
			Port:               6379,
			DB:                 0,
			KeyPrefix:          "lendwatch:",
			SnapshotTTLSeconds: 300,
		},
		HTTP: HTTPConfig{
			Enabled:               true,
			ListenAddr:            ":9100",
			RequestTimeoutSeconds: 15,
		},
		System: SystemConfig{
			LogLevel: "INFO",
			LogDir:   "./logs",
		},
	}
}

// WriteDefaultConfig 将默认配置写入文件，不包含私钥
func WriteDefaultConfig(filePath string) error {
	config := GetDefaultConfig()
	config.Ledger.PrivateKey = ""

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}

// Addresses 解析后的链上地址
type Addresses struct {
	ChainID         int64
	LendingProtocol common.Address
	RiskContract    common.Address
	Account         common.Address // 未配置时为零地址
	Assets          []common.Address
	Tokens          []common.Address
}

// ResolveAddresses 合并地址簿与配置中的覆盖项
func (c *Config) ResolveAddresses() (Addresses, error) {
	network, err := LookupNetwork(c.Ledger.Network)
	if err != nil {
		return Addresses{}, err
	}

	out := Addresses{
		ChainID:         network.ChainID,
		LendingProtocol: network.LendingProtocol,
		RiskContract:    network.APIManager,
	}
	if c.Ledger.LendingProtocol != "" {
		out.LendingProtocol = common.HexToAddress(c.Ledger.LendingProtocol)
	}
	if c.Ledger.RiskContract != "" {
		out.RiskContract = common.HexToAddress(c.Ledger.RiskContract)
	}
	if c.Ledger.Account != "" {
		out.Account = common.HexToAddress(c.Ledger.Account)
	}

	if out.Assets, err = resolveTokens(network, c.Monitor.Assets); err != nil {
		return Addresses{}, err
	}
	if out.Tokens, err = resolveTokens(network, c.Monitor.Tokens); err != nil {
		return Addresses{}, err
	}
	return out, nil
}

func resolveTokens(network NetworkAddresses, names []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(names))
	for _, name := range names {
		addr, err := network.Token(name)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// ConfirmPollInterval 确认轮询间隔
func (c LedgerConfig) ConfirmPollInterval() time.Duration {
	return time.Duration(c.ConfirmPollIntervalSeconds) * time.Second
}

// ConfirmTimeout 确认超时
func (c LedgerConfig) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSeconds) * time.Second
}

// BalanceInterval 余额轮询间隔
func (c MonitorConfig) BalanceInterval() time.Duration {
	return time.Duration(c.BalanceIntervalSeconds) * time.Second
}

// RiskInterval 风险轮询间隔
func (c MonitorConfig) RiskInterval() time.Duration {
	return time.Duration(c.RiskIntervalSeconds) * time.Second
}

// Addr Redis地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SnapshotTTL 快照过期时间
func (c RedisConfig) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLSeconds) * time.Second
}

// RequestTimeout 单个HTTP请求的超时
func (c HTTPConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
