package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultConfirmPollInterval = 2 * time.Second
	defaultConfirmTimeout      = 5 * time.Minute
)

// EVMClient 网关用到的以太坊RPC子集
type EVMClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// EVMConfig EVM网关配置
type EVMConfig struct {
	RPCURL          string
	ChainID         int64
	LendingProtocol common.Address
	// 提供健康因子查询的合约（API管理器），为空时使用借贷协议本身
	RiskContract common.Address
	// 只读模式下监控的账户；配置了私钥时以私钥地址为准
	Account    common.Address
	PrivateKey string

	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration
	RequestsPerSecond   float64
	Burst               int
}

// EVMGateway 基于 go-ethereum 的账本网关
type EVMGateway struct {
	client     EVMClient
	cfg        EVMConfig
	logger     *zap.Logger
	lendingABI abi.ABI
	erc20ABI   abi.ABI
	key        *ecdsa.PrivateKey
	account    common.Address
	signer     gethtypes.Signer
	limiter    *rate.Limiter

	sendMu sync.Mutex
}

// DialEVMGateway 连接RPC节点并创建网关
func DialEVMGateway(ctx context.Context, cfg EVMConfig, logger *zap.Logger) (*EVMGateway, *ethclient.Client, error) {
	endpoint := strings.TrimSpace(cfg.RPCURL)
	if endpoint == "" {
		return nil, nil, fmt.Errorf("RPC地址不能为空")
	}
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("连接RPC节点失败: %w", err)
	}
	gw, err := NewEVMGateway(client, cfg, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return gw, client, nil
}

// NewEVMGateway 创建网关
func NewEVMGateway(client EVMClient, cfg EVMConfig, logger *zap.Logger) (*EVMGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("EVM客户端不能为空")
	}
	if (cfg.LendingProtocol == common.Address{}) {
		return nil, fmt.Errorf("借贷协议地址不能为空")
	}
	if (cfg.RiskContract == common.Address{}) {
		cfg.RiskContract = cfg.LendingProtocol
	}
	if cfg.ConfirmPollInterval <= 0 {
		cfg.ConfirmPollInterval = defaultConfirmPollInterval
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}

	lendingABI, erc20ABI, err := parseABIs()
	if err != nil {
		return nil, err
	}

	gw := &EVMGateway{
		client:     client,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "evm_gateway")),
		lendingABI: lendingABI,
		erc20ABI:   erc20ABI,
		account:    cfg.Account,
		signer:     gethtypes.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		gw.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	if key := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"); key != "" {
		privateKey, err := gethcrypto.HexToECDSA(key)
		if err != nil {
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
		gw.key = privateKey
		gw.account = gethcrypto.PubkeyToAddress(privateKey.PublicKey)
	}

	if (gw.account == common.Address{}) {
		return nil, fmt.Errorf("未配置账户地址或私钥")
	}

	return gw, nil
}

// Account 返回签名账户
func (g *EVMGateway) Account() common.Address {
	return g.account
}

// GetPosition 读取 userPositions(asset, account)
func (g *EVMGateway) GetPosition(ctx context.Context, account, asset common.Address) (PositionReading, error) {
	values, err := g.call(ctx, g.cfg.LendingProtocol, g.lendingABI, methodUserPositions, asset, account)
	if err != nil {
		return PositionReading{}, err
	}
	return decodePosition(values)
}

// GetHealthFactor 读取健康因子（4位定点）
func (g *EVMGateway) GetHealthFactor(ctx context.Context, account common.Address) (uint256.Int, error) {
	return g.callUint(ctx, g.cfg.RiskContract, g.lendingABI, methodGetHealthFactor, account)
}

// GetLiquidationHealthFactor 读取清算健康因子（4位定点）
func (g *EVMGateway) GetLiquidationHealthFactor(ctx context.Context, account common.Address) (uint256.Int, error) {
	return g.callUint(ctx, g.cfg.RiskContract, g.lendingABI, methodGetLiquidationHealthFactor, account)
}

// GetTokenBalance 读取 ERC-20 余额
func (g *EVMGateway) GetTokenBalance(ctx context.Context, token, account common.Address) (uint256.Int, error) {
	return g.callUint(ctx, token, g.erc20ABI, methodBalanceOf, account)
}

// SubmitAction 签名并发送交易，不等待确认
func (g *EVMGateway) SubmitAction(ctx context.Context, req SubmitRequest) (TxHandle, error) {
	if g.key == nil {
		return TxHandle{}, fmt.Errorf("只读模式：未配置签名私钥")
	}

	method, err := methodForKind(req.Kind)
	if err != nil {
		return TxHandle{}, err
	}
	data, err := g.lendingABI.Pack(method, req.Asset, req.Amount.ToBig())
	if err != nil {
		return TxHandle{}, fmt.Errorf("编码%s调用失败: %w", method, err)
	}

	to := g.cfg.LendingProtocol
	value := req.Value.ToBig()
	msg := ethereum.CallMsg{From: g.account, To: &to, Value: value, Data: data}

	if err := g.limiter.Wait(ctx); err != nil {
		return TxHandle{}, fmt.Errorf("%s: %w: %w", method, ErrUnavailable, err)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		// 估算失败通常意味着交易会被回滚，错误信息中带有 revert 原因
		gasLimit, err = g.client.EstimateGas(ctx, msg)
		if err != nil {
			return TxHandle{}, wrapRPCError("估算gas", err)
		}
	}

	// 节点的 pending nonce 在交易发送后才会增加，取nonce到发送必须串行
	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	nonce, err := g.client.PendingNonceAt(ctx, g.account)
	if err != nil {
		return TxHandle{}, wrapRPCError("获取nonce", err)
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return TxHandle{}, wrapRPCError("获取gas价格", err)
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, g.signer, g.key)
	if err != nil {
		return TxHandle{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return TxHandle{}, wrapRPCError("发送交易", err)
	}

	g.logger.Info("交易已发送",
		zap.String("method", method),
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit))

	msg.Gas = gasLimit
	return TxHandle{Hash: signed.Hash(), call: msg}, nil
}

// AwaitConfirmation 轮询交易回执直到上链或超时
func (g *EVMGateway) AwaitConfirmation(ctx context.Context, handle TxHandle) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(g.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(ctx, handle.Hash)
		switch {
		case err == nil && receipt != nil:
			return g.toReceipt(ctx, handle, receipt), nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			// 回执查询是只读操作，传输错误时继续轮询直到超时
			g.logger.Warn("查询交易回执失败",
				zap.String("tx_hash", handle.Hash.Hex()),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return Receipt{}, fmt.Errorf("等待交易%s确认: %w: %w", handle.Hash.Hex(), ErrUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (g *EVMGateway) toReceipt(ctx context.Context, handle TxHandle, r *gethtypes.Receipt) Receipt {
	out := Receipt{
		Success:     r.Status == gethtypes.ReceiptStatusSuccessful,
		BlockNumber: r.BlockNumber,
		GasUsed:     r.GasUsed,
	}
	if !out.Success {
		out.ErrorMessage = g.revertReason(ctx, handle, r.BlockNumber)
	}
	return out
}

// revertReason 在交易所在区块的父区块上重放调用以取得 revert 原因
func (g *EVMGateway) revertReason(ctx context.Context, handle TxHandle, blockNumber *big.Int) string {
	if handle.call.To == nil {
		return "transaction reverted"
	}
	var at *big.Int
	if blockNumber != nil && blockNumber.Sign() > 0 {
		at = new(big.Int).Sub(blockNumber, big.NewInt(1))
	}
	_, err := g.client.CallContract(ctx, handle.call, at)
	if err == nil {
		return "transaction reverted"
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if reason, unpackErr := abi.UnpackRevert(common.FromHex(hexData)); unpackErr == nil {
				return reason
			}
		}
	}
	return err.Error()
}

func (g *EVMGateway) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", method, ErrUnavailable, err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码%s调用失败: %w", method, err)
	}
	out, err := g.client.CallContract(ctx, ethereum.CallMsg{From: g.account, To: &contract, Data: data}, nil)
	if err != nil {
		return nil, wrapRPCError(method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("解码%s返回值失败: %w", method, err)
	}
	return values, nil
}

func (g *EVMGateway) callUint(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) (uint256.Int, error) {
	values, err := g.call(ctx, contract, parsed, method, args...)
	if err != nil {
		return uint256.Int{}, err
	}
	if len(values) != 1 {
		return uint256.Int{}, fmt.Errorf("%s返回值数量错误: %d", method, len(values))
	}
	return toUint256(values[0])
}

func decodePosition(values []interface{}) (PositionReading, error) {
	if len(values) < 3 {
		return PositionReading{}, fmt.Errorf("userPositions返回值数量错误: %d", len(values))
	}
	deposit, err := toUint256(values[0])
	if err != nil {
		return PositionReading{}, err
	}
	borrow, err := toUint256(values[1])
	if err != nil {
		return PositionReading{}, err
	}
	updated, err := toUint256(values[2])
	if err != nil {
		return PositionReading{}, err
	}
	return PositionReading{
		DepositAmount:  deposit,
		BorrowAmount:   borrow,
		LastUpdateTime: time.Unix(int64(updated.Uint64()), 0),
	}, nil
}

func toUint256(v interface{}) (uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return uint256.Int{}, fmt.Errorf("返回值类型错误: %T", v)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return uint256.Int{}, fmt.Errorf("返回值超出uint256范围")
	}
	return *u, nil
}

// wrapRPCError 区分账本拒绝（JSON-RPC错误，原样保留诊断信息）与传输失败
func wrapRPCError(op string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
