package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/life2you_mini/lendwatch/internal/model"
)

// 快照键名
const (
	positionKeyPrefix = "position:"
	balanceKeyPrefix  = "balance:"
	riskKeyPrefix     = "risk:"
)

// Publisher 将快照、风险指标、告警与操作结果写入Redis
// 只写不读，进程内缓存才是数据来源
type Publisher struct {
	client    Commands
	closer    func() error
	queue     *QueueService
	keyPrefix string
	ttl       time.Duration
}

// NewPublisher 连接Redis并创建发布器
func NewPublisher(ctx context.Context, opts ClientOptions, keyPrefix string, ttl time.Duration) (*Publisher, error) {
	client, err := NewRedisClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	p := newPublisher(client, keyPrefix, ttl)
	p.closer = client.Close
	return p, nil
}

func newPublisher(client Commands, keyPrefix string, ttl time.Duration) *Publisher {
	return &Publisher{
		client:    client,
		queue:     NewQueueService(client, keyPrefix),
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Close 关闭Redis连接
func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

type positionDocument struct {
	Account        string    `json:"account"`
	Asset          string    `json:"asset"`
	DepositAmount  string    `json:"deposit_amount"`
	BorrowAmount   string    `json:"borrow_amount"`
	LastUpdateTime time.Time `json:"last_update_time"`
	FetchedAt      time.Time `json:"fetched_at"`
}

type balanceDocument struct {
	Account   string    `json:"account"`
	Token     string    `json:"token"`
	Amount    string    `json:"amount"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SavePositionSnapshot 保存仓位快照
func (p *Publisher) SavePositionSnapshot(ctx context.Context, snap model.PositionSnapshot) error {
	doc := positionDocument{
		Account:        snap.Account.Hex(),
		Asset:          snap.Asset.Hex(),
		DepositAmount:  model.FormatAmount(snap.DepositAmount),
		BorrowAmount:   model.FormatAmount(snap.BorrowAmount),
		LastUpdateTime: snap.LastUpdateTime,
		FetchedAt:      snap.FetchedAt,
	}
	return p.setJSON(ctx, p.positionKey(snap.Account, snap.Asset), doc)
}

// SaveBalance 保存余额快照
func (p *Publisher) SaveBalance(ctx context.Context, snap model.BalanceSnapshot) error {
	doc := balanceDocument{
		Account:   snap.Account.Hex(),
		Token:     snap.Token.Hex(),
		Amount:    model.FormatAmount(snap.Amount),
		FetchedAt: snap.FetchedAt,
	}
	return p.setJSON(ctx, p.balanceKey(snap.Account, snap.Token), doc)
}

// SaveRiskIndicators 保存风险指标
func (p *Publisher) SaveRiskIndicators(ctx context.Context, account common.Address, indicators model.RiskIndicators) error {
	return p.setJSON(ctx, p.keyPrefix+riskKeyPrefix+account.Hex(), indicators)
}

// PushAlert 推送临近清算告警
func (p *Publisher) PushAlert(ctx context.Context, alert model.RiskAlert) error {
	return p.queue.PushTask(ctx, QueueAlerts, alert)
}

// SaveActionOutcome 保存操作结果，只保留最近1000条
func (p *Publisher) SaveActionOutcome(ctx context.Context, outcome model.ActionOutcome) error {
	return p.queue.PushTask(ctx, QueueActionHistory, outcome)
}

func (p *Publisher) positionKey(account, asset common.Address) string {
	return p.keyPrefix + positionKeyPrefix + account.Hex() + ":" + asset.Hex()
}

func (p *Publisher) balanceKey(account, token common.Address) string {
	return p.keyPrefix + balanceKeyPrefix + account.Hex() + ":" + token.Hex()
}

func (p *Publisher) setJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}
	if err := p.client.Set(ctx, key, string(data), p.ttl).Err(); err != nil {
		return fmt.Errorf("保存%s到Redis失败: %w", key, err)
	}
	return nil
}
