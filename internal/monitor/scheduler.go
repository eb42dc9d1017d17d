package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/life2you_mini/lendwatch/internal/cache"
	"github.com/life2you_mini/lendwatch/internal/metrics"
)

// 默认轮询间隔
const (
	DefaultBalanceInterval = 10 * time.Second
	DefaultRiskInterval    = 30 * time.Second
)

// State 订阅状态
type State string

const (
	StateStarted State = "Started"
	StateRunning State = "Running"
	StateStopped State = "Stopped"
)

// Job 每次tick执行一次读取和缓存刷新
// 写缓存时必须通过 sub 提交，订阅停止后的结果会被丢弃
type Job interface {
	Run(ctx context.Context, sub *Subscription) error
}

// JobFunc 函数适配为 Job
type JobFunc func(ctx context.Context, sub *Subscription) error

// Run 执行任务
func (f JobFunc) Run(ctx context.Context, sub *Subscription) error {
	return f(ctx, sub)
}

// Subscription 单个账户的轮询订阅
type Subscription struct {
	ID      uuid.UUID
	Account common.Address

	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// State 当前状态
func (s *Subscription) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Commit 订阅未停止时执行 fn
// Stop 会等待正在进行的提交完成，返回后不再有任何提交
func (s *Subscription) Commit(fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateStopped {
		return false
	}
	fn()
	return true
}

// Stop 停止订阅，可重复调用
func (s *Subscription) Stop() {
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.cancel()
}

// Done 轮询协程退出后关闭
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) markRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return false
	}
	s.state = StateRunning
	return true
}

var _ cache.Committer = (*Subscription)(nil)

// Scheduler 固定间隔轮询调度器，每个订阅一个协程
type Scheduler struct {
	name     string
	interval time.Duration
	job      Job
	logger   *zap.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription
}

// NewScheduler 创建调度器
func NewScheduler(name string, interval time.Duration, job Job, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		logger:   logger.With(zap.String("component", "scheduler"), zap.String("scheduler", name)),
		subs:     make(map[uuid.UUID]*Subscription),
	}
}

// Name 调度器名称
func (s *Scheduler) Name() string {
	return s.name
}

// Subscribe 为账户启动轮询，立即执行第一次读取
func (s *Scheduler) Subscribe(ctx context.Context, account common.Address) *Subscription {
	loopCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ID:      uuid.New(),
		Account: account,
		state:   StateStarted,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[sub.ID] = sub
	metrics.ActiveSubscriptions.WithLabelValues(s.name).Set(float64(len(s.subs)))
	s.mu.Unlock()

	s.logger.Info("启动订阅",
		zap.String("subscription", sub.ID.String()),
		zap.String("account", account.Hex()),
		zap.Duration("interval", s.interval))

	go s.run(loopCtx, sub)
	return sub
}

// Unsubscribe 停止订阅，返回后该订阅不会再写入缓存
func (s *Scheduler) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.Stop()
	s.remove(sub)
	s.logger.Info("停止订阅", zap.String("subscription", sub.ID.String()))
}

// StopAll 停止所有订阅并等待协程退出
func (s *Scheduler) StopAll(timeout time.Duration) {
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.Unsubscribe(sub)
	}

	deadline := time.After(timeout)
	for _, sub := range subs {
		select {
		case <-sub.Done():
		case <-deadline:
			s.logger.Warn("等待订阅退出超时")
			return
		}
	}
}

// Active 当前活跃订阅数
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Scheduler) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub.ID)
	metrics.ActiveSubscriptions.WithLabelValues(s.name).Set(float64(len(s.subs)))
}

func (s *Scheduler) run(ctx context.Context, sub *Subscription) {
	defer close(sub.done)
	// 上层 context 取消时同样进入 Stopped
	defer sub.Stop()

	if !sub.markRunning() {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// 立即执行一次
	s.tick(ctx, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, sub)
		}
	}
}

// tick 在订阅协程内串行执行，同一订阅的tick不会重叠
func (s *Scheduler) tick(ctx context.Context, sub *Subscription) {
	if sub.State() == StateStopped {
		return
	}

	start := time.Now()
	err := s.job.Run(ctx, sub)
	metrics.PollDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.PollTicks.WithLabelValues(s.name, "ok").Inc()
	case errors.Is(err, cache.ErrDiscarded) || ctx.Err() != nil:
		metrics.PollTicks.WithLabelValues(s.name, "discarded").Inc()
	default:
		// 读取失败不终止轮询，下一次tick重试
		metrics.PollTicks.WithLabelValues(s.name, "error").Inc()
		s.logger.Warn("轮询失败",
			zap.String("subscription", sub.ID.String()),
			zap.String("account", sub.Account.Hex()),
			zap.Error(err))
	}
}
