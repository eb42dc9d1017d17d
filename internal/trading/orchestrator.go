package trading

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/life2you_mini/lendwatch/internal/cache"
	"github.com/life2you_mini/lendwatch/internal/ledger"
	"github.com/life2you_mini/lendwatch/internal/metrics"
	"github.com/life2you_mini/lendwatch/internal/model"
)

// DefaultDepositGasLimit 存款交易固定的gas上限
const DefaultDepositGasLimit uint64 = 500000

// State 操作状态机
type State string

const (
	StateValidating           State = "Validating"
	StateSubmitting           State = "Submitting"
	StateAwaitingConfirmation State = "AwaitingConfirmation"
	StateRefreshing           State = "Refreshing"
	StateCompleted            State = "Completed"
	StateRejected             State = "Rejected"
)

// TransitionListener 状态迁移回调，用于追踪
type TransitionListener func(requestID uuid.UUID, from, to State)

// SuccessHook 操作成功后的附加动作
type SuccessHook func(outcome model.ActionOutcome)

// HistoryRecorder 操作结果记录
type HistoryRecorder interface {
	SaveActionOutcome(ctx context.Context, outcome model.ActionOutcome) error
}

// Option 可选配置
type Option func(*Orchestrator)

// WithTransitionListener 设置状态迁移回调
func WithTransitionListener(l TransitionListener) Option {
	return func(o *Orchestrator) { o.listener = l }
}

// WithSuccessHook 设置成功回调
func WithSuccessHook(h SuccessHook) Option {
	return func(o *Orchestrator) { o.onSuccess = h }
}

// WithHistory 设置结果记录
func WithHistory(r HistoryRecorder) Option {
	return func(o *Orchestrator) { o.history = r }
}

// Orchestrator 存款/取款/借款/还款操作的执行器
type Orchestrator struct {
	gateway         ledger.Gateway
	cache           *cache.PositionCache
	logger          *zap.Logger
	depositGasLimit uint64

	listener  TransitionListener
	onSuccess SuccessHook
	history   HistoryRecorder
}

// NewOrchestrator 创建执行器
func NewOrchestrator(
	gateway ledger.Gateway,
	c *cache.PositionCache,
	depositGasLimit uint64,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if depositGasLimit == 0 {
		depositGasLimit = DefaultDepositGasLimit
	}
	o := &Orchestrator{
		gateway:         gateway,
		cache:           c,
		logger:          logger.With(zap.String("component", "orchestrator")),
		depositGasLimit: depositGasLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// actionRun 单次操作的执行上下文
type actionRun struct {
	req    model.ActionRequest
	state  State
	logger *zap.Logger
}

// PerformAction 执行一次操作，每个请求只返回一个结果
func (o *Orchestrator) PerformAction(ctx context.Context, req model.ActionRequest) model.ActionOutcome {
	run := &actionRun{
		req: req,
		logger: o.logger.With(
			zap.String("request_id", req.ID.String()),
			zap.String("kind", string(req.Kind)),
			zap.String("asset", req.Asset.Hex()),
			zap.String("amount", model.FormatAmount(req.Amount))),
	}
	o.transition(run, StateValidating)

	if kind, diagnostic := o.validate(ctx, req); kind != model.ErrorKindNone {
		return o.reject(ctx, run, kind, diagnostic)
	}

	// 提交前取消：直接丢弃请求
	if err := ctx.Err(); err != nil {
		return o.reject(ctx, run, model.ErrorKindCancelled, err.Error())
	}

	// 交易一旦提交就不可撤回，之后不再响应调用方取消
	ctx = context.WithoutCancel(ctx)

	o.transition(run, StateSubmitting)
	run.logger.Info("操作开始", zap.String("event", string(req.Kind)+"_STARTED"))
	balanceBefore, hasBalance := o.cache.GetBalance(o.gateway.Account(), req.Asset)

	handle, err := o.gateway.SubmitAction(ctx, o.submitRequest(req))
	if err != nil {
		return o.fail(ctx, run, nil, err, err.Error())
	}

	o.transition(run, StateAwaitingConfirmation)
	submittedAt := time.Now()
	receipt, err := o.gateway.AwaitConfirmation(ctx, handle)
	metrics.ConfirmationLatency.WithLabelValues(string(req.Kind)).Observe(time.Since(submittedAt).Seconds())
	if err != nil {
		return o.fail(ctx, run, &handle.Hash, err, err.Error())
	}
	if !receipt.Success {
		return o.fail(ctx, run, &handle.Hash, nil, receipt.ErrorMessage)
	}

	o.transition(run, StateRefreshing)
	o.refreshAfterSuccess(ctx, run, balanceBefore, hasBalance)

	o.transition(run, StateCompleted)
	outcome := o.outcome(req, model.StatusSucceeded)
	outcome.TxHash = &handle.Hash

	run.logger.Info("操作完成",
		zap.String("event", string(req.Kind)+"_COMPLETED"),
		zap.String("tx_hash", handle.Hash.Hex()),
		zap.Uint64("gas_used", receipt.GasUsed))

	o.record(ctx, outcome)
	if o.onSuccess != nil {
		o.onSuccess(outcome)
	}
	return outcome
}

// validate 基于缓存的本地校验，返回 ErrorKindNone 表示通过
func (o *Orchestrator) validate(ctx context.Context, req model.ActionRequest) (model.ErrorKind, string) {
	if !req.Kind.Valid() {
		return model.ErrorKindUnknown, "未知的操作类型: " + string(req.Kind)
	}
	if req.Amount.IsZero() {
		return model.ErrorKindInvalidAmount, "金额必须大于0"
	}
	// 存款没有上限校验
	if req.Kind == model.ActionDeposit {
		return model.ErrorKindNone, ""
	}

	account := o.gateway.Account()
	snap, ok := o.cache.GetPosition(account, req.Asset)
	if !ok {
		// 尚无缓存时读取一次
		if err := ctx.Err(); err != nil {
			return model.ErrorKindCancelled, err.Error()
		}
		var err error
		snap, err = o.cache.Refresh(ctx, account, req.Asset)
		if err != nil {
			if ctx.Err() != nil {
				return model.ErrorKindCancelled, err.Error()
			}
			return model.ErrorKindLedgerUnavailable, err.Error()
		}
	}

	switch req.Kind {
	case model.ActionWithdraw, model.ActionBorrow:
		if req.Amount.Gt(&snap.DepositAmount) {
			return model.ErrorKindInsufficientDeposit,
				"金额 " + model.FormatAmount(req.Amount) + " 超过存款 " + model.FormatAmount(snap.DepositAmount)
		}
	case model.ActionRepay:
		if req.Amount.Gt(&snap.BorrowAmount) {
			return model.ErrorKindInsufficientBorrow,
				"金额 " + model.FormatAmount(req.Amount) + " 超过借款 " + model.FormatAmount(snap.BorrowAmount)
		}
	}
	return model.ErrorKindNone, ""
}

func (o *Orchestrator) submitRequest(req model.ActionRequest) ledger.SubmitRequest {
	sr := ledger.SubmitRequest{
		Kind:   req.Kind,
		Asset:  req.Asset,
		Amount: req.Amount,
	}
	if req.Kind.AttachesValue() {
		sr.Value = req.Amount
	}
	if req.Kind == model.ActionDeposit {
		sr.GasLimit = o.depositGasLimit
	}
	return sr
}

// refreshAfterSuccess 成功后刷新一次仓位和一次余额
func (o *Orchestrator) refreshAfterSuccess(ctx context.Context, run *actionRun, before model.BalanceSnapshot, hasBefore bool) {
	account := o.gateway.Account()

	if _, err := o.cache.Refresh(ctx, account, run.req.Asset); err != nil {
		run.logger.Warn("操作后刷新仓位失败", zap.Error(err))
	}

	after, err := o.cache.RefreshBalance(ctx, account, run.req.Asset)
	if err != nil {
		run.logger.Warn("操作后刷新余额失败", zap.Error(err))
		return
	}

	fields := []zap.Field{zap.String("balance_after", model.FormatAmount(after.Amount))}
	if hasBefore {
		fields = append(fields, zap.String("balance_before", model.FormatAmount(before.Amount)))
	}
	run.logger.Info("余额变化", fields...)
}

func (o *Orchestrator) reject(ctx context.Context, run *actionRun, kind model.ErrorKind, diagnostic string) model.ActionOutcome {
	o.transition(run, StateRejected)

	outcome := o.outcome(run.req, model.StatusRejected)
	outcome.ErrorKind = kind
	outcome.Diagnostic = diagnostic
	outcome.Message = UserMessage(kind)

	run.logger.Warn("操作被拒绝",
		zap.String("error_kind", string(kind)),
		zap.String("diagnostic", diagnostic))

	o.record(ctx, outcome)
	return outcome
}

func (o *Orchestrator) fail(ctx context.Context, run *actionRun, txHash *common.Hash, err error, diagnostic string) model.ActionOutcome {
	kind := ClassifyLedgerError(err, diagnostic)

	// 失败的交易也可能改变了状态，尽力刷新一次
	o.transition(run, StateRefreshing)
	if _, refreshErr := o.cache.Refresh(ctx, o.gateway.Account(), run.req.Asset); refreshErr != nil {
		run.logger.Warn("失败后刷新仓位失败", zap.Error(refreshErr))
	}
	o.transition(run, StateCompleted)

	outcome := o.outcome(run.req, model.StatusFailed)
	outcome.TxHash = txHash
	outcome.ErrorKind = kind
	outcome.Diagnostic = diagnostic
	outcome.Message = UserMessage(kind)

	fields := []zap.Field{
		zap.String("event", string(run.req.Kind)+"_FAILED"),
		zap.String("error_kind", string(kind)),
		zap.String("diagnostic", diagnostic),
	}
	if txHash != nil {
		fields = append(fields, zap.String("tx_hash", txHash.Hex()))
	}
	if err != nil && !errors.Is(err, ledger.ErrUnavailable) {
		fields = append(fields, zap.Error(err))
	}
	run.logger.Error("操作失败", fields...)

	o.record(ctx, outcome)
	return outcome
}

func (o *Orchestrator) outcome(req model.ActionRequest, status model.ActionStatus) model.ActionOutcome {
	return model.ActionOutcome{
		RequestID: req.ID,
		Kind:      req.Kind,
		Asset:     req.Asset.Hex(),
		Amount:    model.FormatAmount(req.Amount),
		Status:    status,
	}
}

// RejectInvalidAmount 金额无法解析为有效定点数时直接拒绝，不进入状态机
func RejectInvalidAmount(kind model.ActionKind, asset common.Address, amount string, err error) model.ActionOutcome {
	outcome := model.ActionOutcome{
		RequestID:  uuid.New(),
		Kind:       kind,
		Asset:      asset.Hex(),
		Amount:     amount,
		Status:     model.StatusRejected,
		ErrorKind:  model.ErrorKindInvalidAmount,
		Diagnostic: err.Error(),
		Message:    UserMessage(model.ErrorKindInvalidAmount),
	}
	metrics.ActionOutcomes.WithLabelValues(string(kind), string(outcome.Status), string(outcome.ErrorKind)).Inc()
	return outcome
}

func (o *Orchestrator) transition(run *actionRun, to State) {
	from := run.state
	run.state = to

	metrics.ActionTransitions.WithLabelValues(string(run.req.Kind), string(to)).Inc()
	run.logger.Debug("状态迁移", zap.String("from", string(from)), zap.String("to", string(to)))

	if o.listener != nil {
		o.listener(run.req.ID, from, to)
	}
}

func (o *Orchestrator) record(ctx context.Context, outcome model.ActionOutcome) {
	metrics.ActionOutcomes.WithLabelValues(string(outcome.Kind), string(outcome.Status), string(outcome.ErrorKind)).Inc()

	if o.history == nil {
		return
	}
	if err := o.history.SaveActionOutcome(context.WithoutCancel(ctx), outcome); err != nil {
		o.logger.Warn("记录操作结果失败", zap.Error(err))
	}
}
