package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/life2you_mini/lendwatch/internal/model"
	"github.com/life2you_mini/lendwatch/internal/trading"
)

const (
	defaultRequestTimeout = 15 * time.Second
	actionRequestLimit    = 1 << 16
)

// Service 查询接口依赖的服务能力
type Service interface {
	Account() common.Address
	GetLatestRisk(account common.Address) (model.RiskIndicators, bool)
	GetLatestPosition(account, asset common.Address) (model.PositionSnapshot, bool)
	GetLatestBalance(account, token common.Address) (model.BalanceSnapshot, bool)
	PerformAction(ctx context.Context, req model.ActionRequest) model.ActionOutcome
}

// Config 路由配置
type Config struct {
	Service        Service
	Assets         []common.Address
	Tokens         []common.Address
	ResolveAsset   func(string) (common.Address, error) // 为空时只接受十六进制地址
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

type handlers struct {
	cfg    Config
	logger *zap.Logger
}

// NewRouter 创建HTTP路由：健康检查、指标、仓位查询与操作提交
func NewRouter(cfg Config) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	h := &handlers{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "api")),
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(sr chi.Router) {
		sr.Get("/account", h.account)
		sr.Route("/accounts/{account}", func(ar chi.Router) {
			ar.Get("/risk", h.risk)
			ar.Get("/positions", h.positions)
			ar.Get("/balances", h.balances)
		})
		sr.Post("/actions", h.performAction)
	})
	return r
}

// NewServer 创建HTTP服务
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type positionView struct {
	Asset          string    `json:"asset"`
	DepositAmount  string    `json:"deposit_amount"`
	BorrowAmount   string    `json:"borrow_amount"`
	LastUpdateTime time.Time `json:"last_update_time"`
	FetchedAt      time.Time `json:"fetched_at"`
}

type balanceView struct {
	Token     string    `json:"token"`
	Amount    string    `json:"amount"`
	FetchedAt time.Time `json:"fetched_at"`
}

type actionBody struct {
	Kind   string `json:"kind"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (h *handlers) account(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"account": h.cfg.Service.Account().Hex()})
}

func (h *handlers) risk(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	indicators, found := h.cfg.Service.GetLatestRisk(account)
	if !found {
		writeError(w, http.StatusNotFound, "尚无风险数据")
		return
	}
	writeJSON(w, http.StatusOK, indicators)
}

func (h *handlers) positions(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	out := make([]positionView, 0, len(h.cfg.Assets))
	for _, asset := range h.cfg.Assets {
		snap, found := h.cfg.Service.GetLatestPosition(account, asset)
		if !found {
			continue
		}
		out = append(out, positionView{
			Asset:          snap.Asset.Hex(),
			DepositAmount:  model.FormatAmount(snap.DepositAmount),
			BorrowAmount:   model.FormatAmount(snap.BorrowAmount),
			LastUpdateTime: snap.LastUpdateTime,
			FetchedAt:      snap.FetchedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) balances(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	out := make([]balanceView, 0, len(h.cfg.Tokens))
	for _, token := range h.cfg.Tokens {
		snap, found := h.cfg.Service.GetLatestBalance(account, token)
		if !found {
			continue
		}
		out = append(out, balanceView{
			Token:     snap.Token.Hex(),
			Amount:    model.FormatAmount(snap.Amount),
			FetchedAt: snap.FetchedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) performAction(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	dec := json.NewDecoder(io.LimitReader(r.Body, actionRequestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("请求格式错误: %v", err))
		return
	}

	asset, err := h.resolveAsset(body.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := model.ParseActionKind(body.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := model.ParseActionRequest(body.Kind, asset, body.Amount)
	if err != nil {
		if errors.Is(err, model.ErrInvalidAmount) {
			h.logger.Warn("操作金额无效", zap.String("kind", string(kind)), zap.String("amount", body.Amount), zap.Error(err))
			writeJSON(w, http.StatusUnprocessableEntity, trading.RejectInvalidAmount(kind, asset, body.Amount, err))
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	h.logger.Info("收到操作请求",
		zap.String("request_id", req.ID.String()),
		zap.String("kind", string(req.Kind)),
		zap.String("amount", body.Amount))

	outcome := h.cfg.Service.PerformAction(ctx, req)
	writeJSON(w, statusForOutcome(outcome), outcome)
}

func (h *handlers) resolveAsset(s string) (common.Address, error) {
	if h.cfg.ResolveAsset != nil {
		return h.cfg.ResolveAsset(s)
	}
	if !common.IsHexAddress(strings.TrimSpace(s)) {
		return common.Address{}, errors.New("无效的资产地址: " + s)
	}
	return common.HexToAddress(s), nil
}

func statusForOutcome(outcome model.ActionOutcome) int {
	switch outcome.Status {
	case model.StatusSucceeded:
		return http.StatusOK
	case model.StatusRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func accountParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "account")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "无效的账户地址: "+raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
