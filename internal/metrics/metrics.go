package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lendwatch"

// ============ 轮询 ============

// PollTicks 每次轮询执行的结果计数
var PollTicks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "poll_ticks_total",
		Help:      "Total number of polling ticks by scheduler and result",
	},
	[]string{"scheduler", "result"},
)

// PollDuration 单次轮询耗时
var PollDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "poll_duration_seconds",
		Help:      "Duration of a single polling tick in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"scheduler"},
)

// ActiveSubscriptions 活跃订阅数
var ActiveSubscriptions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "active_subscriptions",
		Help:      "Number of running subscriptions per scheduler",
	},
	[]string{"scheduler"},
)

// ============ 风险 ============

// LiquidationRiskPercent 最近一次计算的清算风险
var LiquidationRiskPercent = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "liquidation_risk_percent",
		Help:      "Latest liquidation risk percent per account",
	},
	[]string{"account"},
)

// NearLiquidationAlerts 临近清算告警次数
var NearLiquidationAlerts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "near_liquidation_alerts_total",
		Help:      "Total number of near-liquidation alerts",
	},
	[]string{"account"},
)

// ============ 操作 ============

// ActionTransitions 操作状态机迁移计数
var ActionTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "action",
		Name:      "transitions_total",
		Help:      "Total number of action state transitions",
	},
	[]string{"kind", "state"},
)

// ActionOutcomes 操作最终结果计数
var ActionOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "action",
		Name:      "outcomes_total",
		Help:      "Total number of action outcomes by status and error kind",
	},
	[]string{"kind", "status", "error_kind"},
)

// ConfirmationLatency 从提交到确认的耗时
var ConfirmationLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "action",
		Name:      "confirmation_latency_seconds",
		Help:      "Time from submission to confirmation in seconds",
		Buckets:   []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
	},
	[]string{"kind"},
)
