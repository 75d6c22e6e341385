// Package metrics provides Prometheus metrics for the connector engine
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveOrders 当前非终态订单数
	ActiveOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "connector_active_orders",
		Help: "Number of tracked orders not yet in a terminal state",
	})

	// OrderTransitions 按目标状态统计的状态转换次数
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_order_transitions_total",
		Help: "Order state transitions applied by the tracker",
	}, []string{"state"})

	// StaleUpdatesDropped 因乱序/终态被丢弃的更新数
	StaleUpdatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connector_stale_updates_dropped_total",
		Help: "Order updates dropped because they would regress the state machine",
	})

	// FillsProcessed 已应用的成交更新数
	FillsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connector_fills_processed_total",
		Help: "Trade fills applied to tracked orders",
	})

	// DuplicateFills 因trade_id重复被拒绝的成交数
	DuplicateFills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connector_duplicate_fills_total",
		Help: "Trade fills rejected because the trade id was already recorded",
	})

	// Overfills 累计成交超出订单数量的次数（仅记录，不修正）
	Overfills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connector_overfills_total",
		Help: "Fills that pushed cumulative filled base beyond the order amount",
	})

	// NotFoundFailures 因连续not-found被判定失败的订单数
	NotFoundFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connector_not_found_failures_total",
		Help: "Orders failed after the venue repeatedly reported them unknown",
	})

	// BatchFlushSize 每次批量下单/撤单的条目数
	BatchFlushSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "connector_batch_flush_size",
		Help:    "Number of orders per batched venue call",
		Buckets: []float64{1, 2, 5, 10, 20, 50},
	}, []string{"kind"})

	// ReconcileMismatches 对账发现的订单号不一致次数
	ReconcileMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connector_reconcile_mismatches_total",
		Help: "Orders failed because the settlement transaction did not contain their id",
	})

	// DispatchErrors 推送/轮询循环捕获的错误数
	DispatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_dispatch_errors_total",
		Help: "Errors caught and retried by the update dispatch loops",
	}, []string{"loop"})

	// PollCycles 按使用的间隔档位统计的轮询次数
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_poll_cycles_total",
		Help: "Poll cycles executed, labeled by the interval tier in effect",
	}, []string{"tier"})
)

// Handler 返回暴露指标的HTTP处理器，由容器挂到指标服务器上。
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
