package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cycles_total", Help: "Decision cycles started"},
	)
	CyclesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cycles_skipped_total", Help: "Ticks dropped because a cycle was still in flight"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted to the venue"},
		[]string{"instrument", "side"},
	)
	OrderRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "order_retries_total", Help: "Order submissions retried after a transient failure"},
	)
	LiquidityRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "liquidity_rejections_total", Help: "Orders aborted before submission by the liquidity guard"},
		[]string{"instrument"},
	)
	ReconcilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reconciles_total", Help: "Reconciliation passes by outcome"},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, CyclesSkipped, OrdersTotal, OrderRetries, LiquidityRejections, ReconcilesTotal)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
