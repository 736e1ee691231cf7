package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_rounds_total",
		Help: "Number of rounds created.",
	})

	BetsPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_bets_placed_total",
		Help: "Number of bets accepted.",
	})

	CashoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crash_cashouts_total",
		Help: "Number of successful cashouts by trigger.",
	}, []string{"trigger"})

	BetsLostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_bets_lost_total",
		Help: "Number of bets resolved lost on crash.",
	})

	CrashPoints = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crash_point",
		Help:    "Distribution of round crash points.",
		Buckets: []float64{1, 1.2, 1.5, 2, 3, 5, 10, 25, 100, 1000},
	})

	CurrentMultiplier = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crash_current_multiplier",
		Help: "Live multiplier of the running round.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crash_ws_connected_clients",
		Help: "Connected websocket clients.",
	})
)

type HealthFunc func(ctx context.Context) error

// StartServer runs a lightweight HTTP server serving only /metrics and
// /healthz on its own port, separate from the public API.
func StartServer(port string, healthFn HealthFunc) *http.Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if err := healthFn(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("unhealthy: %v", err)))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		_ = srv.ListenAndServe()
	}()

	return srv
}
