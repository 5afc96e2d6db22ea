package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// State gauge values: 0=closed, 1=open, 2=half_open.
var (
	stateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dealerrag_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"breaker"})

	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealerrag_breaker_calls_total",
		Help: "Calls executed through each breaker",
	}, []string{"breaker", "outcome"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealerrag_breaker_rejections_total",
		Help: "Calls rejected while the breaker was open",
	}, []string{"breaker"})

	opensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealerrag_breaker_opens_total",
		Help: "Transitions into the open state",
	}, []string{"breaker"})

	closesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealerrag_breaker_closes_total",
		Help: "Transitions into the closed state",
	}, []string{"breaker"})
)

func setStateGauge(name string, s State) {
	stateGauge.WithLabelValues(name).Set(float64(s))
}

func incCalls(name string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	callsTotal.WithLabelValues(name, outcome).Inc()
}

func incRejections(name string) {
	rejectionsTotal.WithLabelValues(name).Inc()
}

func incOpens(name string) {
	opensTotal.WithLabelValues(name).Inc()
}

func incCloses(name string) {
	closesTotal.WithLabelValues(name).Inc()
}
