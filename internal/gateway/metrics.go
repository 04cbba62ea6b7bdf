package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "erpagent_gateway_retries_total",
	Help: "Retried model gateway calls by failure kind.",
}, []string{"kind"})
