package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "erpagent_function_executions_total",
	Help: "Function executions by function name and outcome kind.",
}, []string{"function", "outcome"})
