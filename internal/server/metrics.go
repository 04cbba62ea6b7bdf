package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var chatRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "erpagent_chat_requests_total",
	Help: "Chat requests by terminal status (ok, error, rejected).",
}, []string{"status"})
