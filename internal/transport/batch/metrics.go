package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syscalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netstress",
		Subsystem: "batch",
		Name:      "syscalls_total",
		Help:      "sendmmsg calls issued by batch managers.",
	})

	messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netstress",
		Subsystem: "batch",
		Name:      "messages_total",
		Help:      "Datagrams written by batch managers, by write path.",
	}, []string{"path"})

	degraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netstress",
		Subsystem: "batch",
		Name:      "degraded_total",
		Help:      "Managers that stopped using sendmmsg after the kernel rejected it.",
	})

	viaSendmmsg = messages.WithLabelValues("sendmmsg")
	viaLoop     = messages.WithLabelValues("loop")
)
