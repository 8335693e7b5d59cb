package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regstow_registry_requests_total",
		Help: "Registry API requests by operation and HTTP status code.",
	}, []string{"operation", "code"})

	transferBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regstow_registry_transfer_bytes_total",
		Help: "Blob bytes transferred to and from registries.",
	}, []string{"direction"})
)
