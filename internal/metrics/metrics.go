// Package metrics defines the Prometheus instruments exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPosted counts messages accepted through the HTTP API.
	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsyncd_messages_posted_total",
			Help: "Total messages accepted and stored",
		},
	)

	// GitSyncs counts git synchronization attempts by result ("ok" or
	// "failed").
	GitSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsyncd_git_syncs_total",
			Help: "Total git sync attempts by result",
		},
		[]string{"result"},
	)

	// HTTPRequests counts handled HTTP requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsyncd_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
