package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentPuts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_document_puts_total",
		Help: "Committed whole-document writes.",
	})
	documentDeletes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_document_deletes_total",
		Help: "Document deletions.",
	})
	chatAppends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_chat_appends_total",
		Help: "Chat messages appended.",
	})
	fanoutDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_fanout_deliveries_total",
		Help: "Change notifications delivered to subscribers.",
	})
)
