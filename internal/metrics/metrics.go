package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebsocketConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections",
		Help: "Current number of active WebSocket connections",
	})
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_sent_total",
		Help: "Total number of events dispatched to a filter's WebSocket channel",
	}, []string{"filter"})
	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messages_received_total",
		Help: "Total number of messages received from the firehose",
	})
	FiltersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filters_created_total",
		Help: "Total number of filters created",
	})
	FiltersDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filters_deleted_total",
		Help: "Total number of filters deleted",
	})
	FirehoseReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firehose_reconnects_total",
		Help: "Total number of firehose subscription reconnects",
	})
	FirehoseLastSeq = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "firehose_last_seq",
		Help: "Most recently observed firehose sequence number",
	})
	FanoutDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_dropped_total",
		Help: "Total number of events dropped per filter channel due to a full queue",
	}, []string{"filter"})
	FeedSkeletonRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_skeleton_requests_total",
		Help: "Total number of getFeedSkeleton requests per algorithm",
	}, []string{"algorithm", "status"})
)

func init() {
	prometheus.MustRegister(
		WebsocketConnections,
		MessagesSent,
		MessagesReceived,
		FiltersCreated,
		FiltersDeleted,
		FirehoseReconnects,
		FirehoseLastSeq,
		FanoutDropped,
		FeedSkeletonRequests,
	)
}
