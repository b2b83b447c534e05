package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages persisted by the send service",
	})

	AttachmentUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_attachment_uploads_total",
		Help: "Attachment uploads by result",
	}, []string{"result"})

	LiveDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_live_deliveries_total",
		Help: "newMessage deliveries by result",
	}, []string{"result"})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_live_connections",
		Help: "Active live channel connections",
	})
)

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
