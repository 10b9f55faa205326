// Registers:
//
//	#cryptostream_events_total{exchange,kind}
//	#cryptostream_stream_errors_total{exchange,error}
//	#cryptostream_book_resyncs_total{exchange}
//	#cryptostream_connections{exchange}
//	#cryptostream_queue_depth{exchange}
//	#go_* and process_* system metrics
//
// Exposed through the dashboard's /metrics route.
package metrics

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptostream/exchange"
)

var (
	once        sync.Once
	registry    = prometheus.NewRegistry()
	events      *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	resyncs     *prometheus.CounterVec
	connections *prometheus.GaugeVec
	queueDepth  *prometheus.GaugeVec
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		events = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptostream_events_total",
			Help: "Normalized market events published",
		}, []string{"exchange", "kind"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptostream_stream_errors_total",
			Help: "Error events published, by error kind",
		}, []string{"exchange", "error"})

		resyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptostream_book_resyncs_total",
			Help: "Order books invalidated and resubscribed",
		}, []string{"exchange"})

		connections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptostream_connections",
			Help: "Open websocket connections",
		}, []string{"exchange"})

		queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptostream_queue_depth",
			Help: "Events buffered in a venue output queue",
		}, []string{"exchange"})

		registry.MustRegister(events, errorsTotal, resyncs, connections, queueDepth)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func RecordEvent(exchangeID, kind string) {
	Init()
	events.WithLabelValues(exchangeID, kind).Inc()
}

// RecordError counts an error event under a stable label for its kind.
func RecordError(exchangeID string, err error) {
	Init()
	errorsTotal.WithLabelValues(exchangeID, ErrorKind(err)).Inc()
}

func RecordResync(exchangeID string) {
	Init()
	resyncs.WithLabelValues(exchangeID).Inc()
	emitVenue("books", "book_resync", exchangeID)
}

func ConnectionOpened(exchangeID string) {
	Init()
	connections.WithLabelValues(exchangeID).Inc()
	emitVenue("reader", "connection_opened", exchangeID)
}

func ConnectionClosed(exchangeID string) {
	Init()
	connections.WithLabelValues(exchangeID).Dec()
	emitVenue("reader", "connection_closed", exchangeID)
}

func SetQueueDepth(exchangeID string, depth int) {
	Init()
	queueDepth.WithLabelValues(exchangeID).Set(float64(depth))
}

// ErrorKind maps an error to a low-cardinality label.
func ErrorKind(err error) string {
	var (
		seq   *exchange.InvalidSequenceError
		unid  *exchange.UnidentifiedError
		des   *exchange.DeserialiseError
		sub   *exchange.SubscribeError
		stale *exchange.StaleBookError
		sock  *exchange.SocketError
		urlEr *exchange.URLParseError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &seq):
		return "invalid_sequence"
	case errors.As(err, &unid):
		return "unidentified"
	case errors.As(err, &des):
		return "deserialise"
	case errors.As(err, &stale):
		return "stale_book"
	case errors.As(err, &sub):
		return "subscribe"
	case errors.As(err, &sock):
		return "socket"
	case errors.As(err, &urlEr):
		return "url_parse"
	default:
		return "other"
	}
}
