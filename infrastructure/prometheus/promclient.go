package promclient

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var SyncedBooks = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "orderbook_synced_books",
		Help: "number of locally maintained order books currently in sync",
	},
	[]string{"exchange"},
)

var ResyncSignals = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderbook_resync_signals_total",
		Help: "desync signals by reason (sequence gap, checksum, overflow, ...)",
	},
	[]string{"exchange", "reason"},
)

var PersistentDesyncs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderbook_persistent_desyncs_total",
		Help: "books that crossed the consecutive-error threshold",
	},
	[]string{"exchange"},
)

var SnapshotFetchFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderbook_snapshot_fetch_failures_total",
		Help: "snapshot fetches that failed after all retries",
	},
	[]string{"exchange"},
)

var UnroutableMessages = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "orderbook_unroutable_messages_total",
		Help: "inbound messages dropped for an unknown routing key",
	},
)

var PublishFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "orderbook_publish_failures_total",
		Help: "outbound publish calls that returned an error",
	},
)

func StartPromClientServer(addr string) {
	reg := prometheus.NewRegistry()
	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	reg.MustRegister(SyncedBooks)
	reg.MustRegister(ResyncSignals)
	reg.MustRegister(PersistentDesyncs)
	reg.MustRegister(SnapshotFetchFailures)
	reg.MustRegister(UnroutableMessages)
	reg.MustRegister(PublishFailures)
	reg.MustRegister(collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promHandler)
	logrus.WithField("component", "prometheus").Infof("metrics server listening at %s", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithField("component", "prometheus").Fatalf("failed to serve: %v", err)
	}
}
