package nrbd

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver implements Observer by feeding a set of Prometheus
// collectors, so a replicated device's wire/resync/backend activity shows
// up on an operator's existing scrape endpoint alongside everything else.
type PrometheusObserver struct {
	readOps    prometheus.Counter
	writeOps   prometheus.Counter
	discardOps prometheus.Counter
	flushOps   prometheus.Counter

	readBytes    prometheus.Counter
	writeBytes   prometheus.Counter
	discardBytes prometheus.Counter

	readErrors  prometheus.Counter
	writeErrors prometheus.Counter

	latency prometheus.Histogram

	inFlight prometheus.Gauge

	packetsSent     prometheus.Counter
	packetsReceived prometheus.Counter
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	barriers        prometheus.Counter
	acks            prometheus.Counter
	negAcks         prometheus.Counter
	reconnects      prometheus.Counter

	resyncRemaining prometheus.Gauge
	resyncTotal     prometheus.Gauge
}

// NewPrometheusObserver creates collectors labeled by device minor and
// registers them against reg. reg may be prometheus.NewRegistry() for an
// isolated registry, or prometheus.DefaultRegisterer to join the global one.
func NewPrometheusObserver(reg prometheus.Registerer, minor uint32) *PrometheusObserver {
	labels := prometheus.Labels{"minor": strconv.FormatUint(uint64(minor), 10)}
	f := promauto.With(reg)

	return &PrometheusObserver{
		readOps:    f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "read_ops_total", ConstLabels: labels}),
		writeOps:   f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "write_ops_total", ConstLabels: labels}),
		discardOps: f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "discard_ops_total", ConstLabels: labels}),
		flushOps:   f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "flush_ops_total", ConstLabels: labels}),

		readBytes:    f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "read_bytes_total", ConstLabels: labels}),
		writeBytes:   f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "write_bytes_total", ConstLabels: labels}),
		discardBytes: f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "discard_bytes_total", ConstLabels: labels}),

		readErrors:  f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "read_errors_total", ConstLabels: labels}),
		writeErrors: f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "write_errors_total", ConstLabels: labels}),

		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "nrbd",
			Name:        "op_latency_seconds",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1e-6, 4, 8),
		}),

		inFlight: f.NewGauge(prometheus.GaugeOpts{Namespace: "nrbd", Name: "transfer_log_in_flight", ConstLabels: labels}),

		packetsSent:     f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "packets_sent_total", ConstLabels: labels}),
		packetsReceived: f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "packets_received_total", ConstLabels: labels}),
		bytesSent:       f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "wire_bytes_sent_total", ConstLabels: labels}),
		bytesReceived:   f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "wire_bytes_received_total", ConstLabels: labels}),
		barriers:        f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "barriers_sent_total", ConstLabels: labels}),
		acks:            f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "acks_received_total", ConstLabels: labels}),
		negAcks:         f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "neg_acks_received_total", ConstLabels: labels}),
		reconnects:      f.NewCounter(prometheus.CounterOpts{Namespace: "nrbd", Name: "reconnects_total", ConstLabels: labels}),

		resyncRemaining: f.NewGauge(prometheus.GaugeOpts{Namespace: "nrbd", Name: "resync_bytes_remaining", ConstLabels: labels}),
		resyncTotal:     f.NewGauge(prometheus.GaugeOpts{Namespace: "nrbd", Name: "resync_bytes_total", ConstLabels: labels}),
	}
}

func (o *PrometheusObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.readOps.Inc()
	if success {
		o.readBytes.Add(float64(bytes))
	} else {
		o.readErrors.Inc()
	}
	o.latency.Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.writeOps.Inc()
	if success {
		o.writeBytes.Add(float64(bytes))
	} else {
		o.writeErrors.Inc()
	}
	o.latency.Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) ObserveDiscard(bytes uint64, latencyNs uint64, success bool) {
	o.discardOps.Inc()
	if success {
		o.discardBytes.Add(float64(bytes))
	}
	o.latency.Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) ObserveFlush(latencyNs uint64, success bool) {
	o.flushOps.Inc()
	o.latency.Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) ObserveInFlight(depth uint32) { o.inFlight.Set(float64(depth)) }

func (o *PrometheusObserver) ObservePacketSent(bytes uint64) {
	o.packetsSent.Inc()
	o.bytesSent.Add(float64(bytes))
}

func (o *PrometheusObserver) ObservePacketReceived(bytes uint64) {
	o.packetsReceived.Inc()
	o.bytesReceived.Add(float64(bytes))
}

func (o *PrometheusObserver) ObserveBarrier() { o.barriers.Inc() }

func (o *PrometheusObserver) ObserveAck(negative bool) {
	if negative {
		o.negAcks.Inc()
		return
	}
	o.acks.Inc()
}

func (o *PrometheusObserver) ObserveReconnect() { o.reconnects.Inc() }

func (o *PrometheusObserver) ObserveResyncProgress(total, remaining uint64) {
	o.resyncTotal.Set(float64(total))
	o.resyncRemaining.Set(float64(remaining))
}

var _ Observer = (*PrometheusObserver)(nil)
