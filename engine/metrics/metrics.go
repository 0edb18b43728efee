// Package metrics counts vault activity: domain events, feed traffic,
// app installs and chain calls. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	feedPublish *prometheus.CounterVec
	feedReceive *prometheus.CounterVec
	installs    *prometheus.CounterVec
	chainCalls  *prometheus.CounterVec
	vaultSaves  prometheus.Counter
	activeSyncs prometheus.Gauge
}

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "dappvault"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vault",
		Name:      "events_total",
		Help:      "Domain events emitted after a successful mutation",
	}, []string{"kind"})
	c.vaultSaves = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vault",
		Name:      "saves_total",
		Help:      "Encrypted vault documents written to disk",
	})
	c.feedPublish = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "publish_total",
		Help:      "Feed writes by topic and result",
	}, []string{"topic", "result"})
	c.feedReceive = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "receive_total",
		Help:      "Feed updates delivered to subscribers",
	}, []string{"topic"})
	c.installs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "apps",
		Name:      "installs_total",
		Help:      "App installations by final state",
	}, []string{"state"})
	c.chainCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "rpc_total",
		Help:      "JSON-RPC calls by method and result",
	}, []string{"method", "result"})
	c.activeSyncs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "contacts",
		Name:      "active_users",
		Help:      "Own users with a running profile publication loop",
	})

	c.registry.MustRegister(c.events, c.vaultSaves, c.feedPublish, c.feedReceive,
		c.installs, c.chainCalls, c.activeSyncs)
	return c
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) RecordEvent(kind string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordSave() {
	if c == nil {
		return
	}
	c.vaultSaves.Inc()
}

func (c *Collector) RecordFeedPublish(topic string, err error) {
	if c == nil {
		return
	}
	c.feedPublish.WithLabelValues(topic, result(err)).Inc()
}

func (c *Collector) RecordFeedReceive(topic string) {
	if c == nil {
		return
	}
	c.feedReceive.WithLabelValues(topic).Inc()
}

func (c *Collector) RecordInstall(state string) {
	if c == nil {
		return
	}
	c.installs.WithLabelValues(state).Inc()
}

func (c *Collector) RecordChainCall(method string, err error) {
	if c == nil {
		return
	}
	c.chainCalls.WithLabelValues(method, result(err)).Inc()
}

func (c *Collector) SetActiveSyncs(n int) {
	if c == nil {
		return
	}
	c.activeSyncs.Set(float64(n))
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
