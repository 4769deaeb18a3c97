// Package metrics exposes bridge and transport counters to
// Prometheus. Hot paths are never touched: the collector reads atomic
// snapshots at scrape time and accumulates session summaries from the
// event bus.
package metrics

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/direttanode/internal/events"
)

// TransportStats is the transport-side scrape surface; *diretta.Sync
// implements it.
type TransportStats interface {
	BufferLevel() float64
	Underruns() uint32
	IsOnline() bool
	IsPlaying() bool
}

// BridgeStats is the producer-side scrape surface; *bridge.Bridge
// implements it.
type BridgeStats interface {
	Stats() (headers, bytesIn, silenceChunks uint64)
}

// Collector implements prometheus.Collector over the running bridge.
type Collector struct {
	transport TransportStats
	bridge    BridgeStats

	sessionUnderruns atomic.Uint64
	sessionSilence   atomic.Uint64
	formatChanges    atomic.Uint64
	unsub            []func()

	bufferLevel   *prometheus.Desc
	online        *prometheus.Desc
	playing       *prometheus.Desc
	underruns     *prometheus.Desc
	headers       *prometheus.Desc
	bytesIn       *prometheus.Desc
	silenceChunks *prometheus.Desc
	formatChanged *prometheus.Desc
}

// NewCollector builds a collector and subscribes it to session
// summaries on the bus (which may be nil).
func NewCollector(transport TransportStats, bridge BridgeStats, bus *events.Bus) *Collector {
	c := &Collector{
		transport: transport,
		bridge:    bridge,
		bufferLevel: prometheus.NewDesc("direttanode_ring_fill_ratio",
			"Audio ring fill level between 0 and 1.", nil, nil),
		online: prometheus.NewDesc("direttanode_target_online",
			"Whether the Diretta target reports online.", nil, nil),
		playing: prometheus.NewDesc("direttanode_playing",
			"Whether playback is running.", nil, nil),
		underruns: prometheus.NewDesc("direttanode_underruns_total",
			"Consumer cycles replaced with silence for lack of data.", nil, nil),
		headers: prometheus.NewDesc("direttanode_format_headers_total",
			"In-band format headers parsed from the pipe.", nil, nil),
		bytesIn: prometheus.NewDesc("direttanode_pipe_bytes_total",
			"Audio bytes read from the squeezelite pipe.", nil, nil),
		silenceChunks: prometheus.NewDesc("direttanode_burst_silence_chunks_total",
			"Silence chunks injected while the pipe stalled during burst fill.", nil, nil),
		formatChanged: prometheus.NewDesc("direttanode_format_changes_total",
			"Stream format changes seen.", nil, nil),
	}

	c.unsub = append(c.unsub,
		events.Subscribe(bus, func(e events.UnderrunSummary) {
			c.sessionUnderruns.Add(uint64(e.Underruns))
			c.sessionSilence.Add(e.SilenceChunks)
		}),
		events.Subscribe(bus, func(events.FormatChanged) {
			c.formatChanges.Add(1)
		}),
	)
	return c
}

// Close drops the bus subscriptions.
func (c *Collector) Close() {
	for _, u := range c.unsub {
		u()
	}
	c.unsub = nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bufferLevel
	ch <- c.online
	ch <- c.playing
	ch <- c.underruns
	ch <- c.headers
	ch <- c.bytesIn
	ch <- c.silenceChunks
	ch <- c.formatChanged
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.bufferLevel, prometheus.GaugeValue,
		c.transport.BufferLevel())
	ch <- prometheus.MustNewConstMetric(c.online, prometheus.GaugeValue,
		boolValue(c.transport.IsOnline()))
	ch <- prometheus.MustNewConstMetric(c.playing, prometheus.GaugeValue,
		boolValue(c.transport.IsPlaying()))

	// Live counter plus what past sessions accumulated at close.
	ch <- prometheus.MustNewConstMetric(c.underruns, prometheus.CounterValue,
		float64(c.sessionUnderruns.Load())+float64(c.transport.Underruns()))

	headers, bytesIn, silence := c.bridge.Stats()
	ch <- prometheus.MustNewConstMetric(c.headers, prometheus.CounterValue, float64(headers))
	ch <- prometheus.MustNewConstMetric(c.bytesIn, prometheus.CounterValue, float64(bytesIn))
	ch <- prometheus.MustNewConstMetric(c.silenceChunks, prometheus.CounterValue, float64(silence))
	ch <- prometheus.MustNewConstMetric(c.formatChanged, prometheus.CounterValue,
		float64(c.formatChanges.Load()))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Serve registers the collector on a fresh registry and starts an
// HTTP listener for /metrics. Returns the server so the caller can
// shut it down.
func Serve(addr string, collector *Collector, logger *slog.Logger) *http.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Metrics listener started", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("Metrics listener failed", "error", err)
		}
	}()
	return server
}
