package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the pipeline collectors.
type Metrics struct {
	BlocksProcessed  *prometheus.CounterVec
	BlockFetchErrors *prometheus.CounterVec
	LastBlock        *prometheus.GaugeVec
	LogsFetched      *prometheus.CounterVec
	TxDispatched     *prometheus.CounterVec
	HandlersInFlight *prometheus.GaugeVec
	HandlerDuration  *prometheus.HistogramVec
	Signals          *prometheus.CounterVec
	Drops            *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	RelayQueueDepth  prometheus.Gauge
	RelaySent        prometheus.Counter
	RelayDropped     prometheus.Counter
	RelayConnected   prometheus.Gauge
	PriceRequests    *prometheus.CounterVec
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlocksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_blocks_processed_total",
			Help: "Total number of blocks marked processed",
		}, []string{"chain"}),
		BlockFetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_block_fetch_errors_total",
			Help: "Total number of blocks skipped because the log fetch failed",
		}, []string{"chain"}),
		LastBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "screener_last_processed_block",
			Help: "Last processed block number",
		}, []string{"chain"}),
		LogsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_logs_fetched_total",
			Help: "Total number of logs returned by eth_getLogs",
		}, []string{"chain"}),
		TxDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_tx_dispatched_total",
			Help: "Total number of transactions handed to detection",
		}, []string{"chain"}),
		HandlersInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "screener_handlers_in_flight",
			Help: "Transaction handlers currently running",
		}, []string{"chain"}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screener_handler_duration_seconds",
			Help:    "Time spent detecting and relaying one transaction",
			Buckets: prometheus.DefBuckets,
		}, []string{"chain"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_signals_total",
			Help: "Total number of emitted signals",
		}, []string{"chain", "event_type", "auto_open"}),
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_filter_drops_total",
			Help: "Total number of aggregates that produced no signal, by reason",
		}, []string{"chain", "reason"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_reconnects_total",
			Help: "Total number of reconnect attempts",
		}, []string{"component"}),
		RelayQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_relay_queue_depth",
			Help: "Messages waiting for the relay sender loop",
		}),
		RelaySent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_relay_sent_total",
			Help: "Total number of messages written to the control-plane connection",
		}),
		RelayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_relay_dropped_total",
			Help: "Total number of messages dropped because the connection was down",
		}),
		RelayConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_relay_connected",
			Help: "Control-plane connection state (1=connected, 0=down)",
		}),
		PriceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_price_requests_total",
			Help: "Total number of price provider requests by outcome",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.BlocksProcessed, m.BlockFetchErrors, m.LastBlock, m.LogsFetched, m.TxDispatched,
			m.HandlersInFlight, m.HandlerDuration, m.Signals, m.Drops, m.Reconnects,
			m.RelayQueueDepth, m.RelaySent, m.RelayDropped, m.RelayConnected, m.PriceRequests,
		)
	}
	return m
}

// Nop returns unregistered collectors for callers that do not export metrics.
func Nop() *Metrics {
	return New(nil)
}
