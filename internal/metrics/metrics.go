package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeflow_node_executions_total",
		Help: "Total number of node executions, labelled by node type and outcome.",
	}, []string{"node_type", "outcome"})

	NodesBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodeflow_nodes_blocked_total",
		Help: "Total number of nodes failed because an upstream node failed.",
	})

	ExecutionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodeflow_executions_in_flight",
		Help: "Number of node executions currently running.",
	})

	NodeExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nodeflow_node_execution_duration_ms",
		Help:    "Node execution latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"node_type"})

	SchedulingPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodeflow_scheduling_passes_total",
		Help: "Total number of scheduling passes run by the engine loop.",
	})

	ExecutionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeflow_execution_requests_total",
		Help: "Total number of execution requests and resets, labelled by kind.",
	}, []string{"kind"})

	Stalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodeflow_stalls_total",
		Help: "Total number of times the engine went idle with pending nodes left.",
	})

	GraphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodeflow_graph_nodes",
		Help: "Current number of nodes in the graph.",
	})

	GraphLinks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodeflow_graph_links",
		Help: "Current number of links in the graph.",
	})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodeflow_stream_clients",
		Help: "Number of connected notification stream clients.",
	})

	StreamDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodeflow_stream_events_dropped_total",
		Help: "Total number of notifications dropped for slow stream clients.",
	})
)
