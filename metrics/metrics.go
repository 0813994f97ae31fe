package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ExecutionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flowplane",
	Name:      "executions_dispatched_total",
	Help:      "Executions accepted by the dispatcher, by mode.",
}, []string{"mode"})

var ExecutionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flowplane",
	Name:      "executions_completed_total",
	Help:      "Executions that reached a terminal status.",
}, []string{"status"})

var DispatchRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flowplane",
	Name:      "dispatch_rejected_total",
	Help:      "Dispatch requests rejected before enqueue, by error kind.",
}, []string{"kind"})

var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "flowplane",
	Name:      "queue_depth",
	Help:      "Jobs waiting in the work queue.",
})

var LogEntriesAppended = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "flowplane",
	Name:      "log_entries_appended_total",
	Help:      "Log entries appended to the execution log stream.",
})
