package edits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "editsync"
	metricsSubsystem = "inbound"
)

func newCounter(name, help string) prometheus.Counter {
	return promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      name,
		Help:      help,
	})
}

var (
	packetsReceived = newCounter("packets_received_total",
		"recognized edit datagrams handed to the ingest worker")

	editRecordsApplied = newCounter("edit_records_applied_total",
		"edit records applied against the shared tree")

	malformedDatagrams = newCounter("malformed_datagrams_total",
		"datagrams dropped for decode errors or zero-length edit records")

	unknownTypeDatagrams = newCounter("unknown_type_datagrams_total",
		"datagrams discarded because the tree does not handle their type")

	unreasonableGapCount = newCounter("unreasonable_gaps_total",
		"datagrams dropped at the tracker for an implausible sequence gap")

	nackDatagramsSent = newCounter("nack_datagrams_total",
		"NACK datagrams sent across all senders")
)
