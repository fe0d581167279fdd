package keystore

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "keystorekit"

// Operation outcomes recorded in OperationsTotal.
const (
	outcomeSuccess = "success"
	outcomeNoop    = "noop"
	outcomeError   = "error"
)

// Operation names used as metric labels and in log records.
const (
	OpCreateContainer = "create_container"
	OpStore           = "store"
	OpStoreChain      = "store_chain"
	OpRename          = "rename"
	OpRemove          = "remove"
	OpGet             = "get"
	OpList            = "list"
	OpReindex         = "reindex"
	OpExport          = "export"
	OpImport          = "import"
)

var (
	// OperationsTotal counts service operations by name and outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Total number of keystore operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// OperationDuration tracks operation latency including decode and encode.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of keystore operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// VersionConflictsTotal counts persists rejected by the optimistic check.
	VersionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "version_conflicts_total",
			Help:      "Total number of container writes rejected because the stored version moved",
		},
	)
)

func recordOperation(op string, start time.Time, changed bool, err error) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := outcomeSuccess
	switch {
	case err != nil:
		outcome = outcomeError
		if errors.Is(err, ErrVersionConflict) {
			VersionConflictsTotal.Inc()
		}
	case !changed:
		outcome = outcomeNoop
	}
	OperationsTotal.WithLabelValues(op, outcome).Inc()
}
