package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ModelPurposeGenerate = "generate"
	ModelPurposeCorrect  = "correct"
	ModelPurposeClassify = "classify"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_questions_total",
			Help: "Total number of questions handled, by outcome.",
		},
		[]string{"outcome"},
	)
	modelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_model_calls_total",
			Help: "Total number of language model calls.",
		},
		[]string{"purpose", "status"},
	)
	modelCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_model_call_duration_seconds",
			Help:    "Language model call latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"purpose"},
	)
	sandboxExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_sandbox_executions_total",
			Help: "Total number of sandboxed statement executions.",
		},
		[]string{"engine", "outcome"},
	)
	sqlCorrectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_sql_corrections_total",
			Help: "Total number of corrective regenerations after a failed statement.",
		},
	)
	classifierFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_classifier_fallbacks_total",
			Help: "Total number of results shaped by the default table fallback.",
		},
	)
	connectionsRegisteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_connections_registered_total",
			Help: "Total number of registered connections.",
		},
		[]string{"engine"},
	)
	archivedResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_archived_results_total",
			Help: "Total number of result archive attempts.",
		},
		[]string{"outcome"},
	)
	deletedResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_deleted_results_total",
			Help: "Total number of archived result removals after a conversation was deleted.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		modelCallsTotal,
		modelCallDurationSeconds,
		sandboxExecutionsTotal,
		sqlCorrectionsTotal,
		classifierFallbacksTotal,
		connectionsRegisteredTotal,
		archivedResultsTotal,
		deletedResultsTotal,
	)
}

func ObserveQuestion(outcome string) {
	questionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveModelCall(purpose string, err error, elapsed time.Duration) {
	modelCallsTotal.WithLabelValues(purpose, outcomeOf(err)).Inc()
	modelCallDurationSeconds.WithLabelValues(purpose).Observe(elapsed.Seconds())
}

func ObserveSandboxExecution(engine string, err error) {
	sandboxExecutionsTotal.WithLabelValues(engine, outcomeOf(err)).Inc()
}

func IncrementSQLCorrection() {
	sqlCorrectionsTotal.Inc()
}

func IncrementClassifierFallback() {
	classifierFallbacksTotal.Inc()
}

func ObserveConnectionRegistered(engine string) {
	connectionsRegisteredTotal.WithLabelValues(engine).Inc()
}

func ObserveArchivedResult(err error) {
	archivedResultsTotal.WithLabelValues(outcomeOf(err)).Inc()
}

func ObserveDeletedResult(err error) {
	deletedResultsTotal.WithLabelValues(outcomeOf(err)).Inc()
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
