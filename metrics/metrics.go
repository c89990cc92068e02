package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/mec/status"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "mec"
)

var (
	// Registry holds every mec metric and is what the metrics server exposes.
	Registry = opmetrics.NewRegistry()
	factory  = promauto.With(Registry)

	Debug                bool = false
	validResults              = []status.Status{status.Pass, status.Fail}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	suitesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "suites_total",
		Help:      "Count of completed suites",
	}, []string{
		"result",
	})

	suiteDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_duration_seconds",
		Help:      "Duration of completed suites",
		Buckets:   prometheus.DefBuckets,
	})

	testsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of executed tests",
	}, []string{
		"result",
	})

	testDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "test_duration_seconds",
		Help:      "Duration of executed tests",
		Buckets:   prometheus.DefBuckets,
	})

	contextsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "contexts_total",
		Help:      "Count of terminated execution contexts",
	}, []string{
		"variant",
		"result",
		"reported",
	})

	runResults = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of a run",
	}, []string{
		"variant",
		"run_id",
		"result",
	})

	runDuration = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration",
		Help:      "Duration of a run in seconds",
	}, []string{
		"variant",
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordSuite(failed int, duration time.Duration) {
	result := status.FromFailed(failed > 0)
	suitesTotal.WithLabelValues(resultLabel(result)).Inc()
	suiteDuration.Observe(duration.Seconds())
}

func RecordTest(passed bool, duration time.Duration) {
	testsTotal.WithLabelValues(resultLabel(status.FromFailed(!passed))).Inc()
	testDuration.Observe(duration.Seconds())
}

func RecordContext(variant string, result status.Status, reported bool) {
	if reported && !isValidResult(result) {
		log.Error("RecordContext - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "contexts_total",
			"variant", variant,
			"result", result,
			"reported", reported)
	}
	label := "silent"
	if reported {
		label = resultLabel(result)
	}
	contextsTotal.WithLabelValues(variant, label, fmt.Sprint(reported)).Inc()
}

func RecordRun(variant string, runID string, result status.Status, duration time.Duration) {
	runResults.WithLabelValues(variant, runID, resultLabel(result)).Set(1)
	runDuration.WithLabelValues(variant, runID).Set(duration.Seconds())
}

func resultLabel(s status.Status) string {
	if s == status.Pass {
		return "pass"
	}
	return "fail"
}

func isValidResult(result status.Status) bool {
	return slices.Contains(validResults, result)
}
