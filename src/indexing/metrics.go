package indexing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/utils"
)

type serviceMetrics struct {
	updatesApplied       metric.Int64Counter
	populationsCompleted metric.Int64Counter
	populationsFailed    metric.Int64Counter
	populationDuration   metric.Float64Histogram
}

func newServiceMetrics() *serviceMetrics {
	meter := otel.Meter("graphkernel/indexing")

	return &serviceMetrics{
		updatesApplied: utils.Must(meter.Int64Counter(
			"indexing.updates.applied",
			metric.WithDescription("index entry updates applied from committed transactions"),
		)),
		populationsCompleted: utils.Must(meter.Int64Counter(
			"indexing.populations.completed",
			metric.WithDescription("index populations finished successfully"),
		)),
		populationsFailed: utils.Must(meter.Int64Counter(
			"indexing.populations.failed",
			metric.WithDescription("index populations that ended in a failed index"),
		)),
		populationDuration: utils.Must(meter.Float64Histogram(
			"indexing.population.duration",
			metric.WithDescription("index population wall time"),
			metric.WithUnit("s"),
		)),
	}
}
