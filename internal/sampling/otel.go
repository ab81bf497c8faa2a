package sampling

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/pinmesh/peerloc/internal/sampling"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
