package ai

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/subbridge/simcore/internal/ai"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type instruments struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	late     metric.Int64Counter
	inflight metric.Int64UpDownCounter
}

func newInstruments() (instruments, error) {
	m := meter()
	var (
		ins instruments
		err error
	)
	ins.runs, err = m.Int64Counter("ai.runs",
		metric.WithDescription("Finished decision runs by tier and outcome"),
	)
	if err != nil {
		return ins, err
	}
	ins.duration, err = m.Float64Histogram("ai.run.duration",
		metric.WithDescription("Wall time from launch to completion of a decision run"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return ins, err
	}
	ins.late, err = m.Int64Counter("ai.runs.late",
		metric.WithDescription("Engine replies that arrived after their run was abandoned"),
	)
	if err != nil {
		return ins, err
	}
	ins.inflight, err = m.Int64UpDownCounter("ai.runs.inflight",
		metric.WithDescription("Engine calls currently outstanding"),
	)
	return ins, err
}
