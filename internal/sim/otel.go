package sim

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/subbridge/simcore/internal/sim"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type instruments struct {
	tickDuration metric.Float64Histogram
	applied      metric.Int64Counter
	rejected     metric.Int64Counter
	dropped      metric.Int64Counter
	clamped      metric.Int64Counter
}

func newInstruments() (instruments, error) {
	m := meter()
	var (
		ins instruments
		err error
	)
	ins.tickDuration, err = m.Float64Histogram("sim.tick.duration",
		metric.WithDescription("Wall time spent inside one world step"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return ins, err
	}
	ins.applied, err = m.Int64Counter("sim.commands.applied",
		metric.WithDescription("Commands that took effect"),
	)
	if err != nil {
		return ins, err
	}
	ins.rejected, err = m.Int64Counter("sim.commands.rejected",
		metric.WithDescription("Commands rejected at apply time"),
	)
	if err != nil {
		return ins, err
	}
	ins.dropped, err = m.Int64Counter("sim.commands.dropped",
		metric.WithDescription("Commands refused by the intake queue"),
	)
	if err != nil {
		return ins, err
	}
	ins.clamped, err = m.Int64Counter("sim.tick.clamped",
		metric.WithDescription("Ticks whose delta was clamped to the catch-up limit"),
	)
	return ins, err
}
