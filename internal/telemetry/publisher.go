package telemetry

import (
	"log/slog"

	"github.com/subbridge/simcore/internal/sim"
	"github.com/subbridge/simcore/pkg/core"
)

// DecisionSource exposes the decision layer to the fleet screen.
type DecisionSource interface {
	Intent() *core.FleetIntent
	RecentRuns() []core.DecisionRun
}

// PublisherConfig selects the ship the bridge stations are crewing.
type PublisherConfig struct {
	ShipID         string
	RequireConsent bool
}

// Publisher turns each step into per-station views. Views nobody is
// subscribed to are not built.
type Publisher struct {
	bus       *Bus
	cfg       PublisherConfig
	decisions DecisionSource
	logger    *slog.Logger
}

// NewPublisher creates a publisher. decisions may be nil.
func NewPublisher(bus *Bus, cfg PublisherConfig, decisions DecisionSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{bus: bus, cfg: cfg, decisions: decisions, logger: logger}
}

// SetDecisionSource attaches the orchestrator once it exists.
func (p *Publisher) SetDecisionSource(d DecisionSource) {
	p.decisions = d
}

// AfterStep is a sim.AfterStepFunc.
func (p *Publisher) AfterStep(res sim.StepResult) {
	p.Publish(res.Snapshot)
}

// Publish builds and sends the views for snap. It returns the number of
// messages delivered.
func (p *Publisher) Publish(snap *core.Snapshot) int {
	if snap == nil {
		return 0
	}
	opts := ViewOptions{ShipID: p.cfg.ShipID, RequireConsent: p.cfg.RequireConsent}
	delivered := 0

	if p.bus.HasSubscribers(TopicAll) {
		if own, ok := snap.Ship(p.cfg.ShipID); ok {
			delivered += p.bus.Publish(TopicAll, baseView(snap, own))
		}
	}

	for _, st := range Stations {
		topic := Topic(st)
		if !p.bus.HasSubscribers(topic) {
			continue
		}
		if st == StationFleet && p.decisions != nil {
			opts.Intent = p.decisions.Intent()
			opts.RecentRuns = p.decisions.RecentRuns()
		}
		view, ok := BuildView(st, snap, opts)
		if !ok {
			p.logger.Debug("no view for station", "station", st, "ship", p.cfg.ShipID)
			continue
		}
		delivered += p.bus.Publish(topic, view)
	}
	return delivered
}
