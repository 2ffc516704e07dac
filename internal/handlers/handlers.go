// Package handlers turns station console commands into world commands.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/subbridge/simcore/internal/dispatcher"
	"github.com/subbridge/simcore/pkg/core"
)

// Station command names.
const (
	CmdHelmOrder      = "helm.order"
	CmdSonarPing      = "sonar.ping"
	CmdTubeLoad       = "weapons.tube.load"
	CmdTubeFlood      = "weapons.tube.flood"
	CmdTubeDoors      = "weapons.tube.doors"
	CmdFire           = "weapons.fire"
	CmdCountermeasure = "weapons.countermeasure"
	CmdDepthCharges   = "weapons.depth_charges"
	CmdPowerAllocate  = "engineering.power.allocate"
	CmdReactorSet     = "engineering.reactor.set"
	CmdPumpToggle     = "engineering.pump.toggle"
	CmdCaptainConsent = "captain.consent"
	CmdPeriscope      = "captain.periscope.raise"
	CmdRadioMast      = "captain.radio.raise"
)

const (
	defaultTube          = 1
	defaultQueue         = 64
	defaultShip          = "ownship"
	defaultConsentWindow = 60.0
	powerBudgetTolerance = 1e-9
)

var (
	ErrBadPayload      = errors.New("bad payload")
	ErrUnknownShip     = errors.New("unknown ship")
	ErrConsentRequired = errors.New("captain consent required")
	ErrPowerBudget     = errors.New("power allocation exceeds 1.0")
	ErrRejected        = errors.New("command not accepted")
)

// CommandSink accepts world commands; sim.Loop satisfies it.
type CommandSink interface {
	Enqueue(cmd core.Command) (bool, string)
}

// SnapshotSource hands out the latest published world state.
type SnapshotSource interface {
	Snapshot() *core.Snapshot
}

// Dependencies holds everything the station handlers need.
type Dependencies struct {
	Sink           CommandSink
	Snapshots      SnapshotSource
	Logger         *slog.Logger
	DefaultShip    string
	RequireConsent bool
	ConsentWindow  float64
}

// Ack is returned to the station for an accepted command.
type Ack struct {
	Kind   core.CommandKind `json:"kind"`
	ShipID string           `json:"shipId"`
}

// Service converts station events to world commands.
type Service struct {
	deps   Dependencies
	logger *slog.Logger
}

// NewService fills in defaults for the optional dependencies.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Sink == nil || deps.Snapshots == nil {
		return nil, fmt.Errorf("handlers need a command sink and a snapshot source")
	}
	if deps.DefaultShip == "" {
		deps.DefaultShip = defaultShip
	}
	if deps.ConsentWindow <= 0 {
		deps.ConsentWindow = defaultConsentWindow
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps, logger: deps.Logger.With("component", "stations")}, nil
}

// Register wires every station command into d. Helm and weapons commands
// run synchronously so the station sees rejections; the rest are queued.
func (s *Service) Register(d *dispatcher.Dispatcher) {
	d.Register(CmdHelmOrder, s.HelmOrder, dispatcher.Logged())
	d.Register(CmdSonarPing, s.SonarPing, dispatcher.Logged())
	d.Register(CmdTubeLoad, s.tube(core.TubeActionLoad), dispatcher.Logged())
	d.Register(CmdTubeFlood, s.tube(core.TubeActionFlood), dispatcher.Logged())
	d.Register(CmdTubeDoors, s.TubeDoors, dispatcher.Logged())
	d.Register(CmdFire, s.Fire, dispatcher.Logged())
	d.Register(CmdCountermeasure, s.Countermeasure, dispatcher.Logged())
	d.Register(CmdDepthCharges, s.DepthCharges, dispatcher.Logged())
	d.Register(CmdPowerAllocate, s.PowerAllocate, dispatcher.Logged())
	d.Register(CmdReactorSet, s.ReactorSet, dispatcher.Buffered(defaultQueue), dispatcher.Logged())
	d.Register(CmdPumpToggle, s.PumpToggle, dispatcher.Buffered(defaultQueue), dispatcher.Logged())
	d.Register(CmdCaptainConsent, s.CaptainConsent, dispatcher.Logged())
	d.Register(CmdPeriscope, s.mast(core.MastPeriscope), dispatcher.Logged())
	d.Register(CmdRadioMast, s.mast(core.MastRadio), dispatcher.Logged())
}

// decode fills v from the event payload. An empty payload leaves v as is.
func decode(e dispatcher.Event, v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadPayload, e.Command, err)
	}
	return nil
}

// ship resolves the target of e against the latest snapshot.
func (s *Service) ship(e dispatcher.Event) (core.Ship, *core.Snapshot, error) {
	id := e.ShipID
	if id == "" {
		id = s.deps.DefaultShip
	}
	snap := s.deps.Snapshots.Snapshot()
	sh, ok := snap.Ship(id)
	if !ok {
		return core.Ship{}, nil, fmt.Errorf("%w: %q", ErrUnknownShip, id)
	}
	return sh, snap, nil
}

func (s *Service) submit(cmd core.Command) (any, error) {
	cmd.Source = core.CommandSource{Origin: core.OriginStation}
	if ok, reason := s.deps.Sink.Enqueue(cmd); !ok {
		return nil, fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	return Ack{Kind: cmd.Kind, ShipID: cmd.ShipID}, nil
}

type helmPayload struct {
	Heading *float64 `json:"heading"`
	Speed   *float64 `json:"speed"`
	Depth   *float64 `json:"depth"`
}

// HelmOrder updates any subset of heading, speed and depth; missing fields
// keep the current orders.
func (s *Service) HelmOrder(e dispatcher.Event) (any, error) {
	sh, _, err := s.ship(e)
	if err != nil {
		return nil, err
	}
	var p helmPayload
	if err := decode(e, &p); err != nil {
		return nil, err
	}
	nav := core.NavOrder{Heading: sh.Ordered.Heading, Speed: sh.Ordered.Speed, Depth: sh.Ordered.Depth}
	if p.Heading != nil {
		nav.Heading = *p.Heading
	}
	if p.Speed != nil {
		nav.Speed = *p.Speed
	}
	if p.Depth != nil {
		nav.Depth = *p.Depth
	}
	return s.submit(core.Command{Kind: core.CmdSetNav, ShipID: sh.ID, Nav: &nav})
}

// SonarPing requests an active transmission. Cooldown is enforced by the world.
func (s *Service) SonarPing(e dispatcher.Event) (any, error) {
	sh, snap, err := s.ship(e)
	if err != nil {
		return nil, err
	}
	if snap.SimTime < sh.PingReadyAt {
		return nil, fmt.Errorf("%w: ping on cooldown for %.1fs", ErrRejected, sh.PingReadyAt-snap.SimTime)
	}
	return s.submit(core.Command{Kind: core.CmdActivePing, ShipID: sh.ID})
}

type tubePayload struct {
	Tube int   `json:"tube"`
	Open *bool `json:"open"`
}

func (s *Service) tube(action core.TubeAction) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		return s.tubeAction(e, func(tubePayload) core.TubeAction { return action })
	}
}

// TubeDoors opens the doors unless the payload says "open": false.
func (s *Service) TubeDoors(e dispatcher.Event) (any, error) {
	return s.tubeAction(e, func(p tubePayload) core.TubeAction {
		if p.Open != nil && !*p.Open {
			return core.TubeActionCloseDoors
		}
		return core.TubeActionOpenDoors
	})
}

func (s *Service) tubeAction(e dispatcher.Event, pick func(tubePayload) core.TubeAction) (any, error) {
	sh, _, err := s.ship(e)
	if err != nil {
		return nil, err
	}
	p := tubePayload{Tube: defaultTube}
	if err := decode(e, &p); err != nil {
		return nil, err
	}
	return s.submit(core.Command{
		Kind:   core.CmdTube,
		ShipID: sh.ID,
		Tube:   &core.TubeOrder{Tube: p.Tube, Action: pick(p)},
	})
}

type firePayload struct {
	Tube        int      `json:"tube"`
	Bearing     *float64 `json:"bearing"`
	RunDepth    *float64 `json:"run_depth"`
	EnableRange float64  `json:"enable_range"`
	Doctrine    string   `json:"doctrine"`
}

// Fire launches from a tube. Bearing defaults to own heading and run depth
// to own depth. With consent required, an expired window is refused here so
// the weapons station gets immediate feedback.
func (s *Service) Fire(e dispatcher.Event) (any, error) {
	sh, snap, err := s.ship(e)
	if err != nil {
		return nil, err
	}
	if s.deps.RequireConsent && !snap.ConsentOpen(sh.Side) {
		return nil, ErrConsentRequired
	}
	p := firePayload{Tube: defaultTube}
	if err := decode(e, &p); err != nil {
		return nil, err
	}
	order := core.FireOrder{
		Tube:        p.Tube,
		Bearing:     sh.Kin.Heading,
		RunDepth:    sh.Kin.Depth,
		EnableRange: p.EnableRange,
		Doctrine:    p.Doctrine,
	}
	if p.Bearing != nil {
		order.Bearing = core.NormalizeHeading(*p.Bearing)
	}
	if p.RunDepth != nil {
		order.RunDepth = *p.RunDepth
	}
	return s.submit(core.Command{Kind: core.CmdFireTorpedo, ShipID: sh.ID, Fire: &order})
}

// Countermeasure defaults to a noisemaker.
func (s *Service) Countermeasure(e dispatcher.Event) (any, error) {
	sh, _, err := s.ship(e)
	if err != nil {
		return nil, err
	}
	p := core.CountermeasureOrder{Type: core.CountermeasureNoisemaker}
	if err := decode(e, &p); err != nil {
		return nil, err
	}
	return s.submit(core.Command{Kind: core.CmdDeployCountermeasure, ShipID: sh.ID, Countermeasure: &p})
}

// DepthCharges forwards a pattern; the world clamps and validates it.
func (s *Service) DepthCharges(e dispatcher.Event) (any, error) {
	sh, _, err := s.ship(e)
	if err != nil {
		return nil, err
	}
	var p core.DepthChargeOrder
	if err := decode(e, &p); err != nil {
		return nil, err
	}
	return s.submit(core.Command{Kind: core.CmdDropDepthCharges, ShipID: sh.ID, DepthCharges: &p})
}

// PowerAllocate replaces the station split. Budgets above 1.0 are refused.
func (s *Service) PowerAllocate(e dispatcher.Event) (any, error) {
	sh, _, err := s.ship(e)
	if err != nil {
		return nil, err
	}
	alloc := sh.Engineering.Allocation
	if err := decode(e, &alloc); err != nil {
		return nil, err
	}
	if alloc.Helm < 0 || alloc.Sonar < 0 || alloc.Weapons < 0 || alloc.Engineering < 0 {
		return nil, fmt.Errorf("%w: negative fraction", ErrBadPayload)
	}
	if total := alloc.Total(); total > 1+powerBudgetTolerance {
		return nil, fmt.Errorf("%w: total %.2f", ErrPowerBudget, total)
	}
	return s.submit(core.Command{Kind: core.CmdPower, ShipID: sh.ID, Power: &core.PowerOrder{Allocation: alloc}})
}

// ReactorSet takes the output as a fraction of rated power.
func (s *Service) ReactorSet(e dispatcher.Event) (any, error) {
	sh, _, err := s.ship(e)
	if err != nil {
		return nil, err
	}
	p := core.ReactorOrder{Output: sh.Engineering.ReactorOutput}
	if err := decode(e, &p); err != nil {
		return nil, err
	}
	return s.submit(core.Command{Kind: core.CmdReactor, ShipID: sh.ID, Reactor: &p})
}

type pumpPayload struct {
	Pump    string `json:"pump"`
	Enabled *bool  `json:"enabled"`
}

// PumpToggle switches the ballast or bilge pumps; "enabled" defaults to true.
func (s *Service) PumpToggle(e dispatcher.Event) (any, error) {
	sh, _, err := s.ship(e)
	if err != nil {
		return nil, err
	}
	var p pumpPayload
	if err := decode(e, &p); err != nil {
		return nil, err
	}
	if p.Pump != core.PumpBallast && p.Pump != core.PumpBilge {
		return nil, fmt.Errorf("%w: unknown pump %q", ErrBadPayload, p.Pump)
	}
	on := p.Enabled == nil || *p.Enabled
	return s.submit(core.Command{Kind: core.CmdPump, ShipID: sh.ID, Pump: &core.PumpOrder{Pump: p.Pump, On: on}})
}

type mastPayload struct {
	Raised *bool `json:"raised"`
}

// mast raises or lowers one mast; "raised" defaults to true.
func (s *Service) mast(name string) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		sh, _, err := s.ship(e)
		if err != nil {
			return nil, err
		}
		var p mastPayload
		if err := decode(e, &p); err != nil {
			return nil, err
		}
		if sh.Caps.Surface {
			return nil, fmt.Errorf("%w: %s has no masts", ErrBadPayload, sh.ID)
		}
		raised := p.Raised == nil || *p.Raised
		return s.submit(core.Command{Kind: core.CmdMast, ShipID: sh.ID, Mast: &core.MastOrder{Mast: name, Raised: raised}})
	}
}

type consentPayload struct {
	Consent  bool    `json:"consent"`
	Duration float64 `json:"duration"`
}

// CaptainConsent opens or revokes the weapons-release window of the
// captain's side.
func (s *Service) CaptainConsent(e dispatcher.Event) (any, error) {
	sh, _, err := s.ship(e)
	if err != nil {
		return nil, err
	}
	var p consentPayload
	if err := decode(e, &p); err != nil {
		return nil, err
	}
	window := p.Duration
	if window <= 0 {
		window = s.deps.ConsentWindow
	}
	s.logger.Info("captain consent", "side", sh.Side, "granted", p.Consent, "window", window)
	return s.submit(core.Command{
		Kind:    core.CmdConsent,
		ShipID:  sh.ID,
		Consent: &core.ConsentOrder{Side: sh.Side, Granted: p.Consent, Duration: window},
	})
}
