// Package sim owns the authoritative world state and advances it on a fixed
// timestep. Every mutation happens on the loop goroutine; other goroutines
// read published snapshots and submit commands through Loop.Enqueue.
package sim

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/subbridge/simcore/internal/damage"
	"github.com/subbridge/simcore/internal/guidance"
	"github.com/subbridge/simcore/internal/physics"
	"github.com/subbridge/simcore/internal/sonar"
	"github.com/subbridge/simcore/internal/weapons"
	"github.com/subbridge/simcore/pkg/core"
)

// DefaultConsentWindow is how long a granted weapons-release consent lasts
// when the order does not say.
const DefaultConsentWindow = 60.0

// FireGate decides whether the rules of engagement allow s to fire order.
// A nil gate allows everything.
type FireGate interface {
	AllowFire(s *core.Ship, order core.FireOrder) error
}

// WorldConfig tunes a World.
type WorldConfig struct {
	Seed           uint64
	Environment    sonar.Environment
	RequireConsent bool
	NoiseThreshold float64
	ROE            FireGate
	Now            func() time.Time
}

// World is the arena of every simulated entity. It is not safe for
// concurrent use.
type World struct {
	cfg WorldConfig
	rng *rand.Rand

	ships     []*core.Ship
	byID      map[string]*core.Ship
	torpedoes []core.Torpedo
	decoys    []core.Decoy
	charges   []core.DepthCharge
	contacts  map[string][]core.Contact
	consent   map[core.Side]float64

	sonar    *sonar.Model
	guidance *guidance.Engine
	noise    *damage.NoiseTracker

	tick    uint64
	simTime float64
	seq     int

	events     []core.Event
	rejections []core.Rejection
}

// NewWorld creates an empty world.
func NewWorld(cfg WorldConfig) *World {
	if cfg.Environment == (sonar.Environment{}) {
		cfg.Environment = sonar.DefaultEnvironment()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	return &World{
		cfg:      cfg,
		rng:      rng,
		byID:     make(map[string]*core.Ship),
		contacts: make(map[string][]core.Contact),
		consent:  make(map[core.Side]float64),
		sonar:    sonar.New(cfg.Environment, rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))),
		guidance: guidance.New(cfg.Environment),
		noise:    damage.NewNoiseTracker(cfg.NoiseThreshold),
	}
}

// AddShip places s in the world. Ordered values start at the current
// kinematics when left unset.
func (w *World) AddShip(s core.Ship) error {
	if s.ID == "" {
		return fmt.Errorf("ship without id")
	}
	if _, ok := w.byID[s.ID]; ok {
		return fmt.Errorf("duplicate ship id %q", s.ID)
	}
	if s.Ordered == (core.Orders{}) {
		s.Ordered = core.Orders{Heading: s.Kin.Heading, Speed: s.Kin.Speed, Depth: s.Kin.Depth}
	}
	c := s.Clone()
	w.ships = append(w.ships, &c)
	w.byID[c.ID] = &c
	return nil
}

// Ship returns the live ship with id. Callers outside the loop goroutine
// must use a Snapshot instead.
func (w *World) Ship(id string) (*core.Ship, bool) {
	s, ok := w.byID[id]
	return s, ok
}

// Tick returns the number of completed steps.
func (w *World) Tick() uint64 { return w.tick }

// SimTime returns the simulated seconds elapsed.
func (w *World) SimTime() float64 { return w.simTime }

func (w *World) consentOpen(side core.Side) bool {
	if !w.cfg.RequireConsent {
		return true
	}
	return w.simTime < w.consent[side]
}

func (w *World) nextID(prefix string) string {
	w.seq++
	return fmt.Sprintf("%s-%04d", prefix, w.seq)
}

func (w *World) emit(events ...core.Event) {
	w.events = append(w.events, events...)
}

func (w *World) reject(cmd core.Command, reason string) {
	r := core.Rejection{Tick: w.tick, ShipID: cmd.ShipID, Kind: cmd.Kind, Reason: reason, Source: cmd.Source}
	w.rejections = append(w.rejections, r)
	w.emit(core.Event{
		Type:    core.EventCommandRejected,
		Tick:    w.tick,
		SimTime: w.simTime,
		ShipID:  cmd.ShipID,
		Data:    map[string]any{"kind": string(cmd.Kind), "reason": reason, "origin": string(cmd.Source.Origin)},
	})
}

// Step advances the world by dt seconds after commands have been applied:
// kinematics, sensors, weapons and guidance, then damage and power.
func (w *World) Step(dt float64) {
	if dt <= 0 {
		return
	}
	w.tick++
	w.simTime += dt
	tick, now := w.tick, w.simTime

	for _, s := range w.ships {
		if s.Destroyed {
			continue
		}
		lim := physics.ShipLimits(s)
		physics.Step(&s.Kin, s.Ordered, lim, dt)
		s.Kin.Depth = core.Clamp(s.Kin.Depth, 0, lim.MaxDepth)
	}

	w.emit(w.noise.Update(w.ships, tick, now)...)
	w.contacts = w.sonar.Update(w.ships, now, dt)
	w.sonar.WarnTorpedoes(w.ships, w.torpedoes, now)

	for _, s := range w.ships {
		if !s.Destroyed {
			w.emit(weapons.Tick(s, tick, now, dt)...)
		}
	}
	running := w.torpedoes[:0]
	for i := range w.torpedoes {
		t := &w.torpedoes[i]
		w.emit(w.guidance.Step(t, w.ships, w.decoys, tick, now, dt)...)
		if !t.Done() {
			running = append(running, *t)
		}
	}
	w.torpedoes = running
	var dc []core.Event
	w.charges, dc = weapons.StepDepthCharges(w.charges, w.ships, tick, now, dt)
	w.emit(dc...)
	w.decoys = weapons.PruneDecoys(w.decoys, now)

	for _, s := range w.ships {
		w.emit(damage.Step(s, tick, now, dt)...)
	}
}

// Snapshot deep-copies the current state and clears the per-tick event and
// rejection buffers.
func (w *World) Snapshot() *core.Snapshot {
	snap := &core.Snapshot{
		Tick:         w.tick,
		SimTime:      w.simTime,
		PublishedAt:  w.cfg.Now().UTC(),
		Ships:        make([]core.Ship, 0, len(w.ships)),
		Torpedoes:    append([]core.Torpedo(nil), w.torpedoes...),
		Decoys:       append([]core.Decoy(nil), w.decoys...),
		DepthCharges: append([]core.DepthCharge(nil), w.charges...),
		Contacts:     make(map[string][]core.Contact, len(w.contacts)),
		Consent:      make(map[core.Side]float64, len(w.consent)),
		Events:       w.events,
		Rejections:   w.rejections,
	}
	for _, s := range w.ships {
		snap.Ships = append(snap.Ships, s.Clone())
	}
	for id, cs := range w.contacts {
		snap.Contacts[id] = append([]core.Contact(nil), cs...)
	}
	for side, until := range w.consent {
		snap.Consent[side] = until
	}
	w.events = nil
	w.rejections = nil
	return snap
}
