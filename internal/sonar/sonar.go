package sonar

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/subbridge/simcore/pkg/core"
)

const (
	// DetectFloor is the detectability below which no contact is reported.
	DetectFloor = 0.15
	// BaffleLimit is the largest relative bearing still heard; the sector
	// behind it is masked by the observer's own hull and screw.
	BaffleLimit = 150.0
	// PingCooldown is the minimum interval between active transmissions.
	PingCooldown = 12.0
	// DefaultActiveRange applies to hulls that do not set one.
	DefaultActiveRange = 8000.0
	// AlertWindow is how long being pinged or counter-detected keeps a ship alerted.
	AlertWindow = 30.0
	// ActiveHold is how long an active fix keeps its range on the contact.
	ActiveHold = 10.0
	// TorpedoWarnRange is the distance inside which a heard torpedo raises an alert.
	TorpedoWarnRange = 4000.0
	// TorpedoSourceLevel is the radiated level of a running torpedo.
	TorpedoSourceLevel = 140.0

	maxSigma        = 10.0
	minSigma        = 1.0
	confidenceDecay = 0.1
	confidenceGain  = 0.6
	pruneBelow      = 0.01
	classifyAbove   = 0.6
	nominalSonar    = 0.25
)

// Model owns per-observer track memory. It is not safe for concurrent use;
// the world coordinator is its only caller.
type Model struct {
	env    Environment
	rng    *rand.Rand
	tracks map[string]*track
	seq    map[string]int
}

type track struct {
	id         string
	confidence float64
	lastSeen   float64

	activeAt      float64
	activeRange   float64
	activeBearing float64
	hasActive     bool
}

// New creates a sensor model. rng must not be shared with another goroutine.
func New(env Environment, rng *rand.Rand) *Model {
	return &Model{
		env:    env,
		rng:    rng,
		tracks: make(map[string]*track),
		seq:    make(map[string]int),
	}
}

func pairKey(observer, target string) string {
	return observer + "|" + target
}

func (m *Model) trackFor(observer, target string) *track {
	key := pairKey(observer, target)
	tr, ok := m.tracks[key]
	if !ok {
		m.seq[observer]++
		tr = &track{id: fmt.Sprintf("S%02d", m.seq[observer])}
		m.tracks[key] = tr
	}
	return tr
}

// InBaffles reports whether a target at bearing is masked for an observer on heading.
func InBaffles(heading, bearing float64) bool {
	return math.Abs(core.HeadingDiff(heading, bearing)) > BaffleLimit
}

// ListeningPenalty is the dB lost to own-ship flow noise, damage and low power.
func ListeningPenalty(obs *core.Ship) float64 {
	p := 0.5 * math.Max(0, obs.Kin.Speed-5)
	p += 10 * core.Clamp(obs.Damage.Sensors, 0, 1)
	if alloc := obs.Engineering.Allocation.Sonar; alloc < nominalSonar {
		p += 10 * (1 - alloc/nominalSonar)
	}
	return p
}

// PassiveDetectability returns the detectability of target as heard by obs,
// the true bearing and range, and whether the target is in the baffles.
func (m *Model) PassiveDetectability(obs, target *core.Ship) (d, bearing, rng float64, masked bool) {
	bearing = core.BearingTo(obs.Kin.X, obs.Kin.Y, target.Kin.X, target.Kin.Y)
	rng = core.Distance2D(obs.Kin.X, obs.Kin.Y, target.Kin.X, target.Kin.Y)
	if InBaffles(obs.Kin.Heading, bearing) {
		return 0, bearing, rng, true
	}
	penalty := ListeningPenalty(obs) + m.env.MastPenalty(obs.Engineering.MastsRaised())
	snr := m.env.SNR(ShipSourceLevel(target), rng, obs.Acoustics.ArrayGain, obs.Kin.Depth, target.Kin.Depth, penalty)
	return Detectability(snr), bearing, rng, false
}

// BearingSigma is the bearing error standard deviation in degrees for a
// given detectability. Sensor damage widens it.
func BearingSigma(d, sensorDamage float64) float64 {
	return math.Max(minSigma, maxSigma-(maxSigma-minSigma)*d) + 5*core.Clamp(sensorDamage, 0, 1)
}

// Update advances every track by dt and returns the contact set of each
// observer. The sets are rebuilt from scratch every call.
func (m *Model) Update(ships []*core.Ship, simTime, dt float64) map[string][]core.Contact {
	out := make(map[string][]core.Contact, len(ships))
	decay := math.Exp(-confidenceDecay * dt)

	for _, obs := range ships {
		if obs.Destroyed {
			continue
		}
		var contacts []core.Contact
		for _, target := range ships {
			if target.ID == obs.ID || target.Destroyed {
				continue
			}
			key := pairKey(obs.ID, target.ID)

			d, bearing := 0.0, 0.0
			heard := false
			if obs.Systems.Sonar {
				var masked bool
				d, bearing, _, masked = m.PassiveDetectability(obs, target)
				heard = !masked && d >= DetectFloor
			}

			tr, exists := m.tracks[key]
			activeFresh := exists && tr.hasActive && simTime-tr.activeAt <= ActiveHold
			if !heard && !exists {
				continue
			}
			if tr == nil {
				tr = m.trackFor(obs.ID, target.ID)
			}

			input := 0.0
			if heard {
				input = d
				tr.lastSeen = simTime
			}
			tr.confidence = core.Clamp(tr.confidence*decay+confidenceGain*input*dt, 0, 1)

			if !heard && !activeFresh {
				if tr.confidence < pruneBelow {
					delete(m.tracks, key)
				}
				continue
			}

			c := core.Contact{
				TrackID:        tr.id,
				Detectability:  d,
				Confidence:     tr.confidence,
				Classification: classify(d, target),
				LastSeen:       tr.lastSeen,
				Source:         core.SourcePassive,
			}
			if heard {
				sigma := BearingSigma(d, obs.Damage.Sensors)
				c.Bearing = core.NormalizeHeading(bearing + m.rng.NormFloat64()*sigma)
			}
			if activeFresh {
				c.Source = core.SourceActive
				c.Range = tr.activeRange
				c.RangeKnown = true
				if !heard {
					c.Bearing = tr.activeBearing
				}
			}
			contacts = append(contacts, c)
		}
		sort.Slice(contacts, func(i, j int) bool { return contacts[i].TrackID < contacts[j].TrackID })
		out[obs.ID] = contacts
	}
	return out
}

func classify(d float64, target *core.Ship) string {
	if d < classifyAbove {
		return "unknown"
	}
	if target.Caps.Surface {
		return "surface"
	}
	return "submerged"
}

// Ping transmits from pinger. It returns the events produced, or a reason
// when the ping is not allowed.
func (m *Model) Ping(pinger *core.Ship, ships []*core.Ship, tick uint64, simTime float64) ([]core.Event, string) {
	switch {
	case !pinger.Caps.HasActiveSonar:
		return nil, "no active sonar"
	case !pinger.Systems.Sonar:
		return nil, "sonar failed"
	case simTime < pinger.PingReadyAt:
		return nil, fmt.Sprintf("ping cooling down: %.1fs left", pinger.PingReadyAt-simTime)
	}
	pinger.PingReadyAt = simTime + PingCooldown

	activeRange := pinger.Acoustics.ActiveRange
	if activeRange <= 0 {
		activeRange = DefaultActiveRange
	}

	var heardBy []string
	for _, target := range ships {
		if target.ID == pinger.ID || target.Destroyed {
			continue
		}
		rng := core.Distance2D(pinger.Kin.X, pinger.Kin.Y, target.Kin.X, target.Kin.Y)
		if rng > activeRange {
			continue
		}
		bearing := core.BearingTo(pinger.Kin.X, pinger.Kin.Y, target.Kin.X, target.Kin.Y)

		echo := m.trackFor(pinger.ID, target.ID)
		echo.hasActive = true
		echo.activeAt = simTime
		echo.activeRange = math.Max(0, rng+m.rng.NormFloat64()*(0.02*rng+5))
		echo.activeBearing = core.NormalizeHeading(bearing + m.rng.NormFloat64()*1.5)
		strength := 1 / (1 + rng/2000)
		echo.confidence = core.Clamp(math.Max(echo.confidence, strength), 0, 1)
		echo.lastSeen = simTime

		intercept := m.trackFor(target.ID, pinger.ID)
		intercept.hasActive = true
		intercept.activeAt = simTime
		intercept.activeRange = math.Max(0, rng*(1+0.1*m.rng.NormFloat64()))
		intercept.activeBearing = core.NormalizeHeading(bearing + 180 + m.rng.NormFloat64()*3)
		intercept.confidence = core.Clamp(math.Max(intercept.confidence, 0.5), 0, 1)
		intercept.lastSeen = simTime

		target.Alert.PingedUntil = simTime + AlertWindow
		heardBy = append(heardBy, target.ID)
	}

	events := []core.Event{{
		Type:    core.EventActivePing,
		Tick:    tick,
		SimTime: simTime,
		ShipID:  pinger.ID,
		Data:    map[string]any{"range": activeRange},
	}}
	if len(heardBy) > 0 {
		pinger.Alert.CounterDetectedUntil = simTime + AlertWindow
		events = append(events, core.Event{
			Type:    core.EventCounterDetected,
			Tick:    tick,
			SimTime: simTime,
			ShipID:  pinger.ID,
			Data:    map[string]any{"heardBy": heardBy},
		})
	}
	return events, ""
}

// WarnTorpedoes raises the torpedo-inbound alert on every ship that can hear
// a hostile running torpedo inside TorpedoWarnRange.
func (m *Model) WarnTorpedoes(ships []*core.Ship, torpedoes []core.Torpedo, simTime float64) {
	for _, s := range ships {
		if s.Destroyed || !s.Systems.Sonar {
			continue
		}
		for _, t := range torpedoes {
			if t.Done() || t.LauncherID == s.ID || t.Side == s.Side {
				continue
			}
			rng := core.Distance2D(s.Kin.X, s.Kin.Y, t.Kin.X, t.Kin.Y)
			if rng > TorpedoWarnRange {
				continue
			}
			snr := m.env.SNR(TorpedoSourceLevel, rng, s.Acoustics.ArrayGain, s.Kin.Depth, t.Kin.Depth, ListeningPenalty(s)+m.env.MastPenalty(s.Engineering.MastsRaised()))
			if Detectability(snr) >= DetectFloor {
				s.Alert.TorpedoInboundUntil = simTime + AlertWindow
				break
			}
		}
	}
}
