// Package core defines the data contracts shared between the world loop,
// the decision layer, storage and telemetry.
package core

// Side identifies the team a platform belongs to.
type Side string

const (
	SideBlue Side = "BLUE"
	SideRed  Side = "RED"
)

// Opponent returns the opposing side.
func (s Side) Opponent() Side {
	if s == SideBlue {
		return SideRed
	}
	return SideBlue
}

// Kinematics is the physical state of a moving body. X is metres east,
// Y metres north, Depth metres below the surface, Heading compass degrees
// and Speed knots.
type Kinematics struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Depth   float64 `json:"depth"`
	Heading float64 `json:"heading"`
	Speed   float64 `json:"speed"`
}

// Orders are the helm demands the kinematics model steers toward.
type Orders struct {
	Heading float64 `json:"heading"`
	Speed   float64 `json:"speed"`
	Depth   float64 `json:"depth"`
}

// Hull holds the undamaged platform limits.
type Hull struct {
	MaxSpeed float64 `json:"maxSpeed"`
	MaxDepth float64 `json:"maxDepth"`
	TurnRate float64 `json:"turnRate"` // deg/s
	Accel    float64 `json:"accel"`    // kn/s
	Decel    float64 `json:"decel"`    // kn/s
}

// Capabilities gate which commands a platform may receive.
type Capabilities struct {
	Surface            bool `json:"surface"`
	HasTorpedoes       bool `json:"hasTorpedoes"`
	HasActiveSonar     bool `json:"hasActiveSonar"`
	HasCountermeasures bool `json:"hasCountermeasures"`
	HasDepthCharges    bool `json:"hasDepthCharges"`
}

// SourcePoint is one entry of a radiated-noise table.
type SourcePoint struct {
	Speed float64 `json:"speed"`
	Level float64 `json:"level"`
}

// Acoustics describes how loud a platform is and how well it listens.
type Acoustics struct {
	SourceLevels []SourcePoint `json:"sourceLevels"` // sorted by speed
	ArrayGain    float64       `json:"arrayGain"`
	ActiveRange  float64       `json:"activeRange"`
	NoisePenalty float64       `json:"noisePenalty"` // dB added by transients and damage
}

// Damage holds damage fractions in [0,1] plus the current flooding rate.
type Damage struct {
	Hull       float64 `json:"hull"`
	Sensors    float64 `json:"sensors"`
	Propulsion float64 `json:"propulsion"`
	Flooding   float64 `json:"flooding"`
}

// Health is the remaining structural integrity in [0,1].
func (d Damage) Health() float64 {
	h := 1 - d.Hull
	if h < 0 {
		return 0
	}
	return h
}

// SystemName names a maintainable ship system.
type SystemName string

const (
	SystemRudder  SystemName = "rudder"
	SystemBallast SystemName = "ballast"
	SystemSonar   SystemName = "sonar"
	SystemTubes   SystemName = "tubes"
	SystemPumps   SystemName = "pumps"
	SystemReactor SystemName = "reactor"
)

// Systems lists every maintainable system in a fixed order.
var Systems = []SystemName{SystemRudder, SystemBallast, SystemSonar, SystemTubes, SystemPumps, SystemReactor}

// Maintenance holds per-system maintenance levels in [0,1].
type Maintenance struct {
	Rudder  float64 `json:"rudder"`
	Ballast float64 `json:"ballast"`
	Sonar   float64 `json:"sonar"`
	Tubes   float64 `json:"tubes"`
	Pumps   float64 `json:"pumps"`
	Reactor float64 `json:"reactor"`
}

// FullMaintenance returns every system at level 1.
func FullMaintenance() Maintenance {
	return Maintenance{Rudder: 1, Ballast: 1, Sonar: 1, Tubes: 1, Pumps: 1, Reactor: 1}
}

// Level returns the maintenance level of the named system.
func (m Maintenance) Level(name SystemName) float64 {
	switch name {
	case SystemRudder:
		return m.Rudder
	case SystemBallast:
		return m.Ballast
	case SystemSonar:
		return m.Sonar
	case SystemTubes:
		return m.Tubes
	case SystemPumps:
		return m.Pumps
	case SystemReactor:
		return m.Reactor
	}
	return 0
}

// Set updates the level of the named system.
func (m *Maintenance) Set(name SystemName, v float64) {
	switch name {
	case SystemRudder:
		m.Rudder = v
	case SystemBallast:
		m.Ballast = v
	case SystemSonar:
		m.Sonar = v
	case SystemTubes:
		m.Tubes = v
	case SystemPumps:
		m.Pumps = v
	case SystemReactor:
		m.Reactor = v
	}
}

// SystemStatus reports which systems are currently operational.
type SystemStatus struct {
	Rudder  bool `json:"rudder"`
	Ballast bool `json:"ballast"`
	Sonar   bool `json:"sonar"`
	Tubes   bool `json:"tubes"`
	Pumps   bool `json:"pumps"`
	Reactor bool `json:"reactor"`
}

// AllSystemsOK returns a status with every system operational.
func AllSystemsOK() SystemStatus {
	return SystemStatus{Rudder: true, Ballast: true, Sonar: true, Tubes: true, Pumps: true, Reactor: true}
}

// PowerAllocation splits the reactor output between stations. Fractions sum to at most 1.
type PowerAllocation struct {
	Helm        float64 `json:"helm"`
	Sonar       float64 `json:"sonar"`
	Weapons     float64 `json:"weapons"`
	Engineering float64 `json:"engineering"`
}

// Total returns the sum of all fractions.
func (p PowerAllocation) Total() float64 {
	return p.Helm + p.Sonar + p.Weapons + p.Engineering
}

// Engineering holds the plant state of a platform.
type Engineering struct {
	Allocation    PowerAllocation `json:"allocation"`
	ReactorOutput float64         `json:"reactorOutput"` // fraction of rated output
	Battery       float64         `json:"battery"`       // fraction of capacity
	BallastBoost  bool            `json:"ballastBoost"`
	BilgePumps    bool            `json:"bilgePumps"`
	PeriscopeUp   bool            `json:"periscopeUp"`
	RadioMastUp   bool            `json:"radioMastUp"`
}

// MastsRaised counts the masts above the waterline.
func (e Engineering) MastsRaised() int {
	n := 0
	if e.PeriscopeUp {
		n++
	}
	if e.RadioMastUp {
		n++
	}
	return n
}

// Alert records until when each alert condition stays active, in sim seconds.
type Alert struct {
	PingedUntil          float64 `json:"pingedUntil"`
	TorpedoInboundUntil  float64 `json:"torpedoInboundUntil"`
	CounterDetectedUntil float64 `json:"counterDetectedUntil"`
}

// Active reports whether any alert condition holds at simTime.
func (a Alert) Active(simTime float64) bool {
	return simTime < a.PingedUntil || simTime < a.TorpedoInboundUntil || simTime < a.CounterDetectedUntil
}

// Ship is a single platform. It is owned by the world coordinator; every
// other component sees copies taken from a Snapshot.
type Ship struct {
	ID          string       `json:"id"`
	Side        Side         `json:"side"`
	Class       string       `json:"class"`
	Kin         Kinematics   `json:"kinematics"`
	Ordered     Orders       `json:"ordered"`
	Hull        Hull         `json:"hull"`
	Caps        Capabilities `json:"capabilities"`
	Acoustics   Acoustics    `json:"acoustics"`
	Damage      Damage       `json:"damage"`
	Systems     SystemStatus `json:"systems"`
	Maintenance Maintenance  `json:"maintenance"`
	Engineering Engineering  `json:"engineering"`
	Weapons     WeaponsSuite `json:"weapons"`
	Alert       Alert        `json:"alert"`
	NoiseDB     float64      `json:"noiseDb"`
	Cavitating  bool         `json:"cavitating"`
	PingReadyAt float64      `json:"pingReadyAt"`

	// AutoTubePrep lets the crew cycle tubes up to DoorsOpen without orders.
	AutoTubePrep bool `json:"autoTubePrep"`
	Destroyed    bool `json:"destroyed"`
}

// Clone returns a deep copy that shares no slices with s.
func (s Ship) Clone() Ship {
	c := s
	c.Acoustics.SourceLevels = append([]SourcePoint(nil), s.Acoustics.SourceLevels...)
	c.Weapons.Tubes = append([]Tube(nil), s.Weapons.Tubes...)
	return c
}

// Tube returns a pointer to the tube with the given index.
func (s *Ship) Tube(index int) (*Tube, bool) {
	for i := range s.Weapons.Tubes {
		if s.Weapons.Tubes[i].Index == index {
			return &s.Weapons.Tubes[i], true
		}
	}
	return nil, false
}
