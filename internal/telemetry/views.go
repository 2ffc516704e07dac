package telemetry

import (
	"math"

	"github.com/subbridge/simcore/internal/physics"
	"github.com/subbridge/simcore/pkg/core"
)

// Station is a console of the ownship bridge, plus the debug and fleet
// screens.
type Station string

const (
	StationCaptain     Station = "captain"
	StationHelm        Station = "helm"
	StationSonar       Station = "sonar"
	StationWeapons     Station = "weapons"
	StationEngineering Station = "engineering"
	StationDebug       Station = "debug"
	StationFleet       Station = "fleet"
)

// Stations lists every station in display order.
var Stations = []Station{StationCaptain, StationHelm, StationSonar, StationWeapons, StationEngineering, StationDebug, StationFleet}

// Topic is the bus topic a station listens on.
func Topic(s Station) string {
	return "tick:" + string(s)
}

// TopicAll carries the base view only.
const TopicAll = "tick:all"

// Ownship is the helm state every station shows.
type Ownship struct {
	ID             string  `json:"id"`
	Heading        float64 `json:"heading"`
	OrderedHeading float64 `json:"orderedHeading"`
	Speed          float64 `json:"speed"`
	OrderedSpeed   float64 `json:"orderedSpeed"`
	Depth          float64 `json:"depth"`
	OrderedDepth   float64 `json:"orderedDepth"`
	Cavitation     bool    `json:"cavitation"`
	Destroyed      bool    `json:"destroyed"`
}

// Base is shared by every station view.
type Base struct {
	Tick    uint64       `json:"tick"`
	SimTime float64      `json:"simTime"`
	Ownship Ownship      `json:"ownship"`
	Events  []core.Event `json:"events"`
}

type CaptainView struct {
	Base
	ConsentRequired bool       `json:"consentRequired"`
	CaptainConsent  bool       `json:"captainConsent"`
	ConsentExpires  float64    `json:"consentExpires,omitempty"`
	Alert           core.Alert `json:"alert"`
	AlertActive     bool       `json:"alertActive"`
	HullDamage      float64    `json:"hullDamage"`
	Contacts        int        `json:"contacts"`
	PeriscopeRaised bool       `json:"periscopeRaised"`
	RadioRaised     bool       `json:"radioRaised"`
}

type HelmView struct {
	Base
	CavitationSpeed     float64 `json:"cavitationSpeed"`
	CavitationSpeedWarn bool    `json:"cavitationSpeedWarn"`
	MaxSpeed            float64 `json:"maxSpeed"`
	MaxDepth            float64 `json:"maxDepth"`
	RudderOK            bool    `json:"rudderOk"`
	BallastOK           bool    `json:"ballastOk"`
}

type SonarView struct {
	Base
	Contacts     []core.Contact `json:"contacts"`
	PingCooldown float64        `json:"pingCooldown"`
	NoiseDB      float64        `json:"noiseDb"`
	SonarOK      bool           `json:"sonarOk"`
}

type WeaponsView struct {
	Base
	Tubes           []core.Tube    `json:"tubes"`
	TorpedoesStored int            `json:"torpedoesStored"`
	Countermeasures int            `json:"countermeasures"`
	DepthCharges    int            `json:"depthCharges"`
	Torpedoes       []core.Torpedo `json:"torpedoes"`
	ConsentRequired bool           `json:"consentRequired"`
	CaptainConsent  bool           `json:"captainConsent"`
}

type EngineeringView struct {
	Base
	Engineering core.Engineering  `json:"engineering"`
	Maintenance core.Maintenance  `json:"maintenance"`
	Systems     core.SystemStatus `json:"systems"`
	Damage      core.Damage       `json:"damage"`
	NoiseDB     float64           `json:"noiseDb"`
}

// FleetView shows the decision layer, not the world.
type FleetView struct {
	Tick       uint64             `json:"tick"`
	SimTime    float64            `json:"simTime"`
	Intent     *core.FleetIntent  `json:"intent,omitempty"`
	RecentRuns []core.DecisionRun `json:"recentRuns"`
}

// ViewOptions carries what the snapshot does not know.
type ViewOptions struct {
	ShipID         string
	RequireConsent bool
	Intent         *core.FleetIntent
	RecentRuns     []core.DecisionRun
}

func baseView(snap *core.Snapshot, own core.Ship) Base {
	events := make([]core.Event, 0)
	for _, e := range snap.Events {
		if e.ShipID == "" || e.ShipID == own.ID {
			events = append(events, e)
		}
	}
	return Base{
		Tick:    snap.Tick,
		SimTime: snap.SimTime,
		Ownship: Ownship{
			ID:             own.ID,
			Heading:        own.Kin.Heading,
			OrderedHeading: own.Ordered.Heading,
			Speed:          own.Kin.Speed,
			OrderedSpeed:   own.Ordered.Speed,
			Depth:          own.Kin.Depth,
			OrderedDepth:   own.Ordered.Depth,
			Cavitation:     own.Cavitating,
			Destroyed:      own.Destroyed,
		},
		Events: events,
	}
}

// BuildView returns the view of station for the ship in opts. ok is false
// when the ship is not in the snapshot, except for the debug and fleet
// screens which do not depend on it.
func BuildView(station Station, snap *core.Snapshot, opts ViewOptions) (any, bool) {
	if snap == nil {
		return nil, false
	}
	switch station {
	case StationDebug:
		return snap, true
	case StationFleet:
		runs := opts.RecentRuns
		if runs == nil {
			runs = []core.DecisionRun{}
		}
		return FleetView{Tick: snap.Tick, SimTime: snap.SimTime, Intent: opts.Intent, RecentRuns: runs}, true
	}

	own, ok := snap.Ship(opts.ShipID)
	if !ok {
		return nil, false
	}
	base := baseView(snap, own)
	consent := snap.ConsentOpen(own.Side)

	switch station {
	case StationCaptain:
		v := CaptainView{
			Base:            base,
			ConsentRequired: opts.RequireConsent,
			CaptainConsent:  consent,
			Alert:           own.Alert,
			AlertActive:     own.Alert.Active(snap.SimTime),
			HullDamage:      own.Damage.Hull,
			Contacts:        len(snap.Contacts[own.ID]),
			PeriscopeRaised: own.Engineering.PeriscopeUp,
			RadioRaised:     own.Engineering.RadioMastUp,
		}
		if consent {
			v.ConsentExpires = snap.Consent[own.Side]
		}
		return v, true
	case StationHelm:
		cav := physics.CavitationSpeed(own.Kin.Depth)
		return HelmView{
			Base:                base,
			CavitationSpeed:     cav,
			CavitationSpeedWarn: own.Kin.Speed > cav,
			MaxSpeed:            own.Hull.MaxSpeed,
			MaxDepth:            own.Hull.MaxDepth,
			RudderOK:            own.Systems.Rudder,
			BallastOK:           own.Systems.Ballast,
		}, true
	case StationSonar:
		contacts := append([]core.Contact{}, snap.Contacts[own.ID]...)
		return SonarView{
			Base:         base,
			Contacts:     contacts,
			PingCooldown: math.Max(0, own.PingReadyAt-snap.SimTime),
			NoiseDB:      own.NoiseDB,
			SonarOK:      own.Systems.Sonar,
		}, true
	case StationWeapons:
		torps := make([]core.Torpedo, 0)
		for _, t := range snap.Torpedoes {
			if t.LauncherID == own.ID {
				torps = append(torps, t)
			}
		}
		return WeaponsView{
			Base:            base,
			Tubes:           append([]core.Tube{}, own.Weapons.Tubes...),
			TorpedoesStored: own.Weapons.TorpedoesStored,
			Countermeasures: own.Weapons.Countermeasures,
			DepthCharges:    own.Weapons.DepthCharges,
			Torpedoes:       torps,
			ConsentRequired: opts.RequireConsent,
			CaptainConsent:  consent,
		}, true
	case StationEngineering:
		return EngineeringView{
			Base:        base,
			Engineering: own.Engineering,
			Maintenance: own.Maintenance,
			Systems:     own.Systems,
			Damage:      own.Damage,
			NoiseDB:     own.NoiseDB,
		}, true
	}
	return base, true
}
