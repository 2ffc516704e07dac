package engine

import (
	"github.com/subbridge/simcore/internal/geo"
	"github.com/subbridge/simcore/pkg/core"
)

// OwnShip is what a commander knows about one of its own ships.
type OwnShip struct {
	ID              string            `json:"id"`
	Class           string            `json:"class"`
	Pos             [2]float64        `json:"pos"`
	Depth           float64           `json:"depth"`
	Heading         float64           `json:"heading"`
	Speed           float64           `json:"speed"`
	Health          float64           `json:"health"`
	TubesReady      int               `json:"tubes_ready"`
	Torpedoes       int               `json:"torpedoes"`
	Countermeasures int               `json:"countermeasures"`
	DepthCharges    int               `json:"depth_charges"`
	Noise           float64           `json:"noise_db"`
	Cavitating      bool              `json:"cavitating"`
	Caps            core.Capabilities `json:"capabilities"`
	Alert           bool              `json:"alert"`
}

// Belief is one own-side contact, tagged with the observer that holds it.
// EstPos is derived from the observer's position and the contact's range
// and bearing; it is only set when the range is known.
type Belief struct {
	Observer       string      `json:"observer"`
	TrackID        string      `json:"track_id"`
	Bearing        float64     `json:"bearing"`
	Range          float64     `json:"range,omitempty"`
	RangeKnown     bool        `json:"range_known"`
	EstPos         *[2]float64 `json:"est_pos,omitempty"`
	Classification string      `json:"classification"`
	Confidence     float64     `json:"confidence"`
	LastSeen       float64     `json:"last_seen"`
}

// MissionBrief is the scenario supplement handed to the Fleet tier as is.
type MissionBrief struct {
	Title          string            `json:"title,omitempty"`
	Objective      string            `json:"objective,omitempty"`
	WeaponsFree    bool              `json:"weapons_free"`
	TargetWaypoint *[2]float64       `json:"target_wp,omitempty"`
	Bounds         geo.Bounds        `json:"bounds"`
	NoFireZones    map[string]string `json:"no_fire_zones,omitempty"` // name to WKT polygon
	FleetPrompt    string            `json:"-"`
	ShipPrompts    map[string]string `json:"-"`
}

// FleetSummary is everything the Fleet tier may see.
type FleetSummary struct {
	Side        core.Side         `json:"side"`
	SimTime     float64           `json:"sim_time"`
	OwnFleet    []OwnShip         `json:"own_fleet"`
	EnemyBelief []Belief          `json:"enemy_belief"`
	Mission     MissionBrief      `json:"mission"`
	LastIntent  *core.FleetIntent `json:"last_intent,omitempty"`
}

// ShipAlert breaks the alert state down by cause.
type ShipAlert struct {
	Pinged          bool `json:"pinged"`
	TorpedoInbound  bool `json:"torpedo_inbound"`
	CounterDetected bool `json:"counter_detected"`
}

// Any reports whether any alert is raised.
func (a ShipAlert) Any() bool {
	return a.Pinged || a.TorpedoInbound || a.CounterDetected
}

// ShipSummary is everything the Ship tier of one ship may see.
type ShipSummary struct {
	SimTime     float64        `json:"sim_time"`
	Self        OwnShip        `json:"self"`
	Constraints core.Hull      `json:"constraints"`
	Ordered     core.Orders    `json:"orders_last"`
	Tubes       []core.Tube    `json:"tubes"`
	Contacts    []core.Contact `json:"contacts"`
	Alert       ShipAlert      `json:"detected_state"`
	Tools       string         `json:"tools"`
	Handoff     string         `json:"handoff,omitempty"`
	Prompt      string         `json:"-"`
}
