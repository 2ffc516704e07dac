package core

import "time"

// EventType names a world event.
type EventType string

const (
	EventCounterDetected        EventType = "counterDetected"
	EventActivePing             EventType = "active_ping"
	EventNoiseThresholdExceeded EventType = "noise_threshold_exceeded"
	EventTorpedoLaunched        EventType = "torpedo_launched"
	EventTorpedoDetonated       EventType = "torpedo_detonated"
	EventTorpedoExpired         EventType = "torpedo_expired"
	EventTorpedoSelfDestruct    EventType = "torpedo_self_destruct"
	EventTubeJammed             EventType = "tube_jammed"
	EventTubeFault              EventType = "tube_fault"
	EventCommandRejected        EventType = "command_rejected"
	EventCountermeasure         EventType = "countermeasure_deployed"
	EventDepthChargeDetonated   EventType = "depth_charge_detonated"
	EventShipDestroyed          EventType = "ship_destroyed"
	EventConsentChanged         EventType = "consent_changed"
)

// Event is something that happened during a tick.
type Event struct {
	Type    EventType      `json:"type"`
	Tick    uint64         `json:"tick"`
	SimTime float64        `json:"simTime"`
	ShipID  string         `json:"shipId,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Snapshot is the read-only view of the world published after each tick.
// Nothing in a published Snapshot is mutated afterwards.
type Snapshot struct {
	Tick         uint64               `json:"tick"`
	SimTime      float64              `json:"simTime"`
	PublishedAt  time.Time            `json:"publishedAt"`
	Ships        []Ship               `json:"ships"`
	Torpedoes    []Torpedo            `json:"torpedoes"`
	Decoys       []Decoy              `json:"decoys,omitempty"`
	DepthCharges []DepthCharge        `json:"depthCharges,omitempty"`
	Contacts     map[string][]Contact `json:"contacts"`
	Consent      map[Side]float64     `json:"consent"` // window expiry per side, sim seconds
	Events       []Event              `json:"events,omitempty"`
	Rejections   []Rejection          `json:"rejections,omitempty"`
}

// Ship finds a ship by id.
func (s *Snapshot) Ship(id string) (Ship, bool) {
	if s == nil {
		return Ship{}, false
	}
	for _, sh := range s.Ships {
		if sh.ID == id {
			return sh, true
		}
	}
	return Ship{}, false
}

// ConsentOpen reports whether side holds a valid weapons-release window.
func (s *Snapshot) ConsentOpen(side Side) bool {
	if s == nil {
		return false
	}
	return s.SimTime < s.Consent[side]
}
