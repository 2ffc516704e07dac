package core

// Objective is the Fleet tier's tasking for one ship.
type Objective struct {
	Destination [2]float64 `json:"destination"`
	SpeedKn     *float64   `json:"speed_kn,omitempty"`
	Goal        string     `json:"goal,omitempty"`
}

// Emcon is the emissions-control posture.
type Emcon struct {
	ActivePingAllowed bool   `json:"active_ping_allowed"`
	RadioDiscipline   string `json:"radio_discipline"`
}

// IntentNote is free text for one ship, or for the whole group when ShipID is empty.
type IntentNote struct {
	ShipID string `json:"ship_id,omitempty"`
	Text   string `json:"text"`
}

// Handoff asks the Ship tier of ShipID to act on Order immediately.
type Handoff struct {
	ShipID string `json:"ship_id"`
	Order  string `json:"order"`
}

// FleetIntent is the group-level plan. Once published it is never mutated;
// a newer intent replaces it wholesale.
type FleetIntent struct {
	Version        uint64               `json:"version"`
	RunID          string               `json:"run_id"`
	Side           Side                 `json:"side"`
	IssuedAt       float64              `json:"issued_at"`
	Objectives     map[string]Objective `json:"objectives"`
	Emcon          Emcon                `json:"emcon"`
	WeaponsRelease bool                 `json:"weapons_release"`
	Summary        string               `json:"summary"`
	Notes          []IntentNote         `json:"notes,omitempty"`
	Handoffs       []Handoff            `json:"handoffs,omitempty"`
}

// IntentSlice is the part of a FleetIntent one ship is allowed to see.
type IntentSlice struct {
	Version        uint64     `json:"version"`
	Objective      *Objective `json:"objective,omitempty"`
	Emcon          Emcon      `json:"emcon"`
	WeaponsRelease bool       `json:"weapons_release"`
	Summary        string     `json:"summary,omitempty"`
	Notes          []string   `json:"notes,omitempty"`
	Handoff        string     `json:"handoff,omitempty"`
}

// Slice extracts the tasking relevant to shipID. A nil intent yields an empty slice.
func (f *FleetIntent) Slice(shipID string) IntentSlice {
	if f == nil {
		return IntentSlice{}
	}
	out := IntentSlice{
		Version:        f.Version,
		Emcon:          f.Emcon,
		WeaponsRelease: f.WeaponsRelease,
		Summary:        f.Summary,
	}
	if obj, ok := f.Objectives[shipID]; ok {
		o := obj
		out.Objective = &o
	}
	for _, n := range f.Notes {
		if n.ShipID == "" || n.ShipID == shipID {
			out.Notes = append(out.Notes, n.Text)
		}
	}
	return out
}
