package core

// ContactSource tells how a contact was produced.
type ContactSource string

const (
	SourcePassive ContactSource = "passive"
	SourceActive  ContactSource = "active"
)

// Contact is a sensor belief about another platform, as seen by one
// observer. TrackID is an observer-local label; a contact never carries
// the true identity, position, or speed of what it describes.
type Contact struct {
	TrackID        string        `json:"trackId"`
	Bearing        float64       `json:"bearing"`
	Range          float64       `json:"range,omitempty"`
	RangeKnown     bool          `json:"rangeKnown"`
	Detectability  float64       `json:"detectability"`
	Confidence     float64       `json:"confidence"`
	Classification string        `json:"classification"`
	LastSeen       float64       `json:"lastSeen"`
	Source         ContactSource `json:"source"`
}
