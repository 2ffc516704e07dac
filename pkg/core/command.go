package core

// CommandKind tags the payload a Command carries.
type CommandKind string

const (
	CmdSetNav               CommandKind = "set_nav"
	CmdFireTorpedo          CommandKind = "fire_torpedo"
	CmdDeployCountermeasure CommandKind = "deploy_countermeasure"
	CmdDropDepthCharges     CommandKind = "drop_depth_charges"
	CmdTube                 CommandKind = "tube"
	CmdActivePing           CommandKind = "active_ping"
	CmdConsent              CommandKind = "consent"
	CmdPower                CommandKind = "power"
	CmdReactor              CommandKind = "reactor"
	CmdPump                 CommandKind = "pump"
	CmdMast                 CommandKind = "mast"
)

// Origin tells who produced a command.
type Origin string

const (
	OriginStation  Origin = "station"
	OriginAgent    Origin = "agent"
	OriginFallback Origin = "fallback"
)

// CommandSource ties a command back to the station or decision run that issued it.
type CommandSource struct {
	Origin Origin `json:"origin"`
	RunID  string `json:"runId,omitempty"`
}

type NavOrder struct {
	Heading float64 `json:"heading"`
	Speed   float64 `json:"speed"`
	Depth   float64 `json:"depth"`
}

type FireOrder struct {
	Tube        int     `json:"tube"`
	Bearing     float64 `json:"bearing"`
	RunDepth    float64 `json:"run_depth"`
	EnableRange float64 `json:"enable_range"`
	Doctrine    string  `json:"doctrine,omitempty"`
}

// Countermeasure types.
const (
	CountermeasureNoisemaker = "noisemaker"
	CountermeasureDecoy      = "decoy"
)

type CountermeasureOrder struct {
	Type string `json:"type"`
}

type DepthChargeOrder struct {
	SpreadMeters float64 `json:"spread_meters"`
	MinDepth     float64 `json:"minDepth"`
	MaxDepth     float64 `json:"maxDepth"`
	SpreadSize   int     `json:"spreadSize"`
}

type TubeOrder struct {
	Tube   int        `json:"tube"`
	Action TubeAction `json:"action"`
}

// ConsentOrder opens (or revokes) the weapons-release window for a side.
type ConsentOrder struct {
	Side     Side    `json:"side"`
	Granted  bool    `json:"granted"`
	Duration float64 `json:"duration"`
}

type PowerOrder struct {
	Allocation PowerAllocation `json:"allocation"`
}

type ReactorOrder struct {
	Output float64 `json:"output"`
}

// Pump names.
const (
	PumpBallast = "ballast"
	PumpBilge   = "bilge"
)

type PumpOrder struct {
	Pump string `json:"pump"`
	On   bool   `json:"on"`
}

// Mast names.
const (
	MastPeriscope = "periscope"
	MastRadio     = "radio"
)

type MastOrder struct {
	Mast   string `json:"mast"`
	Raised bool   `json:"raised"`
}

// Command is a tagged variant: Kind selects which one payload pointer is set.
type Command struct {
	Kind   CommandKind   `json:"kind"`
	ShipID string        `json:"shipId"`
	Source CommandSource `json:"source"`

	Nav            *NavOrder            `json:"nav,omitempty"`
	Fire           *FireOrder           `json:"fire,omitempty"`
	Countermeasure *CountermeasureOrder `json:"countermeasure,omitempty"`
	DepthCharges   *DepthChargeOrder    `json:"depthCharges,omitempty"`
	Tube           *TubeOrder           `json:"tube,omitempty"`
	Consent        *ConsentOrder        `json:"consent,omitempty"`
	Power          *PowerOrder          `json:"power,omitempty"`
	Reactor        *ReactorOrder        `json:"reactor,omitempty"`
	Pump           *PumpOrder           `json:"pump,omitempty"`
	Mast           *MastOrder           `json:"mast,omitempty"`
}

// Rejection records a command that reached the world but had no effect.
type Rejection struct {
	Tick   uint64        `json:"tick"`
	ShipID string        `json:"shipId"`
	Kind   CommandKind   `json:"kind"`
	Reason string        `json:"reason"`
	Source CommandSource `json:"source"`
}
