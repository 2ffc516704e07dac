package core

// TubeState is a torpedo tube readiness state.
type TubeState string

const (
	TubeEmpty     TubeState = "empty"
	TubeLoaded    TubeState = "loaded"
	TubeFlooded   TubeState = "flooded"
	TubeDoorsOpen TubeState = "doors_open"
	TubeFired     TubeState = "fired"
)

// TubeAction is an operator request against a tube.
type TubeAction string

const (
	TubeActionLoad       TubeAction = "load"
	TubeActionFlood      TubeAction = "flood"
	TubeActionOpenDoors  TubeAction = "open_doors"
	TubeActionCloseDoors TubeAction = "close_doors"
)

// Tube is one launcher. While Next is set the tube is mid-transition and
// Remaining counts down in seconds.
type Tube struct {
	Index         int       `json:"index"`
	State         TubeState `json:"state"`
	Next          TubeState `json:"next,omitempty"`
	Remaining     float64   `json:"remaining"`
	Jammed        bool      `json:"jammed"`
	JamReason     string    `json:"jamReason,omitempty"`
	Fault         string    `json:"fault,omitempty"` // why automatic prep is stalled
	LastTorpedoID string    `json:"lastTorpedoId,omitempty"`
}

// Busy reports whether a timed transition is in progress.
func (t Tube) Busy() bool {
	return t.Next != ""
}

// TorpedoSpec is the performance envelope of a torpedo type.
type TorpedoSpec struct {
	Name           string  `json:"name"`
	SpeedKn        float64 `json:"speedKn"`
	MaxRunTime     float64 `json:"maxRunTime"`     // seconds of battery
	SeekerHalfCone float64 `json:"seekerHalfCone"` // degrees
	MaxTurnRate    float64 `json:"maxTurnRate"`    // deg/s
	MaxDepth       float64 `json:"maxDepth"`
	MinEnable      float64 `json:"minEnable"`
	PassiveRange   float64 `json:"passiveRange"`
	ActiveRange    float64 `json:"activeRange"`
	TerminalRange  float64 `json:"terminalRange"`
	FuzeRadius     float64 `json:"fuzeRadius"`
	ArmTime        float64 `json:"armTime"`
	Warhead        float64 `json:"warhead"` // hull damage at point blank
}

// MaxRange is the distance the torpedo covers on a full battery.
func (s TorpedoSpec) MaxRange() float64 {
	return s.SpeedKn * KnotsToMS * s.MaxRunTime
}

// WeaponsSuite is the offensive and defensive stores of a platform.
type WeaponsSuite struct {
	Tubes                 []Tube      `json:"tubes"`
	Torpedo               TorpedoSpec `json:"torpedo"`
	TorpedoesStored       int         `json:"torpedoesStored"`
	Countermeasures       int         `json:"countermeasures"`
	DepthCharges          int         `json:"depthCharges"`
	CountermeasureReadyAt float64     `json:"countermeasureReadyAt"`
	DepthChargeReadyAt    float64     `json:"depthChargeReadyAt"`
}

// TorpedoPhase is the guidance phase of a running torpedo.
type TorpedoPhase string

const (
	PhaseTransit   TorpedoPhase = "transit"
	PhaseSeeking   TorpedoPhase = "seeking"
	PhaseTerminal  TorpedoPhase = "terminal"
	PhaseDetonated TorpedoPhase = "detonated"
	PhaseExpired   TorpedoPhase = "expired"
)

// SeekerMode selects how the seeker acquires targets.
type SeekerMode string

const (
	SeekerPassive SeekerMode = "passive"
	SeekerActive  SeekerMode = "active"
	SeekerLost    SeekerMode = "lost"
)

// Torpedo is a weapon in the water. LauncherID is used only for the
// launcher safety geometry; the torpedo never carries a target identity.
type Torpedo struct {
	ID          string       `json:"id"`
	LauncherID  string       `json:"launcherId"`
	Side        Side         `json:"side"`
	Kin         Kinematics   `json:"kinematics"`
	Spec        TorpedoSpec  `json:"spec"`
	Phase       TorpedoPhase `json:"phase"`
	Seeker      SeekerMode   `json:"seeker"`
	Doctrine    string       `json:"doctrine"`
	RunDepth    float64      `json:"runDepth"`
	EnableRange float64      `json:"enableRange"`
	LaunchX     float64      `json:"launchX"`
	LaunchY     float64      `json:"launchY"`
	RunTime     float64      `json:"runTime"`
	Armed       bool         `json:"armed"`
	Inhibited   bool         `json:"inhibited"`

	Tracking     bool    `json:"tracking"`
	TrackBearing float64 `json:"trackBearing"`
	TrackRange   float64 `json:"trackRange"`
	Commanded    float64 `json:"commanded"` // commanded heading
}

// Done reports whether the torpedo has left the water.
func (t Torpedo) Done() bool {
	return t.Phase == PhaseDetonated || t.Phase == PhaseExpired
}

// DistanceRun is the straight-line distance from the launch point.
func (t Torpedo) DistanceRun() float64 {
	return Distance2D(t.LaunchX, t.LaunchY, t.Kin.X, t.Kin.Y)
}

// Decoy is an expendable acoustic countermeasure.
type Decoy struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"ownerId"`
	Type        string  `json:"type"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Depth       float64 `json:"depth"`
	SourceLevel float64 `json:"sourceLevel"`
	ExpiresAt   float64 `json:"expiresAt"`
}

// DepthCharge is a sinking charge that detonates at TargetDepth.
type DepthCharge struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"ownerId"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Depth       float64 `json:"depth"`
	TargetDepth float64 `json:"targetDepth"`
	ArmedAt     float64 `json:"armedAt"` // sim time from which it can hurt its owner
}
