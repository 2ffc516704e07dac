// Package mission loads scenarios: which ships sail, where they start, the
// rules of engagement and the brief handed to the decision layer.
package mission

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/subbridge/simcore/internal/engine"
	"github.com/subbridge/simcore/internal/geo"
	"github.com/subbridge/simcore/internal/sonar"
	"github.com/subbridge/simcore/internal/validate"
	"github.com/subbridge/simcore/pkg/core"
)

// DefaultPlayerShip is the ship the bridge stations crew when a scenario
// names none.
const DefaultPlayerShip = "ownship"

var ErrInvalidScenario = errors.New("invalid scenario")

// Origin anchors lon/lat spawn points to the local frame.
type Origin struct {
	Lon float64 `yaml:"lon"`
	Lat float64 `yaml:"lat"`
}

// Spawn places a ship either in local meters or, when Lon and Lat are set,
// in WGS84 coordinates relative to the scenario origin.
type Spawn struct {
	X       float64  `yaml:"x"`
	Y       float64  `yaml:"y"`
	Lon     *float64 `yaml:"lon"`
	Lat     *float64 `yaml:"lat"`
	Depth   float64  `yaml:"depth"`
	Heading float64  `yaml:"heading"`
	Speed   float64  `yaml:"speed"`
}

// ShipSpawn is one ship of the order of battle.
type ShipSpawn struct {
	ID           string    `yaml:"id"`
	Side         core.Side `yaml:"side"`
	Class        string    `yaml:"class"`
	Spawn        Spawn     `yaml:"spawn"`
	AutoTubePrep bool      `yaml:"auto_tube_prep"`
}

// ZoneSpec is a restricted area given as WKT or as a ring of points.
type ZoneSpec struct {
	Name   string       `yaml:"name"`
	WKT    string       `yaml:"wkt"`
	Points [][2]float64 `yaml:"points"`
}

// Scenario is a mission file.
type Scenario struct {
	ID             string               `yaml:"id"`
	Title          string               `yaml:"title"`
	Objective      string               `yaml:"objective"`
	PlayerShip     string               `yaml:"player_ship"`
	Origin         *Origin              `yaml:"origin"`
	Environment    *sonar.Environment   `yaml:"environment"`
	Bounds         geo.Bounds           `yaml:"bounds"`
	TargetWaypoint *[2]float64          `yaml:"target_wp"`
	WeaponsTight   []core.Side          `yaml:"weapons_tight"`
	NoFireZones    []ZoneSpec           `yaml:"no_fire_zones"`
	Ships          []ShipSpawn          `yaml:"ships"`
	SideSummaries  map[core.Side]string `yaml:"side_summaries"`
	ShipPrompts    map[string]string    `yaml:"ship_prompts"`
}

// Load reads and validates a scenario file. Unknown keys are errors.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a yaml scenario.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Default is the built-in patrol: the player's SSN against one destroyer.
func Default() *Scenario {
	s := &Scenario{
		ID:         "patrol",
		Title:      "Contact patrol",
		Objective:  "Locate and shadow the hostile surface group without being counter-detected.",
		PlayerShip: DefaultPlayerShip,
		Bounds:     geo.Bounds{MinX: -20000, MinY: -20000, MaxX: 20000, MaxY: 20000},
		Ships: []ShipSpawn{
			{ID: DefaultPlayerShip, Side: core.SideBlue, Class: "SSN", Spawn: Spawn{Depth: 100, Heading: 0, Speed: 5}},
			{ID: "red-01", Side: core.SideRed, Class: "Destroyer", Spawn: Spawn{X: 2000, Y: 8000, Heading: 180, Speed: 12}},
		},
		SideSummaries: map[core.Side]string{
			core.SideRed: "Hunt the submarine believed to be operating to the south.",
		},
	}
	_ = s.Validate()
	return s
}

// Validate normalizes sides and checks the order of battle.
func (s *Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidScenario)
	}
	if len(s.Ships) == 0 {
		return fmt.Errorf("%w: no ships", ErrInvalidScenario)
	}
	if s.PlayerShip == "" {
		s.PlayerShip = DefaultPlayerShip
	}

	seen := make(map[string]bool, len(s.Ships))
	for i := range s.Ships {
		sh := &s.Ships[i]
		if sh.ID == "" {
			return fmt.Errorf("%w: ship %d has no id", ErrInvalidScenario, i)
		}
		if seen[sh.ID] {
			return fmt.Errorf("%w: duplicate ship %q", ErrInvalidScenario, sh.ID)
		}
		seen[sh.ID] = true

		side, err := parseSide(sh.Side)
		if err != nil {
			return fmt.Errorf("%w: ship %q: %v", ErrInvalidScenario, sh.ID, err)
		}
		sh.Side = side
		if (sh.Spawn.Lon == nil) != (sh.Spawn.Lat == nil) {
			return fmt.Errorf("%w: ship %q: lon and lat go together", ErrInvalidScenario, sh.ID)
		}
		if sh.Spawn.Lon != nil && s.Origin == nil {
			return fmt.Errorf("%w: ship %q spawns at lon/lat but the scenario has no origin", ErrInvalidScenario, sh.ID)
		}
	}
	if !seen[s.PlayerShip] {
		return fmt.Errorf("%w: player ship %q not in order of battle", ErrInvalidScenario, s.PlayerShip)
	}

	for i, side := range s.WeaponsTight {
		p, err := parseSide(side)
		if err != nil {
			return fmt.Errorf("%w: weapons_tight: %v", ErrInvalidScenario, err)
		}
		s.WeaponsTight[i] = p
	}

	summaries := make(map[core.Side]string, len(s.SideSummaries))
	for side, text := range s.SideSummaries {
		p, err := parseSide(side)
		if err != nil {
			return fmt.Errorf("%w: side_summaries: %v", ErrInvalidScenario, err)
		}
		summaries[p] = text
	}
	s.SideSummaries = summaries
	return nil
}

func parseSide(s core.Side) (core.Side, error) {
	switch side := core.Side(strings.ToUpper(string(s))); side {
	case core.SideBlue, core.SideRed:
		return side, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// Env returns the acoustic environment, or the default one.
func (s *Scenario) Env() sonar.Environment {
	if s.Environment == nil {
		return sonar.DefaultEnvironment()
	}
	return *s.Environment
}

// Spawn builds every ship of the scenario from cat.
func (s *Scenario) Spawn(cat Catalog) ([]core.Ship, error) {
	var frame *geo.Frame
	if s.Origin != nil {
		f, err := geo.NewFrame(s.Origin.Lon, s.Origin.Lat)
		if err != nil {
			return nil, fmt.Errorf("scenario origin: %w", err)
		}
		frame = f
	}

	ships := make([]core.Ship, 0, len(s.Ships))
	for _, sp := range s.Ships {
		kin := core.Kinematics{
			X:       sp.Spawn.X,
			Y:       sp.Spawn.Y,
			Depth:   sp.Spawn.Depth,
			Heading: sp.Spawn.Heading,
			Speed:   sp.Spawn.Speed,
		}
		if sp.Spawn.Lon != nil && frame != nil {
			x, y, err := frame.ToLocal(*sp.Spawn.Lon, *sp.Spawn.Lat)
			if err != nil {
				return nil, fmt.Errorf("ship %q spawn: %w", sp.ID, err)
			}
			kin.X, kin.Y = x, y
		}
		ship, err := cat.Build(sp.ID, sp.Side, sp.Class, kin)
		if err != nil {
			return nil, fmt.Errorf("ship %q: %w", sp.ID, err)
		}
		ship.AutoTubePrep = sp.AutoTubePrep
		ships = append(ships, ship)
	}
	return ships, nil
}

// ROE builds the engagement rules of the scenario.
func (s *Scenario) ROE() (*validate.ROE, error) {
	roe := &validate.ROE{WeaponsTight: make(map[core.Side]bool), Bounds: s.Bounds}
	for _, side := range s.WeaponsTight {
		roe.WeaponsTight[side] = true
	}
	for _, z := range s.NoFireZones {
		var (
			zone geo.Zone
			err  error
		)
		if z.WKT != "" {
			zone, err = geo.ParseZone(z.Name, z.WKT)
		} else {
			zone, err = geo.ZoneFromPoints(z.Name, z.Points)
		}
		if err != nil {
			return nil, fmt.Errorf("no-fire zone %q: %w", z.Name, err)
		}
		roe.NoFire = append(roe.NoFire, zone)
	}
	return roe, nil
}

// Brief is the mission supplement for side's fleet commander. Prompts for
// ships of the other side are left out.
func (s *Scenario) Brief(side core.Side) engine.MissionBrief {
	tight := false
	for _, t := range s.WeaponsTight {
		if t == side {
			tight = true
		}
	}

	prompts := make(map[string]string)
	for _, sp := range s.Ships {
		if p, ok := s.ShipPrompts[sp.ID]; ok && sp.Side == side {
			prompts[sp.ID] = p
		}
	}

	var zones map[string]string
	if roe, err := s.ROE(); err == nil && len(roe.NoFire) > 0 {
		zones = make(map[string]string, len(roe.NoFire))
		for _, z := range roe.NoFire {
			zones[z.Name] = z.WKT()
		}
	}

	return engine.MissionBrief{
		Title:          s.Title,
		Objective:      s.Objective,
		WeaponsFree:    !tight,
		TargetWaypoint: s.TargetWaypoint,
		Bounds:         s.Bounds,
		NoFireZones:    zones,
		FleetPrompt:    s.SideSummaries[side],
		ShipPrompts:    prompts,
	}
}

// Session describes a new run of the scenario.
func (s *Scenario) Session(id string, tickHz int, seed int64, at time.Time) *core.Session {
	return &core.Session{ID: id, MissionID: s.ID, Title: s.Title, StartedAt: at, TickHz: tickHz, Seed: seed}
}
