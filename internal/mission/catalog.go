package mission

import (
	"cmp"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/subbridge/simcore/internal/damage"
	"github.com/subbridge/simcore/internal/sonar"
	"github.com/subbridge/simcore/pkg/core"
)

// HullSpec is the yaml form of core.Hull.
type HullSpec struct {
	MaxSpeed float64 `yaml:"max_speed"`
	MaxDepth float64 `yaml:"max_depth"`
	TurnRate float64 `yaml:"turn_rate"`
	Accel    float64 `yaml:"accel"`
	Decel    float64 `yaml:"decel"`
}

// CapabilitySpec is the yaml form of core.Capabilities.
type CapabilitySpec struct {
	Surface            bool `yaml:"surface"`
	HasTorpedoes       bool `yaml:"torpedoes"`
	HasActiveSonar     bool `yaml:"active_sonar"`
	HasCountermeasures bool `yaml:"countermeasures"`
	HasDepthCharges    bool `yaml:"depth_charges"`
}

// AcousticSpec describes the radiated noise table, speed in knots to dB.
type AcousticSpec struct {
	SourceLevels map[float64]float64 `yaml:"source_levels"`
	ArrayGain    float64             `yaml:"array_gain"`
	ActiveRange  float64             `yaml:"active_range"`
}

// TorpedoSpec is the yaml form of core.TorpedoSpec.
type TorpedoSpec struct {
	Name           string  `yaml:"name"`
	SpeedKn        float64 `yaml:"speed_kn"`
	MaxRunTime     float64 `yaml:"max_run_time_s"`
	SeekerHalfCone float64 `yaml:"seeker_half_cone_deg"`
	MaxTurnRate    float64 `yaml:"max_turn_rate"`
	MaxDepth       float64 `yaml:"max_depth"`
	MinEnable      float64 `yaml:"min_enable_m"`
	PassiveRange   float64 `yaml:"passive_range"`
	ActiveRange    float64 `yaml:"active_range"`
	TerminalRange  float64 `yaml:"terminal_range"`
	FuzeRadius     float64 `yaml:"fuze_radius"`
	ArmTime        float64 `yaml:"arm_time_s"`
	Warhead        float64 `yaml:"warhead"`
}

// WeaponSpec is the stores a class sails with.
type WeaponSpec struct {
	TubeCount       int         `yaml:"tube_count"`
	TorpedoesStored int         `yaml:"torpedoes_stored"`
	Countermeasures int         `yaml:"countermeasures"`
	DepthCharges    int         `yaml:"depth_charges"`
	Torpedo         TorpedoSpec `yaml:"torpedo"`
}

// ShipClass is one catalog entry.
type ShipClass struct {
	Name         string         `yaml:"name"`
	Hull         HullSpec       `yaml:"hull"`
	Capabilities CapabilitySpec `yaml:"capabilities"`
	Acoustics    AcousticSpec   `yaml:"acoustics"`
	Weapons      WeaponSpec     `yaml:"weapons"`
}

// Catalog maps a class key such as "SSN" to its definition.
type Catalog map[string]ShipClass

var mk48 = TorpedoSpec{
	Name:           "Mk48",
	SpeedKn:        45,
	MaxRunTime:     600,
	SeekerHalfCone: 35,
	MaxTurnRate:    20,
	MaxDepth:       600,
	MinEnable:      800,
	PassiveRange:   3000,
	ActiveRange:    2000,
	TerminalRange:  400,
	FuzeRadius:     30,
	ArmTime:        10,
	Warhead:        0.8,
}

// DefaultCatalog returns the built-in classes.
func DefaultCatalog() Catalog {
	return Catalog{
		"SSN": {
			Name:         "Attack submarine",
			Hull:         HullSpec{MaxSpeed: 30, MaxDepth: 300, TurnRate: 7, Accel: 0.5, Decel: 0.7},
			Capabilities: CapabilitySpec{HasTorpedoes: true, HasActiveSonar: true, HasCountermeasures: true},
			Acoustics: AcousticSpec{
				SourceLevels: map[float64]float64{5: 110, 10: 118, 15: 130},
				ArrayGain:    15,
				ActiveRange:  8000,
			},
			Weapons: WeaponSpec{TubeCount: 6, TorpedoesStored: 6, Countermeasures: 6, Torpedo: mk48},
		},
		"Destroyer": {
			Name:         "Destroyer",
			Hull:         HullSpec{MaxSpeed: 32, TurnRate: 5, Accel: 0.4, Decel: 0.6},
			Capabilities: CapabilitySpec{Surface: true, HasActiveSonar: true, HasDepthCharges: true},
			Acoustics: AcousticSpec{
				SourceLevels: map[float64]float64{5: 125, 15: 135, 25: 145},
				ArrayGain:    12,
				ActiveRange:  10000,
			},
			Weapons: WeaponSpec{DepthCharges: 20},
		},
		"Freighter": {
			Name:         "Merchant freighter",
			Hull:         HullSpec{MaxSpeed: 15, TurnRate: 2, Accel: 0.1, Decel: 0.2},
			Capabilities: CapabilitySpec{Surface: true},
			Acoustics: AcousticSpec{
				SourceLevels: map[float64]float64{5: 135, 10: 140, 15: 148},
			},
		},
	}
}

// LoadCatalog reads a yaml catalog and lays it over the built-in classes.
// Entries in the file replace built-in entries of the same key.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ship catalog: %w", err)
	}
	var overrides Catalog
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse ship catalog %s: %w", path, err)
	}
	cat := DefaultCatalog()
	for key, class := range overrides {
		cat[key] = class
	}
	return cat, nil
}

func (a AcousticSpec) table() []core.SourcePoint {
	if len(a.SourceLevels) == 0 {
		return append([]core.SourcePoint(nil), sonar.DefaultSourceLevels...)
	}
	pts := make([]core.SourcePoint, 0, len(a.SourceLevels))
	for speed, level := range a.SourceLevels {
		pts = append(pts, core.SourcePoint{Speed: speed, Level: level})
	}
	slices.SortFunc(pts, func(a, b core.SourcePoint) int { return cmp.Compare(a.Speed, b.Speed) })
	return pts
}

// Build creates a ship of class key at kin. Surface classes are kept at
// depth zero.
func (c Catalog) Build(id string, side core.Side, key string, kin core.Kinematics) (core.Ship, error) {
	class, ok := c[key]
	if !ok {
		return core.Ship{}, fmt.Errorf("unknown ship class %q", key)
	}
	if class.Capabilities.Surface {
		kin.Depth = 0
	}
	if class.Hull.MaxSpeed > 0 && kin.Speed > class.Hull.MaxSpeed {
		kin.Speed = class.Hull.MaxSpeed
	}

	w := class.Weapons
	tubes := make([]core.Tube, w.TubeCount)
	for i := range tubes {
		tubes[i] = core.Tube{Index: i + 1, State: core.TubeEmpty}
	}
	t := w.Torpedo

	return core.Ship{
		ID:    id,
		Side:  side,
		Class: key,
		Kin:   kin,
		Hull: core.Hull{
			MaxSpeed: class.Hull.MaxSpeed,
			MaxDepth: class.Hull.MaxDepth,
			TurnRate: class.Hull.TurnRate,
			Accel:    class.Hull.Accel,
			Decel:    class.Hull.Decel,
		},
		Caps: core.Capabilities{
			Surface:            class.Capabilities.Surface,
			HasTorpedoes:       class.Capabilities.HasTorpedoes,
			HasActiveSonar:     class.Capabilities.HasActiveSonar,
			HasCountermeasures: class.Capabilities.HasCountermeasures,
			HasDepthCharges:    class.Capabilities.HasDepthCharges,
		},
		Acoustics: core.Acoustics{
			SourceLevels: class.Acoustics.table(),
			ArrayGain:    class.Acoustics.ArrayGain,
			ActiveRange:  class.Acoustics.ActiveRange,
		},
		Systems:     core.AllSystemsOK(),
		Maintenance: core.FullMaintenance(),
		Engineering: core.Engineering{Allocation: damage.NominalAllocation(), ReactorOutput: 1, Battery: 1},
		Weapons: core.WeaponsSuite{
			Tubes: tubes,
			Torpedo: core.TorpedoSpec{
				Name:           t.Name,
				SpeedKn:        t.SpeedKn,
				MaxRunTime:     t.MaxRunTime,
				SeekerHalfCone: t.SeekerHalfCone,
				MaxTurnRate:    t.MaxTurnRate,
				MaxDepth:       t.MaxDepth,
				MinEnable:      t.MinEnable,
				PassiveRange:   t.PassiveRange,
				ActiveRange:    t.ActiveRange,
				TerminalRange:  t.TerminalRange,
				FuzeRadius:     t.FuzeRadius,
				ArmTime:        t.ArmTime,
				Warhead:        t.Warhead,
			},
			TorpedoesStored: w.TorpedoesStored,
			Countermeasures: w.Countermeasures,
			DepthCharges:    w.DepthCharges,
		},
	}, nil
}
