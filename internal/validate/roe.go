package validate

import (
	"errors"
	"fmt"

	"github.com/subbridge/simcore/internal/geo"
	"github.com/subbridge/simcore/pkg/core"
)

var (
	ErrWeaponsTight   = errors.New("rules of engagement: weapons tight")
	ErrRestrictedZone = errors.New("rules of engagement: restricted zone")
)

// ROE holds the mission rules of engagement. It satisfies sim.FireGate.
type ROE struct {
	// WeaponsTight forbids all torpedo fire for the listed sides.
	WeaponsTight map[core.Side]bool
	// NoFire zones may not contain the shooter or lie across the
	// torpedo's initial run.
	NoFire []geo.Zone
	Bounds geo.Bounds
}

// Tight reports whether side is held weapons tight.
func (r *ROE) Tight(side core.Side) bool {
	return r != nil && r.WeaponsTight[side]
}

// AllowFire checks order against the engagement rules.
func (r *ROE) AllowFire(s *core.Ship, order core.FireOrder) error {
	if r == nil {
		return nil
	}
	if r.WeaponsTight[s.Side] {
		return ErrWeaponsTight
	}
	run := s.Weapons.Torpedo.MaxRange()
	if run <= 0 {
		run = order.EnableRange
	}
	x1, y1 := geo.RayEnd(s.Kin.X, s.Kin.Y, order.Bearing, run)
	for _, z := range r.NoFire {
		if z.Contains(s.Kin.X, s.Kin.Y) {
			return fmt.Errorf("%w: shooter inside %s", ErrRestrictedZone, z.Name)
		}
		if z.CrossedBy(s.Kin.X, s.Kin.Y, x1, y1) {
			return fmt.Errorf("%w: bearing %.0f crosses %s", ErrRestrictedZone, order.Bearing, z.Name)
		}
	}
	return nil
}
