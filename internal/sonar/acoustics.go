// Package sonar computes passive and active detection between platforms.
package sonar

import (
	"math"

	"github.com/subbridge/simcore/internal/physics"
	"github.com/subbridge/simcore/pkg/core"
)

const (
	// LayerAttenuationDB is lost when source and receiver straddle the thermocline.
	LayerAttenuationDB = 6.0
	// CavitationBoostDB jumps the radiated level once the screw cavitates.
	CavitationBoostDB = 10.0
	cavitationSlope   = 1.5 // dB per knot above cavitation speed

	kneeSNR   = 15.0
	kneeWidth = 5.0

	// MastNoiseDB is the self-noise each raised mast adds at the sonar station.
	MastNoiseDB = 60.0
	// MastExposureDB is added to the level of a ship with a mast up near the surface.
	MastExposureDB = 8.0
	// PeriscopeDepth is the deepest keel depth at which a raised mast breaks the surface.
	PeriscopeDepth = 20.0
)

// Environment is the acoustic environment of the scenario.
type Environment struct {
	AmbientDB  float64 `json:"ambientDb" yaml:"ambient_db"`
	LayerDepth float64 `json:"layerDepth" yaml:"thermocline_depth"` // 0 disables the layer
}

// DefaultEnvironment is used when a scenario leaves the environment unset.
func DefaultEnvironment() Environment {
	return Environment{AmbientDB: 60, LayerDepth: 150}
}

// DefaultSourceLevels is the radiated-noise table for an unspecified hull.
var DefaultSourceLevels = []core.SourcePoint{
	{Speed: 5, Level: 110},
	{Speed: 10, Level: 118},
	{Speed: 15, Level: 130},
}

// SourceLevel returns the radiated level in dB at speed. The table is
// interpolated linearly and extrapolated along its end segments, so the level
// rises strictly with speed when the table does.
func SourceLevel(table []core.SourcePoint, speed float64, cavitating bool, cavSpeed float64) float64 {
	if len(table) == 0 {
		table = DefaultSourceLevels
	}
	level := interpolate(table, speed)
	if cavitating {
		level += CavitationBoostDB + cavitationSlope*math.Max(0, speed-cavSpeed)
	}
	return level
}

func interpolate(table []core.SourcePoint, speed float64) float64 {
	if len(table) == 1 {
		return table[0].Level
	}
	i := 1
	for i < len(table)-1 && speed > table[i].Speed {
		i++
	}
	a, b := table[i-1], table[i]
	if b.Speed == a.Speed {
		return b.Level
	}
	return a.Level + (b.Level-a.Level)*(speed-a.Speed)/(b.Speed-a.Speed)
}

// TransmissionLoss is spherical spreading loss in dB.
func TransmissionLoss(rng float64) float64 {
	return 20 * math.Log10(math.Max(1, rng))
}

// LayerLoss returns the thermocline penalty for a source/receiver depth pair.
func (e Environment) LayerLoss(depthA, depthB float64) float64 {
	if e.LayerDepth <= 0 {
		return 0
	}
	if (depthA < e.LayerDepth) != (depthB < e.LayerDepth) {
		return LayerAttenuationDB
	}
	return 0
}

// SNR is the passive signal excess at a receiver.
func (e Environment) SNR(sourceLevel, rng, arrayGain, receiverDepth, sourceDepth, penalty float64) float64 {
	return sourceLevel - TransmissionLoss(rng) - (e.AmbientDB - arrayGain) - e.LayerLoss(receiverDepth, sourceDepth) - penalty
}

// Detectability maps SNR onto (0,1) through a logistic soft knee. It is
// strictly increasing in snr.
func Detectability(snr float64) float64 {
	return 1 / (1 + math.Exp(-(snr-kneeSNR)/kneeWidth))
}

// ShipSourceLevel is the radiated level of s in its current state,
// including mast exposure.
func ShipSourceLevel(s *core.Ship) float64 {
	cavSpeed := physics.CavitationSpeed(s.Kin.Depth)
	return SourceLevel(s.Acoustics.SourceLevels, s.Kin.Speed, s.Kin.Speed > cavSpeed, cavSpeed) + s.Acoustics.NoisePenalty + MastExposure(s)
}

// MastExposure is the extra level of a ship whose raised masts break the surface.
func MastExposure(s *core.Ship) float64 {
	if s.Kin.Depth > PeriscopeDepth {
		return 0
	}
	return MastExposureDB * float64(s.Engineering.MastsRaised())
}

// MastPenalty is the listening loss from n raised masts: their self-noise is
// summed with the ambient level in the power domain.
func (e Environment) MastPenalty(n int) float64 {
	if n <= 0 {
		return 0
	}
	ambient := math.Pow(10, e.AmbientDB/10)
	return 10 * math.Log10((ambient+float64(n)*math.Pow(10, MastNoiseDB/10))/ambient)
}
