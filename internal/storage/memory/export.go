package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/subbridge/simcore/pkg/core"
)

// SessionExport is the root JSON structure of a session file
type SessionExport struct {
	Session      core.Session       `json:"session"`
	EndedAt      time.Time          `json:"endedAt"`
	LastTick     uint64             `json:"lastTick"`
	Ships        []ShipTrack        `json:"ships"`
	Events       []core.Event       `json:"events"`
	DecisionRuns []core.DecisionRun `json:"decisionRuns"`
}

// ShipTrack is the sampled history of one ship
type ShipTrack struct {
	ID      string       `json:"id"`
	Side    core.Side    `json:"side"`
	Class   string       `json:"class"`
	Samples []TrackPoint `json:"samples"`
}

// TrackPoint is a compact sample: [tick, simTime, x, y, depth, heading, speed, noiseDb, hull]
type TrackPoint [9]float64

// exportJSON writes the session data to a (gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	name := b.session.MissionID
	if name == "" {
		name = "session"
	}
	name = strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(name)
	timestamp := b.session.StartedAt.UTC().Format("20060102_150405")

	filename := fmt.Sprintf("%s_%s.json", name, timestamp)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		if err := writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() SessionExport {
	export := SessionExport{
		Session:      *b.session,
		EndedAt:      time.Now().UTC(),
		LastTick:     b.lastTick,
		Ships:        make([]ShipTrack, 0, len(b.order)),
		Events:       append(make([]core.Event, 0, len(b.events)), b.events...),
		DecisionRuns: append(make([]core.DecisionRun, 0, len(b.runs)), b.runs...),
	}

	for _, id := range b.order {
		samples := b.ships[id]
		track := ShipTrack{ID: id, Samples: make([]TrackPoint, 0, len(samples))}
		if len(samples) > 0 {
			track.Side = samples[0].Ship.Side
			track.Class = samples[0].Ship.Class
		}
		for _, s := range samples {
			k := s.Ship.Kin
			track.Samples = append(track.Samples, TrackPoint{
				float64(s.Tick), s.SimTime, k.X, k.Y, k.Depth, k.Heading, k.Speed, s.Ship.NoiseDB, s.Ship.Damage.Hull,
			})
		}
		export.Ships = append(export.Ships, track)
	}
	return export
}

func writeJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return gzWriter.Close()
}
