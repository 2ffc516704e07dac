package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		base    string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "simlogs",
			base:    "simcore",
			want:    filepath.Join("simlogs", "simcore.20260304_050607.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./simlogs",
			base:    "simcore",
			want:    filepath.Join(".", "simlogs", "simcore.20260304_050607.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "simcore"),
			base:    "red-fleet",
			want:    filepath.Join("/var", "log", "simcore", "red-fleet.20260304_050607.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.logsDir, tt.base, sessionStart))
		})
	}
}

func TestLogFilePath_NormalisesToUTC(t *testing.T) {
	local := time.Date(2026, 3, 4, 7, 6, 7, 0, time.FixedZone("EET", 2*3600))
	assert.Equal(t, filepath.Join("d", "simcore.20260304_050607.log"), LogFilePath("d", "simcore", local))
}
