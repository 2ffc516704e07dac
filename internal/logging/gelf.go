package logging

import (
	"fmt"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// GraylogSink ships JSON log lines to a Graylog GELF UDP input.
type GraylogSink struct {
	writer  *gelf.Writer
	handler slog.Handler
}

// NewGraylogSink dials addr (host:port). level is parsed like the console level.
func NewGraylogSink(addr, level string) (*GraylogSink, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create graylog writer: %w", err)
	}
	w.Facility = "simcore"
	return &GraylogSink{
		writer:  w,
		handler: slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}),
	}, nil
}

// Handler is the slog sink to pass to SlogManager.Setup.
func (g *GraylogSink) Handler() slog.Handler {
	return g.handler
}

// Close releases the UDP socket.
func (g *GraylogSink) Close() error {
	return g.writer.Close()
}
