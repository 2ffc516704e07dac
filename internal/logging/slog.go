package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const otelScope = "github.com/subbridge/simcore"

// console is where records go when no session file is configured.
var console io.Writer = os.Stdout

// SlogManager owns the process logger and the OTel log provider behind it.
type SlogManager struct {
	logger      *slog.Logger
	logProvider *sdklog.LoggerProvider
	provider    ContextProvider
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetContextProvider makes every later Setup stamp records with the
// attributes returned by p (typically SimClock).
func (m *SlogManager) SetContextProvider(p ContextProvider) {
	m.provider = p
}

// Setup rebuilds the logger. Records go to file when it is non-nil and to
// the console otherwise; provider adds an OTel sink and extra handlers (a
// Graylog sink, for instance) are appended as-is.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, extra ...slog.Handler) {
	m.logProvider = provider

	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	out := console
	if file != nil {
		out = file
	}
	handlers := []slog.Handler{slog.NewTextHandler(out, opts)}
	if provider != nil {
		handlers = append(handlers, otelslog.NewHandler(otelScope, otelslog.WithLoggerProvider(provider)))
	}
	handlers = append(handlers, extra...)

	var h slog.Handler = NewMultiHandler(handlers...)
	if m.provider != nil {
		h = NewContextHandler(h, m.provider)
	}
	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", level)
}

// Logger falls back to slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush pushes buffered OTel records to the exporter.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
