package logging

import (
	"context"
	"log/slog"

	"github.com/subbridge/simcore/pkg/core"
)

// ContextProvider returns attributes appended to every record at write time.
type ContextProvider func() []slog.Attr

// SimClock reports the tick and sim time of the latest published snapshot.
func SimClock(latest func() *core.Snapshot) ContextProvider {
	return func() []slog.Attr {
		snap := latest()
		if snap == nil {
			return nil
		}
		return []slog.Attr{
			slog.Uint64("tick", snap.Tick),
			slog.Float64("simTime", snap.SimTime),
		}
	}
}

// ContextHandler decorates records with the attributes of a ContextProvider.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

// NewContextHandler wraps inner. A nil provider makes it a pass-through.
func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{inner: inner, provider: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), provider: h.provider}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{inner: h.inner.WithGroup(name), provider: h.provider}
}
