// Package engine defines the reasoning engines the decision orchestrator
// calls and provides a rule-based stub and an Ollama chat implementation.
//
// Engines only ever see summaries built by the orchestrator; they never
// receive a world snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/subbridge/simcore/internal/tools"
	"github.com/subbridge/simcore/pkg/core"
)

// Engine kinds.
const (
	KindStub   = "stub"
	KindOllama = "ollama"
)

var (
	ErrNoJSON        = errors.New("no JSON object in engine output")
	ErrEmptyResponse = errors.New("empty response content")
	ErrUnknownKind   = errors.New("unknown engine kind")
)

// FleetEngine proposes group-level intent.
type FleetEngine interface {
	ProposeFleetIntent(ctx context.Context, summary FleetSummary) (core.FleetIntent, error)
}

// ShipEngine proposes one tool call for a single ship.
type ShipEngine interface {
	ProposeOrders(ctx context.Context, summary ShipSummary, intent core.IntentSlice) (tools.Call, error)
}

// Engine serves both tiers.
type Engine interface {
	FleetEngine
	ShipEngine
	Info() Info
}

// HealthChecker is implemented by engines that depend on a remote service.
type HealthChecker interface {
	Healthcheck(ctx context.Context) error
}

// Info names an engine for decision traces.
type Info struct {
	Kind  string `json:"kind"`
	Model string `json:"model"`
}

// OutputError reports engine output that could not be used. Raw keeps the
// text for the trace record.
type OutputError struct {
	Raw string
	Err error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("unusable engine output: %v", e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// RawOutput returns the raw text carried by err, if any.
func RawOutput(err error) string {
	var oe *OutputError
	if errors.As(err, &oe) {
		return oe.Raw
	}
	return ""
}

// Config selects and configures an engine.
type Config struct {
	Kind    string
	Model   string
	Host    string
	Timeout time.Duration
}

// New builds the engine described by cfg.
func New(cfg Config) (Engine, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", KindStub:
		return NewStub(), nil
	case KindOllama:
		if cfg.Model == "" {
			return nil, fmt.Errorf("ollama engine: model is required")
		}
		return NewOllama(cfg.Host, cfg.Model, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
}
