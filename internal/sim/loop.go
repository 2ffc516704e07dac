package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/subbridge/simcore/internal/queue"
	"github.com/subbridge/simcore/pkg/core"
)

const (
	// CommandRejectQueueLimit means the per-ship intake limit for this tick is used up.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull means the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
)

// LoopConfig tunes the command buffer and tick loop.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
	CommandCapacity int
	PerShipLimit    int
	WarningStep     int
}

// DefaultLoopConfig runs at 20 Hz.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		TickRate:        20,
		CatchupMaxTicks: 3,
		CommandCapacity: 1024,
		PerShipLimit:    32,
	}
}

// StepResult describes one completed tick. It is handed to AfterStep hooks.
type StepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        float64
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     float64
	Applied      int
	Commands     []core.Command
	Snapshot     *core.Snapshot
}

// AfterStepFunc runs on the loop goroutine after a snapshot is published.
// It must not block.
type AfterStepFunc func(StepResult)

// LoopHooks are optional callbacks.
type LoopHooks struct {
	AfterStep      []AfterStepFunc
	OnCommandDrop  func(reason string, cmd core.Command)
	OnQueueWarning func(length int)
}

// Loop drives a World on a fixed timestep and owns its command intake.
type Loop struct {
	world  *World
	buffer *queue.Queue[core.Command]
	hooks  LoopHooks
	config LoopConfig
	logger *slog.Logger
	clock  func() time.Time
	ins    instruments

	snapshot atomic.Pointer[core.Snapshot]

	queueMu    sync.Mutex
	perShip    map[string]int
	dropCounts map[string]uint64
}

// NewLoop wraps world with a bounded command queue. The initial state is
// published immediately so Snapshot never returns nil.
func NewLoop(world *World, cfg LoopConfig, hooks LoopHooks, logger *slog.Logger) (*Loop, error) {
	if world == nil {
		return nil, fmt.Errorf("nil world")
	}
	def := DefaultLoopConfig()
	if cfg.TickRate <= 0 {
		cfg.TickRate = def.TickRate
	}
	if cfg.CommandCapacity <= 0 {
		cfg.CommandCapacity = def.CommandCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	ins, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("failed to create sim instruments: %w", err)
	}
	l := &Loop{
		world:      world,
		buffer:     queue.New[core.Command](cfg.CommandCapacity),
		hooks:      hooks,
		config:     cfg,
		logger:     logger.With("component", "sim"),
		clock:      world.cfg.Now,
		ins:        ins,
		perShip:    make(map[string]int),
		dropCounts: make(map[string]uint64),
	}
	l.snapshot.Store(world.Snapshot())
	return l, nil
}

// Config returns the effective loop configuration.
func (l *Loop) Config() LoopConfig { return l.config }

// Snapshot returns the latest published snapshot. Safe from any goroutine.
func (l *Loop) Snapshot() *core.Snapshot {
	return l.snapshot.Load()
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	return l.buffer.Len()
}

// AddHook registers another AfterStep hook. Call before Run.
func (l *Loop) AddHook(fn AfterStepFunc) {
	l.hooks.AfterStep = append(l.hooks.AfterStep, fn)
}

// Enqueue stages a command for the next tick, enforcing the per-ship limit
// and the buffer capacity. Commands from one source keep their order.
func (l *Loop) Enqueue(cmd core.Command) (bool, string) {
	reason := ""
	var dropCount uint64

	l.queueMu.Lock()
	if l.config.PerShipLimit > 0 && cmd.ShipID != "" && l.perShip[cmd.ShipID] >= l.config.PerShipLimit {
		reason = CommandRejectQueueLimit
		dropCount = l.incrementDropLocked(cmd.ShipID)
	}
	if reason == "" {
		if err := l.buffer.Push(cmd); err != nil {
			reason = CommandRejectQueueFull
			dropCount = l.incrementDropLocked(cmd.ShipID)
		} else {
			l.perShip[cmd.ShipID]++
		}
	}
	length := l.buffer.Len()
	l.queueMu.Unlock()

	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	if step := l.config.WarningStep; step > 0 && length >= step && length%step == 0 && l.hooks.OnQueueWarning != nil {
		l.hooks.OnQueueWarning(length)
	}
	return true, ""
}

func (l *Loop) drainCommands() []core.Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	cmds := l.buffer.Drain()
	if len(l.perShip) > 0 {
		l.perShip = make(map[string]int)
	}
	return cmds
}

// Advance runs one tick of dt seconds: drain and apply commands, step the
// world, publish the snapshot. It never blocks on I/O.
func (l *Loop) Advance(ctx context.Context, dt float64) StepResult {
	start := l.clock()
	cmds := l.drainCommands()
	applied := l.world.Apply(cmds)
	l.world.Step(dt)
	snap := l.world.Snapshot()
	l.snapshot.Store(snap)

	if applied > 0 {
		l.ins.applied.Add(ctx, int64(applied))
	}
	for _, r := range snap.Rejections {
		l.ins.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(r.Kind))))
		l.logger.Debug("command rejected", "tick", r.Tick, "ship", r.ShipID, "kind", r.Kind, "reason", r.Reason, "origin", r.Source.Origin)
	}

	return StepResult{
		Tick:     snap.Tick,
		Now:      start,
		Delta:    dt,
		Applied:  applied,
		Commands: cmds,
		Snapshot: snap,
	}
}

// Run drives the fixed-timestep loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	budget := time.Second / time.Duration(l.config.TickRate)
	budgetSeconds := budget.Seconds()
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}

	ticker := time.NewTicker(budget)
	defer ticker.Stop()
	last := l.clock()

	l.logger.Info("world loop started", "tickHz", l.config.TickRate, "maxDelta", maxDt)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("world loop stopped", "tick", l.world.Tick(), "simTime", l.world.SimTime())
			return
		case <-ticker.C:
			now := l.clock()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			result := l.Advance(ctx, dt)
			result.Duration = l.clock().Sub(now)
			result.Budget = budget
			result.ClampedDelta = clamped
			result.MaxDelta = maxDt

			l.ins.tickDuration.Record(ctx, float64(result.Duration.Microseconds())/1000)
			if clamped {
				l.ins.clamped.Add(ctx, 1)
			}
			if result.Duration > budget {
				l.logger.Warn("tick over budget", "tick", result.Tick, "duration", result.Duration, "budget", budget)
			}
			l.runHooks(result)
		}
	}
}

func (l *Loop) runHooks(result StepResult) {
	for i, hook := range l.hooks.AfterStep {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("after-step hook panicked", "hook", i, "tick", result.Tick, "panic", r)
				}
			}()
			hook(result)
		}()
	}
}

func (l *Loop) incrementDropLocked(shipID string) uint64 {
	count := l.dropCounts[shipID] + 1
	l.dropCounts[shipID] = count
	return count
}

func (l *Loop) reportDrop(reason string, cmd core.Command, count uint64) {
	l.ins.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	// only log on powers of two
	if count > 0 && count&(count-1) == 0 {
		l.logger.Warn("dropping command",
			"ship", cmd.ShipID,
			"kind", cmd.Kind,
			"reason", reason,
			"count", count,
			"limit", l.config.PerShipLimit,
		)
	}
}
