// Package ai schedules the two-tier decision layer. The Fleet tier plans for
// a whole side, the Ship tier picks one tool call per ship. Engine calls run
// on their own goroutines under a deadline; the orchestrator's scheduler
// goroutine is the only writer of agent commands into the world queue.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/subbridge/simcore/internal/engine"
	"github.com/subbridge/simcore/internal/geo"
	"github.com/subbridge/simcore/internal/sim"
	"github.com/subbridge/simcore/internal/tools"
	"github.com/subbridge/simcore/internal/validate"
	"github.com/subbridge/simcore/pkg/core"
)

// RecentRunsCap bounds the recent-runs ring.
const RecentRunsCap = 50

const fleetSlot = "fleet"

// SnapshotSource publishes the latest world state.
type SnapshotSource interface {
	Snapshot() *core.Snapshot
}

// CommandSink accepts commands for the next tick.
type CommandSink interface {
	Enqueue(cmd core.Command) (bool, string)
}

// TraceSink stores finalized decision runs.
type TraceSink interface {
	RecordDecisionRun(run core.DecisionRun) error
}

// TraceSinks fans a run out to several sinks.
type TraceSinks []TraceSink

func (ts TraceSinks) RecordDecisionRun(run core.DecisionRun) error {
	var errs []error
	for _, s := range ts {
		if s == nil {
			continue
		}
		if err := s.RecordDecisionRun(run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config tunes the orchestrator. Cadences are in simulated seconds,
// timeouts in wall time.
type Config struct {
	Side              core.Side
	FleetCadence      float64
	ShipCadence       float64
	AlertCadence      float64
	FleetTimeout      time.Duration
	ShipTimeout       time.Duration
	SchedulerInterval time.Duration
	ConsentWindow     float64
	Bounds            geo.Bounds
	Mission           engine.MissionBrief
	Now               func() time.Time
}

// DefaultConfig returns the canonical cadence table for side.
func DefaultConfig(side core.Side) Config {
	return Config{
		Side:              side,
		FleetCadence:      30,
		ShipCadence:       20,
		AlertCadence:      10,
		FleetTimeout:      8 * time.Second,
		ShipTimeout:       4 * time.Second,
		SchedulerInterval: 100 * time.Millisecond,
		ConsentWindow:     60,
	}
}

type slot struct {
	key      string
	tier     core.Tier
	shipID   string
	running  string
	nextDue  float64
	lastDone float64
	handoff  *handoff
}

type handoff struct {
	parent string
	order  string
}

type inflight struct {
	run      core.DecisionRun
	slot     *slot
	deadline time.Time
	cancel   context.CancelFunc
}

// worldOutcome is what the world did with one agent command.
type worldOutcome struct {
	runID  string
	reason string // empty when applied
}

type result struct {
	runID  string
	intent core.FleetIntent
	call   tools.Call
	err    error
}

// Orchestrator owns the decision slots of one side.
type Orchestrator struct {
	cfg       Config
	fleet     engine.FleetEngine
	ship      engine.ShipEngine
	fleetInfo engine.Info
	shipInfo  engine.Info
	snaps     SnapshotSource
	sink      CommandSink
	traces    TraceSink
	validator *validate.Validator
	logger    *slog.Logger
	ins       instruments

	results  chan result
	outcomes chan []worldOutcome
	done     chan struct{}
	wg       sync.WaitGroup

	life     sync.Mutex
	started  bool
	quit     chan struct{}
	quitOnce sync.Once
	exited   chan struct{}
	teardown sync.Once

	// scheduler goroutine only
	slots    map[string]*slot
	running  map[string]*inflight
	awaiting map[string]*inflight
	released bool
	version  uint64

	intent atomic.Pointer[core.FleetIntent]

	mu     sync.Mutex
	recent []core.DecisionRun
}

func infoOf(e any) engine.Info {
	if i, ok := e.(interface{ Info() engine.Info }); ok {
		return i.Info()
	}
	return engine.Info{Kind: fmt.Sprintf("%T", e)}
}

// New creates an orchestrator. traces may be nil.
func New(cfg Config, fleet engine.FleetEngine, ship engine.ShipEngine, snaps SnapshotSource, sink CommandSink, traces TraceSink, v *validate.Validator, logger *slog.Logger) (*Orchestrator, error) {
	if fleet == nil || ship == nil {
		return nil, errors.New("both engines are required")
	}
	if snaps == nil || sink == nil {
		return nil, errors.New("snapshot source and command sink are required")
	}
	def := DefaultConfig(cfg.Side)
	if cfg.Side == "" {
		cfg.Side = core.SideRed
	}
	if cfg.FleetCadence <= 0 {
		cfg.FleetCadence = def.FleetCadence
	}
	if cfg.ShipCadence <= 0 {
		cfg.ShipCadence = def.ShipCadence
	}
	if cfg.AlertCadence <= 0 {
		cfg.AlertCadence = def.AlertCadence
	}
	if cfg.FleetTimeout <= 0 {
		cfg.FleetTimeout = def.FleetTimeout
	}
	if cfg.ShipTimeout <= 0 {
		cfg.ShipTimeout = def.ShipTimeout
	}
	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = def.SchedulerInterval
	}
	if cfg.ConsentWindow <= 0 {
		cfg.ConsentWindow = def.ConsentWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if v == nil {
		v = validate.New(nil, true)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ins, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("failed to create ai instruments: %w", err)
	}
	return &Orchestrator{
		cfg:       cfg,
		fleet:     fleet,
		ship:      ship,
		fleetInfo: infoOf(fleet),
		shipInfo:  infoOf(ship),
		snaps:     snaps,
		sink:      sink,
		traces:    traces,
		validator: v,
		logger:    logger.With("component", "ai", "side", cfg.Side),
		ins:       ins,
		results:   make(chan result, 64),
		outcomes:  make(chan []worldOutcome, 256),
		done:      make(chan struct{}),
		quit:      make(chan struct{}),
		exited:    make(chan struct{}),
		slots:     make(map[string]*slot),
		running:   make(map[string]*inflight),
		awaiting:  make(map[string]*inflight),
	}, nil
}

// Intent returns the current published FleetIntent, or nil.
func (o *Orchestrator) Intent() *core.FleetIntent {
	return o.intent.Load()
}

// RecentRuns returns the latest finalized runs, oldest first.
func (o *Orchestrator) RecentRuns() []core.DecisionRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]core.DecisionRun(nil), o.recent...)
}

// Health checks engines that depend on a remote service. The result maps
// tier to error; nil means healthy.
func (o *Orchestrator) Health(ctx context.Context) map[core.Tier]error {
	out := map[core.Tier]error{core.TierFleet: nil, core.TierShip: nil}
	if hc, ok := o.fleet.(engine.HealthChecker); ok {
		out[core.TierFleet] = hc.Healthcheck(ctx)
	}
	if hc, ok := o.ship.(engine.HealthChecker); ok {
		out[core.TierShip] = hc.Healthcheck(ctx)
	}
	return out
}

// Run polls on the scheduler interval until ctx is cancelled or Close is
// called, then abandons outstanding engine calls. Run owns the scheduler
// state; only one Run may be active.
func (o *Orchestrator) Run(ctx context.Context) {
	o.life.Lock()
	select {
	case <-o.quit:
		o.life.Unlock()
		return
	default:
	}
	o.started = true
	o.life.Unlock()
	defer close(o.exited)

	ticker := time.NewTicker(o.cfg.SchedulerInterval)
	defer ticker.Stop()
	o.logger.Info("decision orchestrator started",
		"fleetEngine", o.fleetInfo.Kind, "shipEngine", o.shipInfo.Kind,
		"fleetCadence", o.cfg.FleetCadence, "shipCadence", o.cfg.ShipCadence)
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			o.logger.Info("decision orchestrator stopped")
			return
		case <-o.quit:
			o.shutdown()
			o.logger.Info("decision orchestrator stopped")
			return
		case <-ticker.C:
			o.Poll(ctx)
		}
	}
}

// Close stops the orchestrator. When Run is active it signals it and waits
// for it to return; otherwise the caller must be the goroutine that polls.
func (o *Orchestrator) Close() {
	o.quitOnce.Do(func() { close(o.quit) })
	o.life.Lock()
	started := o.started
	o.life.Unlock()
	if started {
		<-o.exited
		return
	}
	o.shutdown()
}

// shutdown cancels outstanding engine calls and waits for their goroutines,
// at most as long as the longest engine deadline. It runs on the scheduler
// goroutine.
func (o *Orchestrator) shutdown() {
	o.teardown.Do(func() {
		close(o.done)
		for _, f := range o.running {
			f.cancel()
		}
		if n := len(o.awaiting); n > 0 {
			o.logger.Info("stopping with commands not yet applied", "count", n)
		}

		grace := max(o.cfg.FleetTimeout, o.cfg.ShipTimeout)
		exited := make(chan struct{})
		go func() {
			o.wg.Wait()
			close(exited)
		}()
		select {
		case <-exited:
		case <-time.After(grace):
			o.logger.Warn("engine calls still running at shutdown, abandoning them", "grace", grace)
		}
	})
}

// AfterStep reports to the orchestrator which agent commands the world
// applied or rejected. It runs on the loop goroutine and never blocks.
func (o *Orchestrator) AfterStep(res sim.StepResult) {
	var out []worldOutcome
	for _, cmd := range res.Commands {
		if cmd.Source.Origin != core.OriginAgent || cmd.Source.RunID == "" || cmd.Kind == core.CmdConsent {
			continue
		}
		out = append(out, worldOutcome{runID: cmd.Source.RunID})
	}
	if len(out) == 0 {
		return
	}
	if res.Snapshot != nil {
		for _, r := range res.Snapshot.Rejections {
			for i := range out {
				if out[i].runID == r.Source.RunID && r.Source.Origin == core.OriginAgent {
					out[i].reason = r.Reason
				}
			}
		}
	}
	select {
	case o.outcomes <- out:
	default:
		o.logger.Warn("world outcome buffer full, dropping", "commands", len(out))
	}
}

// Poll runs one scheduling pass: settle commands the world has applied,
// collect finished calls, abandon overdue ones, and launch whatever is due.
// It must be called from a single goroutine.
func (o *Orchestrator) Poll(ctx context.Context) {
	for drained := false; !drained; {
		select {
		case outs := <-o.outcomes:
			for _, out := range outs {
				o.settle(ctx, out)
			}
		default:
			drained = true
		}
	}
	for drained := false; !drained; {
		select {
		case r := <-o.results:
			o.complete(ctx, r)
		default:
			drained = true
		}
	}
	o.expire(ctx)

	snap := o.snaps.Snapshot()
	if snap == nil {
		return
	}
	o.syncSlots(snap)
	o.schedule(ctx, snap)
}

func (o *Orchestrator) syncSlots(snap *core.Snapshot) {
	if _, ok := o.slots[fleetSlot]; !ok {
		o.slots[fleetSlot] = &slot{key: fleetSlot, tier: core.TierFleet, nextDue: snap.SimTime}
	}
	for _, s := range snap.Ships {
		if s.Side != o.cfg.Side {
			continue
		}
		if _, ok := o.slots[s.ID]; !ok {
			o.slots[s.ID] = &slot{key: s.ID, tier: core.TierShip, shipID: s.ID, nextDue: snap.SimTime}
		}
	}
}

func (o *Orchestrator) schedule(ctx context.Context, snap *core.Snapshot) {
	keys := make([]string, 0, len(o.slots))
	for k := range o.slots {
		keys = append(keys, k)
	}
	// fleet first, then ships by id
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == fleetSlot || keys[j] == fleetSlot {
			return keys[i] == fleetSlot
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		sl := o.slots[k]
		if sl.running != "" {
			continue
		}
		if sl.tier == core.TierFleet {
			if snap.SimTime >= sl.nextDue {
				o.launch(ctx, sl, snap, nil)
			}
			continue
		}

		ship, ok := snap.Ship(sl.shipID)
		if !ok || ship.Destroyed {
			continue
		}
		if sl.handoff != nil {
			h := sl.handoff
			sl.handoff = nil
			o.launch(ctx, sl, snap, h)
			continue
		}
		due := sl.nextDue
		if ship.Alert.Active(snap.SimTime) && sl.lastDone+o.cfg.AlertCadence < due {
			due = sl.lastDone + o.cfg.AlertCadence
		}
		if snap.SimTime >= due {
			o.launch(ctx, sl, snap, nil)
		}
	}
}

func (o *Orchestrator) launch(ctx context.Context, sl *slot, snap *core.Snapshot, h *handoff) {
	runID := uuid.NewString()
	started := o.cfg.Now()
	run := core.DecisionRun{
		RunID:     runID,
		Tier:      sl.tier,
		Side:      o.cfg.Side,
		ShipID:    sl.shipID,
		StartedAt: started,
		SimTime:   snap.SimTime,
	}

	timeout := o.cfg.ShipTimeout
	info := o.shipInfo
	if sl.tier == core.TierFleet {
		timeout = o.cfg.FleetTimeout
		info = o.fleetInfo
	}
	run.Engine, run.Model = info.Kind, info.Model

	var call func(context.Context) result
	switch sl.tier {
	case core.TierFleet:
		summary := BuildFleetSummary(snap, o.cfg.Side, o.cfg.Mission, o.Intent())
		call = func(c context.Context) result {
			intent, err := o.fleet.ProposeFleetIntent(c, summary)
			return result{runID: runID, intent: intent, err: err}
		}
	case core.TierShip:
		order := ""
		if h != nil {
			run.ParentRunID, order = h.parent, h.order
		}
		summary, ok := BuildShipSummary(snap, sl.shipID, o.cfg.Mission, order)
		if !ok {
			return
		}
		slice := o.Intent().Slice(sl.shipID)
		slice.Handoff = order
		call = func(c context.Context) result {
			tc, err := o.ship.ProposeOrders(c, summary, slice)
			return result{runID: runID, call: tc, err: err}
		}
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	o.running[runID] = &inflight{run: run, slot: sl, deadline: started.Add(timeout), cancel: cancel}
	sl.running = runID
	o.ins.inflight.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", string(sl.tier))))
	o.logger.Debug("decision run started", "run", runID, "tier", sl.tier, "ship", sl.shipID, "parent", run.ParentRunID, "simTime", snap.SimTime)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		r := call(rctx)
		select {
		case o.results <- r:
		case <-o.done:
		}
	}()
}

// expire abandons runs whose deadline passed without a reply.
func (o *Orchestrator) expire(ctx context.Context) {
	now := o.cfg.Now()
	ids := make([]string, 0)
	for id, f := range o.running {
		if !now.Before(f.deadline) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := o.running[id]
		f.cancel()
		o.fail(ctx, f, core.OutcomeTimedOut, "", fmt.Errorf("engine did not answer within %s", f.deadline.Sub(f.run.StartedAt)))
	}

	ids = ids[:0]
	for id, f := range o.awaiting {
		if !now.Before(f.deadline) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := o.awaiting[id]
		delete(o.awaiting, id)
		run := f.run
		run.Error = "no tick reported the command"
		o.logger.Warn("agent command never reported by the world", "run", id, "ship", run.ShipID)
		o.finish(ctx, f, run)
	}
}

// settle finalizes a ship run once the world applied or rejected its
// command. A world rejection falls back like any other rejected call.
func (o *Orchestrator) settle(ctx context.Context, out worldOutcome) {
	f, ok := o.awaiting[out.runID]
	if !ok {
		return
	}
	delete(o.awaiting, out.runID)
	if out.reason != "" {
		o.fail(ctx, f, core.OutcomeRejected, "", fmt.Errorf("world rejected command: %s", out.reason))
		return
	}
	run := f.run
	run.Applied = true
	o.finish(ctx, f, run)
}

func (o *Orchestrator) complete(ctx context.Context, r result) {
	f, ok := o.running[r.runID]
	if !ok {
		o.ins.late.Add(ctx, 1)
		o.logger.Debug("discarding late engine reply", "run", r.runID)
		return
	}
	if r.err != nil {
		outcome := core.OutcomeFailed
		if errors.Is(r.err, context.DeadlineExceeded) {
			outcome = core.OutcomeTimedOut
		}
		o.fail(ctx, f, outcome, engine.RawOutput(r.err), r.err)
		return
	}

	switch f.run.Tier {
	case core.TierFleet:
		o.completeFleet(ctx, f, r.intent)
	case core.TierShip:
		o.completeShip(ctx, f, r.call)
	}
}

func (o *Orchestrator) completeFleet(ctx context.Context, f *inflight, proposed core.FleetIntent) {
	run := f.run
	if raw, err := json.Marshal(proposed); err == nil {
		run.RawOutput = string(raw)
	}
	snap := o.snaps.Snapshot()
	intent, clamps := o.validator.FleetIntent(snap, o.cfg.Side, proposed, o.cfg.Bounds)

	o.version++
	intent.Version = o.version
	intent.RunID = run.RunID
	if snap != nil {
		intent.IssuedAt = snap.SimTime
	}
	published := intent
	o.intent.Store(&published)

	run.ClampActions = clamps
	run.ValidatedOutput, _ = json.Marshal(published)
	run.Outcome = core.OutcomeSucceeded
	run.Applied = true

	if published.WeaponsRelease || o.released {
		o.enqueueConsent(run.RunID, published.WeaponsRelease)
	}
	o.released = published.WeaponsRelease

	for _, h := range published.Handoffs {
		sl, ok := o.slots[h.ShipID]
		if !ok {
			continue
		}
		sl.handoff = &handoff{parent: run.RunID, order: h.Order}
	}
	o.finish(ctx, f, run)
}

func (o *Orchestrator) enqueueConsent(runID string, granted bool) {
	cmd := core.Command{
		Kind:    core.CmdConsent,
		Source:  core.CommandSource{Origin: core.OriginAgent, RunID: runID},
		Consent: &core.ConsentOrder{Side: o.cfg.Side, Granted: granted, Duration: o.cfg.ConsentWindow},
	}
	if ok, reason := o.sink.Enqueue(cmd); !ok {
		o.logger.Warn("consent command dropped", "run", runID, "reason", reason)
	}
}

func (o *Orchestrator) completeShip(ctx context.Context, f *inflight, c tools.Call) {
	run := f.run
	if raw, err := json.Marshal(c); err == nil {
		run.RawOutput = string(raw)
	}
	src := core.CommandSource{Origin: core.OriginAgent, RunID: run.RunID}
	cmd, clamps, err := o.validator.Call(o.snaps.Snapshot(), f.slot.shipID, c, src)
	run.ClampActions = clamps
	if err != nil {
		o.fail(ctx, f, core.OutcomeRejected, run.RawOutput, err)
		return
	}

	run.ValidatedOutput = asToolCall(cmd)
	run.Outcome = core.OutcomeSucceeded
	if ok, reason := o.sink.Enqueue(cmd); !ok {
		run.Error = "enqueue: " + reason
		o.finish(ctx, f, run)
		return
	}

	// the slot stays busy until a tick reports the command
	delete(o.running, run.RunID)
	f.cancel()
	f.run = run
	f.deadline = o.cfg.Now().Add(o.cfg.ShipTimeout)
	o.awaiting[run.RunID] = f
}

// fail finalizes f with a fallback. Ships hold their current orders; the
// Fleet tier keeps the previous intent.
func (o *Orchestrator) fail(ctx context.Context, f *inflight, outcome core.RunOutcome, raw string, cause error) {
	run := f.run
	run.Outcome = outcome
	if raw != "" {
		run.RawOutput = raw
	}
	run.Error = cause.Error()
	run.FallbackUsed = true

	if run.Tier == core.TierShip {
		if cmd, ok := o.holdOrders(run); ok {
			run.ValidatedOutput = asToolCall(cmd)
			if ok, _ := o.sink.Enqueue(cmd); ok {
				run.Applied = true
			}
		}
	}
	o.logger.Warn("decision run failed, using fallback",
		"run", run.RunID, "tier", run.Tier, "ship", run.ShipID, "outcome", outcome, "error", run.Error)
	o.finish(ctx, f, run)
}

// asToolCall records a ship command the way the engine would have written it.
func asToolCall(cmd core.Command) json.RawMessage {
	var out []byte
	if c, ok := tools.FromCommand(cmd); ok {
		out, _ = json.Marshal(c)
	} else {
		out, _ = json.Marshal(cmd)
	}
	return out
}

func (o *Orchestrator) holdOrders(run core.DecisionRun) (core.Command, bool) {
	ship, ok := o.snaps.Snapshot().Ship(run.ShipID)
	if !ok || ship.Destroyed {
		return core.Command{}, false
	}
	return core.Command{
		Kind:   core.CmdSetNav,
		ShipID: ship.ID,
		Source: core.CommandSource{Origin: core.OriginFallback, RunID: run.RunID},
		Nav:    &core.NavOrder{Heading: ship.Ordered.Heading, Speed: ship.Ordered.Speed, Depth: ship.Ordered.Depth},
	}, true
}

func (o *Orchestrator) finish(ctx context.Context, f *inflight, run core.DecisionRun) {
	delete(o.running, run.RunID)
	f.cancel()
	run.Duration = o.cfg.Now().Sub(run.StartedAt)

	simTime := run.SimTime
	if snap := o.snaps.Snapshot(); snap != nil {
		simTime = snap.SimTime
	}
	sl := f.slot
	sl.running = ""
	sl.lastDone = simTime
	if sl.tier == core.TierFleet {
		sl.nextDue = simTime + o.cfg.FleetCadence
	} else {
		sl.nextDue = simTime + o.cfg.ShipCadence
	}

	attrs := metric.WithAttributes(attribute.String("tier", string(run.Tier)), attribute.String("outcome", string(run.Outcome)))
	o.ins.runs.Add(ctx, 1, attrs)
	o.ins.duration.Record(ctx, float64(run.Duration.Microseconds())/1000, attrs)
	o.ins.inflight.Add(ctx, -1, metric.WithAttributes(attribute.String("tier", string(run.Tier))))

	o.mu.Lock()
	o.recent = append(o.recent, run)
	if len(o.recent) > RecentRunsCap {
		o.recent = append([]core.DecisionRun(nil), o.recent[len(o.recent)-RecentRunsCap:]...)
	}
	o.mu.Unlock()

	if o.traces != nil {
		if err := o.traces.RecordDecisionRun(run); err != nil {
			o.logger.Error("failed to record decision run", "run", run.RunID, "error", err)
		}
	}
	o.logger.Debug("decision run finished", "run", run.RunID, "tier", run.Tier, "ship", run.ShipID,
		"outcome", run.Outcome, "duration", run.Duration, "applied", run.Applied)
}
