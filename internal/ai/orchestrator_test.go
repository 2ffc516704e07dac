package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subbridge/simcore/internal/engine"
	"github.com/subbridge/simcore/internal/sim"
	"github.com/subbridge/simcore/internal/tools"
	"github.com/subbridge/simcore/internal/validate"
	"github.com/subbridge/simcore/pkg/core"
)

type fleetFunc func(context.Context, engine.FleetSummary) (core.FleetIntent, error)

func (f fleetFunc) ProposeFleetIntent(ctx context.Context, s engine.FleetSummary) (core.FleetIntent, error) {
	return f(ctx, s)
}

type shipFunc func(context.Context, engine.ShipSummary, core.IntentSlice) (tools.Call, error)

func (f shipFunc) ProposeOrders(ctx context.Context, s engine.ShipSummary, i core.IntentSlice) (tools.Call, error) {
	return f(ctx, s, i)
}

type snapSource struct {
	mu   sync.Mutex
	snap *core.Snapshot
}

func (s *snapSource) Snapshot() *core.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *snapSource) update(fn func(*core.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.snap
	next.Ships = append([]core.Ship(nil), s.snap.Ships...)
	fn(&next)
	s.snap = &next
}

type recordingSink struct {
	mu   sync.Mutex
	cmds []core.Command
}

func (r *recordingSink) Enqueue(cmd core.Command) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return true, ""
}

func (r *recordingSink) commands() []core.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Command(nil), r.cmds...)
}

type recordingTraces struct {
	mu   sync.Mutex
	runs []core.DecisionRun
}

func (r *recordingTraces) RecordDecisionRun(run core.DecisionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *recordingTraces) list() []core.DecisionRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.DecisionRun(nil), r.runs...)
}

func (r *recordingTraces) byTier(tier core.Tier) []core.DecisionRun {
	var out []core.DecisionRun
	for _, run := range r.list() {
		if run.Tier == tier {
			out = append(out, run)
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func redSub(id string, x, y float64) core.Ship {
	return core.Ship{
		ID:      id,
		Side:    core.SideRed,
		Kin:     core.Kinematics{X: x, Y: y, Depth: 100, Heading: 90, Speed: 6},
		Ordered: core.Orders{Heading: 90, Speed: 6, Depth: 100},
		Hull:    core.Hull{MaxSpeed: 25, MaxDepth: 300},
		Caps:    core.Capabilities{HasTorpedoes: true, HasCountermeasures: true},
		Weapons: core.WeaponsSuite{
			Tubes:           []core.Tube{{Index: 1, State: core.TubeEmpty}},
			TorpedoesStored: 4,
			Countermeasures: 2,
		},
	}
}

func blueSub() core.Ship {
	s := redSub("ownship", 4321.5, -8765.25)
	s.Side = core.SideBlue
	return s
}

type harness struct {
	o        *Orchestrator
	snaps    *snapSource
	sink     *recordingSink
	traces   *recordingTraces
	clock    *fakeClock
	reported int
}

func newHarness(t *testing.T, fleet engine.FleetEngine, ship engine.ShipEngine, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		snaps: &snapSource{snap: &core.Snapshot{
			Ships:    []core.Ship{redSub("red-01", 0, 0), blueSub()},
			Contacts: map[string][]core.Contact{},
			Consent:  map[core.Side]float64{},
		}},
		sink:   &recordingSink{},
		traces: &recordingTraces{},
		clock:  &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	cfg := DefaultConfig(core.SideRed)
	cfg.Now = h.clock.Now
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg, fleet, ship, h.snaps, h.sink, h.traces, validate.New(nil, true), nil)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	h.o = o
	return h
}

// tick plays the world's part: every command enqueued since the last tick
// is reported back, rejected when its run id is in rejections.
func (h *harness) tick(rejections map[string]string) {
	cmds := h.sink.commands()[h.reported:]
	h.reported += len(cmds)
	snap := &core.Snapshot{}
	for _, c := range cmds {
		if reason, ok := rejections[c.Source.RunID]; ok {
			snap.Rejections = append(snap.Rejections, core.Rejection{ShipID: c.ShipID, Kind: c.Kind, Reason: reason, Source: c.Source})
		}
	}
	h.o.AfterStep(sim.StepResult{Commands: cmds, Snapshot: snap})
}

func (h *harness) pollUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.tick(nil)
		h.o.Poll(context.Background())
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func quietFleet() engine.FleetEngine {
	return fleetFunc(func(context.Context, engine.FleetSummary) (core.FleetIntent, error) {
		return core.FleetIntent{Summary: "hold"}, nil
	})
}

func TestShipTimeout_OneFallbackOneRecord(t *testing.T) {
	release := make(chan struct{})
	ship := shipFunc(func(ctx context.Context, _ engine.ShipSummary, _ core.IntentSlice) (tools.Call, error) {
		<-release // ignores ctx on purpose
		return tools.Call{Tool: tools.SetNav, Arguments: json.RawMessage(`{"heading":180,"speed":20,"depth":250}`)}, nil
	})
	h := newHarness(t, quietFleet(), ship, nil)

	h.pollUntil(t, func() bool { return len(h.traces.byTier(core.TierFleet)) == 1 })
	assert.Empty(t, h.traces.byTier(core.TierShip))

	h.clock.Advance(5 * time.Second)
	h.o.Poll(context.Background())

	runs := h.traces.byTier(core.TierShip)
	require.Len(t, runs, 1)
	assert.Equal(t, core.OutcomeTimedOut, runs[0].Outcome)
	assert.True(t, runs[0].FallbackUsed)
	assert.True(t, runs[0].Failed())
	assert.True(t, runs[0].Applied)

	cmds := h.sink.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, core.OriginFallback, cmds[0].Source.Origin)
	assert.Equal(t, runs[0].RunID, cmds[0].Source.RunID)
	assert.Equal(t, core.NavOrder{Heading: 90, Speed: 6, Depth: 100}, *cmds[0].Nav)
	assert.JSONEq(t, `{"tool":"set_nav","arguments":{"heading":90,"speed":6,"depth":100}}`, string(runs[0].ValidatedOutput))

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for len(h.o.results) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Len(t, h.o.results, 1)
	h.o.Poll(context.Background())

	assert.Len(t, h.sink.commands(), 1, "late reply must not produce commands")
	assert.Len(t, h.traces.byTier(core.TierShip), 1, "late reply must not produce records")
}

func TestShipEngineError_FallsBackWithRawOutput(t *testing.T) {
	ship := shipFunc(func(context.Context, engine.ShipSummary, core.IntentSlice) (tools.Call, error) {
		return tools.Call{}, &engine.OutputError{Raw: "no idea", Err: engine.ErrNoJSON}
	})
	h := newHarness(t, quietFleet(), ship, nil)
	h.pollUntil(t, func() bool { return len(h.traces.byTier(core.TierShip)) == 1 })

	run := h.traces.byTier(core.TierShip)[0]
	assert.Equal(t, core.OutcomeFailed, run.Outcome)
	assert.Equal(t, "no idea", run.RawOutput)
	assert.True(t, run.FallbackUsed)
	assert.Contains(t, run.Error, "no JSON")
}

func TestShipEngineDeadline_IsTimedOut(t *testing.T) {
	ship := shipFunc(func(ctx context.Context, _ engine.ShipSummary, _ core.IntentSlice) (tools.Call, error) {
		return tools.Call{}, context.DeadlineExceeded
	})
	h := newHarness(t, quietFleet(), ship, nil)
	h.pollUntil(t, func() bool { return len(h.traces.byTier(core.TierShip)) == 1 })
	assert.Equal(t, core.OutcomeTimedOut, h.traces.byTier(core.TierShip)[0].Outcome)
}

func TestShipRejectedCall_FallsBack(t *testing.T) {
	ship := shipFunc(func(context.Context, engine.ShipSummary, core.IntentSlice) (tools.Call, error) {
		return tools.Call{Tool: tools.FireTorpedo, Arguments: json.RawMessage(`{"tube":1,"bearing":10}`)}, nil
	})
	h := newHarness(t, quietFleet(), ship, nil)
	h.pollUntil(t, func() bool { return len(h.traces.byTier(core.TierShip)) == 1 })

	run := h.traces.byTier(core.TierShip)[0]
	assert.Equal(t, core.OutcomeRejected, run.Outcome)
	assert.Contains(t, run.Error, "fire requires")
	assert.Contains(t, run.RawOutput, "fire_torpedo")

	cmds := h.sink.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, core.CmdSetNav, cmds[0].Kind)
	assert.Equal(t, core.OriginFallback, cmds[0].Source.Origin)
}

func TestShipCall_ClampedAndEnqueued(t *testing.T) {
	ship := shipFunc(func(context.Context, engine.ShipSummary, core.IntentSlice) (tools.Call, error) {
		return tools.Call{Tool: tools.SetNav, Arguments: json.RawMessage(`{"heading":400,"speed":99,"depth":50}`)}, nil
	})
	h := newHarness(t, quietFleet(), ship, nil)
	h.pollUntil(t, func() bool { return len(h.traces.byTier(core.TierShip)) == 1 })

	run := h.traces.byTier(core.TierShip)[0]
	assert.Equal(t, core.OutcomeSucceeded, run.Outcome)
	assert.True(t, run.Applied)
	assert.False(t, run.FallbackUsed)
	assert.Len(t, run.ClampActions, 2)
	assert.JSONEq(t, `{"tool":"set_nav","arguments":{"heading":40,"speed":25,"depth":50}}`, string(run.ValidatedOutput))

	cmds := h.sink.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, core.OriginAgent, cmds[0].Source.Origin)
	assert.Equal(t, core.NavOrder{Heading: 40, Speed: 25, Depth: 50}, *cmds[0].Nav)
}

func TestFleetHandoff_ChildRunCarriesParent(t *testing.T) {
	fleet := fleetFunc(func(context.Context, engine.FleetSummary) (core.FleetIntent, error) {
		return core.FleetIntent{
			Objectives: map[string]core.Objective{"red-01": {Destination: [2]float64{500, 500}}},
			Handoffs:   []core.Handoff{{ShipID: "red-01", Order: "attack the contact on 045"}},
		}, nil
	})
	var (
		mu     sync.Mutex
		orders []string
	)
	ship := shipFunc(func(_ context.Context, s engine.ShipSummary, slice core.IntentSlice) (tools.Call, error) {
		mu.Lock()
		orders = append(orders, slice.Handoff+"|"+s.Handoff)
		mu.Unlock()
		return tools.Call{Tool: tools.SetNav, Arguments: json.RawMessage(`{"heading":45,"speed":10,"depth":100}`)}, nil
	})
	h := newHarness(t, fleet, ship, nil)

	var fleetRun core.DecisionRun
	h.pollUntil(t, func() bool {
		runs := h.traces.byTier(core.TierFleet)
		if len(runs) == 0 {
			return false
		}
		fleetRun = runs[0]
		for _, r := range h.traces.byTier(core.TierShip) {
			if r.ParentRunID == fleetRun.RunID {
				return true
			}
		}
		return false
	})

	var child core.DecisionRun
	for _, r := range h.traces.byTier(core.TierShip) {
		if r.ParentRunID != "" {
			child = r
		}
	}
	assert.Equal(t, fleetRun.RunID, child.ParentRunID)
	assert.Equal(t, "red-01", child.ShipID)
	assert.Equal(t, core.TierShip, child.Tier)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, orders, "attack the contact on 045|attack the contact on 045")

	intent := h.o.Intent()
	require.NotNil(t, intent)
	assert.Equal(t, uint64(1), intent.Version)
	assert.Equal(t, fleetRun.RunID, intent.RunID)
}

func TestCadence_NormalAndAlert(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	ship := shipFunc(func(context.Context, engine.ShipSummary, core.IntentSlice) (tools.Call, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return tools.Call{Tool: tools.SetNav, Arguments: json.RawMessage(`{"heading":90,"speed":6,"depth":100}`)}, nil
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
	h := newHarness(t, quietFleet(), ship, nil)
	h.pollUntil(t, func() bool {
		return len(h.traces.byTier(core.TierShip)) == 1 && len(h.traces.byTier(core.TierFleet)) == 1
	})

	h.snaps.update(func(s *core.Snapshot) { s.SimTime = 9.9 })
	h.o.Poll(context.Background())
	h.o.Poll(context.Background())
	assert.Equal(t, 1, count())

	h.snaps.update(func(s *core.Snapshot) {
		s.SimTime = 10
		s.Ships[0].Alert.TorpedoInboundUntil = 40
	})
	h.pollUntil(t, func() bool { return len(h.traces.byTier(core.TierShip)) == 2 })
	assert.Equal(t, 2, count())

	h.snaps.update(func(s *core.Snapshot) {
		s.SimTime = 29.9
		s.Ships[0].Alert = core.Alert{}
	})
	h.o.Poll(context.Background())
	assert.Equal(t, 2, count())

	h.snaps.update(func(s *core.Snapshot) { s.SimTime = 30 })
	h.pollUntil(t, func() bool {
		return len(h.traces.byTier(core.TierShip)) == 3 && len(h.traces.byTier(core.TierFleet)) == 2
	})
	assert.Equal(t, 3, count())
}

func TestWeaponsRelease_GrantsAndRevokesConsent(t *testing.T) {
	var (
		mu      sync.Mutex
		release = true
	)
	fleet := fleetFunc(func(context.Context, engine.FleetSummary) (core.FleetIntent, error) {
		mu.Lock()
		defer mu.Unlock()
		return core.FleetIntent{WeaponsRelease: release}, nil
	})
	ship := shipFunc(func(context.Context, engine.ShipSummary, core.IntentSlice) (tools.Call, error) {
		return tools.Call{Tool: tools.SetNav, Arguments: json.RawMessage(`{"heading":90,"speed":6,"depth":100}`)}, nil
	})
	h := newHarness(t, fleet, ship, func(c *Config) { c.ShipCadence = 1000 })

	consents := func() []core.ConsentOrder {
		var out []core.ConsentOrder
		for _, c := range h.sink.commands() {
			if c.Kind == core.CmdConsent {
				out = append(out, *c.Consent)
			}
		}
		return out
	}
	h.pollUntil(t, func() bool { return len(consents()) == 1 })
	assert.Equal(t, core.ConsentOrder{Side: core.SideRed, Granted: true, Duration: 60}, consents()[0])
	assert.True(t, h.o.Intent().Slice("red-01").WeaponsRelease)

	mu.Lock()
	release = false
	mu.Unlock()
	h.snaps.update(func(s *core.Snapshot) { s.SimTime = 30 })
	h.pollUntil(t, func() bool { return len(consents()) == 2 })
	assert.False(t, consents()[1].Granted)

	h.snaps.update(func(s *core.Snapshot) { s.SimTime = 60 })
	h.pollUntil(t, func() bool { return len(h.traces.byTier(core.TierFleet)) == 3 })
	assert.Len(t, consents(), 2, "no revoke while already tight")
}

func TestRecentRuns_Bounded(t *testing.T) {
	h := newHarness(t, quietFleet(), shipFunc(func(context.Context, engine.ShipSummary, core.IntentSlice) (tools.Call, error) {
		return tools.Call{}, errors.New("down")
	}), nil)
	sl := &slot{key: "red-01", tier: core.TierShip, shipID: "red-01"}
	for i := range RecentRunsCap + 5 {
		run := core.DecisionRun{RunID: strings.Repeat("x", i+1), Tier: core.TierShip, StartedAt: h.clock.Now()}
		h.o.finish(context.Background(), &inflight{run: run, slot: sl, cancel: func() {}}, run)
	}
	recent := h.o.RecentRuns()
	require.Len(t, recent, RecentRunsCap)
	assert.Len(t, recent[len(recent)-1].RunID, RecentRunsCap+5)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, engine.NewStub(), engine.NewStub(), nil)
	health := h.o.Health(context.Background())
	assert.NoError(t, health[core.TierFleet])
	assert.NoError(t, health[core.TierShip])
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(DefaultConfig(core.SideRed), nil, engine.NewStub(), &snapSource{}, &recordingSink{}, nil, nil, nil)
	assert.Error(t, err)
	_, err = New(DefaultConfig(core.SideRed), engine.NewStub(), engine.NewStub(), nil, &recordingSink{}, nil, nil, nil)
	assert.Error(t, err)
}

type failingTraces struct{}

func (failingTraces) RecordDecisionRun(core.DecisionRun) error { return errors.New("disk full") }

func TestTraceSinks_FanOut(t *testing.T) {
	a, b := &recordingTraces{}, &recordingTraces{}
	sinks := TraceSinks{a, nil, failingTraces{}, b}

	err := sinks.RecordDecisionRun(core.DecisionRun{RunID: "r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.Len(t, a.list(), 1)
	require.Len(t, b.list(), 1)
	assert.Equal(t, "r1", b.list()[0].RunID)

	assert.NoError(t, TraceSinks{a}.RecordDecisionRun(core.DecisionRun{RunID: "r2"}))
}

func setNavShip() engine.ShipEngine {
	return shipFunc(func(context.Context, engine.ShipSummary, core.IntentSlice) (tools.Call, error) {
		return tools.Call{Tool: tools.SetNav, Arguments: json.RawMessage(`{"heading":120,"speed":8,"depth":120}`)}, nil
	})
}

func TestShipRun_AppliedOnlyAfterTickReportsIt(t *testing.T) {
	h := newHarness(t, quietFleet(), setNavShip(), nil)
	h.pollUntil(t, func() bool {
		for _, c := range h.sink.commands() {
			if c.Kind == core.CmdSetNav {
				return true
			}
		}
		return false
	})
	h.o.Poll(context.Background())
	assert.Empty(t, h.traces.byTier(core.TierShip), "run settles when the world reports the command")

	h.tick(nil)
	h.o.Poll(context.Background())
	runs := h.traces.byTier(core.TierShip)
	require.Len(t, runs, 1)
	assert.Equal(t, core.OutcomeSucceeded, runs[0].Outcome)
	assert.True(t, runs[0].Applied)
	assert.False(t, runs[0].FallbackUsed)
}

func TestShipRun_WorldRejectionFallsBack(t *testing.T) {
	h := newHarness(t, quietFleet(), setNavShip(), nil)
	var agentCmd core.Command
	h.pollUntil(t, func() bool {
		for _, c := range h.sink.commands() {
			if c.Source.Origin == core.OriginAgent && c.Kind == core.CmdSetNav {
				agentCmd = c
				return true
			}
		}
		return false
	})
	h.tick(map[string]string{agentCmd.Source.RunID: "no valid consent window"})
	h.o.Poll(context.Background())

	runs := h.traces.byTier(core.TierShip)
	require.Len(t, runs, 1)
	assert.Equal(t, agentCmd.Source.RunID, runs[0].RunID)
	assert.Equal(t, core.OutcomeRejected, runs[0].Outcome)
	assert.True(t, runs[0].FallbackUsed)
	assert.Contains(t, runs[0].Error, "no valid consent window")
	assert.Contains(t, runs[0].RawOutput, "set_nav")

	cmds := h.sink.commands()
	last := cmds[len(cmds)-1]
	assert.Equal(t, core.OriginFallback, last.Source.Origin)
	assert.Equal(t, agentCmd.Source.RunID, last.Source.RunID)
}

func TestShipRun_UnreportedCommandSettlesWithoutFallback(t *testing.T) {
	h := newHarness(t, quietFleet(), setNavShip(), nil)
	h.pollUntil(t, func() bool { return len(h.o.awaiting) == 1 })

	h.clock.Advance(5 * time.Second)
	h.o.Poll(context.Background())
	runs := h.traces.byTier(core.TierShip)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Applied)
	assert.False(t, runs[0].FallbackUsed)
	assert.Contains(t, runs[0].Error, "no tick reported")
}

func TestRunAndClose_ConcurrentShutdown(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	ship := shipFunc(func(ctx context.Context, _ engine.ShipSummary, _ core.IntentSlice) (tools.Call, error) {
		once.Do(func() { close(entered) })
		<-release // ignores ctx on purpose
		return tools.Call{}, errors.New("late")
	})
	h := newHarness(t, quietFleet(), ship, func(c *Config) {
		c.SchedulerInterval = time.Millisecond
		c.FleetTimeout = 50 * time.Millisecond
		c.ShipTimeout = 50 * time.Millisecond
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	go h.o.Run(ctx)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("ship engine never called")
	}

	cancel()
	start := time.Now()
	h.o.Close()
	assert.Less(t, time.Since(start), time.Second, "shutdown is bounded by the engine deadline")

	h.o.Close()
}

func TestClose_StopsRunWithoutCancel(t *testing.T) {
	h := newHarness(t, quietFleet(), setNavShip(), func(c *Config) { c.SchedulerInterval = time.Millisecond })
	stopped := make(chan struct{})
	go func() {
		h.o.Run(context.Background())
		close(stopped)
	}()
	require.Eventually(t, func() bool { return len(h.traces.byTier(core.TierFleet)) > 0 }, 2*time.Second, time.Millisecond)

	h.o.Close()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
