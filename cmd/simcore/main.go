package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/subbridge/simcore/internal/ai"
	"github.com/subbridge/simcore/internal/config"
	"github.com/subbridge/simcore/internal/dispatcher"
	"github.com/subbridge/simcore/internal/engine"
	"github.com/subbridge/simcore/internal/handlers"
	"github.com/subbridge/simcore/internal/influx"
	"github.com/subbridge/simcore/internal/logging"
	"github.com/subbridge/simcore/internal/mission"
	"github.com/subbridge/simcore/internal/monitor"
	intOtel "github.com/subbridge/simcore/internal/otel"
	"github.com/subbridge/simcore/internal/sim"
	"github.com/subbridge/simcore/internal/telemetry"
	tws "github.com/subbridge/simcore/internal/telemetry/websocket"
	"github.com/subbridge/simcore/internal/validate"
	"github.com/subbridge/simcore/pkg/core"
	"github.com/subbridge/simcore/pkg/streaming"
)

// BuildDate can be set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

const (
	appName       = "simcore"
	shutdownGrace = 10 * time.Second
	shipSampleHz  = 20 // influx ship points every N ticks
)

func main() {
	configDir := flag.String("config", ".", "directory holding "+config.FileName)
	missionPath := flag.String("mission", "", "scenario yaml; overrides mission.path")
	flag.Parse()

	if err := run(*configDir, *missionPath); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

// app holds everything that needs an orderly shutdown.
type app struct {
	logger  *slog.Logger
	slogMgr *logging.SlogManager
	logFile *os.File
	otel    *intOtel.Provider
	graylog *logging.GraylogSink

	session  *core.Session
	loop     *sim.Loop
	storage  *storageStack
	influx   *influx.Manager
	pusher   *tws.Pusher
	stations *dispatcher.Dispatcher
	orch     *ai.Orchestrator
	monitor  *monitor.Service
}

func run(configDir, missionPath string) error {
	start := time.Now()
	a := &app{slogMgr: logging.NewSlogManager()}
	a.slogMgr.Setup(nil, "info", nil)
	a.logger = a.slogMgr.Logger()

	if err := config.Load(configDir); err != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", err)
		config.LoadDefaults()
	}

	var latest atomic.Pointer[sim.Loop]
	a.slogMgr.SetContextProvider(logging.SimClock(func() *core.Snapshot {
		if l := latest.Load(); l != nil {
			return l.Snapshot()
		}
		return nil
	}))
	a.setupLogging(start)
	defer a.closeLogging()
	a.logger.Info("Starting simulator", "version", Version, "buildDate", BuildDate)

	scen, catalog, err := loadMission(missionPath)
	if err != nil {
		return err
	}
	a.logger.Info("Mission loaded", "mission", scen.ID, "ships", len(scen.Ships), "player", scen.PlayerShip)

	simCfg := config.GetSimConfig()
	roe, err := scen.ROE()
	if err != nil {
		return fmt.Errorf("mission rules of engagement: %w", err)
	}
	world := sim.NewWorld(sim.WorldConfig{
		Seed:           simCfg.Seed,
		Environment:    scen.Env(),
		RequireConsent: simCfg.RequireConsent,
		NoiseThreshold: simCfg.NoiseThreshold,
		ROE:            roe,
	})
	ships, err := scen.Spawn(catalog)
	if err != nil {
		return fmt.Errorf("spawn ships: %w", err)
	}
	for _, s := range ships {
		if err := world.AddShip(s); err != nil {
			return err
		}
	}

	a.loop, err = sim.NewLoop(world, sim.LoopConfig{
		TickRate:        simCfg.TickHz,
		CatchupMaxTicks: simCfg.CatchupMaxTicks,
		CommandCapacity: simCfg.CommandCapacity,
		PerShipLimit:    simCfg.PerShipLimit,
	}, sim.LoopHooks{
		OnCommandDrop: func(reason string, cmd core.Command) {
			a.logger.Warn("command dropped", "reason", reason, "kind", cmd.Kind, "ship", cmd.ShipID)
		},
	}, a.logger)
	if err != nil {
		return fmt.Errorf("world loop: %w", err)
	}
	latest.Store(a.loop)

	a.session = scen.Session(uuid.NewString(), simCfg.TickHz, int64(simCfg.Seed), start)
	zl := logging.NewZerolog(a.logWriter(), viper.GetString("logLevel"))

	// storage first so decision traces have somewhere to go
	a.storage, err = initStorage(a.session, simCfg.SnapshotInterval, zl, a.logger)
	if err != nil {
		return err
	}
	a.loop.AddHook(a.storage.recorder.AfterStep)
	traces := ai.TraceSinks{a.storage.recorder}

	if rec := a.initInflux(zl); rec != nil {
		a.loop.AddHook(rec.AfterStep)
		traces = append(traces, rec)
	}

	bus := telemetry.NewBus()
	publisher := telemetry.NewPublisher(bus, telemetry.PublisherConfig{
		ShipID:         scen.PlayerShip,
		RequireConsent: simCfg.RequireConsent,
	}, nil, a.logger)
	a.loop.AddHook(publisher.AfterStep)

	if err := a.initStations(scen.PlayerShip, simCfg); err != nil {
		return err
	}
	if p := a.initPusher(bus); p != nil {
		traces = append(traces, p)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.initOrchestrator(ctx, scen, roe, simCfg, traces); err != nil {
		return err
	}
	if a.orch != nil {
		publisher.SetDecisionSource(a.orch)
	}
	a.startMonitor()

	a.logger.Info("Session started", "session", a.session.ID, "tickHz", simCfg.TickHz)
	a.loop.Run(ctx)

	a.shutdown()
	return nil
}

func (a *app) setupLogging(start time.Time) {
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		a.logger.Error("Failed to create logs dir", "error", err, "path", logsDir)
	} else {
		path := logging.LogFilePath(logsDir, appName, start)
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			a.logger.Error("Failed to create/open log file!", "error", err, "path", path)
		} else {
			a.logFile = f
			a.logger.Info("Begin logging in logs directory", "path", path)
		}
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		p, err := intOtel.New(intOtel.Config{
			Enabled:      true,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    a.logWriter(),
			MetricWriter: a.logWriter(),
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			a.logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			a.otel = p
			a.logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	var extra []slog.Handler
	if viper.GetBool("graylog.enabled") {
		sink, err := logging.NewGraylogSink(viper.GetString("graylog.address"), viper.GetString("logLevel"))
		if err != nil {
			a.logger.Error("Failed to connect to Graylog", "error", err)
		} else {
			a.graylog = sink
			extra = append(extra, sink.Handler())
		}
	}

	var provider *sdklog.LoggerProvider
	if a.otel != nil {
		provider = a.otel.LoggerProvider()
	}
	var file io.Writer
	if a.logFile != nil {
		file = a.logFile
	}
	a.slogMgr.Setup(file, viper.GetString("logLevel"), provider, extra...)
	a.logger = a.slogMgr.Logger()
}

// logWriter is the session log file, or stderr when it could not be opened.
func (a *app) logWriter() io.Writer {
	if a.logFile != nil {
		return a.logFile
	}
	return os.Stderr
}

func (a *app) closeLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.slogMgr.Flush(ctx); err != nil {
		a.logger.Warn("Failed to flush logs", "error", err)
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			a.logger.Warn("OTel shutdown failed", "error", err)
		}
	}
	if a.graylog != nil {
		_ = a.graylog.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

func loadMission(flagPath string) (*mission.Scenario, mission.Catalog, error) {
	catalog := mission.DefaultCatalog()
	if p := viper.GetString("mission.catalogPath"); p != "" {
		c, err := mission.LoadCatalog(p)
		if err != nil {
			return nil, nil, err
		}
		catalog = c
	}

	path := flagPath
	if path == "" {
		path = viper.GetString("mission.path")
	}
	if path == "" {
		return mission.Default(), catalog, nil
	}
	scen, err := mission.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return scen, catalog, nil
}

func (a *app) initInflux(zl zerolog.Logger) *influx.Recorder {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return nil
	}
	backup := filepath.Join(viper.GetString("logsDir"), fmt.Sprintf("influx_%s.lp.gz", a.session.ID))
	m := influx.NewManager(zl, cfg, backup)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Connect(ctx); err != nil {
		a.logger.Error("InfluxDB disabled", "error", err)
		return nil
	}
	a.influx = m
	return influx.NewRecorder(m, a.loop.Pending, shipSampleHz)
}

func (a *app) initStations(playerShip string, simCfg config.SimConfig) error {
	d, err := dispatcher.New(a.logger)
	if err != nil {
		return fmt.Errorf("station dispatcher: %w", err)
	}
	svc, err := handlers.NewService(handlers.Dependencies{
		Sink:           a.loop,
		Snapshots:      a.loop,
		Logger:         a.logger,
		DefaultShip:    playerShip,
		RequireConsent: simCfg.RequireConsent,
		ConsentWindow:  simCfg.ConsentWindow,
	})
	if err != nil {
		return err
	}
	svc.Register(d)
	a.stations = d
	a.logger.Info("Station handlers registered", "commands", len(d.Commands()))
	return nil
}

// relay executes a command received from the bridge server.
func (a *app) relay(c streaming.CommandPayload) (any, error) {
	if !a.stations.HasHandler(c.Command) {
		return nil, fmt.Errorf("unknown command %q", c.Command)
	}
	return a.stations.Dispatch(dispatcher.Event{
		Command:  c.Command,
		Station:  c.Station,
		ShipID:   c.ShipID,
		Payload:  c.Payload,
		Received: time.Now(),
	})
}

func (a *app) initPusher(bus *telemetry.Bus) *tws.Pusher {
	cfg := config.GetTelemetryConfig()
	if cfg.WebsocketURL == "" {
		return nil
	}
	p := tws.New(tws.Config{URL: cfg.WebsocketURL, Secret: cfg.Secret, Interval: cfg.Interval}, bus, a.relay, a.logger)
	if err := p.Init(); err != nil {
		a.logger.Error("Telemetry pusher disabled", "error", err, "url", cfg.WebsocketURL)
		return nil
	}
	if err := p.StartSession(a.session); err != nil {
		a.logger.Warn("Bridge server did not acknowledge session", "error", err)
	}
	a.pusher = p
	return p
}

func (a *app) initOrchestrator(ctx context.Context, scen *mission.Scenario, roe *validate.ROE, simCfg config.SimConfig, traces ai.TraceSinks) error {
	aiCfg := config.GetAIConfig()
	if !aiCfg.Enabled {
		a.logger.Info("Decision layer disabled")
		return nil
	}
	fleet, err := engine.New(engine.Config{
		Kind:    aiCfg.FleetEngine.Kind,
		Model:   aiCfg.FleetEngine.Model,
		Host:    aiCfg.FleetEngine.Host,
		Timeout: aiCfg.FleetTimeout,
	})
	if err != nil {
		return fmt.Errorf("fleet engine: %w", err)
	}
	ship, err := engine.New(engine.Config{
		Kind:    aiCfg.ShipEngine.Kind,
		Model:   aiCfg.ShipEngine.Model,
		Host:    aiCfg.ShipEngine.Host,
		Timeout: aiCfg.ShipTimeout,
	})
	if err != nil {
		return fmt.Errorf("ship engine: %w", err)
	}

	side := core.Side(aiCfg.Side)
	a.orch, err = ai.New(ai.Config{
		Side:              side,
		FleetCadence:      aiCfg.FleetCadence,
		ShipCadence:       aiCfg.ShipCadence,
		AlertCadence:      aiCfg.AlertCadence,
		FleetTimeout:      aiCfg.FleetTimeout,
		ShipTimeout:       aiCfg.ShipTimeout,
		SchedulerInterval: aiCfg.SchedulerInterval,
		ConsentWindow:     simCfg.ConsentWindow,
		Bounds:            scen.Bounds,
		Mission:           scen.Brief(side),
	}, fleet, ship, a.loop, a.loop, traces, validate.New(roe, simCfg.RequireConsent), a.logger)
	if err != nil {
		return fmt.Errorf("decision orchestrator: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	for tier, herr := range a.orch.Health(hctx) {
		if herr != nil {
			a.logger.Warn("Engine not healthy, fallback orders will be used", "tier", tier, "error", herr)
		}
	}
	cancel()

	a.loop.AddHook(a.orch.AfterStep)
	go a.orch.Run(ctx)
	return nil
}

func (a *app) startMonitor() {
	deps := monitor.Dependencies{
		Snapshots:  a.loop.Snapshot,
		Pending:    a.loop.Pending,
		Recorder:   a.storage.recorder,
		Session:    a.session,
		StatusPath: filepath.Join(viper.GetString("logsDir"), "status.json"),
		Logger:     a.logger,
	}
	if a.orch != nil {
		deps.Health = a.orch.Health
	}
	a.monitor = monitor.NewService(deps)
	if err := a.monitor.Start(); err != nil {
		a.logger.Warn("Status monitor not started", "error", err)
	}
}

func (a *app) shutdown() {
	a.logger.Info("Shutting down")
	if a.orch != nil {
		a.orch.Close()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.stations != nil {
		a.stations.Close()
	}

	var errs []error
	if a.storage != nil {
		errs = append(errs, a.storage.finish(a.loop.Snapshot()))
	}
	if a.pusher != nil {
		if err := a.pusher.EndSession(); err != nil {
			a.logger.Warn("Bridge server did not acknowledge session end", "error", err)
		}
		errs = append(errs, a.pusher.Close())
	}
	if a.influx != nil {
		errs = append(errs, a.influx.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("Shutdown finished with errors", "error", err)
		return
	}
	a.logger.Info("Shutdown complete", "session", a.session.ID)
}
