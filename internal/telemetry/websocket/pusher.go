// Package websocket streams station telemetry to a remote bridge server and
// relays the commands its consoles send back.
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/subbridge/simcore/internal/telemetry"
	"github.com/subbridge/simcore/pkg/core"
	"github.com/subbridge/simcore/pkg/streaming"
)

const defaultAckTimeout = 10 * time.Second

var ErrNotConnected = errors.New("websocket pusher not connected")

// Config holds the pusher settings.
type Config struct {
	URL    string
	Secret string
	// Topics forwarded to the server; empty means every station topic.
	Topics []string
	// Interval is the minimum gap between two messages of one topic.
	// Views arriving sooner are skipped.
	Interval   time.Duration
	AckTimeout time.Duration
}

// CommandFunc executes a relayed station command.
type CommandFunc func(streaming.CommandPayload) (any, error)

// Pusher forwards bus topics over one WebSocket connection.
type Pusher struct {
	cfg       Config
	bus       *telemetry.Bus
	link      *link
	onCommand CommandFunc
	logger    *slog.Logger

	mu      sync.Mutex
	cancels []func()
	wg      sync.WaitGroup
	started bool
}

// New creates a pusher. onCommand may be nil, in which case relayed
// commands are answered with an error.
func New(cfg Config, bus *telemetry.Bus, onCommand CommandFunc, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = append(cfg.Topics, telemetry.TopicAll)
		for _, st := range telemetry.Stations {
			cfg.Topics = append(cfg.Topics, telemetry.Topic(st))
		}
	}
	p := &Pusher{cfg: cfg, bus: bus, onCommand: onCommand, logger: logger}
	p.link = newLink(logger, p.handle)
	return p
}

// Init dials the server and starts forwarding.
func (p *Pusher) Init() error {
	if err := p.link.open(p.cfg.URL, p.cfg.Secret); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	if p.bus == nil {
		return nil
	}
	for _, topic := range p.cfg.Topics {
		ch, cancel := p.bus.Subscribe(topic, 0)
		p.cancels = append(p.cancels, cancel)
		p.wg.Add(1)
		go p.forward(topic, ch)
	}
	p.logger.Info("telemetry pusher connected", "url", p.cfg.URL, "topics", len(p.cfg.Topics))
	return nil
}

// Close stops forwarding and closes the socket.
func (p *Pusher) Close() error {
	p.mu.Lock()
	cancels := p.cancels
	p.cancels = nil
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	p.wg.Wait()
	return p.link.close()
}

func (p *Pusher) forward(topic string, ch <-chan telemetry.Message) {
	defer p.wg.Done()
	var last time.Time
	for msg := range ch {
		now := time.Now()
		if p.cfg.Interval > 0 && !last.IsZero() && now.Sub(last) < p.cfg.Interval {
			continue
		}
		last = now
		if err := p.send(streaming.TypeTelemetry, topic, msg.Data); err != nil {
			p.logger.Warn("telemetry not sent", "topic", topic, "error", err)
		}
	}
}

func encode(msgType, topic string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Topic: topic, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

func (p *Pusher) send(msgType, topic string, payload any) error {
	data, err := encode(msgType, topic, payload)
	if err != nil {
		return err
	}
	p.link.enqueue(data)
	return nil
}

func (p *Pusher) ready() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotConnected
	}
	return nil
}

// StartSession announces the session and waits for the server ack. The
// announcement is replayed whenever the connection is re-established.
func (p *Pusher) StartSession(s *core.Session) error {
	if err := p.ready(); err != nil {
		return err
	}
	data, err := encode(streaming.TypeStartSession, "", streaming.StartSessionPayload{Session: s})
	if err != nil {
		return err
	}
	p.link.mu.Lock()
	p.link.hello = data
	p.link.mu.Unlock()
	return p.link.request(data, streaming.TypeStartSession, p.cfg.AckTimeout)
}

// EndSession closes the session on the server and waits for the ack.
func (p *Pusher) EndSession() error {
	if err := p.ready(); err != nil {
		return err
	}
	data, err := encode(streaming.TypeEndSession, "", nil)
	if err != nil {
		return err
	}
	err = p.link.request(data, streaming.TypeEndSession, p.cfg.AckTimeout)

	p.link.mu.Lock()
	p.link.hello = nil
	p.link.mu.Unlock()
	return err
}

// RecordDecisionRun streams a decision trace; it satisfies ai.TraceSink.
func (p *Pusher) RecordDecisionRun(run core.DecisionRun) error {
	if err := p.ready(); err != nil {
		return err
	}
	return p.send(streaming.TypeDecisionRun, "", run)
}

func (p *Pusher) handle(env streaming.Envelope) {
	if env.Type != streaming.TypeCommand {
		p.logger.Debug("ignoring server message", "type", env.Type)
		return
	}

	var cmd streaming.CommandPayload
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		p.reject("", fmt.Errorf("bad command payload: %w", err))
		return
	}
	if p.onCommand == nil {
		p.reject(cmd.Command, errors.New("commands are not accepted"))
		return
	}
	if _, err := p.onCommand(cmd); err != nil {
		p.reject(cmd.Command, err)
	}
}

func (p *Pusher) reject(command string, cause error) {
	p.logger.Info("relayed command failed", "command", command, "error", cause)
	if err := p.send(streaming.TypeCommandError, "", streaming.CommandErrorPayload{Command: command, Error: cause.Error()}); err != nil {
		p.logger.Warn("command error not sent", "error", err)
	}
}
