package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/subbridge/simcore/pkg/streaming"
)

const (
	outboxSize  = 4096
	ackBuffer   = 16
	writeWait   = 5 * time.Second
	maxBackoff  = 30 * time.Second
	baseBackoff = time.Second
)

// link owns one client socket. A single writer goroutine drains the outbox;
// a reader goroutine routes acks and hands every other envelope to onMessage.
type link struct {
	mu       sync.Mutex
	conn     *ws.Conn
	closed   bool
	hello    []byte // replayed after a reconnect
	outbox   chan []byte
	acks     chan streaming.AckMessage
	done     chan struct{}
	endpoint string

	maxRetries int
	backoff    time.Duration
	onMessage  func(streaming.Envelope)
	logger     *slog.Logger
}

func newLink(logger *slog.Logger, onMessage func(streaming.Envelope)) *link {
	return &link{
		outbox:     make(chan []byte, outboxSize),
		acks:       make(chan streaming.AckMessage, ackBuffer),
		done:       make(chan struct{}),
		maxRetries: 10,
		backoff:    baseBackoff,
		onMessage:  onMessage,
		logger:     logger,
	}
}

func endpointWithSecret(rawURL, secret string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket URL: %w", err)
	}
	if secret != "" {
		q := u.Query()
		q.Set("secret", secret)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (l *link) open(rawURL, secret string) error {
	endpoint, err := endpointWithSecret(rawURL, secret)
	if err != nil {
		return err
	}
	l.endpoint = endpoint

	conn, _, err := ws.DefaultDialer.Dial(l.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	l.attach(conn)
	return nil
}

func (l *link) attach(conn *ws.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	go l.writeLoop(conn)
	go l.readLoop(conn)
}

func (l *link) writeLoop(conn *ws.Conn) {
	for {
		select {
		case <-l.done:
			return
		case data := <-l.outbox:
			if err := write(conn, data); err != nil {
				l.logger.Warn("websocket write failed", "error", err)
				go l.redial(conn)
				return
			}
		}
	}
}

func write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

func (l *link) readLoop(conn *ws.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
			default:
				l.logger.Warn("websocket read failed", "error", err)
				go l.redial(conn)
			}
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			l.logger.Debug("unreadable message from server", "raw", string(raw))
			continue
		}

		if env.Type == streaming.TypeAck {
			var ack streaming.AckMessage
			_ = json.Unmarshal(raw, &ack)
			select {
			case l.acks <- ack:
			default:
				l.logger.Debug("ack dropped", "for", ack.For)
			}
			continue
		}
		if l.onMessage != nil {
			l.onMessage(env)
		}
	}
}

// redial replaces a broken socket. Only the goroutine holding the current
// socket gets to redial; a stale one returns immediately.
func (l *link) redial(broken *ws.Conn) {
	l.mu.Lock()
	if l.closed || l.conn != broken {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	l.mu.Unlock()
	_ = broken.Close()

	wait := l.backoff
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		select {
		case <-l.done:
			return
		case <-time.After(wait):
		}

		conn, _, err := ws.DefaultDialer.Dial(l.endpoint, nil)
		if err != nil {
			l.logger.Warn("websocket redial failed", "attempt", attempt, "error", err)
			wait = min(wait*2, maxBackoff)
			continue
		}

		l.mu.Lock()
		hello := l.hello
		l.mu.Unlock()
		if hello != nil {
			if err := write(conn, hello); err != nil {
				l.logger.Warn("session replay failed", "error", err)
				_ = conn.Close()
				continue
			}
		}

		l.logger.Info("websocket reconnected", "attempt", attempt)
		l.attach(conn)
		return
	}
	l.logger.Error("websocket gave up reconnecting", "attempts", l.maxRetries)
}

// enqueue never blocks; when the outbox is full the message is lost.
func (l *link) enqueue(data []byte) bool {
	select {
	case l.outbox <- data:
		return true
	default:
		l.logger.Warn("websocket outbox full, dropping message")
		return false
	}
}

func (l *link) request(data []byte, ackFor string, timeout time.Duration) error {
	l.enqueue(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-l.acks:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("no ack for %q within %s", ackFor, timeout)
		case <-l.done:
			return fmt.Errorf("connection closed waiting for ack of %q", ackFor)
		}
	}
}

func (l *link) close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return conn.Close()
}
