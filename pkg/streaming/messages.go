// Package streaming defines the messages exchanged with a remote bridge
// server over WebSocket.
package streaming

import (
	"encoding/json"

	"github.com/subbridge/simcore/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartSession = "start_session"
	TypeEndSession   = "end_session"
	TypeTelemetry    = "telemetry"
	TypeDecisionRun  = "decision_run"
	TypeCommand      = "command"
	TypeCommandError = "command_error"
	TypeAck          = "ack"
)

// Envelope wraps all messages sent over the WebSocket. Topic is set on
// telemetry, e.g. "tick:sonar".
type Envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartSessionPayload announces the session being streamed.
type StartSessionPayload struct {
	Session *core.Session `json:"session"`
}

// CommandPayload is a station command relayed by the server.
type CommandPayload struct {
	Command string          `json:"command"`
	Station string          `json:"station,omitempty"`
	ShipID  string          `json:"shipId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CommandErrorPayload reports a relayed command that failed.
type CommandErrorPayload struct {
	Command string `json:"command"`
	Error   string `json:"error"`
}
