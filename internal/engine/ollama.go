package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/subbridge/simcore/internal/tools"
	"github.com/subbridge/simcore/pkg/core"
)

// DefaultOllamaHost is used when no host is configured.
const DefaultOllamaHost = "http://localhost:11434"

const fleetSystemPrompt = `You are the %s Fleet Commander. Define mid-level FleetIntent that encodes strategy and objectives; do not micromanage tactics.
Use only the provided summaries; never assume ground-truth enemy positions.
Coordinates: X east (m), Y north (m). Output ONLY one JSON object (no markdown):
{
  "objectives": {"<ship_id>": {"destination": [x, y], "speed_kn": 12, "goal": "one sentence"}},
  "emcon": {"active_ping_allowed": false, "radio_discipline": "restricted"},
  "weapons_release": false,
  "summary": "One short sentence describing the fleet plan",
  "notes": [{"ship_id": "<id or empty>", "text": "<advisory>"}],
  "handoffs": [{"ship_id": "<id>", "order": "<immediate order>"}]
}`

const fleetUserPrompt = `FLEET_SUMMARY_JSON:
%s

FORMAT REQUIREMENTS:
- Include EVERY own ship id under 'objectives' with a 'destination' [x,y] in meters.
- 'speed_kn' and 'goal' are optional per ship.
- Set 'weapons_release' only if the mission allows weapons free.
- Output ONLY the JSON object with the keys shown above. No extra prose.
- Do not infer unknown enemy truth beyond the provided beliefs.`

const shipSystemPrompt = `You command a single ship. Make tactical decisions using only your Ship Summary and the FleetIntent.
Follow FleetIntent when possible; if immediate safety or opportunity requires otherwise, prefix the summary with 'deviate:'.
Coordinates: X east (m), Y north (m). Bearings: 0=North, 90=East.
Output EXACTLY one JSON object with keys {tool, arguments, summary}. No markdown or extra keys.
Allowed tools: %s`

const shipUserPrompt = `SHIP_SUMMARY_JSON:
%s

FLEET_INTENT_JSON:
%s

FORMAT & BEHAVIOR:
- Prefer the FleetIntent; if deviating, prefix summary with 'deviate:'.
- Use only the allowed tools. Choose plausible parameters (e.g., bearings from contacts).
- If no change is needed, return set_nav holding current values with a brief summary.
- Output ONLY one JSON with keys {tool, arguments, summary}.`

// Ollama talks to an Ollama-compatible /api/chat endpoint.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllama creates a chat engine. timeout bounds every HTTP request;
// callers add tighter per-run deadlines through the context.
func NewOllama(host, model string, timeout time.Duration) *Ollama {
	if host == "" {
		host = DefaultOllamaHost
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Ollama{
		baseURL:    strings.TrimRight(host, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (o *Ollama) Info() Info { return Info{Kind: KindOllama, Model: o.model} }

// Healthcheck checks that the server answers its model listing.
func (o *Ollama) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message  *chatMessage  `json:"message"`
	Messages []chatMessage `json:"messages"`
}

func (o *Ollama) chat(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chat returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	content := ""
	if out.Message != nil {
		content = out.Message.Content
	} else if n := len(out.Messages); n > 0 {
		content = out.Messages[n-1].Content
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// ProposeFleetIntent asks the model for a FleetIntent.
func (o *Ollama) ProposeFleetIntent(ctx context.Context, fs FleetSummary) (core.FleetIntent, error) {
	summary, err := json.Marshal(fs)
	if err != nil {
		return core.FleetIntent{}, fmt.Errorf("failed to encode fleet summary: %w", err)
	}
	system := fs.Mission.FleetPrompt
	if system == "" {
		system = fmt.Sprintf(fleetSystemPrompt, fs.Side)
	}
	content, err := o.chat(ctx, system, fmt.Sprintf(fleetUserPrompt, summary))
	if err != nil {
		return core.FleetIntent{}, err
	}

	raw, ok := ExtractJSON(content)
	if !ok {
		return core.FleetIntent{}, &OutputError{Raw: content, Err: ErrNoJSON}
	}
	var intent core.FleetIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return core.FleetIntent{}, &OutputError{Raw: content, Err: err}
	}
	return intent, nil
}

// ProposeOrders asks the model for one tool call.
func (o *Ollama) ProposeOrders(ctx context.Context, ss ShipSummary, intent core.IntentSlice) (tools.Call, error) {
	summary, err := json.Marshal(ss)
	if err != nil {
		return tools.Call{}, fmt.Errorf("failed to encode ship summary: %w", err)
	}
	slice, err := json.Marshal(intent)
	if err != nil {
		return tools.Call{}, fmt.Errorf("failed to encode intent slice: %w", err)
	}
	system := ss.Prompt
	if system == "" {
		system = fmt.Sprintf(shipSystemPrompt, ss.Tools)
	}
	content, err := o.chat(ctx, system, fmt.Sprintf(shipUserPrompt, summary, slice))
	if err != nil {
		return tools.Call{}, err
	}

	raw, ok := ExtractJSON(content)
	if !ok {
		return tools.Call{}, &OutputError{Raw: content, Err: ErrNoJSON}
	}
	c, err := tools.Parse(raw)
	if err != nil {
		return tools.Call{}, &OutputError{Raw: content, Err: err}
	}
	return c, nil
}
