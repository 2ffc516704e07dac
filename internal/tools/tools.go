// Package tools defines the structured tool calls a ship engine may return
// and converts them into world commands.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/subbridge/simcore/pkg/core"
)

// Tool names.
const (
	SetNav               = "set_nav"
	FireTorpedo          = "fire_torpedo"
	DeployCountermeasure = "deploy_countermeasure"
	DropDepthCharges     = "drop_depth_charges"
)

var (
	ErrUnknownTool  = errors.New("unknown tool")
	ErrMissingField = errors.New("missing required field")
	ErrBadArguments = errors.New("malformed arguments")
)

// Call is a tool invocation as returned by an engine. Unknown fields are
// ignored.
type Call struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Summary   string          `json:"summary,omitempty"`
}

// Arg documents one tool argument for prompt construction.
type Arg struct {
	Name     string
	Type     string
	Required bool
	Doc      string
}

// Spec describes a tool and the capability it needs.
type Spec struct {
	Name        string
	Description string
	Args        []Arg
	Requires    func(core.Capabilities) bool
}

var specs = map[string]Spec{
	SetNav: {
		Name:        SetNav,
		Description: "Set navigation orders",
		Args: []Arg{
			{Name: "heading", Type: "float", Required: true, Doc: "degrees 0-359.9"},
			{Name: "speed", Type: "float", Required: true, Doc: "knots >= 0"},
			{Name: "depth", Type: "float", Required: true, Doc: "meters >= 0"},
		},
		Requires: func(core.Capabilities) bool { return true },
	},
	FireTorpedo: {
		Name:        FireTorpedo,
		Description: "Fire a torpedo from a tube with doors open",
		Args: []Arg{
			{Name: "tube", Type: "int", Required: true},
			{Name: "bearing", Type: "float", Required: true, Doc: "true bearing degrees"},
			{Name: "run_depth", Type: "float", Doc: "meters"},
			{Name: "enable_range", Type: "float", Doc: "meters"},
			{Name: "doctrine", Type: "string", Doc: "passive|active"},
		},
		Requires: func(c core.Capabilities) bool { return c.HasTorpedoes },
	},
	DeployCountermeasure: {
		Name:        DeployCountermeasure,
		Description: "Deploy a countermeasure",
		Args: []Arg{
			{Name: "type", Type: "string", Required: true, Doc: "noisemaker|decoy"},
		},
		Requires: func(c core.Capabilities) bool { return c.HasCountermeasures },
	},
	DropDepthCharges: {
		Name:        DropDepthCharges,
		Description: "Drop a spread of depth charges around the ship",
		Args: []Arg{
			{Name: "spread_meters", Type: "float", Doc: "radius, e.g. 20"},
			{Name: "minDepth", Type: "float", Required: true, Doc: ">= 15"},
			{Name: "maxDepth", Type: "float", Required: true},
			{Name: "spreadSize", Type: "int", Doc: "1..10"},
		},
		Requires: func(c core.Capabilities) bool { return c.HasDepthCharges },
	},
}

// Lookup returns the spec of a tool.
func Lookup(name string) (Spec, bool) {
	s, ok := specs[name]
	return s, ok
}

// Available lists the tools a platform with caps may call, sorted by name.
func Available(caps core.Capabilities) []Spec {
	var out []Spec
	for _, s := range specs {
		if s.Requires(caps) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Describe renders specs as one line per tool, e.g.
// "set_nav(heading: float, speed: float, depth: float)".
func Describe(list []Spec) string {
	var b strings.Builder
	for i, s := range list {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(s.Name)
		b.WriteByte('(')
		for j, a := range s.Args {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.Name)
			if !a.Required {
				b.WriteByte('?')
			}
			b.WriteString(": ")
			b.WriteString(a.Type)
		}
		b.WriteByte(')')
	}
	return b.String()
}

// Parse decodes a tool call object.
func Parse(data []byte) (Call, error) {
	var c Call
	if err := json.Unmarshal(data, &c); err != nil {
		return Call{}, fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	if c.Tool == "" {
		return Call{}, fmt.Errorf("%w: tool", ErrMissingField)
	}
	return c, nil
}

// Command converts c into a world command for ship. Missing required
// arguments and argument type mismatches are errors; values are not clamped
// here.
func (c Call) Command(ship string, src core.CommandSource) (core.Command, error) {
	spec, ok := Lookup(c.Tool)
	if !ok {
		return core.Command{}, fmt.Errorf("%w: %q", ErrUnknownTool, c.Tool)
	}

	args := map[string]json.RawMessage{}
	if len(c.Arguments) > 0 && string(c.Arguments) != "null" {
		if err := json.Unmarshal(c.Arguments, &args); err != nil {
			return core.Command{}, fmt.Errorf("%w: %v", ErrBadArguments, err)
		}
	}
	for _, a := range spec.Args {
		if _, ok := args[a.Name]; a.Required && !ok {
			return core.Command{}, fmt.Errorf("%w: %s.%s", ErrMissingField, c.Tool, a.Name)
		}
	}

	cmd := core.Command{ShipID: ship, Source: src}
	var err error
	switch c.Tool {
	case SetNav:
		var nav core.NavOrder
		err = json.Unmarshal(c.Arguments, &nav)
		cmd.Kind, cmd.Nav = core.CmdSetNav, &nav
	case FireTorpedo:
		var fire core.FireOrder
		err = json.Unmarshal(c.Arguments, &fire)
		cmd.Kind, cmd.Fire = core.CmdFireTorpedo, &fire
	case DeployCountermeasure:
		var cm core.CountermeasureOrder
		err = json.Unmarshal(c.Arguments, &cm)
		cmd.Kind, cmd.Countermeasure = core.CmdDeployCountermeasure, &cm
	case DropDepthCharges:
		var dc core.DepthChargeOrder
		err = json.Unmarshal(c.Arguments, &dc)
		cmd.Kind, cmd.DepthCharges = core.CmdDropDepthCharges, &dc
	}
	if err != nil {
		return core.Command{}, fmt.Errorf("%w: %s: %v", ErrBadArguments, c.Tool, err)
	}
	return cmd, nil
}

// FromCommand renders cmd back into a tool call, the form ship run traces
// record their validated output in. ok is false for kinds that have no tool.
func FromCommand(cmd core.Command) (Call, bool) {
	var (
		tool    string
		payload any
	)
	switch cmd.Kind {
	case core.CmdSetNav:
		tool, payload = SetNav, cmd.Nav
	case core.CmdFireTorpedo:
		tool, payload = FireTorpedo, cmd.Fire
	case core.CmdDeployCountermeasure:
		tool, payload = DeployCountermeasure, cmd.Countermeasure
	case core.CmdDropDepthCharges:
		tool, payload = DropDepthCharges, cmd.DepthCharges
	default:
		return Call{}, false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Call{}, false
	}
	return Call{Tool: tool, Arguments: raw}, true
}
