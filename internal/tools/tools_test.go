package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subbridge/simcore/pkg/core"
)

var agent = core.CommandSource{Origin: core.OriginAgent, RunID: "run-1"}

func TestParseAndCommand(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, cmd core.Command)
	}{
		{
			name:  "set_nav with extra fields",
			input: `{"tool":"set_nav","arguments":{"heading":45,"speed":12,"depth":80,"note":"x"},"summary":"close in","extra":true}`,
			check: func(t *testing.T, cmd core.Command) {
				assert.Equal(t, core.CmdSetNav, cmd.Kind)
				require.NotNil(t, cmd.Nav)
				assert.Equal(t, core.NavOrder{Heading: 45, Speed: 12, Depth: 80}, *cmd.Nav)
			},
		},
		{
			name:  "fire with optional fields missing",
			input: `{"tool":"fire_torpedo","arguments":{"tube":2,"bearing":270.5}}`,
			check: func(t *testing.T, cmd core.Command) {
				assert.Equal(t, core.CmdFireTorpedo, cmd.Kind)
				require.NotNil(t, cmd.Fire)
				assert.Equal(t, 2, cmd.Fire.Tube)
				assert.Equal(t, 270.5, cmd.Fire.Bearing)
				assert.Zero(t, cmd.Fire.RunDepth)
			},
		},
		{
			name:  "countermeasure",
			input: `{"tool":"deploy_countermeasure","arguments":{"type":"decoy"}}`,
			check: func(t *testing.T, cmd core.Command) {
				require.NotNil(t, cmd.Countermeasure)
				assert.Equal(t, core.CountermeasureDecoy, cmd.Countermeasure.Type)
			},
		},
		{
			name:  "depth charges",
			input: `{"tool":"drop_depth_charges","arguments":{"spread_meters":30,"minDepth":40,"maxDepth":90,"spreadSize":6}}`,
			check: func(t *testing.T, cmd core.Command) {
				require.NotNil(t, cmd.DepthCharges)
				assert.Equal(t, core.DepthChargeOrder{SpreadMeters: 30, MinDepth: 40, MaxDepth: 90, SpreadSize: 6}, *cmd.DepthCharges)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := Parse([]byte(tt.input))
			require.NoError(t, err)
			cmd, err := call.Command("red-01", agent)
			require.NoError(t, err)
			assert.Equal(t, "red-01", cmd.ShipID)
			assert.Equal(t, agent, cmd.Source)
			tt.check(t, cmd)
		})
	}
}

func TestCommand_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"unknown tool", `{"tool":"launch_torpedo_quick","arguments":{"bearing":10}}`, ErrUnknownTool},
		{"missing depth", `{"tool":"set_nav","arguments":{"heading":10,"speed":5}}`, ErrMissingField},
		{"missing arguments", `{"tool":"fire_torpedo"}`, ErrMissingField},
		{"wrong type", `{"tool":"set_nav","arguments":{"heading":"north","speed":5,"depth":1}}`, ErrBadArguments},
		{"arguments not object", `{"tool":"set_nav","arguments":[1,2,3]}`, ErrBadArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := Parse([]byte(tt.input))
			require.NoError(t, err)
			_, err = call.Command("red-01", agent)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.ErrorIs(t, err, ErrBadArguments)

	_, err = Parse([]byte(`{"arguments":{}}`))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestAvailable_FollowsCapabilities(t *testing.T) {
	names := func(list []Spec) []string {
		var out []string
		for _, s := range list {
			out = append(out, s.Name)
		}
		return out
	}
	assert.Equal(t, []string{DeployCountermeasure, FireTorpedo, SetNav},
		names(Available(core.Capabilities{HasTorpedoes: true, HasCountermeasures: true})))
	assert.Equal(t, []string{DropDepthCharges, SetNav},
		names(Available(core.Capabilities{Surface: true, HasDepthCharges: true})))
	assert.Equal(t, "set_nav(heading: float, speed: float, depth: float)", Describe(Available(core.Capabilities{})))
}

func TestFromCommand_RoundTripsFallback(t *testing.T) {
	cmd := core.Command{Kind: core.CmdSetNav, ShipID: "red-01", Nav: &core.NavOrder{Heading: 90, Speed: 5, Depth: 50}}
	call, ok := FromCommand(cmd)
	require.True(t, ok)
	assert.Equal(t, SetNav, call.Tool)

	back, err := call.Command("red-01", agent)
	require.NoError(t, err)
	assert.Equal(t, *cmd.Nav, *back.Nav)

	_, ok = FromCommand(core.Command{Kind: core.CmdActivePing})
	assert.False(t, ok)
}
