// Package mcptools exposes an engine to MCP clients over stdio.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"go-stepseq/debug"
	"go-stepseq/sequencer"
)

// Tools holds the handlers bound to one engine.
type Tools struct {
	engine *sequencer.Engine
}

func NewTools(e *sequencer.Engine) *Tools {
	return &Tools{engine: e}
}

// NewServer registers every tool against e.
func NewServer(e *sequencer.Engine, version string) *server.MCPServer {
	t := NewTools(e)
	s := server.NewMCPServer(
		"go-stepseq",
		version,
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("stepseq_status",
		mcp.WithDescription("Returns transport state, tempo, position and session counters."),
	), t.Status)

	s.AddTool(mcp.NewTool("stepseq_list-sequences",
		mcp.WithDescription("Lists the sequences of a bank with their play state, mode and trigger note."),
		mcp.WithNumber("bank", mcp.Required(), mcp.Description("Bank number (1-255).")),
	), t.ListSequences)

	s.AddTool(mcp.NewTool("stepseq_toggle-sequence",
		mcp.WithDescription("Starts a stopped sequence or stops a playing one. Starting also rolls the transport."),
		mcp.WithNumber("bank", mcp.Required(), mcp.Description("Bank number (1-255).")),
		mcp.WithNumber("sequence", mcp.Required(), mcp.Description("Sequence index within the bank, starting at 0.")),
	), t.ToggleSequence)

	s.AddTool(mcp.NewTool("stepseq_set-tempo",
		mcp.WithDescription("Sets the internal tempo in beats per minute. Values are clamped to 20-300."),
		mcp.WithNumber("tempo", mcp.Required(), mcp.Description("Tempo in BPM.")),
	), t.SetTempo)

	s.AddTool(mcp.NewTool("stepseq_transport",
		mcp.WithDescription("Controls the transport."),
		mcp.WithString("action", mcp.Required(), mcp.Description("One of start, stop, toggle, rewind.")),
	), t.Transport)

	s.AddTool(mcp.NewTool("stepseq_add-note",
		mcp.WithDescription("Adds a note to a pattern. Fails if the step is outside the pattern or the velocity is out of range."),
		mcp.WithNumber("pattern", mcp.Required(), mcp.Description("Pattern id.")),
		mcp.WithNumber("step", mcp.Required(), mcp.Description("Step index, starting at 0.")),
		mcp.WithNumber("pitch", mcp.Required(), mcp.Description("MIDI note number (0-127).")),
		mcp.WithNumber("velocity", mcp.Description("Velocity (1-127), default 100.")),
		mcp.WithNumber("duration", mcp.Description("Length in steps, default 1.")),
	), t.AddNote)

	return s
}

// Serve blocks serving MCP on stdin/stdout.
func Serve(e *sequencer.Engine, version string) error {
	debug.Log("mcp", "starting stdio server")
	return server.ServeStdio(NewServer(e, version))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *Tools) Status(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	debug.Log("mcp", "status")
	tr := t.engine.Transport()
	pos := tr.Position()
	return jsonResult(map[string]any{
		"rolling":     tr.IsRolling(),
		"tempo":       tr.Tempo(),
		"beatsPerBar": tr.BeatsPerBar(),
		"position":    fmt.Sprintf("%d.%d.%02d", pos.Bar, pos.Beat, pos.Tick),
		"clockSource": tr.ClockSource().String(),
		"stats":       t.engine.Stats(),
		"modified":    t.engine.IsModified(),
	})
}

type sequenceSummary struct {
	Index       int    `json:"index"`
	Name        string `json:"name,omitempty"`
	State       string `json:"state"`
	Mode        string `json:"mode"`
	Length      uint32 `json:"length"`
	TriggerNote int    `json:"triggerNote"`
}

func bankArg(request mcp.CallToolRequest) (uint8, error) {
	n, err := request.RequireInt("bank")
	if err != nil {
		return 0, err
	}
	if n < 1 || n > 255 {
		return 0, fmt.Errorf("bank %d out of range", n)
	}
	return uint8(n), nil
}

func (t *Tools) ListSequences(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bank, err := bankArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b := t.engine.Bank(bank)
	if b == nil {
		return mcp.NewToolResultError(fmt.Sprintf("bank %d does not exist", bank)), nil
	}
	list := []sequenceSummary{}
	for i, s := range b.Sequences() {
		trigger := -1
		if note := s.TriggerNote(); note != sequencer.NoTrigger {
			trigger = int(note)
		}
		list = append(list, sequenceSummary{
			Index:       i,
			Name:        s.Name(),
			State:       s.PlayState().String(),
			Mode:        s.PlayMode().String(),
			Length:      s.Length(),
			TriggerNote: trigger,
		})
	}
	return jsonResult(list)
}

func (t *Tools) ToggleSequence(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bank, err := bankArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	seq, err := request.RequireInt("sequence")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if t.engine.Sequence(bank, seq) == nil {
		return mcp.NewToolResultError(fmt.Sprintf("bank %d has no sequence %d", bank, seq)), nil
	}
	debug.Log("mcp", "toggle bank %d seq %d", bank, seq)
	t.engine.TogglePlayState(bank, seq)
	return mcp.NewToolResultText(fmt.Sprintf("bank %d sequence %d is %s", bank, seq, t.engine.PlayState(bank, seq))), nil
}

func (t *Tools) SetTempo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bpm, err := request.RequireFloat("tempo")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tr := t.engine.Transport()
	tr.SetTempo(bpm)
	return mcp.NewToolResultText(fmt.Sprintf("tempo %.2f", tr.Tempo())), nil
}

func (t *Tools) Transport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := request.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tr := t.engine.Transport()
	client := t.engine.Options().Client
	switch action {
	case "start":
		tr.Start(client)
	case "stop":
		tr.Stop(client)
	case "toggle":
		tr.Toggle(client)
	case "rewind":
		if !tr.Locate(client, 0) {
			return mcp.NewToolResultError("timebase held by " + tr.TimebaseMaster()), nil
		}
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
	state := "stopped"
	if tr.IsRolling() {
		state = "rolling"
	}
	return mcp.NewToolResultText("transport " + state), nil
}

func (t *Tools) AddNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireInt("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	step, err := request.RequireInt("step")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pitch, err := request.RequireInt("pitch")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	velocity := request.GetInt("velocity", 100)
	duration := request.GetFloat("duration", 1)

	if id < 0 || step < 0 || pitch < 0 || pitch > 127 || velocity < 1 || velocity > 127 {
		return mcp.NewToolResultError("pattern, step, pitch or velocity out of range"), nil
	}
	p := t.engine.Patterns().Get(uint32(id))
	if p == nil {
		return mcp.NewToolResultError(fmt.Sprintf("pattern %d does not exist", id)), nil
	}
	if !p.AddNote(uint32(step), uint8(pitch), uint8(velocity), duration) {
		return mcp.NewToolResultError(fmt.Sprintf("note %d/%d rejected by pattern %d", step, pitch, id)), nil
	}
	debug.Log("mcp", "pattern %d note %d/%d vel %d", id, step, pitch, velocity)
	return mcp.NewToolResultText(fmt.Sprintf("added note %d at step %d of pattern %d", pitch, step, id)), nil
}
