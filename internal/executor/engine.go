package executor

import (
	"context"
	"fmt"
	"time"

	"alphaengine-core/internal/dedup"
	"alphaengine-core/pkg/types"
)

// EngineStateSetter applies a new engine mode to whatever component gates
// command claiming on it. Declared locally to avoid importing internal/engine.
type EngineStateSetter func(ctx context.Context, mode types.EngineMode) error

func actorString(a types.Actor) string { return fmt.Sprintf("%s:%s", a.Kind, a.ID) }

// PauseEngineHandler stops new order emission while leaving resting orders
// untouched.
type PauseEngineHandler struct {
	SetState EngineStateSetter
}

func (h *PauseEngineHandler) CommandType() types.CommandType { return types.CmdPauseEngine }

func (h *PauseEngineHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	reason, _ := cmd.Payload["reason"].(string)
	if reason == "" {
		reason = "Manual pause"
	}
	if h.SetState != nil {
		if err := h.SetState(ctx, types.ModePaused); err != nil {
			return Result{Success: false, Error: err.Error()}, nil
		}
	}

	now := time.Now().UTC()
	event := types.Event{
		EventType:     types.EvtEnginePaused,
		TS:            now,
		Source:        types.SourceBot,
		EntityKind:    types.EntityEngine,
		EntityID:      "main",
		Scope:         cmd.Scope,
		DedupKey:      dedup.EngineEvent("paused", now.UnixMilli()),
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Payload: map[string]any{
			"reason":    reason,
			"actor":     actorString(cmd.Actor),
			"paused_at": now.Format(time.RFC3339),
		},
	}

	return Result{Success: true, Payload: map[string]any{"status": "PAUSED"}, Events: []types.Event{event}}, nil
}

// ResumeEngineHandler returns the engine to RUNNING.
type ResumeEngineHandler struct {
	SetState EngineStateSetter
}

func (h *ResumeEngineHandler) CommandType() types.CommandType { return types.CmdResumeEngine }

func (h *ResumeEngineHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	reason, _ := cmd.Payload["reason"].(string)
	if reason == "" {
		reason = "Manual resume"
	}
	if h.SetState != nil {
		if err := h.SetState(ctx, types.ModeRunning); err != nil {
			return Result{Success: false, Error: err.Error()}, nil
		}
	}

	now := time.Now().UTC()
	event := types.Event{
		EventType:     types.EvtEngineResumed,
		TS:            now,
		Source:        types.SourceBot,
		EntityKind:    types.EntityEngine,
		EntityID:      "main",
		Scope:         cmd.Scope,
		DedupKey:      dedup.EngineEvent("resumed", now.UnixMilli()),
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Payload: map[string]any{
			"reason":     reason,
			"actor":      actorString(cmd.Actor),
			"resumed_at": now.Format(time.RFC3339),
		},
	}

	return Result{Success: true, Payload: map[string]any{"status": "RUNNING"}, Events: []types.Event{event}}, nil
}

// SetEngineModeHandler sets the engine to RUNNING, PAUSED, or SAFE. SAFE
// forbids new position-increasing orders while still allowing closes.
type SetEngineModeHandler struct {
	SetState EngineStateSetter
}

func (h *SetEngineModeHandler) CommandType() types.CommandType { return types.CmdSetEngineMode }

func (h *SetEngineModeHandler) Execute(ctx context.Context, cmd types.Command) (Result, error) {
	newModeStr, _ := cmd.Payload["mode"].(string)
	if newModeStr == "" {
		return Result{Success: false, Error: "mode is required"}, nil
	}
	newMode := types.EngineMode(newModeStr)
	switch newMode {
	case types.ModeRunning, types.ModePaused, types.ModeSafe:
	default:
		return Result{Success: false, Error: fmt.Sprintf("invalid mode: %s", newModeStr)}, nil
	}

	reason, _ := cmd.Payload["reason"].(string)
	if reason == "" {
		reason = fmt.Sprintf("Set mode to %s", newMode)
	}
	if h.SetState != nil {
		if err := h.SetState(ctx, newMode); err != nil {
			return Result{Success: false, Error: err.Error()}, nil
		}
	}

	now := time.Now().UTC()
	event := types.Event{
		EventType:     types.EvtEngineModeChanged,
		TS:            now,
		Source:        types.SourceBot,
		EntityKind:    types.EntityEngine,
		EntityID:      "main",
		Scope:         cmd.Scope,
		DedupKey:      dedup.EngineEvent("mode_changed", now.UnixMilli()),
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Payload: map[string]any{
			"new_mode":   string(newMode),
			"reason":     reason,
			"actor":      actorString(cmd.Actor),
			"changed_at": now.Format(time.RFC3339),
		},
	}

	return Result{Success: true, Payload: map[string]any{"status": string(newMode)}, Events: []types.Event{event}}, nil
}
