package executor

import (
	"context"
	"errors"
	"testing"

	"alphaengine-core/pkg/types"
)

func TestPauseEngineHandlerCallsSetState(t *testing.T) {
	t.Parallel()
	var seen types.EngineMode
	h := &PauseEngineHandler{SetState: func(ctx context.Context, mode types.EngineMode) error {
		seen = mode
		return nil
	}}

	res, err := h.Execute(context.Background(), types.Command{CommandID: "cmd-1", Actor: types.Actor{Kind: types.ActorUser, ID: "op"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || seen != types.ModePaused {
		t.Errorf("expected success and PAUSED state, got success=%v mode=%v", res.Success, seen)
	}
	if len(res.Events) != 1 || res.Events[0].EventType != types.EvtEnginePaused {
		t.Errorf("expected an EnginePaused event, got %+v", res.Events)
	}
}

func TestResumeEngineHandlerPropagatesSetStateError(t *testing.T) {
	t.Parallel()
	h := &ResumeEngineHandler{SetState: func(ctx context.Context, mode types.EngineMode) error {
		return errors.New("refused")
	}}

	res, err := h.Execute(context.Background(), types.Command{CommandID: "cmd-2"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("expected failure when SetState errors")
	}
}

func TestSetEngineModeHandlerRejectsInvalidMode(t *testing.T) {
	t.Parallel()
	h := &SetEngineModeHandler{}

	res, err := h.Execute(context.Background(), types.Command{CommandID: "cmd-3", Payload: map[string]any{"mode": "BOGUS"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("expected failure for an invalid mode")
	}
}

func TestSetEngineModeHandlerAcceptsSafe(t *testing.T) {
	t.Parallel()
	var seen types.EngineMode
	h := &SetEngineModeHandler{SetState: func(ctx context.Context, mode types.EngineMode) error {
		seen = mode
		return nil
	}}

	res, err := h.Execute(context.Background(), types.Command{CommandID: "cmd-4", Payload: map[string]any{"mode": "SAFE"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || seen != types.ModeSafe {
		t.Errorf("expected success and SAFE state, got success=%v mode=%v", res.Success, seen)
	}
	if res.Events[0].Payload["new_mode"] != "SAFE" {
		t.Errorf("expected new_mode=SAFE in event payload, got %v", res.Events[0].Payload["new_mode"])
	}
}
