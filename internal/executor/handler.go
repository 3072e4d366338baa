// Package executor dispatches claimed commands to per-command-type
// handlers, appends the events each handler produces, and transitions the
// command to ACK or FAILED.
package executor

import (
	"context"

	"alphaengine-core/pkg/types"
)

// Result is a handler's outcome: success, a result payload for the command's
// result column, an error message for FAILED commands, and the events the
// handler wants appended (appended regardless of success, since a rejection
// event is itself a handler-produced fact).
type Result struct {
	Success bool
	Payload map[string]any
	Error   string
	Events  []types.Event
}

// Handler executes one command type.
type Handler interface {
	CommandType() types.CommandType
	Execute(ctx context.Context, cmd types.Command) (Result, error)
}
