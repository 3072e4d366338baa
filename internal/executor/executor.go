package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

// Executor routes a claimed command to its registered Handler, appends the
// events the handler produces, and transitions the command to ACK or FAILED.
// Unknown command types fail closed.
type Executor struct {
	Events   *store.EventStore
	Commands *store.CommandStore
	logger   *slog.Logger

	mu       sync.Mutex
	handlers map[types.CommandType]Handler

	executeCount int
	successCount int
	failedCount  int
}

// NewExecutor builds an Executor with no handlers registered; call
// RegisterHandler for each command type the deployment supports.
func NewExecutor(events *store.EventStore, commands *store.CommandStore, logger *slog.Logger) *Executor {
	return &Executor{
		Events:   events,
		Commands: commands,
		logger:   logger.With("component", "executor"),
		handlers: make(map[types.CommandType]Handler),
	}
}

// RegisterHandler installs h for its CommandType, replacing any prior
// handler for that type.
func (e *Executor) RegisterHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[h.CommandType()] = h
}

// SupportedCommands returns the command types with a registered handler.
func (e *Executor) SupportedCommands() []types.CommandType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.CommandType, 0, len(e.handlers))
	for ct := range e.handlers {
		out = append(out, ct)
	}
	return out
}

// Execute dispatches cmd to its handler, appends any events produced, and
// updates the command's status. It never returns an error for a handler
// failure — that's reported as a FAILED command — only for infrastructure
// errors (event append / status update) that leave the pipeline in an
// inconsistent state the caller must react to.
func (e *Executor) Execute(ctx context.Context, cmd types.Command) (success bool, result map[string]any, errMsg string, err error) {
	e.mu.Lock()
	e.executeCount++
	handler, ok := e.handlers[cmd.CommandType]
	e.mu.Unlock()

	if !ok {
		errMsg = fmt.Sprintf("no handler for command type: %s", cmd.CommandType)
		e.logger.Error(errMsg, "command_id", cmd.CommandID)
		e.recordFailure()
		if updateErr := e.Commands.UpdateStatus(ctx, cmd.CommandID, types.StatusFailed, nil, errMsg); updateErr != nil {
			return false, nil, errMsg, updateErr
		}
		return false, nil, errMsg, nil
	}

	res, handlerErr := handler.Execute(ctx, cmd)
	if handlerErr != nil {
		res.Success = false
		res.Error = handlerErr.Error()
	}

	for _, ev := range res.Events {
		if _, appendErr := e.Events.Append(ctx, ev); appendErr != nil {
			e.logger.Error("failed to append handler event", "command_id", cmd.CommandID, "error", appendErr)
			return false, nil, "", appendErr
		}
	}

	if res.Success {
		e.recordSuccess()
		e.logger.Debug("command executed", "command_id", cmd.CommandID, "command_type", cmd.CommandType)
		if updateErr := e.Commands.UpdateStatus(ctx, cmd.CommandID, types.StatusAck, res.Payload, ""); updateErr != nil {
			return false, nil, "", updateErr
		}
		return true, res.Payload, "", nil
	}

	e.recordFailure()
	e.logger.Warn("command failed", "command_id", cmd.CommandID, "command_type", cmd.CommandType, "error", res.Error)
	if updateErr := e.Commands.UpdateStatus(ctx, cmd.CommandID, types.StatusFailed, res.Payload, res.Error); updateErr != nil {
		return false, nil, res.Error, updateErr
	}
	return false, res.Payload, res.Error, nil
}

func (e *Executor) recordSuccess() {
	e.mu.Lock()
	e.successCount++
	e.mu.Unlock()
}

func (e *Executor) recordFailure() {
	e.mu.Lock()
	e.failedCount++
	e.mu.Unlock()
}

// Stats is a snapshot of the executor's running counters.
type Stats struct {
	ExecuteCount int
	SuccessCount int
	FailedCount  int
}

// Stats returns the executor's running counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{ExecuteCount: e.executeCount, SuccessCount: e.successCount, FailedCount: e.failedCount}
}

// ResetStats zeroes the executor's running counters.
func (e *Executor) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executeCount, e.successCount, e.failedCount = 0, 0, 0
}
