package think

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fentz26/cortex/internal/router"
)

// HandlerPayload is the payload of a "handler" action.
type HandlerPayload struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HandlerExecutor dispatches "handler" actions to action-role router handlers.
type HandlerExecutor struct {
	Router *router.Router
}

// Execute implements Executor.
func (h HandlerExecutor) Execute(ctx context.Context, actionType string, payload json.RawMessage) (any, error) {
	var p HandlerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode handler payload: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("handler payload has no name")
	}
	var data any
	if len(p.Data) > 0 {
		if err := json.Unmarshal(p.Data, &data); err != nil {
			return nil, fmt.Errorf("decode handler data: %w", err)
		}
	}
	return h.Router.DispatchToAction(ctx, p.Name, data)
}
