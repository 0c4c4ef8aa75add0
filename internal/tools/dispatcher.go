// Package tools routes AI-issued function calls to named handlers and turns
// every outcome, including failures, into a structured JSON payload the
// backend can keep the conversation going with.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voice-support-relay/internal/logging"
	"github.com/voice-support-relay/internal/relay"
)

// Handler answers one function call. args is the decoded argument map from
// the model (opaque JSON, may be missing keys). The returned value is
// marshalled verbatim as the tool output.
type Handler func(ctx context.Context, args map[string]interface{}, sess *relay.CallSession) (interface{}, error)

// Dispatcher maps function names to handlers. Handlers must be safe to
// invoke more than once; the model occasionally repeats calls.
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

// Invoke implements relay.ToolInvoker. It never panics outward and never
// returns a non-JSON string: unknown names and handler failures become
// {"error": ...} payloads so the conversation continues uninterrupted.
func (d *Dispatcher) Invoke(ctx context.Context, name, callID string, args json.RawMessage, sess *relay.CallSession) (out string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorw("tool handler panicked", "tool", name, "call_id", callID, "panic", r)
			out = errorPayload(fmt.Sprintf("internal error in %s", name))
		}
	}()

	h, ok := d.handlers[name]
	if !ok {
		logging.Warnw("unknown tool requested", "tool", name, "call_id", callID)
		return errorPayload(fmt.Sprintf("unknown function: %s", name))
	}

	argMap := map[string]interface{}{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argMap); err != nil {
			logging.Warnw("tool arguments not decodable", "tool", name, "err", err)
			return errorPayload(fmt.Sprintf("invalid arguments for %s", name))
		}
	}

	result, err := h(ctx, argMap, sess)
	if err != nil {
		logging.Warnw("tool handler failed", "tool", name, "call_id", callID, "err", err)
		return errorPayload(err.Error())
	}

	b, merr := json.Marshal(result)
	if merr != nil {
		logging.Errorw("tool result not marshallable", "tool", name, "err", merr)
		return errorPayload(fmt.Sprintf("unencodable result from %s", name))
	}
	return string(b)
}

func errorPayload(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

// stringArg fetches a string argument, empty when absent or mistyped.
func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
