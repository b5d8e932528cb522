// Package toolcall orchestrates multi-round tool calling: send a turn,
// detect requested tool invocations in the response, execute them through a
// caller-supplied executor, append the outputs, and resend until the model
// completes, the round budget is exhausted, or a failure occurs.
package toolcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelrelay/modelrelay/jsonval"
)

type (
	// Call is one tool invocation requested by the model.
	Call struct {
		// ID is the provider-assigned tool call identifier.
		ID string
		// Name is the tool name to execute.
		Name string
		// Arguments is the decoded argument payload.
		Arguments jsonval.Value
	}

	// Result is the output of one executed tool call, fed back into the
	// next turn.
	Result struct {
		// ToolCallID correlates the output with the requested call.
		ToolCallID string
		// Output is the tool's result: a string or any JSON-serializable
		// value. Failed calls carry an error payload here.
		Output any
	}

	// Executor runs caller-supplied tools. Implementations may be invoked
	// concurrently for independent calls within one round when the loop is
	// configured for parallel execution.
	Executor interface {
		Execute(ctx context.Context, call Call) (Result, error)
	}

	// ExecutorFunc adapts a function to the Executor interface.
	ExecutorFunc func(ctx context.Context, call Call) (Result, error)

	// TurnSender submits one conversation turn and returns the decoded
	// response. transport.Client satisfies this through the Sender adapter
	// in this package; tests script it directly.
	TurnSender interface {
		SendTurn(ctx context.Context, payload map[string]any) (jsonval.Value, error)
	}

	// FatalError marks an executor failure that must abort the loop instead
	// of being fed back to the model as an error result.
	FatalError struct {
		Cause error
	}
)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, call Call) (Result, error) {
	return f(ctx, call)
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal tool failure: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *FatalError) Unwrap() error { return e.Cause }

// Fatal wraps err so the loop treats it as non-recoverable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Cause: err}
}

func isFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Response is one decoded conversation turn response.
type Response struct {
	// ID is the upstream response identifier, used to link the next turn.
	ID string
	// ToolCalls lists the tool invocations the model requested, in order.
	ToolCalls []Call
	// OutputText is the concatenated assistant text output, when present.
	OutputText string
	// Raw is the full decoded response payload.
	Raw jsonval.Value
}

// ParseResponse extracts the turn structure from a raw response payload.
// Tool calls are "function_call" entries of the output array; their
// arguments arrive either as a JSON string or as an inline object.
func ParseResponse(v jsonval.Value) (*Response, error) {
	resp := &Response{Raw: v}
	if id, ok := v.Lookup("id"); ok {
		resp.ID = id.StringOr("")
	}
	out, ok := v.Lookup("output")
	if !ok {
		return resp, nil
	}
	items, err := out.Array()
	if err != nil {
		return nil, fmt.Errorf("toolcall: response output: %w", err)
	}
	for _, item := range items {
		typ, _ := item.Lookup("type")
		switch typ.StringOr("") {
		case "function_call":
			call, err := parseCall(item)
			if err != nil {
				return nil, err
			}
			resp.ToolCalls = append(resp.ToolCalls, call)
		case "message":
			resp.OutputText += messageText(item)
		}
	}
	return resp, nil
}

func parseCall(item jsonval.Value) (Call, error) {
	var call Call
	if id, ok := item.Lookup("call_id"); ok {
		call.ID = id.StringOr("")
	}
	if call.ID == "" {
		if id, ok := item.Lookup("id"); ok {
			call.ID = id.StringOr("")
		}
	}
	name, err := item.Get("name")
	if err != nil {
		return Call{}, fmt.Errorf("toolcall: function_call: %w", err)
	}
	if call.Name, err = name.String(); err != nil {
		return Call{}, fmt.Errorf("toolcall: function_call name: %w", err)
	}
	args, ok := item.Lookup("arguments")
	if !ok {
		call.Arguments = jsonval.Of(map[string]any{})
		return call, nil
	}
	if s, err := args.String(); err == nil {
		decoded, err := jsonval.Decode([]byte(s))
		if err != nil {
			return Call{}, fmt.Errorf("toolcall: decode arguments for %q: %w", call.Name, err)
		}
		call.Arguments = decoded
		return call, nil
	}
	call.Arguments = args
	return call, nil
}

func messageText(item jsonval.Value) string {
	content, ok := item.Lookup("content")
	if !ok {
		return ""
	}
	parts, err := content.Array()
	if err != nil {
		return content.StringOr("")
	}
	var text string
	for _, p := range parts {
		if t, ok := p.Lookup("text"); ok {
			text += t.StringOr("")
		}
	}
	return text
}

// outputValue renders a tool output for the wire: strings pass through,
// anything else is JSON-encoded.
func outputValue(out any) any {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	case jsonval.Value:
		return v.Raw()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
