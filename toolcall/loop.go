package toolcall

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"goa.design/clue/log"
)

type (
	// Status discriminates loop outcomes so callers can tell "model
	// finished" from "ran out of rounds" from "failed".
	Status string

	// Outcome is the terminal state of one Run invocation.
	Outcome struct {
		// Status is the terminal status.
		Status Status
		// Response is the last decoded response. On StatusDone it is the
		// model's final answer; on StatusRoundLimit the response whose tool
		// calls were not resubmitted; on StatusFailed the last successful
		// response, if any.
		Response *Response
		// RoundsUsed counts turns sent.
		RoundsUsed int
		// PendingToolCalls lists tool calls left unexecuted when the round
		// limit was reached.
		PendingToolCalls []Call
		// Err is the failure cause on StatusFailed.
		Err error
	}

	// Loop drives tool-calling rounds. A Loop value holds configuration
	// only and is safe to share; per-run state lives on the stack of Run,
	// so callers must serialize rounds per conversation themselves (one
	// Run drives one conversation turn at a time).
	Loop struct {
		sender   TurnSender
		exec     Executor
		max      int
		parallel bool
		schemas  *SchemaSet
	}

	// LoopOption configures a Loop.
	LoopOption func(*Loop)
)

const (
	// StatusDone means the model produced a final answer.
	StatusDone Status = "done"
	// StatusRoundLimit means the round budget ran out before completion.
	StatusRoundLimit Status = "round_limit_reached"
	// StatusFailed means a transport or fatal tool failure aborted the run.
	StatusFailed Status = "failed"
)

// DefaultMaxRounds bounds tool-calling rounds when unconfigured.
const DefaultMaxRounds = 8

// WithMaxRounds sets the round budget.
func WithMaxRounds(n int) LoopOption {
	return func(l *Loop) { l.max = n }
}

// WithParallelExecution runs one round's tool calls concurrently. Outputs
// are always joined before resubmission; partial results are never sent.
func WithParallelExecution() LoopOption {
	return func(l *Loop) { l.parallel = true }
}

// WithSchemas validates tool arguments against per-tool JSON Schemas before
// execution. Invalid arguments become error-payload tool results.
func WithSchemas(s *SchemaSet) LoopOption {
	return func(l *Loop) { l.schemas = s }
}

// NewLoop constructs a Loop from a turn sender and tool executor.
func NewLoop(sender TurnSender, exec Executor, opts ...LoopOption) (*Loop, error) {
	if sender == nil {
		return nil, errors.New("toolcall: turn sender is required")
	}
	if exec == nil {
		return nil, errors.New("toolcall: executor is required")
	}
	l := &Loop{sender: sender, exec: exec, max: DefaultMaxRounds}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.max <= 0 {
		l.max = DefaultMaxRounds
	}
	return l, nil
}

// Run executes the loop starting from the caller's initial turn payload.
// The payload is passed through opaquely; the loop only adds
// previous_response_id linking and function_call_output items between
// rounds. StatusFailed outcomes are also returned as a non-nil error; a
// round-limit outcome is not an error.
func (l *Loop) Run(ctx context.Context, payload map[string]any) (*Outcome, error) {
	rounds := 0
	var lastResp *Response
	for {
		rounds++
		raw, err := l.sender.SendTurn(ctx, payload)
		if err != nil {
			out := &Outcome{Status: StatusFailed, Response: lastResp, RoundsUsed: rounds, Err: err}
			return out, fmt.Errorf("toolcall: round %d: %w", rounds, err)
		}
		resp, err := ParseResponse(raw)
		if err != nil {
			out := &Outcome{Status: StatusFailed, Response: lastResp, RoundsUsed: rounds, Err: err}
			return out, fmt.Errorf("toolcall: round %d: %w", rounds, err)
		}
		lastResp = resp

		if len(resp.ToolCalls) == 0 {
			return &Outcome{Status: StatusDone, Response: resp, RoundsUsed: rounds}, nil
		}
		if rounds >= l.max {
			log.Debug(ctx, log.KV{K: "msg", V: "tool loop round limit reached"},
				log.KV{K: "rounds", V: rounds},
				log.KV{K: "pending_calls", V: len(resp.ToolCalls)})
			return &Outcome{
				Status:           StatusRoundLimit,
				Response:         resp,
				RoundsUsed:       rounds,
				PendingToolCalls: resp.ToolCalls,
			}, nil
		}

		results, err := l.executeRound(ctx, resp.ToolCalls)
		if err != nil {
			out := &Outcome{Status: StatusFailed, Response: resp, RoundsUsed: rounds, Err: err}
			return out, fmt.Errorf("toolcall: round %d: %w", rounds, err)
		}
		payload = nextPayload(payload, resp.ID, results)
	}
}

// executeRound runs all of one round's tool calls and joins their outputs.
// Non-fatal executor errors become error-payload results; a fatal error
// aborts the round.
func (l *Loop) executeRound(ctx context.Context, calls []Call) ([]Result, error) {
	if !l.parallel || len(calls) == 1 {
		results := make([]Result, 0, len(calls))
		for _, call := range calls {
			res, err := l.executeOne(ctx, call)
			if err != nil {
				return nil, err
			}
			results = append(results, res)
		}
		return results, nil
	}

	results := make([]Result, len(calls))
	errs := make([]error, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			results[i], errs[i] = l.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// executeOne validates and executes a single call. Only fatal errors are
// returned; everything else is folded into the Result as an error payload
// the model can read.
func (l *Loop) executeOne(ctx context.Context, call Call) (Result, error) {
	if l.schemas != nil {
		if err := l.schemas.Validate(call.Name, call.Arguments); err != nil {
			return errResult(call, err), nil
		}
	}
	res, err := l.exec.Execute(ctx, call)
	if err != nil {
		if isFatal(err) || ctx.Err() != nil {
			return Result{}, err
		}
		log.Debug(ctx, log.KV{K: "msg", V: "tool execution failed"},
			log.KV{K: "tool", V: call.Name},
			log.KV{K: "tool_call_id", V: call.ID},
			log.KV{K: "err", V: err.Error()})
		return errResult(call, err), nil
	}
	if res.ToolCallID == "" {
		res.ToolCallID = call.ID
	}
	return res, nil
}

func errResult(call Call, err error) Result {
	return Result{
		ToolCallID: call.ID,
		Output: map[string]any{
			"error": err.Error(),
			"tool":  call.Name,
		},
	}
}

// nextPayload builds the follow-up turn: the base request fields carry over
// (model, instructions, tool definitions), the previous response is linked,
// and the input is replaced with the joined tool outputs.
func nextPayload(prev map[string]any, responseID string, results []Result) map[string]any {
	next := make(map[string]any, len(prev)+2)
	for k, v := range prev {
		if k == "input" || k == "previous_response_id" {
			continue
		}
		next[k] = v
	}
	if responseID != "" {
		next["previous_response_id"] = responseID
	}
	outputs := make([]any, 0, len(results))
	for _, res := range results {
		outputs = append(outputs, map[string]any{
			"type":    "function_call_output",
			"call_id": res.ToolCallID,
			"output":  outputValue(res.Output),
		})
	}
	next["input"] = outputs
	return next
}
