package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

func getRetryConfig(opts ChatOptions) *RetryConfig {
	if opts.RetryConfig != nil {
		return opts.RetryConfig
	}
	defaultConfig := DefaultRetryConfig()
	return &defaultConfig
}

// toolResult represents the result of executing a tool call.
type toolResult struct {
	idx     int
	content string
	err     error
	call    ToolCall
}

// executeToolsWithRetry runs tool calls concurrently and returns results in order.
func executeToolsWithRetry(ctx context.Context, calls []ToolCall, reg ToolRegistry, retryConfig *RetryConfig, hooks Hooks, st *State) []toolResult {
	if len(calls) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	results := make([]toolResult, len(calls))

	for i, call := range calls {
		wg.Add(1)
		go func(i int, c ToolCall) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				results[i] = toolResult{idx: i, err: ctx.Err(), call: c}
				return
			default:
			}

			hooks.OnToolCall(ctx, st, c)

			res, err := RetryToolCall(
				ctx,
				retryConfig.ToolPolicy,
				c,
				reg,
				func(attempt int, delay time.Duration, retryErr error) {
					hooks.OnRetryAttempt(ctx, st, attempt, retryConfig.ToolPolicy.MaxRetries, delay, retryErr)
				},
			)
			if IsRetryExhausted(err) {
				hooks.OnRetryExhausted(ctx, st, err)
			}
			results[i] = toolResult{idx: i, content: res, err: err, call: c}
		}(i, call)
	}

	wg.Wait()
	return results
}

func executeTool(ctx context.Context, call ToolCall, reg ToolRegistry) (string, error) {
	t, ok := reg[call.Name]
	if !ok {
		return "", fmt.Errorf("tool not found: %s (available tools: %v)", call.Name, reg.Names())
	}

	if err := t.ValidateArgs(call.Args); err != nil {
		return "", fmt.Errorf("validation failed for tool %s: %w", call.Name, err)
	}

	result, err := t.Fn(ctx, call.Args)
	if err != nil {
		return "", fmt.Errorf("execution failed for tool %s: %w", call.Name, err)
	}

	return result, nil
}

// executeToolCalls executes tool calls and appends results to history.
// Tool failures become error text in the history rather than aborting the
// run; the model sees them and can recover or report them.
func executeToolCalls(ctx context.Context, calls []ToolCall, reg ToolRegistry, retryConfig *RetryConfig, hooks Hooks, st *State) {
	if len(calls) == 0 {
		return
	}

	results := executeToolsWithRetry(ctx, calls, reg, retryConfig, hooks, st)

	// Append tool results in order. The tool call ID is used as the Name
	// field so providers can match tool messages back to tool calls.
	for _, o := range results {
		st.MarkToolUsed(o.call.Name)
		if o.err != nil {
			o.content = "ERROR: " + o.err.Error()
		}
		toolCallID := o.call.ID
		if toolCallID == "" {
			toolCallID = o.call.Name
		}
		st.Append(ChatMessage{Role: RoleTool, Name: toolCallID, Content: o.content})
		hooks.OnToolResult(ctx, st, o.call, o.content, o.err)
	}
}

func stepOnce(ctx context.Context, llm LLMClient, reg ToolRegistry, st *State, hooks Hooks, opts ChatOptions) error {
	hooks.OnStepStart(ctx, st)

	msgs := append([]ChatMessage(nil), st.History...)
	retryConfig := getRetryConfig(opts)
	toolSchemas := reg.Schemas()

	hooks.OnBeforeLLM(ctx, st, msgs, toolSchemas)

	resp, err := RetryLLMCall(
		ctx, retryConfig.LLMPolicy, llm, st.Model, msgs, toolSchemas, opts,
		func(attempt int, delay time.Duration, retryErr error) {
			hooks.OnRetryAttempt(ctx, st, attempt, retryConfig.LLMPolicy.MaxRetries, delay, retryErr)
		},
	)
	if err != nil {
		if IsRetryExhausted(err) {
			hooks.OnRetryExhausted(ctx, st, err)
		}
		return fmt.Errorf("llm call at step %d: %w", st.Step, err)
	}

	hooks.OnAfterLLM(ctx, st, resp)

	st.Totals.Prompt += resp.Usage.Prompt
	st.Totals.Completion += resp.Usage.Completion
	st.Totals.Total += resp.Usage.Total

	assistantMsg := resp.Assistant
	assistantMsg.ToolCalls = resp.ToolCalls
	st.Append(assistantMsg)

	// A plain answer with no tool calls ends the run.
	if len(resp.ToolCalls) == 0 {
		st.Done = true
		return nil
	}

	executeToolCalls(ctx, resp.ToolCalls, reg, retryConfig, hooks, st)
	return nil
}
