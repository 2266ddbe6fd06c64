package engine

import (
	"context"
	"fmt"
)

// Run executes the reasoning loop until the model answers without tool
// calls, max steps are reached, or an error occurs. Retries happen inside
// stepOnce; an error here means they were exhausted or the failure was not
// retryable.
func Run(ctx context.Context, llm LLMClient, reg ToolRegistry, st *State, hooks Hooks, opts ChatOptions) error {
	st.Step = 0

	for st.Step < st.MaxSteps && !st.Done {
		select {
		case <-ctx.Done():
			return fmt.Errorf("execution cancelled: %w", ctx.Err())
		default:
		}

		if err := stepOnce(ctx, llm, reg, st, hooks, opts); err != nil {
			return err
		}
		st.Step++
	}
	if st.Done {
		hooks.OnDone(ctx, st)
	}
	return nil
}

// Complete is a single tool-free chat call, the shape every classifier stage
// (router, planner, critic, evaluator, summarizer) uses.
func Complete(ctx context.Context, llm LLMClient, model, system, user string, opts ChatOptions) (string, error) {
	msgs := []ChatMessage{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}
	retryConfig := getRetryConfig(opts)
	resp, err := RetryLLMCall(ctx, retryConfig.LLMPolicy, llm, model, msgs, nil, opts, nil)
	if err != nil {
		return "", err
	}
	return resp.Assistant.Content, nil
}
