package orchestrator

import "errors"

// Terminal error conditions surfaced by the pipeline. Each maps to a defined
// fallback rather than an abort where the contract allows one.
var (
	// ErrRoutingAmbiguous marks a router reply with no recognizable label.
	// The turn falls back to the quick-response path.
	ErrRoutingAmbiguous = errors.New("routing ambiguous")

	// ErrPlanningFailed marks a planner/critic exchange that produced no
	// usable steps.
	ErrPlanningFailed = errors.New("planning failed")

	// ErrEvaluationAmbiguous marks an evaluator reply with no recognizable
	// decision. The loop treats it as a break.
	ErrEvaluationAmbiguous = errors.New("evaluation ambiguous")

	// ErrLoopNonTermination marks a run that exhausted its iteration or
	// replan budget.
	ErrLoopNonTermination = errors.New("agentic loop exceeded its budget")

	// ErrPersistenceFailure marks a session save or load failure. The
	// in-memory conversation stays usable.
	ErrPersistenceFailure = errors.New("session persistence failure")

	// ErrSessionBusy is returned when a new message arrives while a
	// background run is still processing for the session.
	ErrSessionBusy = errors.New("session is still processing a previous question")
)
