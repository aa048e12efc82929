package extraction

import (
	"dockhand/internal/usage"
)

// Action is the cost controller's verdict for the next extraction step.
type Action string

const (
	ActionReturnResults Action = "return_results"
	ActionReturnPartial Action = "return_partial" // flag for manual review
	ActionInvokeLLM     Action = "invoke_llm"
)

// LLMPlan carries the parameters of an approved LLM invocation.
type LLMPlan struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Decision pairs the action with its plan when the action is invoke_llm.
type Decision struct {
	Action Action
	Plan   *LLMPlan
	Reason string
}

// Controller is a small state machine over the session cost tracker. The
// state (Accept, TryMini, Escalate, GiveUp) is implicit in the tracker
// counters and the inputs of each decision request.
type Controller struct {
	tracker            *usage.Tracker
	miniModel          string
	largeModel         string
	coverageThreshold  float64
	tableConfThreshold float64
	escalateBelow      float64
}

// NewController wires the controller to a session tracker and thresholds.
func NewController(tracker *usage.Tracker, miniModel, largeModel string,
	coverageThreshold, tableConfThreshold, escalateBelow float64) *Controller {
	return &Controller{
		tracker:            tracker,
		miniModel:          miniModel,
		largeModel:         largeModel,
		coverageThreshold:  coverageThreshold,
		tableConfThreshold: tableConfThreshold,
		escalateBelow:      escalateBelow,
	}
}

// DecideNextAction implements the escalation policy:
//
//   - accept when coverage and table confidence both clear their thresholds;
//   - give up (manual review) when either session cap is exhausted;
//   - try the mini model on the first attempt when the projected cost fits;
//   - escalate to the large model when the mini attempt came back weak;
//   - otherwise return the partial result for manual review.
func (c *Controller) DecideNextAction(coverage, tableConfidence float64, llmAttempts int, lastLLMConfidence float64) Decision {
	if coverage >= c.coverageThreshold && tableConfidence >= c.tableConfThreshold {
		return Decision{Action: ActionReturnResults, Reason: "coverage sufficient"}
	}

	if c.tracker.Exhausted() {
		return Decision{Action: ActionReturnPartial, Reason: "session budget exhausted"}
	}

	if llmAttempts == 0 {
		plan := &LLMPlan{Model: c.miniModel, MaxTokens: 2000, Temperature: 0.1}
		if !c.tracker.WouldExceed(c.tracker.EstimateCost(plan.Model, plan.MaxTokens)) {
			return Decision{Action: ActionInvokeLLM, Plan: plan, Reason: "first attempt, mini model"}
		}
		return Decision{Action: ActionReturnPartial, Reason: "mini call would exceed budget"}
	}

	if llmAttempts == 1 && lastLLMConfidence < c.escalateBelow {
		plan := &LLMPlan{Model: c.largeModel, MaxTokens: 3000, Temperature: 0.2}
		if !c.tracker.WouldExceed(c.tracker.EstimateCost(plan.Model, plan.MaxTokens)) {
			return Decision{Action: ActionInvokeLLM, Plan: plan, Reason: "escalating after low-confidence attempt"}
		}
		return Decision{Action: ActionReturnPartial, Reason: "escalation would exceed budget"}
	}

	return Decision{Action: ActionReturnPartial, Reason: "no further escalation available"}
}
