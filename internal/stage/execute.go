package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/smartstress/smartstress/internal/session"
)

// Execute resolves a confirmed or declined action proposal. The tool
// call itself is mocked: the action is narrated back to the user,
// nothing external is modified.
//
// On yes it performs the action and atomically clears the action, the
// stressor, and both confirmation fields. On no/cancel it clears only
// the action and confirmation fields, leaving the stressor intact so
// the user can redirect the conversation.
type Execute struct {
	Now nowFunc
}

// NewExecute builds the execute stage.
func NewExecute() *Execute { return &Execute{Now: time.Now} }

func (e *Execute) Name() string { return NameExecute }

// Run implements Stage.
func (e *Execute) Run(_ context.Context, st *session.State) (session.Update, error) {
	if st.HumanConfirmationResponse != session.ConfirmYes {
		if st.SuggestedAction == nil && st.HumanConfirmationResponse == "" {
			return session.Update{}, nil
		}
		// Declined or stray response: drop the proposal and the
		// confirmation fields together, keep the stressor.
		return session.Update{
			ClearAction:       true,
			ClearConfirmation: true,
			Awaiting:          boolPtr(false),
			Audit: []session.AuditEvent{audit(NameExecute, "Execution skipped (no consent)",
				map[string]interface{}{"response": string(st.HumanConfirmationResponse)}, e.Now)},
		}, nil
	}

	if st.SuggestedAction == nil {
		// A yes with nothing to execute cannot happen through routing,
		// but clear the response anyway so the run can terminate.
		return session.Update{
			ClearConfirmation: true,
			Awaiting:          boolPtr(false),
			Errors:            []string{"execute: confirmation received with no suggested action"},
		}, nil
	}

	action := st.SuggestedAction
	result := fmt.Sprintf(
		"[MOCK] Would execute tool %q with input: %v.\n"+
			"In this demo environment we do not modify any real calendars or systems.",
		action.ToolName, action.ToolInput)

	return session.Update{
		ToolOutput:        strPtr(result),
		ClearAction:       true,
		Stressor:          strPtr(""),
		ClearConfirmation: true,
		Awaiting:          boolPtr(false),
		Messages:          []session.Message{{Role: session.RoleAssistant, Content: result}},
		Audit: []session.AuditEvent{audit(NameExecute, "Executed mock tool",
			map[string]interface{}{"tool_name": action.ToolName}, e.Now)},
	}, nil
}
