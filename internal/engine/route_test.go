package engine_test

import (
	"testing"

	"github.com/smartstress/smartstress/internal/engine"
	"github.com/smartstress/smartstress/internal/session"
	"github.com/smartstress/smartstress/internal/stage"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name  string
		state func() *session.State
		want  engine.Decision
	}{
		{
			"awaiting confirmation suspends",
			func() *session.State {
				st := session.NewState("u", "s")
				st.AwaitingHumanConfirmation = true
				st.HumanConfirmationResponse = session.ConfirmYes // ignored while awaiting
				return st
			},
			engine.DecisionSuspend,
		},
		{
			"yes routes to execute",
			func() *session.State {
				st := session.NewState("u", "s")
				st.HumanConfirmationResponse = session.ConfirmYes
				return st
			},
			engine.DecisionExecute,
		},
		{
			"no routes to monitor",
			func() *session.State {
				st := session.NewState("u", "s")
				st.HumanConfirmationResponse = session.ConfirmNo
				return st
			},
			engine.DecisionMonitor,
		},
		{
			"cancel routes to monitor",
			func() *session.State {
				st := session.NewState("u", "s")
				st.HumanConfirmationResponse = session.ConfirmCancel
				return st
			},
			engine.DecisionMonitor,
		},
		{
			"stressor without action proposes",
			func() *session.State {
				st := session.NewState("u", "s")
				st.CurrentStressor = "deadline"
				st.ConversationHistory = []session.Message{
					{Role: session.RoleUser, Content: "the deadline is brutal"},
				}
				return st
			},
			engine.DecisionPropose,
		},
		{
			"stressor after a bare decline ends",
			func() *session.State {
				st := session.NewState("u", "s")
				st.CurrentStressor = "deadline"
				st.ConversationHistory = []session.Message{
					{Role: session.RoleUser, Content: "no"},
				}
				return st
			},
			engine.DecisionEnd,
		},
		{
			"stressor with pending action ends",
			func() *session.State {
				st := session.NewState("u", "s")
				st.CurrentStressor = "deadline"
				st.SuggestedAction = &session.ToolCall{ToolName: stage.MockCalendarTool}
				return st
			},
			engine.DecisionEnd,
		},
		{
			"blank state ends",
			func() *session.State { return session.NewState("u", "s") },
			engine.DecisionEnd,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.Route(tt.state()); got != tt.want {
				t.Errorf("Route() = %q, want %q", got, tt.want)
			}
		})
	}
}
