package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartstress/smartstress/internal/session"
)

// MockCalendarTool is the tool name wrapped around every proposed plan.
// Execution is mocked; no real calendar is touched.
const MockCalendarTool = "mock_update_calendar_event"

// Propose asks the text generator for one concrete low-risk remediation
// for the current stressor and wraps it as a structured tool call. It
// only produces an update when a stressor is known and no action is
// already suggested; generation failure or empty output is logged and
// yields no update.
type Propose struct {
	Generator    Generator
	SystemPrompt string
	Now          nowFunc
}

// NewPropose builds the propose stage.
func NewPropose(gen Generator) *Propose {
	return &Propose{Generator: gen, SystemPrompt: ProposeSystemPrompt, Now: time.Now}
}

func (p *Propose) Name() string { return NamePropose }

// Run implements Stage.
func (p *Propose) Run(ctx context.Context, st *session.State) (session.Update, error) {
	if st.CurrentStressor == "" || st.SuggestedAction != nil {
		return session.Update{}, nil
	}

	prompt := fmt.Sprintf(
		"The user's primary stressor is: %s.\n%s"+
			"Propose one concrete, low-risk task or schedule adjustment (for example, "+
			"rescheduling a meeting, inserting a short break, or splitting a task).\n"+
			"Answer in a single English sentence that includes the action, the time "+
			"window, and any tools or stakeholders involved.",
		st.CurrentStressor, preferenceClause(st.Preferences))

	plan, err := p.Generator.Generate(ctx,
		[]session.Message{{Role: session.RoleUser, Content: prompt}}, p.SystemPrompt)
	if err != nil {
		log.Warn().Err(err).Str("user", st.UserID).Msg("Relief planning failed")
		return session.Update{Errors: []string{fmt.Sprintf("propose: planning failure: %v", err)}}, nil
	}

	plan = strings.TrimSpace(plan)
	if plan == "" {
		return session.Update{Errors: []string{"propose: generator returned empty plan"}}, nil
	}

	action := &session.ToolCall{
		ToolName: MockCalendarTool,
		ToolInput: map[string]interface{}{
			"plan":     plan,
			"stressor": st.CurrentStressor,
		},
	}
	return session.Update{
		Action: action,
		Audit: []session.AuditEvent{audit(NamePropose, "Proposed relief action",
			map[string]interface{}{"plan": plan}, p.Now)},
	}, nil
}

// preferenceClause renders the caller-supplied preferences into a
// deterministic prompt fragment. Empty preferences contribute nothing.
func preferenceClause(prefs map[string]interface{}) string {
	if len(prefs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, prefs[k]))
	}
	return "User preferences: " + strings.Join(parts, ", ") + ".\n"
}
