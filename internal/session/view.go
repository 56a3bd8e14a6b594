package session

// View is the read-only projection of a session state returned to
// external callers. It contains only primitive or plainly structured
// fields and deep-copies every sequence, so handing it to an HTTP
// response can never alias the authoritative state.
type View struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	CurrentStressProbability float64   `json:"current_stress_probability"`
	StressHistory            []float64 `json:"stress_history"`
	StressTimestamps         []string  `json:"stress_timestamps"`

	ConversationHistory []Message `json:"conversation_history"`
	CurrentStressor     string    `json:"current_stressor,omitempty"`

	SuggestedAction *ToolCall `json:"suggested_action,omitempty"`
	ToolOutput      string    `json:"tool_output,omitempty"`

	RAGContext []string `json:"rag_context"`

	AwaitingHumanConfirmation bool   `json:"awaiting_human_confirmation"`
	HumanConfirmationResponse string `json:"human_confirmation_response,omitempty"`

	ErrorLog   []string     `json:"error_log"`
	AuditTrail []AuditEvent `json:"audit_trail"`
}

// View builds the external projection of the state.
func (s *State) View() View {
	c := s.Clone()
	return View{
		UserID:                    c.UserID,
		SessionID:                 c.SessionID,
		CurrentStressProbability:  c.CurrentStressProbability,
		StressHistory:             c.StressHistory,
		StressTimestamps:          c.StressTimestamps,
		ConversationHistory:       c.ConversationHistory,
		CurrentStressor:           c.CurrentStressor,
		SuggestedAction:           c.SuggestedAction,
		ToolOutput:                c.ToolOutput,
		RAGContext:                c.RAGContext,
		AwaitingHumanConfirmation: c.AwaitingHumanConfirmation,
		HumanConfirmationResponse: string(c.HumanConfirmationResponse),
		ErrorLog:                  c.ErrorLog,
		AuditTrail:                c.AuditTrail,
	}
}
