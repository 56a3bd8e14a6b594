// Package session defines the canonical session state threaded through
// every stage of a workflow invocation, the partial-update type stages
// return, and the read-only view handed back to external callers.
//
// State is owned by the engine while a run is in flight. Stages never
// mutate it directly; they return an Update and the engine merges it via
// Apply. This keeps every field transition in one place and makes the
// persisted checkpoint a plain JSON document.
package session

import (
	"time"
)

// Role tags a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolCall is a structured action proposal awaiting human confirmation.
type ToolCall struct {
	ToolName  string                 `json:"tool_name"`
	ToolInput map[string]interface{} `json:"tool_input"`
}

// Confirmation is the normalized human response to a proposed action.
type Confirmation string

const (
	ConfirmYes    Confirmation = "yes"
	ConfirmNo     Confirmation = "no"
	ConfirmCancel Confirmation = "cancel"
)

// AuditEvent is one append-only entry in the audit trail.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Stage     string                 `json:"stage"`
	Summary   string                 `json:"summary"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ForceFlags carries explicit per-invocation overrides passed in by the
// caller (e.g. experiment tooling). They live on the state only for the
// duration of one engine run; the engine drops them before persisting.
type ForceFlags struct {
	StressProbability *float64 `json:"stress_probability,omitempty"`
	DisableRAG        bool     `json:"disable_rag,omitempty"`
}

// State is the authoritative session record for one thread.
// Every field is JSON-serializable so the latest checkpoint row holds
// the entire state needed to resume after a process restart.
type State struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	// Sensing. RawSensorInput is ephemeral: set by the caller, consumed
	// and cleared by the sense stage. StressHistory and StressTimestamps
	// are parallel append-only sequences of equal length.
	RawSensorInput           map[string]interface{} `json:"raw_sensor_input,omitempty"`
	CurrentStressProbability float64                `json:"current_stress_probability"`
	StressHistory            []float64              `json:"stress_history"`
	StressTimestamps         []string               `json:"stress_timestamps"`

	// Dialogue.
	ConversationHistory []Message `json:"conversation_history"`
	CurrentStressor     string    `json:"current_stressor,omitempty"`

	// Planning.
	SuggestedAction *ToolCall `json:"suggested_action,omitempty"`
	ToolOutput      string    `json:"tool_output,omitempty"`

	// Retrieval context, advisory only.
	RAGContext []string `json:"rag_context"`

	// Caller-supplied preferences. Stages read but never mutate them.
	Preferences map[string]interface{} `json:"preferences"`

	// Human-in-the-loop control.
	AwaitingHumanConfirmation bool         `json:"awaiting_human_confirmation"`
	HumanConfirmationResponse Confirmation `json:"human_confirmation_response,omitempty"`

	// Observability, both append-only.
	ErrorLog   []string     `json:"error_log"`
	AuditTrail []AuditEvent `json:"audit_trail"`

	// Invocation-scoped overrides, never persisted across runs.
	ForceFlags *ForceFlags `json:"force_flags,omitempty"`
}

// NewState builds a blank state with all sequence fields initialized,
// so stages and serialization never see nil where a list is expected.
func NewState(userID, sessionID string) *State {
	return &State{
		UserID:              userID,
		SessionID:           sessionID,
		StressHistory:       []float64{},
		StressTimestamps:    []string{},
		ConversationHistory: []Message{},
		RAGContext:          []string{},
		Preferences:         map[string]interface{}{},
		ErrorLog:            []string{},
		AuditTrail:          []AuditEvent{},
	}
}

// StressSample pairs a probability with its observation time so history
// and timestamps can only ever be appended together.
type StressSample struct {
	Probability float64
	Timestamp   time.Time
}

// Update is the partial state an individual stage returns. Zero value
// means "no change". The engine merges it with Apply; stages never touch
// the state directly.
type Update struct {
	// Sense.
	Sample        *StressSample // append to history + timestamps, set current probability
	ConsumeSensor bool          // clear RawSensorInput

	// Dialogue.
	Messages []Message // appended to ConversationHistory
	Stressor *string   // non-nil: set CurrentStressor ("" clears it)

	// Planning.
	Action      *ToolCall // non-nil: set SuggestedAction
	ClearAction bool
	ToolOutput  *string

	// Retrieval.
	RAGContext []string // non-nil: replace advisory context

	// Control.
	Awaiting          *bool
	Confirmation      *Confirmation
	ClearConfirmation bool

	// Observability.
	Errors []string // appended to ErrorLog, timestamped at merge time
	Audit  []AuditEvent
}

// IsZero reports whether the update changes nothing.
func (u Update) IsZero() bool {
	return u.Sample == nil && !u.ConsumeSensor && len(u.Messages) == 0 &&
		u.Stressor == nil && u.Action == nil && !u.ClearAction &&
		u.ToolOutput == nil && u.RAGContext == nil && u.Awaiting == nil &&
		u.Confirmation == nil && !u.ClearConfirmation &&
		len(u.Errors) == 0 && len(u.Audit) == 0
}

// Apply merges a partial update into the state. Appends never remove or
// reorder existing entries, preserving the append-only invariants of the
// conversation history, stress history, error log, and audit trail.
func (s *State) Apply(u Update) {
	if u.Sample != nil {
		s.CurrentStressProbability = u.Sample.Probability
		s.StressHistory = append(s.StressHistory, u.Sample.Probability)
		s.StressTimestamps = append(s.StressTimestamps, u.Sample.Timestamp.UTC().Format(time.RFC3339))
	}
	if u.ConsumeSensor {
		s.RawSensorInput = nil
	}
	if len(u.Messages) > 0 {
		s.ConversationHistory = append(s.ConversationHistory, u.Messages...)
	}
	if u.Stressor != nil {
		s.CurrentStressor = *u.Stressor
	}
	if u.Action != nil {
		s.SuggestedAction = u.Action.clone()
	}
	if u.ClearAction {
		s.SuggestedAction = nil
	}
	if u.ToolOutput != nil {
		s.ToolOutput = *u.ToolOutput
	}
	if u.RAGContext != nil {
		s.RAGContext = append([]string{}, u.RAGContext...)
	}
	if u.Awaiting != nil {
		s.AwaitingHumanConfirmation = *u.Awaiting
	}
	if u.Confirmation != nil {
		s.HumanConfirmationResponse = *u.Confirmation
	}
	if u.ClearConfirmation {
		s.HumanConfirmationResponse = ""
	}
	for _, msg := range u.Errors {
		s.ErrorLog = append(s.ErrorLog, time.Now().UTC().Format(time.RFC3339)+" "+msg)
	}
	if len(u.Audit) > 0 {
		s.AuditTrail = append(s.AuditTrail, u.Audit...)
	}
}

// Clone returns a deep copy. Checkpoint stores hand out clones so a
// caller can never alias the authoritative state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.RawSensorInput = cloneMap(s.RawSensorInput)
	c.StressHistory = append([]float64{}, s.StressHistory...)
	c.StressTimestamps = append([]string{}, s.StressTimestamps...)
	c.ConversationHistory = append([]Message{}, s.ConversationHistory...)
	c.SuggestedAction = s.SuggestedAction.clone()
	c.RAGContext = append([]string{}, s.RAGContext...)
	c.Preferences = cloneMap(s.Preferences)
	c.ErrorLog = append([]string{}, s.ErrorLog...)
	c.AuditTrail = make([]AuditEvent, len(s.AuditTrail))
	for i, ev := range s.AuditTrail {
		ev.Details = cloneMap(ev.Details)
		c.AuditTrail[i] = ev
	}
	if s.ForceFlags != nil {
		ff := *s.ForceFlags
		if s.ForceFlags.StressProbability != nil {
			p := *s.ForceFlags.StressProbability
			ff.StressProbability = &p
		}
		c.ForceFlags = &ff
	}
	return &c
}

func (t *ToolCall) clone() *ToolCall {
	if t == nil {
		return nil
	}
	return &ToolCall{ToolName: t.ToolName, ToolInput: cloneMap(t.ToolInput)}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// LatestUserMessage returns the most recent user-authored message, or
// nil if the conversation has none.
func (s *State) LatestUserMessage() *Message {
	for i := len(s.ConversationHistory) - 1; i >= 0; i-- {
		if s.ConversationHistory[i].Role == RoleUser {
			msg := s.ConversationHistory[i]
			return &msg
		}
	}
	return nil
}

// LastMessageIsFromUser reports whether the newest message, if any, was
// authored by the user. The converse stage uses this to detect fresh
// input that has not been replied to yet.
func (s *State) LastMessageIsFromUser() bool {
	n := len(s.ConversationHistory)
	return n > 0 && s.ConversationHistory[n-1].Role == RoleUser
}
