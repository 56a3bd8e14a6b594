package session

// Handle is the opaque reference a caller holds to resume a session.
// It carries no state of its own; ThreadID is the checkpoint key.
type Handle struct {
	UserID       string                 `json:"user_id"`
	SessionID    string                 `json:"session_id"`
	ThreadID     string                 `json:"thread_id"`
	CheckpointID string                 `json:"checkpoint_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ThreadID derives the durable thread key for a user/session pair.
func ThreadID(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// NewHandle builds the handle returned when a session is started.
func NewHandle(userID, sessionID string) Handle {
	return Handle{
		UserID:    userID,
		SessionID: sessionID,
		ThreadID:  ThreadID(userID, sessionID),
		Metadata:  map[string]interface{}{},
	}
}
