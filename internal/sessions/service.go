// Package sessions exposes the start/continue surface over the workflow
// engine: request validation, checkpoint lookup, input merging, and
// per-thread serialization.
package sessions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smartstress/smartstress/internal/checkpoint"
	"github.com/smartstress/smartstress/internal/session"
)

// UnknownThreadPolicy controls what Continue does when no checkpoint
// exists for the thread.
type UnknownThreadPolicy string

const (
	// PolicyFresh silently starts a blank session for the thread.
	PolicyFresh UnknownThreadPolicy = "fresh"
	// PolicyReject fails the request with ErrUnknownThread.
	PolicyReject UnknownThreadPolicy = "reject"
)

// ErrUnknownThread is returned by Continue under PolicyReject when the
// thread has no checkpoint.
type ErrUnknownThread struct {
	Thread string
}

func (e *ErrUnknownThread) Error() string {
	return fmt.Sprintf("no session found for thread %s", e.Thread)
}

// Runner executes one workflow invocation. Implemented by the engine.
type Runner interface {
	Run(ctx context.Context, threadID string, st *session.State) (*session.State, error)
}

// StartRequest begins (or restarts) a monitoring session.
type StartRequest struct {
	UserID        string
	SessionID     string // empty: a fresh ID is generated
	Preferences   map[string]interface{}
	Message       string
	SensorPayload map[string]interface{}
	ForceFlags    *session.ForceFlags
}

// ContinueRequest resumes an existing thread with new input.
type ContinueRequest struct {
	UserID        string
	SessionID     string
	Message       string
	SensorPayload map[string]interface{}
	ForceFlags    *session.ForceFlags
}

// Service is the public session API. Invocations on the same thread are
// serialized with a per-thread lock; different threads run concurrently.
type Service struct {
	engine Runner
	store  checkpoint.Store
	policy UnknownThreadPolicy

	mu    sync.Mutex
	locks map[string]*sync.Mutex // one entry per thread ever seen, never pruned
}

// NewService builds the session service.
func NewService(engine Runner, store checkpoint.Store, policy UnknownThreadPolicy) *Service {
	if policy == "" {
		policy = PolicyFresh
	}
	return &Service{
		engine: engine,
		store:  store,
		policy: policy,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Start creates a session and runs the first invocation. If a
// checkpoint already exists for the derived thread it is overwritten:
// starting is an explicit reset.
func (s *Service) Start(ctx context.Context, req StartRequest) (session.Handle, *session.View, error) {
	if req.UserID == "" {
		return session.Handle{}, nil, fmt.Errorf("user_id is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	threadID := session.ThreadID(req.UserID, req.SessionID)
	unlock := s.lockThread(threadID)
	defer unlock()

	st := session.NewState(req.UserID, req.SessionID)
	if req.Preferences != nil {
		st.Preferences = req.Preferences
	}
	mergeInput(st, req.Message, req.SensorPayload, req.ForceFlags)

	log.Info().Str("thread_id", threadID).Msg("🚀 Session started")

	st, err := s.engine.Run(ctx, threadID, st)
	if err != nil {
		return session.Handle{}, nil, fmt.Errorf("run session %s: %w", threadID, err)
	}

	view := st.View()
	return session.NewHandle(req.UserID, req.SessionID), &view, nil
}

// Continue resumes a thread from its checkpoint with new user input.
func (s *Service) Continue(ctx context.Context, req ContinueRequest) (session.Handle, *session.View, error) {
	if req.UserID == "" || req.SessionID == "" {
		return session.Handle{}, nil, fmt.Errorf("user_id and session_id are required")
	}

	threadID := session.ThreadID(req.UserID, req.SessionID)
	unlock := s.lockThread(threadID)
	defer unlock()

	st, err := s.store.Get(ctx, threadID)
	if err != nil {
		if !checkpoint.IsNotFound(err) {
			return session.Handle{}, nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
		}
		if s.policy == PolicyReject {
			return session.Handle{}, nil, &ErrUnknownThread{Thread: threadID}
		}
		log.Warn().Str("thread_id", threadID).Msg("No checkpoint for thread, starting fresh")
		st = session.NewState(req.UserID, req.SessionID)
	}

	mergeInput(st, req.Message, req.SensorPayload, req.ForceFlags)

	st, err = s.engine.Run(ctx, threadID, st)
	if err != nil {
		return session.Handle{}, nil, fmt.Errorf("run session %s: %w", threadID, err)
	}

	view := st.View()
	return session.NewHandle(req.UserID, req.SessionID), &view, nil
}

// Delete removes a thread's checkpoint.
func (s *Service) Delete(ctx context.Context, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return fmt.Errorf("user_id and session_id are required")
	}
	threadID := session.ThreadID(userID, sessionID)
	unlock := s.lockThread(threadID)
	defer unlock()
	return s.store.Delete(ctx, threadID)
}

// mergeInput folds the caller's per-invocation inputs into the state
// before the engine runs.
func mergeInput(st *session.State, message string, payload map[string]interface{}, flags *session.ForceFlags) {
	if message != "" {
		st.ConversationHistory = append(st.ConversationHistory,
			session.Message{Role: session.RoleUser, Content: message})
	}
	if payload != nil {
		st.RawSensorInput = payload
	}
	st.ForceFlags = flags
}

// lockThread acquires the per-thread mutex, creating it on first use,
// and returns the release function.
func (s *Service) lockThread(threadID string) func() {
	s.mu.Lock()
	l, ok := s.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[threadID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
