// Package engine executes the fixed workflow stage graph for one
// invocation at a time.
//
// The graph has four stages and a single conditional branch point:
//
//	sense → converse → route() → propose  → converse
//	                           → execute  → converse
//	                           → sense    (monitoring restart)
//	                           → suspend  (human confirmation pending)
//	                           → end
//
// Stages run synchronously and strictly ordered; the engine owns every
// state mutation by merging the partial updates stages return. When the
// route reaches the interrupt point (a confirmation is pending) the
// engine persists the state exactly as-is and returns; the next
// invocation on the same thread re-enters at converse.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartstress/smartstress/internal/checkpoint"
	"github.com/smartstress/smartstress/internal/session"
	"github.com/smartstress/smartstress/internal/stage"
)

// maxStepsPerRun bounds one invocation against routing bugs. A healthy
// run needs far fewer transitions; hitting the bound is an engine-level
// failure and no checkpoint is written.
const maxStepsPerRun = 25

// Engine executes the workflow graph. It is stateless between runs:
// all session data lives in the state record and the checkpoint store,
// so one engine instance serves any number of threads concurrently.
type Engine struct {
	sense    stage.Stage
	converse stage.Stage
	propose  stage.Stage
	execute  stage.Stage

	store  checkpoint.Store
	tracer trace.Tracer
}

// New creates an engine over the four workflow stages and a checkpoint
// store. The engine is constructed once at process start and shared.
func New(store checkpoint.Store, sense, converse, propose, execute stage.Stage) *Engine {
	return &Engine{
		sense:    sense,
		converse: converse,
		propose:  propose,
		execute:  execute,
		store:    store,
		tracer:   otel.Tracer("smartstress/engine"),
	}
}

// Run executes one invocation for a thread. The caller hands over
// ownership of st; the engine mutates it, persists the final snapshot
// under threadID, and returns it. An error means the invocation failed
// as a whole and no checkpoint was written for it.
func (e *Engine) Run(ctx context.Context, threadID string, st *session.State) (*session.State, error) {
	ctx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(attribute.String("thread_id", threadID)))
	defer span.End()

	start := time.Now()

	// A suspended thread resumes at converse so the pending confirmation
	// is parsed before anything else; the routing decision, not the
	// engine, determines whether sense re-runs afterwards.
	current := e.sense
	if st.AwaitingHumanConfirmation {
		current = e.converse
	}

	steps := 0
	progressed := false // effective (non-log) state change since the last route
	var lastDecision Decision

	for {
		steps++
		if steps > maxStepsPerRun {
			return nil, fmt.Errorf("engine: thread %s exceeded %d steps in one invocation", threadID, maxStepsPerRun)
		}

		upd := e.runStage(ctx, current, st)
		if effective(upd) {
			progressed = true
		}
		st.Apply(upd)

		if current != e.converse {
			// Fixed edges: sense, propose, and execute all feed back
			// into converse so it always sees the freshest state.
			current = e.converse
			continue
		}

		decision := Route(st)
		span.AddEvent("route", trace.WithAttributes(attribute.String("decision", string(decision))))

		if decision == lastDecision && !progressed {
			// The routed stages changed nothing since the identical
			// previous decision; continuing would loop forever.
			st.Apply(session.Update{Errors: []string{
				fmt.Sprintf("engine: routing made no progress (decision %s), terminating run", decision)}})
			decision = DecisionEnd
		}
		lastDecision = decision
		progressed = false

		switch decision {
		case DecisionSuspend, DecisionEnd:
			if err := e.persist(ctx, threadID, st); err != nil {
				return nil, err
			}
			log.Debug().
				Str("thread_id", threadID).
				Str("decision", string(decision)).
				Int("steps", steps).
				Dur("duration", time.Since(start)).
				Msg("Engine run finished")
			return st, nil

		case DecisionExecute:
			current = e.execute

		case DecisionMonitor:
			// The decline cleanup is the execute stage's no-consent
			// path; run it before re-entering the monitoring cycle.
			upd := e.runStage(ctx, e.execute, st)
			if effective(upd) {
				progressed = true
			}
			st.Apply(upd)
			current = e.sense

		case DecisionPropose:
			current = e.propose
		}
	}
}

// runStage executes one stage, catching both returned errors and panics
// at the stage boundary so a failing stage can never abort the run.
// A failed stage contributes only an error-log entry.
func (e *Engine) runStage(ctx context.Context, s stage.Stage, st *session.State) (upd session.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stage", s.Name()).Interface("panic", r).Msg("Stage panicked")
			upd = session.Update{Errors: []string{fmt.Sprintf("%s: panic: %v", s.Name(), r)}}
		}
	}()

	ctx, span := e.tracer.Start(ctx, "stage."+s.Name())
	defer span.End()

	upd, err := s.Run(ctx, st)
	if err != nil {
		log.Warn().Err(err).Str("stage", s.Name()).Msg("Stage failed")
		return session.Update{Errors: []string{fmt.Sprintf("%s: %v", s.Name(), err)}}
	}
	return upd
}

// persist writes the final snapshot for this invocation. Force flags
// are invocation-scoped and dropped first; everything else is persisted
// exactly as the stages left it.
func (e *Engine) persist(ctx context.Context, threadID string, st *session.State) error {
	st.ForceFlags = nil
	if err := e.store.Put(ctx, threadID, st); err != nil {
		return fmt.Errorf("persist checkpoint for %s: %w", threadID, err)
	}
	return nil
}

// effective reports whether an update changes anything beyond the
// error log and audit trail.
func effective(u session.Update) bool {
	u.Errors = nil
	u.Audit = nil
	return !u.IsZero()
}
