package engine

import (
	"github.com/smartstress/smartstress/internal/session"
	"github.com/smartstress/smartstress/internal/stage"
)

// Decision is the outcome of the single conditional branch point,
// evaluated after every converse pass.
type Decision string

const (
	// DecisionSuspend stops the run at the interrupt point: a
	// confirmation is pending and a human must answer before any
	// further stage may execute.
	DecisionSuspend Decision = "suspend"
	// DecisionExecute runs the confirmed action.
	DecisionExecute Decision = "execute"
	// DecisionMonitor loops back to sense, restarting the monitoring
	// cycle after a declined or canceled action.
	DecisionMonitor Decision = "monitor"
	// DecisionPropose plans a relief action for the known stressor.
	DecisionPropose Decision = "propose"
	// DecisionEnd terminates this invocation.
	DecisionEnd Decision = "end"
)

// Route inspects the state after a converse pass and picks the next
// stage. It is the only conditional edge in the graph; every other
// transition is fixed (sense→converse, propose→converse,
// execute→converse).
func Route(st *session.State) Decision {
	if st.AwaitingHumanConfirmation {
		return DecisionSuspend
	}
	if st.HumanConfirmationResponse == session.ConfirmYes {
		return DecisionExecute
	}
	if st.HumanConfirmationResponse == session.ConfirmNo || st.HumanConfirmationResponse == session.ConfirmCancel {
		return DecisionMonitor
	}
	if st.CurrentStressor != "" && st.SuggestedAction == nil && !declinedThisTurn(st) {
		return DecisionPropose
	}
	return DecisionEnd
}

// declinedThisTurn reports whether the newest user input was a bare
// yes/no-style reply. A proposal declined with "no" keeps its stressor,
// and without this guard the very next routing pass would re-propose
// for it immediately; proposing waits until the user has said something
// new about the stressor instead.
func declinedThisTurn(st *session.State) bool {
	msg := st.LatestUserMessage()
	return msg != nil && stage.IsConfirmationReply(msg.Content)
}
