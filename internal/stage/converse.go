package stage

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/smartstress/smartstress/internal/session"
)

// retrievalQuery is the fixed advisory query used when probing an
// elevated stress signal with no known stressor.
const retrievalQuery = "short-term stress management and scheduling advice"

// unknownStressor is the sentinel the extraction prompt asks the model
// to emit when no stressor can be inferred.
const unknownStressor = "unknown stressor"

// minStressorMessageRunes filters out trivially short messages before
// attempting stressor extraction.
const minStressorMessageRunes = 6

// Converse handles one dialogue pass. Its sub-behaviors are evaluated
// in strict priority order:
//
//  1. a pending confirmation is resolved from the latest user message
//  2. an unconfirmed action proposal is presented to the user
//  3. a fresh user message is summarized into a stressor
//  4. elevated stress with no known stressor triggers an empathetic
//     probe grounded in retrieved context
//  5. otherwise no-op
//
// Exactly one branch produces dialogue per pass; the engine loops the
// graph back through here after any action-producing stage.
type Converse struct {
	Generator Generator
	Retriever Retriever

	// HighStressThreshold gates branch 4. Tunable, 0.9 by default.
	HighStressThreshold float64
	// RetrievalK is the number of advisory snippets fetched for the probe.
	RetrievalK int

	SystemPrompt string
	Now          nowFunc
}

// NewConverse builds the converse stage with default tuning.
func NewConverse(gen Generator, ret Retriever, threshold float64) *Converse {
	return &Converse{
		Generator:           gen,
		Retriever:           ret,
		HighStressThreshold: threshold,
		RetrievalK:          3,
		SystemPrompt:        ConverseSystemPrompt,
		Now:                 time.Now,
	}
}

func (c *Converse) Name() string { return NameConverse }

// Run implements Stage.
func (c *Converse) Run(ctx context.Context, st *session.State) (session.Update, error) {
	if st.AwaitingHumanConfirmation {
		return c.resolveConfirmation(st), nil
	}

	if st.SuggestedAction != nil {
		return c.presentProposal(st), nil
	}

	if upd, ok := c.extractStressor(ctx, st); ok {
		return upd, nil
	}

	if st.CurrentStressProbability > c.HighStressThreshold && st.CurrentStressor == "" {
		return c.probeStressor(ctx, st), nil
	}

	return session.Update{
		Audit: []session.AuditEvent{audit(NameConverse, "No-op (no new dialogue needed)", nil, c.Now)},
	}, nil
}

// resolveConfirmation parses the latest user message into yes/no/cancel
// and clears the awaiting flag. It produces no new dialogue this pass.
func (c *Converse) resolveConfirmation(st *session.State) session.Update {
	upd := session.Update{Awaiting: boolPtr(false)}

	msg := st.LatestUserMessage()
	if msg == nil {
		upd.Errors = append(upd.Errors,
			"converse: awaiting confirmation but no user message to parse")
		upd.Confirmation = confirmPtr(session.ConfirmCancel)
		upd.Audit = append(upd.Audit, audit(NameConverse, "Processed human confirmation",
			map[string]interface{}{"response": string(session.ConfirmCancel)}, c.Now))
		return upd
	}

	normalized := ParseConfirmation(msg.Content)
	upd.Confirmation = confirmPtr(normalized)
	upd.Audit = append(upd.Audit, audit(NameConverse, "Processed human confirmation",
		map[string]interface{}{"response": string(normalized)}, c.Now))
	return upd
}

// presentProposal emits the confirmation prompt for a suggested action
// and raises the awaiting flag, suspending the run at the interrupt
// point on the next routing decision.
func (c *Converse) presentProposal(st *session.State) session.Update {
	toolName := st.SuggestedAction.ToolName
	prompt := fmt.Sprintf(
		"I found a possible way to reduce stress: I can run %q.\n"+
			"This only adjusts your schedule or tasks and is fully reversible.\n"+
			"Do you want me to proceed? Please answer yes or no.", toolName)

	return session.Update{
		Messages: []session.Message{{Role: session.RoleAssistant, Content: prompt}},
		Awaiting: boolPtr(true),
		Audit: []session.AuditEvent{audit(NameConverse, "Presented relief suggestion",
			map[string]interface{}{"tool_name": toolName}, c.Now)},
	}
}

// extractStressor tries to summarize a fresh user message into a short
// stressor string. It reports ok=false when the branch does not apply
// or extraction fails, letting evaluation fall through to the probe.
func (c *Converse) extractStressor(ctx context.Context, st *session.State) (session.Update, bool) {
	if st.CurrentStressor != "" || !st.LastMessageIsFromUser() {
		return session.Update{}, false
	}
	msg := st.LatestUserMessage()
	text := strings.TrimSpace(msg.Content)
	if utf8.RuneCountInString(text) < minStressorMessageRunes || IsConfirmationReply(text) {
		return session.Update{}, false
	}

	prompt := fmt.Sprintf(
		"The user described their stress as follows:\n%s\n\n"+
			"Summarize the single most likely stressor (event, task, or interaction) "+
			"in <= 15 English words. If you cannot infer it, respond with %q.", text, unknownStressor)

	result, err := c.Generator.Generate(ctx,
		[]session.Message{{Role: session.RoleUser, Content: prompt}}, StressorExtractionSystemPrompt)
	if err != nil {
		log.Warn().Err(err).Str("user", st.UserID).Msg("Stressor extraction failed")
		return session.Update{Errors: []string{fmt.Sprintf("converse: stressor extraction failure: %v", err)}}, false
	}

	result = strings.TrimSpace(result)
	if result == "" || strings.EqualFold(result, unknownStressor) {
		return session.Update{}, false
	}

	return session.Update{
		Stressor: strPtr(result),
		Audit: []session.AuditEvent{audit(NameConverse, "Identified stressor from dialogue",
			map[string]interface{}{"stressor": result}, c.Now)},
	}, true
}

// probeStressor generates an empathetic probe referencing the elevated
// stress probability, grounded in retrieved advisory snippets. A
// generation failure falls back to a canned probe so the user is never
// left without a reply.
func (c *Converse) probeStressor(ctx context.Context, st *session.State) session.Update {
	upd := session.Update{}

	var snippets []string
	if st.ForceFlags == nil || !st.ForceFlags.DisableRAG {
		for _, s := range c.Retriever.Search(ctx, retrievalQuery, c.RetrievalK) {
			snippets = append(snippets, s.Text)
		}
	}

	system := c.SystemPrompt
	if len(snippets) > 0 {
		system += "\n\nSupporting evidence:\n" + strings.Join(snippets, "\n---\n")
	}
	userPrompt := fmt.Sprintf(
		"Write a short (<=3 sentences) reply that:\n"+
			"- Acknowledges the user's elevated stress probability (%.2f).\n"+
			"- Offers one brief tip grounded in the evidence above.\n"+
			"- Ends with an open question inviting the user to describe their primary stressor.\n",
		st.CurrentStressProbability)

	reply, err := c.Generator.Generate(ctx,
		[]session.Message{{Role: session.RoleUser, Content: userPrompt}}, system)
	if err != nil {
		upd.Errors = append(upd.Errors, fmt.Sprintf("converse: probe generation failure: %v", err))
		log.Warn().Err(err).Str("user", st.UserID).Msg("Probe generation failed, using fallback reply")
		reply = "I can see your stress indicators are higher than usual. " +
			"If you feel comfortable, could you share the situation that has felt most stressful lately? " +
			"I'll tailor the next steps based on what you share."
	}

	upd.Messages = []session.Message{{Role: session.RoleAssistant, Content: strings.TrimSpace(reply)}}
	upd.RAGContext = snippets
	if upd.RAGContext == nil {
		upd.RAGContext = []string{}
	}
	upd.Audit = append(upd.Audit, audit(NameConverse, "Initiated stressor exploration",
		map[string]interface{}{"stress_probability": st.CurrentStressProbability}, c.Now))
	return upd
}

// ParseConfirmation normalizes free-form user text into yes/no/cancel.
// Matching is token-based and case-insensitive; anything that matches
// neither an affirmative nor a negative keyword defaults to cancel.
func ParseConfirmation(text string) session.Confirmation {
	yes := map[string]bool{"yes": true, "y": true, "yeah": true, "yep": true, "sure": true, "ok": true, "okay": true}
	no := map[string]bool{"no": true, "n": true, "nope": true, "nah": true}

	for _, tok := range tokens(text) {
		if yes[tok] {
			return session.ConfirmYes
		}
		if no[tok] {
			return session.ConfirmNo
		}
	}
	return session.ConfirmCancel
}

// IsConfirmationReply reports whether the message is a bare yes/no
// style reply rather than a stressor description.
func IsConfirmationReply(text string) bool {
	toks := tokens(text)
	if len(toks) == 0 || len(toks) > 2 {
		return false
	}
	for _, tok := range toks {
		switch tok {
		case "yes", "y", "no", "n", "cancel", "ok", "okay", "sure", "nope", "nah":
		default:
			return false
		}
	}
	return true
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}
