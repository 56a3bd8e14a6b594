package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartstress/smartstress/internal/session"
)

// StressModel estimates a stress probability in [0,1] from a raw sensor
// payload. The production model is external; the built-in heuristic
// keeps the workflow runnable end-to-end without it.
type StressModel interface {
	Estimate(payload map[string]interface{}) (float64, error)
}

// HeuristicModel maps heart rate linearly onto [0,1]:
// clamp((hr - baseline) / scale, 0, 1). An empty payload reads as a
// low-stress 0.1 baseline observation.
type HeuristicModel struct {
	Baseline float64
	Scale    float64
}

// Estimate implements StressModel.
func (m HeuristicModel) Estimate(payload map[string]interface{}) (float64, error) {
	if len(payload) == 0 {
		return 0.1, nil
	}
	hr, ok := numericField(payload, "hr")
	if !ok {
		return 0, fmt.Errorf("sensor payload has no numeric hr field")
	}
	prob := (hr - m.Baseline) / m.Scale
	if prob < 0 {
		prob = 0
	}
	if prob > 1 {
		prob = 1
	}
	return prob, nil
}

func numericField(payload map[string]interface{}, key string) (float64, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Sense consumes the raw sensor payload, updates the stress probability
// and appends one sample to the parallel history/timestamp sequences.
// It never fails the run: a model error falls back to the previous
// probability (0.0 on the first run) and is recorded in the error log.
type Sense struct {
	Model StressModel
	Now   nowFunc
}

// NewSense builds the sense stage with the heuristic model.
func NewSense(baseline, scale float64) *Sense {
	return &Sense{
		Model: HeuristicModel{Baseline: baseline, Scale: scale},
		Now:   time.Now,
	}
}

func (s *Sense) Name() string { return NameSense }

// Run implements Stage.
func (s *Sense) Run(_ context.Context, st *session.State) (session.Update, error) {
	upd := session.Update{ConsumeSensor: true}

	prob, err := s.Model.Estimate(st.RawSensorInput)
	if err != nil {
		// Fall back to the prior observation rather than skipping the
		// sample, so history length still grows once per monitoring pass.
		prob = st.CurrentStressProbability
		upd.Errors = append(upd.Errors, fmt.Sprintf("sense: stress model failure: %v", err))
		log.Warn().Err(err).Str("user", st.UserID).Msg("Stress model failed, reusing prior probability")
	}

	if st.ForceFlags != nil && st.ForceFlags.StressProbability != nil {
		prob = *st.ForceFlags.StressProbability
	}

	upd.Sample = &session.StressSample{Probability: prob, Timestamp: s.Now()}
	upd.Audit = append(upd.Audit, audit(NameSense, "Updated stress probability",
		map[string]interface{}{"current_stress_probability": prob}, s.Now))
	return upd, nil
}
