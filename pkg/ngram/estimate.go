package ngram

import (
	"log/slog"
)

// Estimate converts the raw counts into a maximum-likelihood probability
// table by dividing every count by the total. There is no smoothing, so
// n-grams absent from the corpus have probability zero.
func (m *Model) Estimate() error {
	if len(m.rawCounts) == 0 {
		return ErrEmptyModel
	}

	var total int
	for _, c := range m.rawCounts {
		total += c
	}

	probs := make(map[string]float64, len(m.rawCounts))
	for key, c := range m.rawCounts {
		probs[key] = float64(c) / float64(total)
	}
	m.probs = probs
	m.conditional = nil

	m.logger.Info("Estimation completed",
		slog.Int("model_order", m.order),
		slog.Int("total_frequency", total),
	)
	return nil
}

// Condition groups the probability table by context and renormalizes each
// group so that it is a distribution over the next token.
func (m *Model) Condition() error {
	if len(m.probs) == 0 {
		return ErrMissingContext
	}

	conditional := make(map[string]map[string]float64)
	for key, p := range m.probs {
		gram := NGram(SplitKey(key))
		ctxKey := gram.Context().Key()
		dist, ok := conditional[ctxKey]
		if !ok {
			dist = make(map[string]float64)
			conditional[ctxKey] = dist
		}
		dist[gram.Last()] = p
	}

	// Each context's slice of the global table carries that context's share
	// of the total mass, so it has to be scaled by its own sum.
	for _, dist := range conditional {
		var sum float64
		for _, p := range dist {
			sum += p
		}
		for token, p := range dist {
			dist[token] = p / sum
		}
	}
	m.conditional = conditional

	m.logger.Info("Conditioning completed",
		slog.Int("model_order", m.order),
		slog.Int("contexts", len(conditional)),
	)
	return nil
}

// Build runs Train, Estimate and Condition in order.
func (m *Model) Build() error {
	if err := m.Train(); err != nil {
		return err
	}
	if err := m.Estimate(); err != nil {
		return err
	}
	return m.Condition()
}
