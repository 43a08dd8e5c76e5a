package ngram

import (
	"io"
	"log/slog"
	"maps"
	"math/rand/v2"
)

// Model is an n-gram language model. It owns its order, its corpus and the
// three tables built from it, which are populated in a fixed order:
// Train fills the raw counts, Estimate the probability table and Condition
// the conditional table. Generation only reads the conditional table.
//
// A Model is not safe for concurrent use; the random source used by the
// sampling functions is advanced on every draw.
type Model struct {
	order     int
	corpus    Corpus
	tokenizer Tokenizer
	src       rand.Source
	progress  func()
	logger    *slog.Logger

	lines       int
	rawCounts   map[string]int
	probs       map[string]float64
	conditional map[string]map[string]float64
}

// ModelOption configures a Model at construction time.
type ModelOption func(*Model)

// WithTokenizer replaces the DefaultTokenizer used for training and for GenerateText.
func WithTokenizer(t Tokenizer) ModelOption {
	return func(m *Model) {
		if t != nil {
			m.tokenizer = t
		}
	}
}

// WithSeed makes sampling reproducible by seeding the model's random source.
func WithSeed(seed uint64) ModelOption {
	return func(m *Model) {
		m.src = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	}
}

// WithSource sets the random source used for sampling.
func WithSource(src rand.Source) ModelOption {
	return func(m *Model) {
		if src != nil {
			m.src = src
		}
	}
}

// WithProgress registers a function called once for every corpus line
// processed by Train.
func WithProgress(fn func()) ModelOption {
	return func(m *Model) {
		m.progress = fn
	}
}

// New creates an untrained model of the given order over corpus.
func New(order int, corpus Corpus, opts ...ModelOption) (*Model, error) {
	if order < 1 {
		return nil, ErrInvalidOrder
	}
	m := &Model{
		order:     order,
		corpus:    corpus,
		tokenizer: NewDefaultTokenizer(),
		src:       rand.NewPCG(rand.Uint64(), rand.Uint64()),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SetLogger sets the logger for the Model. By default, all logs are discarded.
func (m *Model) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Order returns n, the number of tokens in each n-gram.
func (m *Model) Order() int {
	return m.order
}

// Tokenizer returns the tokenizer the model was trained with.
func (m *Model) Tokenizer() Tokenizer {
	return m.tokenizer
}

// RawCounts returns a copy of the n-gram occurrence counts, keyed by NGram.Key.
func (m *Model) RawCounts() map[string]int {
	return maps.Clone(m.rawCounts)
}

// Probabilities returns a copy of the global n-gram probability table.
func (m *Model) Probabilities() map[string]float64 {
	return maps.Clone(m.probs)
}

// Conditional returns a copy of the conditional table, keyed by Context.Key
// and then by next token.
func (m *Model) Conditional() map[string]map[string]float64 {
	if m.conditional == nil {
		return nil
	}
	out := make(map[string]map[string]float64, len(m.conditional))
	for ctx, dist := range m.conditional {
		out[ctx] = maps.Clone(dist)
	}
	return out
}

// Distribution returns a copy of the next-token distribution for one context.
func (m *Model) Distribution(context []string) (map[string]float64, error) {
	if m.conditional == nil {
		return nil, ErrNotConditioned
	}
	dist, ok := m.conditional[Context(context).Key()]
	if !ok || len(context) != m.order-1 {
		return nil, &UnknownContextError{Context: append([]string(nil), context...)}
	}
	return maps.Clone(dist), nil
}

// Conditioned reports whether the model is ready for generation.
func (m *Model) Conditioned() bool {
	return m.conditional != nil
}
