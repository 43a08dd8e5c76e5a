package ngram

import (
	"cmp"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// generateOptions is used by the sampling functions to configure default options.
type generateOptions struct {
	maxLength   int
	temperature float64
	topK        int
}

// GenerateOption is a function that configures sampling. It's used as a
// variadic argument in SampleNext, GenerateSentence and GenerateText.
type GenerateOption func(*generateOptions)

// WithMaxLength caps the number of tokens in a generated sentence. When the
// cap is reached before EOS is sampled, generation stops with a
// *GenerationOverrunError. A value of 0 or less leaves generation unbounded.
func WithMaxLength(n int) GenerateOption {
	return func(o *generateOptions) { o.maxLength = n }
}

// WithTemperature reshapes the conditional distribution before drawing.
// A value of 1.0 draws each candidate with exactly its table probability.
// Values > 1.0 flatten the distribution, values < 1.0 sharpen it.
// A value of 0 or less always picks the most probable candidate.
func WithTemperature(t float64) GenerateOption {
	return func(o *generateOptions) { o.temperature = t }
}

// WithTopK restricts every draw to the k most probable candidates.
// A value of 0 disables Top-K sampling.
func WithTopK(k int) GenerateOption {
	return func(o *generateOptions) { o.topK = k }
}

func newGenerateOptions(opts []GenerateOption) *generateOptions {
	options := &generateOptions{
		maxLength:   0,
		temperature: 1.0,
		topK:        0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// candidate is one possible next token and its weight.
type candidate struct {
	token  string
	weight float64
}

// SampleNext draws the token following context from its conditional
// distribution. The context must have exactly n-1 tokens and must have been
// seen during training.
func (m *Model) SampleNext(context []string, opts ...GenerateOption) (string, error) {
	if m.conditional == nil {
		return "", ErrNotConditioned
	}
	return m.sampleNext(context, newGenerateOptions(opts))
}

func (m *Model) sampleNext(context []string, options *generateOptions) (string, error) {
	dist, ok := m.conditional[Context(context).Key()]
	if !ok || len(context) != m.order-1 {
		return "", &UnknownContextError{Context: append([]string(nil), context...)}
	}
	return chooseNextToken(dist, options, m.src)
}

// GenerateSentence produces one sentence, starting from the all-BOS context
// and stopping once EOS is drawn. Neither BOS nor EOS appear in the result.
// A unigram model never counts EOS, so it only stops at WithMaxLength.
func (m *Model) GenerateSentence(opts ...GenerateOption) ([]string, error) {
	if m.conditional == nil {
		return nil, ErrNotConditioned
	}
	options := newGenerateOptions(opts)

	context := StartContext(m.order)
	sentence := make([]string, 0, 16)
	for {
		next, err := m.sampleNext(context, options)
		if err != nil {
			return nil, err
		}
		if next == EOS {
			break
		}
		if options.maxLength > 0 && len(sentence) >= options.maxLength {
			m.logger.Debug("Generation terminated by reaching maxLength",
				slog.Int("model_order", m.order),
				slog.Int("max_length", options.maxLength),
			)
			return nil, &GenerationOverrunError{MaxLength: options.maxLength, Tokens: sentence}
		}
		sentence = append(sentence, next)
		context.Shift(next)
	}

	m.logger.Debug("Generation terminated by EOS token",
		slog.Int("model_order", m.order),
		slog.Int("generated_length", len(sentence)),
	)
	return sentence, nil
}

// GenerateText generates a sentence and joins it with the model's tokenizer.
func (m *Model) GenerateText(opts ...GenerateOption) (string, error) {
	sentence, err := m.GenerateSentence(opts...)
	if err != nil {
		return "", err
	}
	return m.tokenizer.Join(sentence), nil
}

// chooseNextToken picks one token from dist according to options.
// Zero-weight candidates are never returned.
func chooseNextToken(dist map[string]float64, options *generateOptions, src rand.Source) (string, error) {
	choices := make([]candidate, 0, len(dist))
	for token, p := range dist {
		if p > 0 {
			choices = append(choices, candidate{token: token, weight: p})
		}
	}
	// Map order is random; sort so a seeded source gives repeatable output.
	slices.SortFunc(choices, func(a, b candidate) int {
		return strings.Compare(a.token, b.token)
	})

	if len(choices) == 0 {
		return "", ErrEmptyDistribution
	}
	if len(choices) == 1 {
		return choices[0].token, nil
	}

	// topK filtering
	if options.topK > 0 && options.topK < len(choices) {
		slices.SortStableFunc(choices, func(a, b candidate) int {
			return cmp.Compare(b.weight, a.weight)
		})
		choices = choices[:options.topK]
	}

	weights := make([]float64, len(choices))
	switch {
	case options.temperature <= 0: // Deterministic
		best := 0
		for i, choice := range choices {
			if choice.weight > choices[best].weight {
				best = i
			}
		}
		return choices[best].token, nil
	case options.temperature == 1.0: // Standard weighted random
		for i, choice := range choices {
			weights[i] = choice.weight
		}
	default: // Temperature-based sampling
		maxLog := math.Inf(-1)
		for i, choice := range choices {
			weights[i] = math.Log(choice.weight) / options.temperature
			maxLog = math.Max(maxLog, weights[i])
		}
		for i := range weights {
			weights[i] = math.Exp(weights[i] - maxLog)
		}
	}

	idx := int(distuv.NewCategorical(weights, src).Rand())
	return choices[idx].token, nil
}
