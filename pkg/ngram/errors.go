package ngram

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyModel is returned by Estimate when there are no raw counts,
	// either because Train was never called or the corpus held no n-grams.
	ErrEmptyModel = errors.New("ngram: model has no raw counts")

	// ErrMissingContext is returned by Condition when the probability table is empty.
	ErrMissingContext = errors.New("ngram: probability table is empty")

	// ErrNotConditioned is returned by the sampling functions when Condition
	// has not completed.
	ErrNotConditioned = errors.New("ngram: model has not been conditioned")

	// ErrInvalidOrder is returned by New for an order below 1.
	ErrInvalidOrder = errors.New("ngram: order must be at least 1")

	// ErrEmptyDistribution is returned when a context has no candidate with a
	// positive probability.
	ErrEmptyDistribution = errors.New("ngram: distribution has no candidates")
)

// InvalidTokenError reports a token that cannot be stored in the tables
// because it contains the key separator. Line is the 1-based corpus line.
type InvalidTokenError struct {
	Token string
	Line  int
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("ngram: token %q on line %d contains a space", e.Token, e.Line)
}

// UnknownContextError reports a sampling request for a context that never
// occurred in the training corpus.
type UnknownContextError struct {
	Context []string
}

func (e *UnknownContextError) Error() string {
	return fmt.Sprintf("ngram: unknown context %q", e.Context)
}

// GenerationOverrunError reports that a sentence reached the caller's
// maximum length without sampling EOS. Tokens holds what was generated.
type GenerationOverrunError struct {
	MaxLength int
	Tokens    []string
}

func (e *GenerationOverrunError) Error() string {
	return fmt.Sprintf("ngram: generation exceeded %d tokens without reaching %s", e.MaxLength, EOS)
}
