package ngram

import (
	"strings"
)

const (
	// BOS is the sentinel token padding the front of every line.
	BOS = "BOS"
	// EOS is the sentinel token padding the back of every line.
	EOS = "EOS"

	// keySeparator joins tokens into map keys. Train rejects tokens that
	// contain it.
	keySeparator = " "
)

// Tokenizer is the contract between the model and its text handling. It splits
// a single line into tokens during training and reassembles generated tokens
// into readable text.
type Tokenizer interface {
	// Tokenize splits one line of text (without its newline) into tokens.
	// Tokens must not contain a space; Train fails with *InvalidTokenError
	// when one does.
	Tokenize(line string) []string
	// Join reassembles a token sequence into text.
	Join(tokens []string) string
}

// NGram is an ordered tuple of exactly n tokens.
type NGram []string

// Key returns the map key for the n-gram.
func (g NGram) Key() string {
	return strings.Join(g, keySeparator)
}

// Context returns the leading n-1 tokens of the n-gram.
func (g NGram) Context() Context {
	if len(g) == 0 {
		return Context{}
	}
	return Context(g[:len(g)-1])
}

// Last returns the final token of the n-gram.
func (g NGram) Last() string {
	if len(g) == 0 {
		return ""
	}
	return g[len(g)-1]
}

// Context is the (n-1)-token prefix conditioning the next token.
type Context []string

// Key returns the map key for the context.
func (c Context) Key() string {
	return strings.Join(c, keySeparator)
}

// Shift drops the oldest token and appends next, in place.
func (c Context) Shift(next string) {
	if len(c) == 0 {
		return
	}
	copy(c, c[1:])
	c[len(c)-1] = next
}

// SplitKey turns a table key back into its tokens.
func SplitKey(key string) []string {
	if key == "" {
		return []string{}
	}
	return strings.Split(key, keySeparator)
}

// StartContext returns the all-BOS context a sentence begins from.
func StartContext(order int) Context {
	ctx := make(Context, max(order-1, 0))
	for i := range ctx {
		ctx[i] = BOS
	}
	return ctx
}
