package ngram

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	defaultStripChars  = "\"„”“»«`()"
	defaultPunctuation = ".,!?;:"
)

// DefaultTokenizer is the default implementation of the Tokenizer interface.
// It splits on whitespace, removes quote and bracket characters, and splits
// trailing sentence punctuation into its own token. Join does the reverse,
// attaching punctuation to the preceding word.
type DefaultTokenizer struct {
	separator   string
	stripChars  string
	punctuation string
	normForm    *norm.Form
}

// Option is a function that configures a DefaultTokenizer.
type Option func(*DefaultTokenizer)

// WithSeparator sets the string used for joining tokens.
// Default: " "
func WithSeparator(sep string) Option {
	return func(t *DefaultTokenizer) {
		t.separator = sep
	}
}

// WithStripChars sets the characters removed from every chunk before it becomes a token.
// Default: the ASCII double quote, „ ” “ » « ` and parentheses.
func WithStripChars(chars string) Option {
	return func(t *DefaultTokenizer) {
		t.stripChars = chars
	}
}

// WithPunctuation sets the characters split off the end of a chunk and glued
// to the previous token on Join.
// Default: ".,!?;:"
func WithPunctuation(chars string) Option {
	return func(t *DefaultTokenizer) {
		t.punctuation = chars
	}
}

// WithNormalization applies a Unicode normalization form to every line before
// it is split, so composed and decomposed spellings of the same word produce
// the same token. Disabled by default.
func WithNormalization(form norm.Form) Option {
	return func(t *DefaultTokenizer) {
		t.normForm = &form
	}
}

// NewDefaultTokenizer creates a new tokenizer with default settings, which can be
// overridden by providing one or more Option functions.
func NewDefaultTokenizer(opts ...Option) *DefaultTokenizer {
	t := &DefaultTokenizer{
		separator:   " ",
		stripChars:  defaultStripChars,
		punctuation: defaultPunctuation,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tokenize splits a line into word and punctuation tokens. No empty token is
// ever returned and the original left-to-right order is kept.
func (t *DefaultTokenizer) Tokenize(line string) []string {
	if t.normForm != nil {
		line = t.normForm.String(line)
	}

	// strings.Fields collapses whitespace runs as part of splitting.
	chunks := strings.Fields(line)
	tokens := make([]string, 0, len(chunks)+len(chunks)/2)
	for _, chunk := range chunks {
		word := t.strip(chunk)
		if word == "" {
			continue
		}
		last, size := utf8.DecodeLastRuneInString(word)
		if strings.ContainsRune(t.punctuation, last) && size < len(word) {
			tokens = append(tokens, word[:len(word)-size], word[len(word)-size:])
		} else {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

// Join concatenates tokens with the separator, leaving it out in front of
// tokens that are a single punctuation mark.
func (t *DefaultTokenizer) Join(tokens []string) string {
	var builder strings.Builder
	for i, token := range tokens {
		if i > 0 && !t.isPunctuation(token) {
			builder.WriteString(t.separator)
		}
		builder.WriteString(token)
	}
	return builder.String()
}

func (t *DefaultTokenizer) strip(chunk string) string {
	if !strings.ContainsAny(chunk, t.stripChars) {
		return chunk
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(t.stripChars, r) {
			return -1
		}
		return r
	}, chunk)
}

func (t *DefaultTokenizer) isPunctuation(token string) bool {
	r, size := utf8.DecodeLastRuneInString(token)
	return size > 0 && size == len(token) && strings.ContainsRune(t.punctuation, r)
}

// ToText formats a token sequence as prose using the default tokenizer.
func ToText(tokens []string) string {
	return defaultTokenizer.Join(tokens)
}

var defaultTokenizer = NewDefaultTokenizer()
