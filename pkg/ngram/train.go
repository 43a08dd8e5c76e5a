package ngram

import (
	"fmt"
	"log/slog"
	"strings"
)

// Train reads the whole corpus and counts every n-token window of every line.
// Each line is padded with n-1 BOS tokens in front and n-1 EOS tokens behind,
// so windows never cross a line boundary. Any tables from a previous run are
// discarded. A token containing a space fails training with *InvalidTokenError
// and leaves the previous tables in place.
func (m *Model) Train() error {
	if m.corpus == nil {
		return fmt.Errorf("ngram: model has no corpus")
	}
	lines, err := m.corpus.Lines()
	if err != nil {
		return fmt.Errorf("corpus read error: %w", err)
	}

	counts := make(map[string]int)
	var windows int
	for i, line := range lines {
		tokens := m.tokenizer.Tokenize(line)
		for _, token := range tokens {
			if strings.Contains(token, keySeparator) {
				return &InvalidTokenError{Token: token, Line: i + 1}
			}
		}
		windows += countLine(m.order, tokens, counts)
		if m.progress != nil {
			m.progress()
		}
	}

	m.lines = len(lines)
	m.rawCounts = counts
	m.probs = nil
	m.conditional = nil

	m.logger.Info("Training completed",
		slog.Int("model_order", m.order),
		slog.Int("lines_processed", len(lines)),
		slog.Int("windows_counted", windows),
		slog.Int("unique_ngrams", len(counts)),
	)
	return nil
}

// countLine pads one tokenized line and adds its windows to counts,
// returning the number of windows seen.
func countLine(order int, tokens []string, counts map[string]int) int {
	pad := order - 1
	padded := make([]string, 0, len(tokens)+2*pad)
	for i := 0; i < pad; i++ {
		padded = append(padded, BOS)
	}
	padded = append(padded, tokens...)
	for i := 0; i < pad; i++ {
		padded = append(padded, EOS)
	}

	var windows int
	for i := 0; i+order <= len(padded); i++ {
		counts[NGram(padded[i:i+order]).Key()]++
		windows++
	}
	return windows
}

// WindowCount returns how many n-grams a line of tokenCount tokens
// contributes once padded.
func WindowCount(order, tokenCount int) int {
	return max(tokenCount+2*(order-1)-order+1, 0)
}
