package ngram

// ModelStats holds aggregated statistics for a trained model.
type ModelStats struct {
	Order          int `json:"order"`           // The number of tokens in each n-gram.
	Lines          int `json:"lines"`           // The number of corpus lines processed by Train.
	TotalWindows   int `json:"total_windows"`   // The sum of all raw counts; the number of windows counted.
	UniqueNGrams   int `json:"unique_ngrams"`   // The number of distinct n-grams.
	Contexts       int `json:"contexts"`        // The number of distinct contexts; 0 before Condition.
	VocabSize      int `json:"vocab_size"`      // The number of distinct tokens, sentinels excluded.
	StartingTokens int `json:"starting_tokens"` // The number of tokens that can begin a sentence.
}

// Stats returns a snapshot of statistics for the model.
func (m *Model) Stats() ModelStats {
	stats := ModelStats{
		Order:        m.order,
		Lines:        m.lines,
		UniqueNGrams: len(m.rawCounts),
		Contexts:     len(m.conditional),
	}

	vocab := make(map[string]struct{})
	starters := make(map[string]struct{})
	startKey := StartContext(m.order).Key()
	for key, c := range m.rawCounts {
		stats.TotalWindows += c
		gram := NGram(SplitKey(key))
		for _, token := range gram {
			if token != BOS && token != EOS {
				vocab[token] = struct{}{}
			}
		}
		if last := gram.Last(); gram.Context().Key() == startKey && last != EOS {
			starters[last] = struct{}{}
		}
	}
	stats.VocabSize = len(vocab)
	stats.StartingTokens = len(starters)
	return stats
}
