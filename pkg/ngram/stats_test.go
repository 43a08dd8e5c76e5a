package ngram

import "testing"

func TestStats(t *testing.T) {
	m := newTrainedModel(t, 2, "one fish two fish\nred fish blue fish")

	expected := ModelStats{
		Order:          2,
		Lines:          2,
		TotalWindows:   10,
		UniqueNGrams:   9,
		Contexts:       6,
		VocabSize:      5,
		StartingTokens: 2,
	}
	if got := m.Stats(); got != expected {
		t.Errorf("Stats() = %+v, want %+v", got, expected)
	}
}

func TestStatsUntrained(t *testing.T) {
	m, err := New(3, StringCorpus("a b c"))
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Stats(); got != (ModelStats{Order: 3}) {
		t.Errorf("untrained Stats() = %+v, want only the order set", got)
	}

	if err := m.Train(); err != nil {
		t.Fatal(err)
	}
	stats := m.Stats()
	if stats.Contexts != 0 {
		t.Errorf("expected no contexts before Condition, got %d", stats.Contexts)
	}
	if stats.TotalWindows != WindowCount(3, 3) {
		t.Errorf("TotalWindows = %d, want %d", stats.TotalWindows, WindowCount(3, 3))
	}
}
