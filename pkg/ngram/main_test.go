package ngram

import (
	"errors"
	"go/build"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const tolerance = 1e-9

// newTrainedModel builds a seeded model over text and fails the test on any error.
func newTrainedModel(t *testing.T, order int, text string) *Model {
	t.Helper()
	m, err := New(order, StringCorpus(text), WithSeed(42))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Build(); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return m
}

// failingCorpus is a Corpus whose Lines always fails.
type failingCorpus struct{}

var errCorpusUnavailable = errors.New("corpus unavailable")

func (failingCorpus) Lines() ([]string, error) {
	return nil, errCorpusUnavailable
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= tolerance
}

var (
	benchmarkCorpus string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for benchmarking.
func createBenchmarkCorpus() string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = "this is a fallback corpus for benchmarking.\nit is not very long but will prevent a crash.\n"
				return
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		benchmarkCorpus = sb.String()
	})
	return benchmarkCorpus
}
