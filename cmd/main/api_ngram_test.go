package main

import (
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

type generateResponse struct {
	Sentences []GeneratedSentence `json:"sentences"`
}

func TestModelLifecycle(t *testing.T) {
	env := setupTestServer(t)

	info := env.createModel(t, "hello", 2, "Hello, world!")
	if info.Stats.Lines != 1 || info.Stats.VocabSize != 4 || info.Source != "inline" {
		t.Errorf("unexpected model info %+v", info)
	}

	var list []ModelInfo
	if code := env.do(t, http.MethodGet, "/api/models", nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("GET /api/models = %d %+v", code, list)
	}

	var gen generateResponse
	code := env.do(t, http.MethodPost, "/api/models/hello/generate", GenerateRequest{Count: 2}, &gen)
	if code != http.StatusOK {
		t.Fatalf("generate returned %d", code)
	}
	if len(gen.Sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %+v", gen.Sentences)
	}
	for _, s := range gen.Sentences {
		if s.Text != "Hello, world!" || s.ID == "" {
			t.Errorf("unexpected sentence %+v", s)
		}
		if !reflect.DeepEqual(s.Tokens, []string{"Hello", ",", "world", "!"}) {
			t.Errorf("unexpected tokens %q", s.Tokens)
		}
	}

	if code = env.do(t, http.MethodDelete, "/api/models/hello", nil, nil); code != http.StatusNoContent {
		t.Errorf("DELETE returned %d, want %d", code, http.StatusNoContent)
	}
	if code = env.do(t, http.MethodGet, "/api/models/hello", nil, nil); code != http.StatusNotFound {
		t.Errorf("GET after delete returned %d, want %d", code, http.StatusNotFound)
	}
}

func TestGenerateEmptyBodyUsesDefaults(t *testing.T) {
	env := setupTestServer(t)
	env.createModel(t, "hello", 2, "Hello, world!")

	var gen generateResponse
	if code := env.do(t, http.MethodPost, "/api/models/hello/generate", nil, &gen); code != http.StatusOK {
		t.Fatalf("generate returned %d", code)
	}
	if len(gen.Sentences) != 1 {
		t.Errorf("expected one sentence, got %d", len(gen.Sentences))
	}
}

func TestGenerateOverrun(t *testing.T) {
	env := setupTestServer(t)
	env.createModel(t, "loop", 2, "x x x")

	maxLength, temperature := 3, 0.0
	var body map[string]any
	code := env.do(t, http.MethodPost, "/api/models/loop/generate", GenerateRequest{MaxLength: &maxLength, Temperature: &temperature}, &body)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("generate returned %d, want %d", code, http.StatusUnprocessableEntity)
	}
	if body["max_length"] != float64(3) {
		t.Errorf("unexpected overrun body %v", body)
	}

	var summary GlobalStatsSummary
	if code = env.do(t, http.MethodGet, "/api/stats/summary", nil, &summary); code != http.StatusOK {
		t.Fatalf("summary returned %d", code)
	}
	if summary.TotalOverruns != 1 || summary.LoadedModels != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestGenerateMaxLengthCannotExceedConfig(t *testing.T) {
	env := setupTestServer(t)
	env.createModel(t, "loop", 2, "x x x")
	configured := env.cm.Get().Model.MaxLength
	temperature := 0.0

	for _, maxLength := range []int{0, -1} {
		code := env.do(t, http.MethodPost, "/api/models/loop/generate", GenerateRequest{MaxLength: &maxLength, Temperature: &temperature}, nil)
		if code != http.StatusBadRequest {
			t.Errorf("max_length %d returned %d, want %d", maxLength, code, http.StatusBadRequest)
		}
	}

	maxLength := configured * 10
	var body map[string]any
	code := env.do(t, http.MethodPost, "/api/models/loop/generate", GenerateRequest{MaxLength: &maxLength, Temperature: &temperature}, &body)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("generate returned %d, want %d", code, http.StatusUnprocessableEntity)
	}
	if body["max_length"] != float64(configured) {
		t.Errorf("max_length = %v, want the configured %d", body["max_length"], configured)
	}

	// The model stays usable afterwards.
	if code = env.do(t, http.MethodGet, "/api/models/loop/stats", nil, nil); code != http.StatusOK {
		t.Errorf("stats returned %d after generation", code)
	}
}

func TestGenerateValidation(t *testing.T) {
	env := setupTestServer(t)
	env.createModel(t, "hello", 2, "Hello, world!")

	testCases := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
	}{
		{"Count too large", http.MethodPost, "/api/models/hello/generate", GenerateRequest{Count: maxGenerateCount + 1}, http.StatusBadRequest},
		{"Bad JSON", http.MethodPost, "/api/models/hello/generate", "{", http.StatusBadRequest},
		{"Wrong method", http.MethodGet, "/api/models/hello/generate", nil, http.StatusMethodNotAllowed},
		{"Unknown model", http.MethodPost, "/api/models/nope/generate", nil, http.StatusNotFound},
		{"Unknown action", http.MethodGet, "/api/models/hello/nope", nil, http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if code := env.do(t, tc.method, tc.path, tc.body, nil); code != tc.code {
				t.Errorf("%s %s returned %d, want %d", tc.method, tc.path, code, tc.code)
			}
		})
	}
}

func TestSample(t *testing.T) {
	env := setupTestServer(t)
	env.createModel(t, "hello", 2, "Hello, world!")

	var body map[string]any
	code := env.do(t, http.MethodPost, "/api/models/hello/sample", SampleRequest{Context: []string{"Hello"}}, &body)
	if code != http.StatusOK || body["token"] != "," {
		t.Errorf("sample = %d %v, want ','", code, body)
	}

	for _, context := range [][]string{{"nope"}, {"Hello", ","}, {}} {
		if code = env.do(t, http.MethodPost, "/api/models/hello/sample", SampleRequest{Context: context}, nil); code != http.StatusNotFound {
			t.Errorf("sample with context %q returned %d, want %d", context, code, http.StatusNotFound)
		}
	}
}

func TestModelTables(t *testing.T) {
	env := setupTestServer(t)
	env.createModel(t, "hello", 2, "Hello, world!")

	var counts map[string]int
	if code := env.do(t, http.MethodGet, "/api/models/hello/counts", nil, &counts); code != http.StatusOK {
		t.Fatalf("counts returned %d", code)
	}
	if len(counts) != 5 || counts["BOS Hello"] != 1 || counts["! EOS"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	var probs map[string]float64
	env.do(t, http.MethodGet, "/api/models/hello/probabilities", nil, &probs)
	if probs["BOS Hello"] != 0.2 {
		t.Errorf("P(BOS Hello) = %v, want 0.2", probs["BOS Hello"])
	}

	var conditional map[string]map[string]float64
	env.do(t, http.MethodGet, "/api/models/hello/conditional", nil, &conditional)
	if len(conditional) != 5 {
		t.Errorf("expected 5 contexts, got %v", conditional)
	}

	var dist map[string]float64
	if code := env.do(t, http.MethodGet, "/api/models/hello/conditional?context=Hello", nil, &dist); code != http.StatusOK {
		t.Fatalf("conditional row returned %d", code)
	}
	if !reflect.DeepEqual(dist, map[string]float64{",": 1}) {
		t.Errorf("unexpected distribution %v", dist)
	}
	if code := env.do(t, http.MethodGet, "/api/models/hello/conditional?context=nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown context returned %d, want %d", code, http.StatusNotFound)
	}

	var stats map[string]int
	env.do(t, http.MethodGet, "/api/models/hello/stats", nil, &stats)
	if stats["total_windows"] != 5 || stats["order"] != 2 {
		t.Errorf("unexpected stats %v", stats)
	}
}

func TestCreateModelErrors(t *testing.T) {
	env := setupTestServer(t)

	testCases := []struct {
		name string
		req  CreateModelRequest
		code int
	}{
		{"No source", CreateModelRequest{Name: "m"}, http.StatusBadRequest},
		{"Two sources", CreateModelRequest{Name: "m", Text: "a", Corpus: "c"}, http.StatusBadRequest},
		{"Bad name", CreateModelRequest{Name: "a/b", Text: "a"}, http.StatusBadRequest},
		{"Negative order", CreateModelRequest{Name: "m", Order: -1, Text: "a"}, http.StatusBadRequest},
		{"Missing file", CreateModelRequest{Name: "m", CorpusFile: "missing.txt"}, http.StatusBadRequest},
		{"Missing stored corpus", CreateModelRequest{Name: "m", Corpus: "missing"}, http.StatusNotFound},
		{"No n-grams", CreateModelRequest{Name: "m", Order: 1, Text: "\n\n"}, http.StatusUnprocessableEntity},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if code := env.do(t, http.MethodPost, "/api/models", tc.req, nil); code != tc.code {
				t.Errorf("POST /api/models returned %d, want %d", code, tc.code)
			}
		})
	}
}

func TestModelFromCorpusFile(t *testing.T) {
	env := setupTestServer(t)
	if err := os.WriteFile(filepath.Join(env.dir, "corpus.txt"), []byte("one fish two fish\nred fish blue fish\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var info ModelInfo
	// The path is confined to the data directory.
	code := env.do(t, http.MethodPost, "/api/models", CreateModelRequest{Name: "fish", CorpusFile: "../../corpus.txt"}, &info)
	if code != http.StatusCreated {
		t.Fatalf("POST /api/models returned %d", code)
	}
	if info.Stats.Lines != 2 || info.Stats.VocabSize != 5 || info.Order != 2 {
		t.Errorf("unexpected model info %+v", info)
	}
}

func TestCorpora(t *testing.T) {
	env := setupTestServer(t)

	if code := env.do(t, http.MethodPost, "/api/corpora", CreateCorpusRequest{Name: "hello"}, nil); code != http.StatusCreated {
		t.Fatalf("create corpus returned %d", code)
	}
	if code := env.do(t, http.MethodPost, "/api/corpora", CreateCorpusRequest{Name: "hello"}, nil); code != http.StatusConflict {
		t.Errorf("duplicate corpus returned %d, want %d", code, http.StatusConflict)
	}

	var added map[string]int
	code := env.do(t, http.MethodPost, "/api/corpora/hello/lines", "Hello, world!\nHello, world!\n", &added)
	if code != http.StatusOK || added["lines_added"] != 2 || added["line_count"] != 2 {
		t.Fatalf("add lines = %d %v", code, added)
	}

	var lines []string
	env.do(t, http.MethodGet, "/api/corpora/hello/lines", nil, &lines)
	if len(lines) != 2 {
		t.Errorf("expected 2 stored lines, got %q", lines)
	}

	var info ModelInfo
	if code = env.do(t, http.MethodPost, "/api/models", CreateModelRequest{Name: "stored", Corpus: "hello"}, &info); code != http.StatusCreated {
		t.Fatalf("build from stored corpus returned %d", code)
	}
	if info.Source != "corpus:hello" || info.Stats.Lines != 2 {
		t.Errorf("unexpected model info %+v", info)
	}

	if code = env.do(t, http.MethodDelete, "/api/corpora/hello", nil, nil); code != http.StatusNoContent {
		t.Errorf("delete corpus returned %d", code)
	}
	if code = env.do(t, http.MethodGet, "/api/corpora/hello", nil, nil); code != http.StatusNotFound {
		t.Errorf("deleted corpus returned %d, want %d", code, http.StatusNotFound)
	}
	// Built models do not depend on the stored corpus any more.
	if code = env.do(t, http.MethodPost, "/api/models/stored/generate", nil, nil); code != http.StatusOK {
		t.Errorf("generate after corpus removal returned %d", code)
	}
}

func TestStatsRecent(t *testing.T) {
	env := setupTestServer(t)
	env.createModel(t, "a", 2, "alpha")
	env.createModel(t, "b", 2, "beta")
	env.do(t, http.MethodPost, "/api/models/a/generate", GenerateRequest{Count: 3}, nil)
	env.do(t, http.MethodPost, "/api/models/b/generate", nil, nil)

	var recent []GenerationRecord
	if code := env.do(t, http.MethodGet, "/api/stats/recent?limit=2", nil, &recent); code != http.StatusOK {
		t.Fatalf("recent returned %d", code)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 records, got %d", len(recent))
	}

	env.do(t, http.MethodGet, "/api/stats/recent?model=a", nil, &recent)
	if len(recent) != 3 {
		t.Errorf("expected 3 records for model a, got %d", len(recent))
	}
	for _, rec := range recent {
		if rec.ModelName != "a" || rec.Sentence != "alpha" || rec.Outcome != outcomeComplete {
			t.Errorf("unexpected record %+v", rec)
		}
	}

	if code := env.do(t, http.MethodGet, "/api/stats/recent?limit=zero", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad limit returned %d, want %d", code, http.StatusBadRequest)
	}

	var summary GlobalStatsSummary
	env.do(t, http.MethodGet, "/api/stats/summary", nil, &summary)
	if summary.TotalGenerations != 4 || len(summary.PerModel) != 2 || summary.PerModel[0].Generations != 3 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestLoadModels(t *testing.T) {
	env := setupTestServer(t)
	path := filepath.Join(env.dir, "startup.txt")
	if err := os.WriteFile(path, []byte("Hello, world!"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := env.cm.Get()
	cfg.Models = []ModelSpec{
		{Name: "startup", CorpusFile: path},
		{Name: "broken", CorpusFile: filepath.Join(env.dir, "missing.txt")},
	}
	if err := env.cm.Update(cfg); err != nil {
		t.Fatal(err)
	}

	if built := env.server.LoadModels(t.Context()); built != 1 {
		t.Errorf("LoadModels() built %d models, want 1", built)
	}
	if code := env.do(t, http.MethodGet, "/api/models/startup", nil, nil); code != http.StatusOK {
		t.Errorf("startup model returned %d", code)
	}
}
