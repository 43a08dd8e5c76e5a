package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/CTAG07/Ngrams/pkg/corpusdb"
	"github.com/CTAG07/Ngrams/pkg/ngram"
)

const (
	maxGenerateCount = 100
	maxLinesBodySize = 32 << 20
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// NgramAPI holds the dependencies for the model and corpus handlers.
type NgramAPI struct {
	registry *ModelRegistry
	store    *corpusdb.Store
	stats    *StatsAPI
	cm       *ConfigManager
	dataDir  string // fixed when the server starts
	logger   *slog.Logger
}

// NewNgramAPI creates a new instance of the NgramAPI.
func NewNgramAPI(registry *ModelRegistry, store *corpusdb.Store, stats *StatsAPI, cm *ConfigManager, logger *slog.Logger) *NgramAPI {
	return &NgramAPI{
		registry: registry,
		store:    store,
		stats:    stats,
		cm:       cm,
		dataDir:  cm.Get().Server.DataDir,
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for the /api/models and /api/corpora endpoints.
func (a *NgramAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/models", a.handleListAndCreateModels)
	mux.HandleFunc("/api/models/", a.handleModelByName)
	mux.HandleFunc("/api/corpora", a.handleListAndCreateCorpora)
	mux.HandleFunc("/api/corpora/", a.handleCorpusByName)
}

// CreateModelRequest builds a model from exactly one of a corpus file inside
// the data directory, a stored corpus, or inline text.
type CreateModelRequest struct {
	Name       string `json:"name"`
	Order      int    `json:"order"`
	CorpusFile string `json:"corpus_file"`
	Corpus     string `json:"corpus"`
	Text       string `json:"text"`
}

// GenerateRequest overrides the configured generation defaults. MaxLength is
// capped at the configured max_length.
type GenerateRequest struct {
	Count       int      `json:"count"`
	MaxLength   *int     `json:"max_length"`
	Temperature *float64 `json:"temperature"`
	TopK        *int     `json:"top_k"`
}

// SampleRequest asks for one token following Context.
type SampleRequest struct {
	Context     []string `json:"context"`
	Temperature *float64 `json:"temperature"`
	TopK        *int     `json:"top_k"`
}

// GeneratedSentence is one sentence returned by the generate endpoint.
type GeneratedSentence struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Tokens []string `json:"tokens"`
}

// CreateCorpusRequest is the body for creating a stored corpus.
type CreateCorpusRequest struct {
	Name string `json:"name"`
}

// BuildFromSpec resolves the corpus named by spec and registers the built model.
// Corpus files named here are trusted and used as given.
func (a *NgramAPI) BuildFromSpec(ctx context.Context, spec ModelSpec) (ModelInfo, error) {
	mc := a.cm.Get().Model
	order := spec.Order
	if order == 0 {
		order = mc.Order
	}

	var corpus ngram.Corpus
	var source string
	switch {
	case spec.CorpusFile != "":
		corpus = ngram.FileCorpus{Path: spec.CorpusFile}
		source = "file:" + spec.CorpusFile
	case spec.Corpus != "":
		info, err := a.store.GetCorpusInfo(ctx, spec.Corpus)
		if err != nil {
			return ModelInfo{}, fmt.Errorf("stored corpus %q: %w", spec.Corpus, err)
		}
		corpus = a.store.Corpus(ctx, info)
		source = "corpus:" + spec.Corpus
	default:
		return ModelInfo{}, fmt.Errorf("model %q has no corpus", spec.Name)
	}
	return a.registry.Build(spec.Name, order, corpus, source, mc)
}

// dataPath confines a client-supplied path to the data directory the server
// started with.
func (a *NgramAPI) dataPath(p string) string {
	return filepath.Join(a.dataDir, filepath.Clean("/"+p))
}

// handleListAndCreateModels handles GET for listing and POST for building models.
func (a *NgramAPI) handleListAndCreateModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !hasScope(r, scopeModelsRead) {
			forbidden(w, scopeModelsRead)
			return
		}
		respondWithJSON(w, http.StatusOK, a.registry.List())

	case http.MethodPost:
		if !hasScope(r, scopeModelsWrite) {
			forbidden(w, scopeModelsWrite)
			return
		}
		var req CreateModelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if !validName.MatchString(req.Name) {
			respondWithError(w, http.StatusBadRequest, "Model name must be non-empty and use only letters, digits, '.', '_' or '-'")
			return
		}
		if req.Order < 0 {
			respondWithError(w, http.StatusBadRequest, "Order must be positive")
			return
		}
		sources := 0
		for _, s := range []string{req.CorpusFile, req.Corpus, req.Text} {
			if s != "" {
				sources++
			}
		}
		if sources != 1 {
			respondWithError(w, http.StatusBadRequest, "Exactly one of corpus_file, corpus or text is required")
			return
		}

		var info ModelInfo
		var err error
		if req.Text != "" {
			mc := a.cm.Get().Model
			order := req.Order
			if order == 0 {
				order = mc.Order
			}
			info, err = a.registry.Build(req.Name, order, ngram.StringCorpus(req.Text), "inline", mc)
		} else {
			spec := ModelSpec{Name: req.Name, Order: req.Order, Corpus: req.Corpus}
			if req.CorpusFile != "" {
				spec.CorpusFile = a.dataPath(req.CorpusFile)
			}
			info, err = a.BuildFromSpec(r.Context(), spec)
		}
		if err != nil {
			a.logger.Error("Failed to build model", "name", req.Name, "error", err)
			a.respondBuildError(w, err)
			return
		}
		respondWithJSON(w, http.StatusCreated, info)

	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// handleModelByName routes actions for a specific model, e.g., generate, sample, counts, delete.
func (a *NgramAPI) handleModelByName(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/models/")
	parts := strings.Split(path, "/")
	modelName := parts[0]

	if modelName == "" {
		respondWithError(w, http.StatusBadRequest, "Model name not specified")
		return
	}

	scope := scopeModelsRead
	if r.Method == http.MethodDelete {
		scope = scopeModelsWrite
	}
	if !hasScope(r, scope) {
		forbidden(w, scope)
		return
	}

	entry, err := a.registry.get(modelName)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Model not found")
		return
	}

	if len(parts) == 1 { // Path is just /api/models/{name}
		switch r.Method {
		case http.MethodGet:
			respondWithJSON(w, http.StatusOK, entry.Info())
		case http.MethodDelete:
			if err = a.registry.Remove(modelName); err != nil {
				respondWithError(w, http.StatusNotFound, "Model not found")
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, "GET, DELETE")
		}
		return
	}

	action := parts[1]
	switch action {
	case "generate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, "POST")
			return
		}
		a.handleGenerate(w, r, entry)

	case "sample":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, "POST")
			return
		}
		a.handleSample(w, r, entry)

	case "counts", "probabilities", "conditional", "stats":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, "GET")
			return
		}
		a.handleTable(w, r, entry, action)

	default:
		respondWithError(w, http.StatusNotFound, "Action not found")
	}
}

func (a *NgramAPI) handleGenerate(w http.ResponseWriter, r *http.Request, entry *modelEntry) {
	var req GenerateRequest
	// An empty body generates one sentence with the configured defaults.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 0 || req.Count > maxGenerateCount {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", maxGenerateCount))
		return
	}

	mc := a.cm.Get().Model
	opts := mc.GenerateOptions()
	// A request may lower the configured cap but never lift it.
	if req.MaxLength != nil {
		if *req.MaxLength < 1 {
			respondWithError(w, http.StatusBadRequest, "max_length must be at least 1")
			return
		}
		opts = append(opts, ngram.WithMaxLength(min(*req.MaxLength, mc.MaxLength)))
	}
	if req.Temperature != nil {
		opts = append(opts, ngram.WithTemperature(*req.Temperature))
	}
	if req.TopK != nil {
		opts = append(opts, ngram.WithTopK(*req.TopK))
	}

	name := entry.Info().Name
	sentences := make([]GeneratedSentence, 0, req.Count)
	genErr := entry.With(func(m *ngram.Model) error {
		for i := 0; i < req.Count; i++ {
			tokens, err := m.GenerateSentence(opts...)
			if err != nil {
				return err
			}
			sentences = append(sentences, GeneratedSentence{
				Text:   m.Tokenizer().Join(tokens),
				Tokens: tokens,
			})
		}
		return nil
	})

	for i := range sentences {
		rec, err := a.stats.LogGeneration(r.Context(), name, outcomeComplete, sentences[i].Tokens, sentences[i].Text)
		if err != nil {
			a.logger.Warn("Failed to log generation", "model_name", name, "error", err)
			continue
		}
		sentences[i].ID = rec.ID
	}

	var overrun *ngram.GenerationOverrunError
	if errors.As(genErr, &overrun) {
		if _, err := a.stats.LogGeneration(r.Context(), name, outcomeOverrun, overrun.Tokens, ngram.ToText(overrun.Tokens)); err != nil {
			a.logger.Warn("Failed to log generation", "model_name", name, "error", err)
		}
		respondWithJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      overrun.Error(),
			"max_length": overrun.MaxLength,
			"partial":    overrun.Tokens,
			"sentences":  sentences,
		})
		return
	}
	if genErr != nil {
		a.logger.Error("Generation failed", "model_name", name, "error", genErr)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Generation failed: %v", genErr))
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"sentences": sentences})
}

func (a *NgramAPI) handleSample(w http.ResponseWriter, r *http.Request, entry *modelEntry) {
	var req SampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if req.Context == nil {
		req.Context = []string{}
	}

	mc := a.cm.Get().Model
	opts := []ngram.GenerateOption{ngram.WithTemperature(mc.Temperature), ngram.WithTopK(mc.TopK)}
	if req.Temperature != nil {
		opts = append(opts, ngram.WithTemperature(*req.Temperature))
	}
	if req.TopK != nil {
		opts = append(opts, ngram.WithTopK(*req.TopK))
	}

	var token string
	err := entry.With(func(m *ngram.Model) error {
		var err error
		token, err = m.SampleNext(req.Context, opts...)
		return err
	})
	var unknown *ngram.UnknownContextError
	if errors.As(err, &unknown) {
		respondWithError(w, http.StatusNotFound, unknown.Error())
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Sampling failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"context": req.Context, "token": token})
}

// handleTable serves one of the model's tables. For "conditional", a
// context query parameter holding space-separated tokens selects one row.
func (a *NgramAPI) handleTable(w http.ResponseWriter, r *http.Request, entry *modelEntry, table string) {
	var payload any
	err := entry.With(func(m *ngram.Model) error {
		switch table {
		case "counts":
			payload = m.RawCounts()
		case "probabilities":
			payload = m.Probabilities()
		case "stats":
			payload = m.Stats()
		case "conditional":
			if !r.URL.Query().Has("context") {
				payload = m.Conditional()
				return nil
			}
			dist, err := m.Distribution(ngram.SplitKey(r.URL.Query().Get("context")))
			if err != nil {
				return err
			}
			payload = dist
		}
		return nil
	})
	var unknown *ngram.UnknownContextError
	if errors.As(err, &unknown) {
		respondWithError(w, http.StatusNotFound, unknown.Error())
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, payload)
}

// respondBuildError maps model build failures to status codes.
func (a *NgramAPI) respondBuildError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ngram.ErrInvalidOrder):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, fs.ErrNotExist):
		respondWithError(w, http.StatusBadRequest, "Corpus file not found")
	case errors.Is(err, sql.ErrNoRows):
		respondWithError(w, http.StatusNotFound, "Stored corpus not found")
	case errors.Is(err, ngram.ErrEmptyModel):
		respondWithError(w, http.StatusUnprocessableEntity, "Corpus produced no n-grams")
	default:
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Build failed: %v", err))
	}
}

// handleListAndCreateCorpora handles GET for listing and POST for creating stored corpora.
func (a *NgramAPI) handleListAndCreateCorpora(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !hasScope(r, scopeCorporaRead) {
			forbidden(w, scopeCorporaRead)
			return
		}
		corpora, err := a.store.GetCorpusInfos(r.Context())
		if err != nil {
			a.logger.Error("Failed to get corpus infos", "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve corpora: %v", err))
			return
		}
		list := make([]corpusdb.CorpusInfo, 0, len(corpora))
		for _, info := range corpora {
			list = append(list, info)
		}
		respondWithJSON(w, http.StatusOK, list)

	case http.MethodPost:
		if !hasScope(r, scopeCorporaWrite) {
			forbidden(w, scopeCorporaWrite)
			return
		}
		var req CreateCorpusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if !validName.MatchString(req.Name) {
			respondWithError(w, http.StatusBadRequest, "Corpus name must be non-empty and use only letters, digits, '.', '_' or '-'")
			return
		}
		info, err := a.store.CreateCorpus(r.Context(), req.Name)
		if errors.Is(err, corpusdb.ErrCorpusExists) {
			respondWithError(w, http.StatusConflict, "Corpus already exists")
			return
		}
		if err != nil {
			a.logger.Error("Failed to create corpus", "name", req.Name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create corpus: %v", err))
			return
		}
		respondWithJSON(w, http.StatusCreated, info)

	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// handleCorpusByName routes actions for a specific stored corpus.
func (a *NgramAPI) handleCorpusByName(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/corpora/")
	parts := strings.Split(path, "/")
	corpusName := parts[0]

	if corpusName == "" {
		respondWithError(w, http.StatusBadRequest, "Corpus name not specified")
		return
	}

	scope := scopeCorporaRead
	if r.Method != http.MethodGet {
		scope = scopeCorporaWrite
	}
	if !hasScope(r, scope) {
		forbidden(w, scope)
		return
	}

	info, err := a.store.GetCorpusInfo(r.Context(), corpusName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Corpus not found")
			return
		}
		a.logger.Error("Failed to get corpus info by name", "name", corpusName, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			respondWithJSON(w, http.StatusOK, info)
		case http.MethodDelete:
			if err = a.store.RemoveCorpus(r.Context(), info); err != nil {
				a.logger.Error("Failed to remove corpus", "name", corpusName, "error", err)
				respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove corpus: %v", err))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, "GET, DELETE")
		}
		return
	}

	if parts[1] != "lines" {
		respondWithError(w, http.StatusNotFound, "Action not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		lines, err := a.store.Lines(r.Context(), info)
		if err != nil {
			a.logger.Error("Failed to read corpus lines", "name", corpusName, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
			return
		}
		if lines == nil {
			lines = []string{}
		}
		respondWithJSON(w, http.StatusOK, lines)
	case http.MethodPost:
		added, err := a.store.AddLines(r.Context(), info, http.MaxBytesReader(w, r.Body, maxLinesBodySize))
		if err != nil {
			a.logger.Error("Failed to add corpus lines", "name", corpusName, "error", err)
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to add lines: %v", err))
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]int{"lines_added": added, "line_count": info.LineCount + added})
	default:
		methodNotAllowed(w, "GET, POST")
	}
}
