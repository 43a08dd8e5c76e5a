package main

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/CTAG07/Ngrams/pkg/ngram"
)

// ErrModelNotFound is returned for operations on a model name that is not registered.
var ErrModelNotFound = errors.New("model not found")

// ModelInfo describes a registered model.
type ModelInfo struct {
	Name    string           `json:"name"`
	Order   int              `json:"order"`
	Source  string           `json:"source"`
	BuiltAt time.Time        `json:"built_at"`
	Stats   ngram.ModelStats `json:"stats"`
}

// modelEntry owns one built model. The model's random source advances on
// every draw, so all access goes through the entry's mutex.
type modelEntry struct {
	mu    sync.Mutex
	model *ngram.Model
	info  ModelInfo
}

// With runs fn while holding the entry's lock.
func (e *modelEntry) With(fn func(m *ngram.Model) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.model)
}

// Info returns the entry's metadata.
func (e *modelEntry) Info() ModelInfo {
	return e.info
}

// ModelRegistry holds the fully built models served by the API, keyed by name.
// Models are built outside the registry lock and published only once
// conditioned, so a half-built model is never visible.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]*modelEntry
	logger *slog.Logger
}

// NewModelRegistry creates an empty registry.
func NewModelRegistry(logger *slog.Logger) *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*modelEntry),
		logger: logger,
	}
}

// Build trains a model of the given order on corpus and publishes it under
// name, replacing any model already registered with that name.
func (r *ModelRegistry) Build(name string, order int, corpus ngram.Corpus, source string, mc *ModelConfig, opts ...ngram.ModelOption) (ModelInfo, error) {
	modelOpts := []ngram.ModelOption{ngram.WithTokenizer(mc.Tokenizer())}
	if mc.Seed != 0 {
		modelOpts = append(modelOpts, ngram.WithSeed(mc.Seed))
	}
	modelOpts = append(modelOpts, opts...)

	m, err := ngram.New(order, corpus, modelOpts...)
	if err != nil {
		return ModelInfo{}, err
	}
	m.SetLogger(r.logger.With("model_name", name))
	if err = m.Build(); err != nil {
		return ModelInfo{}, err
	}

	entry := &modelEntry{
		model: m,
		info: ModelInfo{
			Name:    name,
			Order:   order,
			Source:  source,
			BuiltAt: time.Now().UTC(),
			Stats:   m.Stats(),
		},
	}

	r.mu.Lock()
	_, replaced := r.models[name]
	r.models[name] = entry
	r.mu.Unlock()

	r.logger.Info("Model registered",
		slog.String("model_name", name),
		slog.Int("model_order", order),
		slog.String("source", source),
		slog.Bool("replaced", replaced),
	)
	return entry.info, nil
}

func (r *ModelRegistry) get(name string) (*modelEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.models[name]
	if !ok {
		return nil, ErrModelNotFound
	}
	return entry, nil
}

// Remove unregisters a model.
func (r *ModelRegistry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[name]; !ok {
		return ErrModelNotFound
	}
	delete(r.models, name)
	r.logger.Info("Model removed", slog.String("model_name", name))
	return nil
}

// List returns every registered model sorted by name.
func (r *ModelRegistry) List() []ModelInfo {
	r.mu.RLock()
	infos := make([]ModelInfo, 0, len(r.models))
	for _, entry := range r.models {
		infos = append(infos, entry.info)
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b ModelInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return infos
}

// Len returns the number of registered models.
func (r *ModelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
