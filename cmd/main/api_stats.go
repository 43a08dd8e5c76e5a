package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS generation_log (
    entry_id      TEXT PRIMARY KEY,
    model_name    TEXT NOT NULL,
    outcome       TEXT NOT NULL,
    token_count   INTEGER NOT NULL,
    sentence      TEXT NOT NULL,
    created_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS generation_log_created ON generation_log (created_at);
`

const (
	outcomeComplete = "complete"
	outcomeOverrun  = "overrun"

	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// GenerationRecord is one logged sentence generation.
type GenerationRecord struct {
	ID         string    `json:"id"`
	ModelName  string    `json:"model_name"`
	Outcome    string    `json:"outcome"`
	TokenCount int       `json:"token_count"`
	Sentence   string    `json:"sentence"`
	CreatedAt  time.Time `json:"created_at"`
}

// ModelGenerationStats summarizes the generations of a single model.
type ModelGenerationStats struct {
	ModelName   string  `json:"model_name"`
	Generations int64   `json:"generations"`
	Overruns    int64   `json:"overruns"`
	AvgTokens   float64 `json:"avg_tokens"`
}

// GlobalStatsSummary provides a high-level overview of all logged generations.
type GlobalStatsSummary struct {
	TotalGenerations int64                  `json:"total_generations"`
	TotalOverruns    int64                  `json:"total_overruns"`
	LoadedModels     int                    `json:"loaded_models"`
	PerModel         []ModelGenerationStats `json:"per_model"`
}

// StatsAPI keeps the generation log and serves summaries of it.
type StatsAPI struct {
	db       *sql.DB
	registry *ModelRegistry
	logger   *slog.Logger
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, registry *ModelRegistry, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:       db,
		registry: registry,
		logger:   logger,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/recent", s.handleRecent)
}

// LogGeneration records one generated sentence and returns the new entry.
func (s *StatsAPI) LogGeneration(ctx context.Context, modelName, outcome string, tokens []string, sentence string) (GenerationRecord, error) {
	record := GenerationRecord{
		ID:         uuid.New().String(),
		ModelName:  modelName,
		Outcome:    outcome,
		TokenCount: len(tokens),
		Sentence:   sentence,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO generation_log (entry_id, model_name, outcome, token_count, sentence, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `, record.ID, record.ModelName, record.Outcome, record.TokenCount, record.Sentence, record.CreatedAt)
	if err != nil {
		return GenerationRecord{}, fmt.Errorf("failed to insert generation_log entry: %w", err)
	}
	return record, nil
}

// Summary aggregates the generation log.
func (s *StatsAPI) Summary(ctx context.Context) (*GlobalStatsSummary, error) {
	summary := &GlobalStatsSummary{
		LoadedModels: s.registry.Len(),
		PerModel:     []ModelGenerationStats{},
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT model_name, COUNT(*), COALESCE(SUM(outcome = ?), 0), COALESCE(AVG(token_count), 0)
        FROM generation_log GROUP BY model_name ORDER BY model_name
    `, outcomeOverrun)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation_log: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	for rows.Next() {
		var m ModelGenerationStats
		if err = rows.Scan(&m.ModelName, &m.Generations, &m.Overruns, &m.AvgTokens); err != nil {
			return nil, fmt.Errorf("failed to scan generation_log summary: %w", err)
		}
		summary.TotalGenerations += m.Generations
		summary.TotalOverruns += m.Overruns
		summary.PerModel = append(summary.PerModel, m)
	}
	return summary, rows.Err()
}

// Recent returns the newest log entries, optionally restricted to one model.
func (s *StatsAPI) Recent(ctx context.Context, modelName string, limit int) ([]GenerationRecord, error) {
	query := "SELECT entry_id, model_name, outcome, token_count, sentence, created_at FROM generation_log"
	var args []any
	if modelName != "" {
		query += " WHERE model_name = ?"
		args = append(args, modelName)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation_log: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	records := []GenerationRecord{}
	for rows.Next() {
		var rec GenerationRecord
		if err = rows.Scan(&rec.ID, &rec.ModelName, &rec.Outcome, &rec.TokenCount, &rec.Sentence, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan generation_log entry: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	if !hasScope(r, scopeStatsRead) {
		forbidden(w, scopeStatsRead)
		return
	}
	summary, err := s.Summary(r.Context())
	if err != nil {
		s.logger.Error("Failed to summarize generation log", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	if !hasScope(r, scopeStatsRead) {
		forbidden(w, scopeStatsRead)
		return
	}

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	records, err := s.Recent(r.Context(), strings.TrimSpace(r.URL.Query().Get("model")), limit)
	if err != nil {
		s.logger.Error("Failed to query recent generations", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, records)
}
