package corpusdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/CTAG07/Ngrams/pkg/ngram"
)

// ErrCorpusExists is returned by CreateCorpus when the name is already taken.
var ErrCorpusExists = errors.New("corpusdb: corpus already exists")

// SetupSchema creates the corpus tables. It is idempotent and safe to call on
// an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaCorpora = `
CREATE TABLE IF NOT EXISTS corpora (
    corpus_id INTEGER PRIMARY KEY,
    corpus_name TEXT NOT NULL UNIQUE
);
`
		schemaLines = `
CREATE TABLE IF NOT EXISTS corpus_lines (
    corpus_id INTEGER NOT NULL,
    line_no INTEGER NOT NULL,
    line_text TEXT NOT NULL,
    PRIMARY KEY (corpus_id, line_no)
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaCorpora); err != nil {
		return fmt.Errorf("could not create corpora schema: %w", err)
	}
	if _, err = tx.Exec(schemaLines); err != nil {
		return fmt.Errorf("could not create corpus_lines schema: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// CorpusInfo identifies a stored corpus.
type CorpusInfo struct {
	Id        int    `json:"id"`
	Name      string `json:"name"`
	LineCount int    `json:"line_count"`
}

// Store keeps training text in SQLite so that models can be rebuilt from it.
// Only raw lines are stored; trained tables always live in memory.
type Store struct {
	db             *sql.DB
	stmtGetCorpus  *sql.Stmt
	stmtGetCorpora *sql.Stmt
	stmtAddCorpus  *sql.Stmt
	stmtLines      *sql.Stmt
	stmtMaxLineNo  *sql.Stmt
	stmtInsertLine *sql.Stmt
	logger         *slog.Logger
}

// NewStore prepares the statements used by the Store. SetupSchema must have
// been called on db first.
func NewStore(db *sql.DB) (*Store, error) {
	stmtGetCorpus, err := db.Prepare(`SELECT c.corpus_id, (SELECT COUNT(*) FROM corpus_lines l WHERE l.corpus_id = c.corpus_id) FROM corpora c WHERE c.corpus_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetCorpora, err := db.Prepare(`SELECT c.corpus_id, c.corpus_name, (SELECT COUNT(*) FROM corpus_lines l WHERE l.corpus_id = c.corpus_id) FROM corpora c ORDER BY c.corpus_name;`)
	if err != nil {
		return nil, err
	}

	stmtAddCorpus, err := db.Prepare(`INSERT INTO corpora (corpus_name) VALUES (?);`)
	if err != nil {
		return nil, err
	}

	stmtLines, err := db.Prepare(`SELECT line_text FROM corpus_lines WHERE corpus_id = ? ORDER BY line_no;`)
	if err != nil {
		return nil, err
	}

	stmtMaxLineNo, err := db.Prepare(`SELECT coalesce(MAX(line_no), -1) FROM corpus_lines WHERE corpus_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtInsertLine, err := db.Prepare(`INSERT INTO corpus_lines (corpus_id, line_no, line_text) VALUES (?, ?, ?);`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:             db,
		stmtGetCorpus:  stmtGetCorpus,
		stmtGetCorpora: stmtGetCorpora,
		stmtAddCorpus:  stmtAddCorpus,
		stmtLines:      stmtLines,
		stmtMaxLineNo:  stmtMaxLineNo,
		stmtInsertLine: stmtInsertLine,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases the prepared statements.
func (s *Store) Close() {
	_ = s.stmtGetCorpus.Close()
	_ = s.stmtGetCorpora.Close()
	_ = s.stmtAddCorpus.Close()
	_ = s.stmtLines.Close()
	_ = s.stmtMaxLineNo.Close()
	_ = s.stmtInsertLine.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// CreateCorpus registers an empty corpus under name.
func (s *Store) CreateCorpus(ctx context.Context, name string) (CorpusInfo, error) {
	if _, err := s.GetCorpusInfo(ctx, name); err == nil {
		return CorpusInfo{}, ErrCorpusExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return CorpusInfo{}, err
	}

	res, err := s.stmtAddCorpus.ExecContext(ctx, name)
	if err != nil {
		return CorpusInfo{}, fmt.Errorf("failed to insert corpus '%s': %w", name, err)
	}
	id, _ := res.LastInsertId()

	s.logger.InfoContext(ctx, "Corpus created",
		slog.String("corpus_name", name),
		slog.Int("corpus_id", int(id)),
	)
	return CorpusInfo{Id: int(id), Name: name}, nil
}

// GetCorpusInfo looks up a single corpus by name. It returns sql.ErrNoRows
// when no such corpus exists.
func (s *Store) GetCorpusInfo(ctx context.Context, name string) (CorpusInfo, error) {
	info := CorpusInfo{Name: name}
	err := s.stmtGetCorpus.QueryRowContext(ctx, name).Scan(&info.Id, &info.LineCount)
	if err != nil {
		return CorpusInfo{}, err
	}
	return info, nil
}

// GetCorpusInfos returns every stored corpus keyed by name.
func (s *Store) GetCorpusInfos(ctx context.Context) (map[string]CorpusInfo, error) {
	rows, err := s.stmtGetCorpora.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	corpora := make(map[string]CorpusInfo)
	for rows.Next() {
		var info CorpusInfo
		if err = rows.Scan(&info.Id, &info.Name, &info.LineCount); err != nil {
			return nil, err
		}
		corpora[info.Name] = info
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return corpora, nil
}

// AddLines appends every line of r to the corpus, after any lines already
// stored. Either all lines are stored or none are. It returns the number of
// lines added.
func (s *Store) AddLines(ctx context.Context, info CorpusInfo, r io.Reader) (int, error) {
	lines, err := ngram.ReadLines(r)
	if err != nil {
		return 0, fmt.Errorf("could not read lines: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var last int
	if err = tx.StmtContext(ctx, s.stmtMaxLineNo).QueryRowContext(ctx, info.Id).Scan(&last); err != nil {
		return 0, fmt.Errorf("could not find end of corpus %d: %w", info.Id, err)
	}

	stmtInsertLine := tx.StmtContext(ctx, s.stmtInsertLine)
	for i, line := range lines {
		if _, err = stmtInsertLine.ExecContext(ctx, info.Id, last+1+i, line); err != nil {
			return 0, fmt.Errorf("failed to insert line %d: %w", last+1+i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("could not commit transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Lines added to corpus",
		slog.String("corpus_name", info.Name),
		slog.Int("lines_added", len(lines)),
	)
	return len(lines), nil
}

// Lines returns the stored lines of a corpus in insertion order.
func (s *Store) Lines(ctx context.Context, info CorpusInfo) ([]string, error) {
	rows, err := s.stmtLines.QueryContext(ctx, info.Id)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var lines []string
	for rows.Next() {
		var line string
		if err = rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// RemoveCorpus deletes a corpus and all of its lines.
func (s *Store) RemoveCorpus(ctx context.Context, info CorpusInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM corpus_lines WHERE corpus_id = ?", info.Id); err != nil {
		return fmt.Errorf("failed to remove lines for corpus %d: %w", info.Id, err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM corpora WHERE corpus_id = ?", info.Id); err != nil {
		return fmt.Errorf("failed to remove corpus %d: %w", info.Id, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit removal of corpus %d: %w", info.Id, err)
	}

	s.logger.InfoContext(ctx, "Corpus removed successfully",
		slog.String("corpus_name", info.Name),
		slog.Int("corpus_id", info.Id),
	)
	return nil
}

// Corpus adapts a stored corpus to ngram.Corpus. The lines are queried each
// time the model calls Lines, using ctx.
func (s *Store) Corpus(ctx context.Context, info CorpusInfo) ngram.Corpus {
	return &storedCorpus{store: s, ctx: ctx, info: info}
}

type storedCorpus struct {
	store *Store
	ctx   context.Context
	info  CorpusInfo
}

func (c *storedCorpus) Lines() ([]string, error) {
	return c.store.Lines(c.ctx, c.info)
}
