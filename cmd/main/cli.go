package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"

	"github.com/CTAG07/Ngrams/pkg/corpusdb"
	"github.com/CTAG07/Ngrams/pkg/ngram"
)

// runGenerate trains a model on a corpus file and prints generated sentences,
// one per line.
func runGenerate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	defaults := DefaultModelConfig()
	corpusPath := fs.String("corpus", "", "path to the training corpus, one sentence per line")
	order := fs.Int("n", defaults.Order, "n-gram order")
	count := fs.Int("count", 1, "number of sentences to generate")
	maxLength := fs.Int("max-length", defaults.MaxLength, "maximum tokens per sentence; 0 is unbounded")
	temperature := fs.Float64("temperature", defaults.Temperature, "sampling temperature; 0 always picks the most probable token")
	topK := fs.Int("top-k", defaults.TopK, "sample only from the k most probable tokens; 0 disables")
	seed := fs.Uint64("seed", 0, "random seed; 0 picks one at random")
	normalize := fs.String("normalize", "", "Unicode normalization applied before tokenizing (NFC, NFD, NFKC, NFKD)")
	outPath := fs.String("out", "", "write sentences to this file instead of stdout")
	showProgress := fs.Bool("progress", true, "show a training progress bar on stderr")
	showStats := fs.Bool("stats", false, "print model statistics on stderr")
	logLevel := fs.String("log-level", "warn", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *corpusPath == "" {
		return errors.New("generate: -corpus is required")
	}
	if *count < 1 {
		return errors.New("generate: -count must be at least 1")
	}

	mc := &ModelConfig{
		Order:       *order,
		MaxLength:   *maxLength,
		Temperature: *temperature,
		TopK:        *topK,
		Seed:        *seed,
		Normalize:   *normalize,
	}
	if _, err := parseNormalization(mc.Normalize); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: parseLogLevel(*logLevel)}))

	lines, err := ngram.FileCorpus{Path: *corpusPath}.Lines()
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	opts := []ngram.ModelOption{ngram.WithTokenizer(mc.Tokenizer())}
	if mc.Seed != 0 {
		opts = append(opts, ngram.WithSeed(mc.Seed))
	}
	var bar *pb.ProgressBar
	if *showProgress {
		bar = pb.New(len(lines))
		bar.SetWriter(stderr)
		bar.Start()
		opts = append(opts, ngram.WithProgress(func() { bar.Increment() }))
	}

	m, err := ngram.New(mc.Order, ngram.LinesCorpus(lines), opts...)
	if err == nil {
		m.SetLogger(logger)
		err = m.Build()
	}
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	if *showStats {
		stats := m.Stats()
		_, _ = fmt.Fprintf(stderr, "order %d: %s lines, %s windows, %s unique n-grams, %s contexts, %s tokens in vocabulary\n",
			stats.Order,
			humanize.Comma(int64(stats.Lines)),
			humanize.Comma(int64(stats.TotalWindows)),
			humanize.Comma(int64(stats.UniqueNGrams)),
			humanize.Comma(int64(stats.Contexts)),
			humanize.Comma(int64(stats.VocabSize)),
		)
	}

	var out strings.Builder
	var produced int
	for i := 0; i < *count; i++ {
		text, err := m.GenerateText(mc.GenerateOptions()...)
		var overrun *ngram.GenerationOverrunError
		if errors.As(err, &overrun) {
			logger.Warn("Skipping sentence that reached the maximum length", "sentence", i+1, "max_length", overrun.MaxLength)
			continue
		}
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		out.WriteString(text)
		out.WriteByte('\n')
		produced++
	}
	if produced == 0 {
		return fmt.Errorf("generate: every sentence exceeded %d tokens", mc.MaxLength)
	}

	if *outPath != "" {
		if err = atomic.WriteFile(*outPath, strings.NewReader(out.String())); err != nil {
			return fmt.Errorf("generate: failed to write %s: %w", *outPath, err)
		}
		return nil
	}
	_, err = io.WriteString(stdout, out.String())
	return err
}

// runImport appends text files to a stored corpus, creating it if needed.
func runImport(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", DefaultServerConfig().DatabasePath, "SQLite database holding the corpora")
	name := fs.String("name", "", "name of the stored corpus")
	logLevel := fs.String("log-level", "warn", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !validName.MatchString(*name) {
		return errors.New("import: -name must be non-empty and use only letters, digits, '.', '_' or '-'")
	}
	if fs.NArg() == 0 {
		return errors.New("import: no files given")
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: parseLogLevel(*logLevel)}))

	db, err := initDB(*dbPath)
	if err != nil {
		return fmt.Errorf("import: failed to open database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()
	if err = corpusdb.SetupSchema(db); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	store, err := corpusdb.NewStore(db)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	defer store.Close()
	store.SetLogger(logger)

	ctx := context.Background()
	info, err := store.CreateCorpus(ctx, *name)
	if errors.Is(err, corpusdb.ErrCorpusExists) {
		info, err = store.GetCorpusInfo(ctx, *name)
	}
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	var total int
	for _, path := range fs.Args() {
		added, err := importFile(ctx, store, info, path)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		total += added
		_, _ = fmt.Fprintf(stdout, "%s: %s lines\n", path, humanize.Comma(int64(added)))
	}
	_, _ = fmt.Fprintf(stdout, "corpus %q: %s lines added, %s total\n", info.Name, humanize.Comma(int64(total)), humanize.Comma(int64(info.LineCount+total)))
	return nil
}

func importFile(ctx context.Context, store *corpusdb.Store, info corpusdb.CorpusInfo, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)
	return store.AddLines(ctx, info, file)
}
