package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CTAG07/Ngrams/pkg/corpusdb"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Server wires the model registry, the corpus store and the API handlers together.
type Server struct {
	cm        *ConfigManager
	db        *sql.DB
	logger    *slog.Logger
	store     *corpusdb.Store
	registry  *ModelRegistry
	authAPI   *AuthAPI
	ngramAPI  *NgramAPI
	statsAPI  *StatsAPI
	serverAPI *ServerAPI
	apiMux    *http.ServeMux
}

// NewServer creates the server and registers its routes. The database schemas
// must already be set up.
func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	store, err := corpusdb.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("error creating corpus store: %w", err)
	}
	store.SetLogger(logger)

	registry := NewModelRegistry(logger)
	statsAPI := NewStatsAPI(db, registry, logger)
	ngramAPI := NewNgramAPI(registry, store, statsAPI, cm, logger)
	serverAPI := NewServerAPI(cm, actionChan, logger)
	authAPI := NewAuthAPI(db, logger)

	server := &Server{
		cm:        cm,
		db:        db,
		logger:    logger,
		store:     store,
		registry:  registry,
		authAPI:   authAPI,
		ngramAPI:  ngramAPI,
		statsAPI:  statsAPI,
		serverAPI: serverAPI,
		apiMux:    http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.ngramAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	authedAPI := server.authAPI.Authenticate(apiMux)
	server.apiMux.Handle("/api/", server.logRequests(authedAPI))

	return server, nil
}

// logRequests logs every API request at debug level once it has been served.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("API request served",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// LoadModels builds every model listed in the configuration. A model that
// fails to build is logged and skipped.
func (s *Server) LoadModels(ctx context.Context) int {
	var built int
	for _, spec := range s.cm.Get().Models {
		if _, err := s.ngramAPI.BuildFromSpec(ctx, spec); err != nil {
			s.logger.Error("Failed to build startup model", "model_name", spec.Name, "error", err)
			continue
		}
		built++
	}
	return built
}

// Close releases the prepared statements held by the server.
func (s *Server) Close() {
	s.store.Close()
}

// setupSchemas creates the corpus store, generation log and API key tables.
func setupSchemas(db *sql.DB) error {
	if err := corpusdb.SetupSchema(db); err != nil {
		return fmt.Errorf("failed to setup corpus schema: %w", err)
	}
	if err := setupStatsSchema(db); err != nil {
		return fmt.Errorf("failed to setup stats schema: %w", err)
	}
	if err := setupAuthSchema(db); err != nil {
		return fmt.Errorf("failed to setup auth schema: %w", err)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "generate":
			exitOnError(runGenerate(args[1:], os.Stdout, os.Stderr))
			return
		case "import":
			exitOnError(runImport(args[1:], os.Stdout, os.Stderr))
			return
		case "serve":
			args = args[1:]
		}
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "./config.json", "path to the JSON or YAML config file")
	_ = fs.Parse(args)

	serve(*configPath)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// serve runs the API server, starting it again whenever a restart is requested.
func serve(configPath string) {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(configPath, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			break
		}

		if action == actionRestart {
			baseLogger.Info("--- Server Restarting ---")
			continue
		}
		break
	}

	baseLogger.Info("Ngrams server has shut down.")
}

// run hosts the API server, and returns whenever the server is shut down or restarted.
func run(configPath string, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(config.Server.LogLevel)}))
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...")

	if err = os.MkdirAll(config.Server.DataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}

	if err = setupSchemas(db); err != nil {
		_ = db.Close()
		return "", err
	}

	server, err := NewServer(cm, logger, db, actionChan)
	if err != nil {
		_ = db.Close()
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	built := server.LoadModels(context.Background())
	logger.Info("Startup models built", "models_built", built, "models_configured", len(config.Models))

	apiHttpServer := &http.Server{Addr: config.Server.ApiAddr, Handler: server.apiMux}

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
			select {
			case actionChan <- actionShutdown:
			default:
			}
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")

	server.Close()
	logger.Info("Closing database connection.")
	if err = db.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	}

	return action, nil
}
