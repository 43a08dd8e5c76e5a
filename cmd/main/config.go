package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/CTAG07/Ngrams/pkg/ngram"
)

// ServerConfig holds the configuration for the HTTP server and its storage.
type ServerConfig struct {
	ApiAddr      string `json:"api_addr" yaml:"api_addr"`
	LogLevel     string `json:"log_level" yaml:"log_level"`
	DataDir      string `json:"data_dir" yaml:"data_dir"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
}

// ModelConfig holds the defaults applied when building models and generating text.
type ModelConfig struct {
	Order       int     `json:"order" yaml:"order"`
	MaxLength   int     `json:"max_length" yaml:"max_length"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TopK        int     `json:"top_k" yaml:"top_k"`
	Seed        uint64  `json:"seed" yaml:"seed"` // 0 seeds every model randomly.
	Normalize   string  `json:"normalize" yaml:"normalize"`
}

// ModelSpec describes a model built when the server starts. Exactly one of
// CorpusFile and Corpus names the training text; Corpus refers to a stored corpus.
type ModelSpec struct {
	Name       string `json:"name" yaml:"name"`
	Order      int    `json:"order,omitempty" yaml:"order,omitempty"`
	CorpusFile string `json:"corpus_file,omitempty" yaml:"corpus_file,omitempty"`
	Corpus     string `json:"corpus,omitempty" yaml:"corpus,omitempty"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server *ServerConfig `json:"server_config" yaml:"server_config"`
	Model  *ModelConfig  `json:"model_config" yaml:"model_config"`
	Models []ModelSpec   `json:"models" yaml:"models"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:      "127.0.0.1:7278",
		LogLevel:     "info",
		DataDir:      "./data",
		DatabasePath: "./data/ngrams.db?_journal_mode=WAL&_busy_timeout=5000",
	}
}

// DefaultModelConfig creates a model configuration with default values.
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		Order:       2,
		MaxLength:   200,
		Temperature: 1.0,
		TopK:        0,
		Seed:        0,
		Normalize:   "",
	}
}

// DefaultConfig returns a complete configuration with no startup models.
func DefaultConfig() *Config {
	return &Config{
		Server: DefaultServerConfig(),
		Model:  DefaultModelConfig(),
		Models: []ModelSpec{},
	}
}

// isYAML reports whether path should be read and written as YAML rather than JSON.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

func unmarshalConfig(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

// LoadConfig reads the configuration from a JSON or YAML file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = marshalConfig(path, config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = unmarshalConfig(path, file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	// Sections missing from the file keep their defaults.
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Model == nil {
		config.Model = DefaultModelConfig()
	}
	if err = config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return config, nil
}

// Validate checks the values that would otherwise fail later, at build or generation time.
func (c *Config) Validate() error {
	if c.Server == nil || c.Model == nil {
		return fmt.Errorf("server_config and model_config are required")
	}
	if c.Model.Order < 1 {
		return fmt.Errorf("model_config.order must be at least 1, got %d", c.Model.Order)
	}
	if c.Model.MaxLength < 1 {
		return fmt.Errorf("model_config.max_length must be at least 1, got %d", c.Model.MaxLength)
	}
	if _, err := parseNormalization(c.Model.Normalize); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Models))
	for _, spec := range c.Models {
		if spec.Name == "" {
			return fmt.Errorf("every model needs a name")
		}
		if _, dup := seen[spec.Name]; dup {
			return fmt.Errorf("model %q is defined twice", spec.Name)
		}
		seen[spec.Name] = struct{}{}
		if (spec.CorpusFile == "") == (spec.Corpus == "") {
			return fmt.Errorf("model %q needs exactly one of corpus_file and corpus", spec.Name)
		}
	}
	return nil
}

// parseNormalization maps a config value to a Unicode normalization form.
// The empty string disables normalization.
func parseNormalization(name string) (*norm.Form, error) {
	var form norm.Form
	switch strings.ToUpper(name) {
	case "":
		return nil, nil
	case "NFC":
		form = norm.NFC
	case "NFD":
		form = norm.NFD
	case "NFKC":
		form = norm.NFKC
	case "NFKD":
		form = norm.NFKD
	default:
		return nil, fmt.Errorf("unknown normalization form %q", name)
	}
	return &form, nil
}

// Tokenizer returns the tokenizer described by the model config.
func (mc *ModelConfig) Tokenizer() ngram.Tokenizer {
	form, err := parseNormalization(mc.Normalize)
	if err != nil || form == nil {
		return ngram.NewDefaultTokenizer()
	}
	return ngram.NewDefaultTokenizer(ngram.WithNormalization(*form))
}

// GenerateOptions returns the generation defaults as ngram options.
func (mc *ModelConfig) GenerateOptions() []ngram.GenerateOption {
	return []ngram.GenerateOption{
		ngram.WithMaxLength(mc.MaxLength),
		ngram.WithTemperature(mc.Temperature),
		ngram.WithTopK(mc.TopK),
	}
}

// ConfigManager handles thread-safe access to the configuration and persists updates.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
	logger     *slog.Logger
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	return &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}, nil
}

// SetLogger sets the logger.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		cm.logger = logger
	}
}

// clone returns a deep copy of c.
func (c *Config) clone() Config {
	server := *c.Server
	model := *c.Model
	return Config{
		Server: &server,
		Model:  &model,
		Models: append([]ModelSpec{}, c.Models...),
	}
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.clone()
}

// Update validates the configuration, replaces the live copy and saves it to disk.
func (cm *ConfigManager) Update(newConfig Config) error {
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("configuration rejected: %w", err)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := marshalConfig(cm.configPath, &newConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	*cm.config = newConfig.clone()
	cm.logger.Info("Configuration updated", "path", cm.configPath)
	return nil
}
