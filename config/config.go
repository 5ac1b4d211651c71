// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and the process environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g. SKINCARE_MODELS__DISEASE_PATH.
const EnvPrefix = "SKINCARE_"

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Models     ModelsConfig     `koanf:"models"`
	Database   DatabaseConfig   `koanf:"database"`
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	Generation GenerationConfig `koanf:"generation"`
	Recommend  RecommendConfig  `koanf:"recommend"`
}

type ServerConfig struct {
	RESTAddr        string        `koanf:"rest_addr"`
	GRPCAddr        string        `koanf:"grpc_addr"`
	MaxUploadBytes  int           `koanf:"max_upload_bytes"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ModelsConfig points at the three ONNX artifacts and the runtime library.
type ModelsConfig struct {
	RuntimeLibrary    string  `koanf:"runtime_library"`
	DiseasePath       string  `koanf:"disease_path"`
	StatePath         string  `koanf:"state_path"`
	TypePath          string  `koanf:"type_path"`
	InputSize         int     `koanf:"input_size"`
	DetectorInputSize int     `koanf:"detector_input_size"`
	ConfThreshold     float64 `koanf:"conf_threshold"`
	IoUThreshold      float64 `koanf:"iou_threshold"`
	TypeInputName     string  `koanf:"type_input_name"`
	TypeOutputName    string  `koanf:"type_output_name"`
	TypeClasses       int     `koanf:"type_classes"`
	LoadOnStartup     bool    `koanf:"load_on_startup"`
}

// DatabaseConfig is optional; an empty DSN disables persistence.
type DatabaseConfig struct {
	DSN         string `koanf:"dsn"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

type EmbeddingConfig struct {
	// Provider is onnx or gemini.
	Provider      string `koanf:"provider"`
	ModelPath     string `koanf:"model_path"`
	TokenizerPath string `koanf:"tokenizer_path"`
	MaxSeqLen     int    `koanf:"max_seq_len"`
	GeminiModel   string `koanf:"gemini_model"`
	CacheDir      string `koanf:"cache_dir"`
}

type GenerationConfig struct {
	// Provider is gemini or disabled.
	Provider        string        `koanf:"provider"`
	APIKey          string        `koanf:"api_key"`
	Model           string        `koanf:"model"`
	Timeout         time.Duration `koanf:"timeout"`
	Temperature     float64       `koanf:"temperature"`
	MaxTokens       int           `koanf:"max_tokens"`
	BreakerFailures int           `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

type RecommendConfig struct {
	TopK        int    `koanf:"top_k"`
	PerCategory int    `koanf:"per_category"`
	RankingMode string `koanf:"ranking_mode"`
	// Categories are "display=index" pairs, queried in order.
	Categories    []string `koanf:"categories"`
	OintmentIndex string   `koanf:"ointment_index"`
}

// Category is one parsed entry of RecommendConfig.Categories.
type Category struct {
	Name  string
	Index string
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			RESTAddr:        ":8088",
			GRPCAddr:        ":8008",
			MaxUploadBytes:  10 * 1024 * 1024,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Models: ModelsConfig{
			DiseasePath:       "models/SkinDisease.onnx",
			StatePath:         "models/SkinState.onnx",
			TypePath:          "models/skintype.onnx",
			InputSize:         224,
			DetectorInputSize: 640,
			ConfThreshold:     0.25,
			IoUThreshold:      0.45,
			TypeInputName:     "input_1",
			TypeOutputName:    "dense_1",
			TypeClasses:       5,
			LoadOnStartup:     true,
		},
		Database: DatabaseConfig{AutoMigrate: true},
		Embedding: EmbeddingConfig{
			Provider:    "onnx",
			MaxSeqLen:   128,
			GeminiModel: "text-embedding-004",
		},
		Generation: GenerationConfig{
			Provider:        "gemini",
			Model:           "gemini-2.5-flash",
			Timeout:         20 * time.Second,
			Temperature:     0.3,
			MaxTokens:       600,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Recommend: RecommendConfig{
			TopK:          30,
			PerCategory:   1,
			RankingMode:   "score",
			Categories:    []string{"토너=toner", "앰플=ampoule", "크림=cream"},
			OintmentIndex: "ointment",
		},
	}
}

// Load builds the configuration. A missing .env or YAML file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	splitSliceField(k, "recommend.categories")

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// well-known variable names that predate the prefixed scheme
var envAliases = map[string]string{
	"DATABASE_URL":     "database.dsn",
	"GEMINI_API_KEY":   "generation.api_key",
	"ORT_LIBRARY_PATH": "models.runtime_library",
	"LOG_LEVEL":        "logging.level",
	"LOG_FORMAT":       "logging.format",
}

// envTransformFunc maps SKINCARE_MODELS__DISEASE_PATH to models.disease_path.
// Returning "" makes koanf skip the variable.
func envTransformFunc(key string) string {
	if alias, ok := envAliases[key]; ok {
		return alias
	}
	if !strings.HasPrefix(key, EnvPrefix) {
		return ""
	}
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// splitSliceField turns a comma separated env value into a list.
func splitSliceField(k *koanf.Koanf, path string) {
	s, ok := k.Get(path).(string)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	_ = k.Set(path, out)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Models.InputSize <= 0 {
		errs = append(errs, errors.New("models.input_size must be positive"))
	}
	if c.Models.DetectorInputSize <= 0 {
		errs = append(errs, errors.New("models.detector_input_size must be positive"))
	}
	if c.Models.ConfThreshold <= 0 || c.Models.ConfThreshold >= 1 {
		errs = append(errs, fmt.Errorf("models.conf_threshold out of range: %v", c.Models.ConfThreshold))
	}
	if c.Models.IoUThreshold <= 0 || c.Models.IoUThreshold >= 1 {
		errs = append(errs, fmt.Errorf("models.iou_threshold out of range: %v", c.Models.IoUThreshold))
	}
	if c.Models.TypeClasses <= 0 {
		errs = append(errs, errors.New("models.type_classes must be positive"))
	}
	switch c.Embedding.Provider {
	case "onnx", "gemini":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be onnx or gemini, got %q", c.Embedding.Provider))
	}
	switch c.Generation.Provider {
	case "gemini", "disabled":
	default:
		errs = append(errs, fmt.Errorf("generation.provider must be gemini or disabled, got %q", c.Generation.Provider))
	}
	if c.Recommend.TopK <= 0 {
		errs = append(errs, errors.New("recommend.top_k must be positive"))
	}
	if c.Recommend.PerCategory < 1 || c.Recommend.PerCategory > 2 {
		errs = append(errs, fmt.Errorf("recommend.per_category must be 1 or 2, got %d", c.Recommend.PerCategory))
	}
	switch c.Recommend.RankingMode {
	case "score", "rating":
	default:
		errs = append(errs, fmt.Errorf("recommend.ranking_mode must be score or rating, got %q", c.Recommend.RankingMode))
	}
	if _, err := c.Recommend.ParseCategories(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseCategories splits the "display=index" entries.
func (r RecommendConfig) ParseCategories() ([]Category, error) {
	if len(r.Categories) == 0 {
		return nil, errors.New("recommend.categories must not be empty")
	}
	out := make([]Category, 0, len(r.Categories))
	for _, entry := range r.Categories {
		name, index, ok := strings.Cut(entry, "=")
		name, index = strings.TrimSpace(name), strings.TrimSpace(index)
		if !ok || name == "" || index == "" {
			return nil, fmt.Errorf("invalid recommend category %q, want display=index", entry)
		}
		out = append(out, Category{Name: name, Index: index})
	}
	return out, nil
}
