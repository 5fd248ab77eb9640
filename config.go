package hipporeg

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/hipporeg/graph"
	"github.com/brunobiangulo/hipporeg/retrieval"
)

// Config holds all configuration for the retrieval service.
type Config struct {
	// DataDir holds one snapshot directory per jurisdiction.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Jurisdictions lists the partition keys served. Keys are lowercased.
	Jurisdictions []string `json:"jurisdictions" yaml:"jurisdictions"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level"`

	Retrieval  RetrievalConfig  `json:"retrieval" yaml:"retrieval"`
	Similarity SimilarityConfig `json:"similarity" yaml:"similarity"`
	Server     ServerConfig     `json:"server" yaml:"server"`
}

// RetrievalConfig tunes personalized PageRank and ranking.
type RetrievalConfig struct {
	TopK            int     `json:"top_k" yaml:"top_k"`
	Damping         float64 `json:"damping" yaml:"damping"`
	MaxIterations   int     `json:"max_iterations" yaml:"max_iterations"`
	Tolerance       float64 `json:"tolerance" yaml:"tolerance"`
	SeedCount       int     `json:"seed_count" yaml:"seed_count"` // KNN hits used as seeds when none are supplied
	UniformFallback bool    `json:"uniform_fallback" yaml:"uniform_fallback"`
}

// SimilarityConfig gates SIMILAR edge construction at ingestion.
type SimilarityConfig struct {
	Threshold       float64 `json:"threshold" yaml:"threshold"`
	MaxEdgesPerNode int     `json:"max_edges_per_node" yaml:"max_edges_per_node"`
	Weight          float64 `json:"weight" yaml:"weight"`
}

// ServerConfig configures cmd/server.
type ServerConfig struct {
	Addr        string `json:"addr" yaml:"addr"`
	APIKey      string `json:"api_key" yaml:"api_key"`
	CORSOrigins string `json:"cors_origins" yaml:"cors_origins"`
}

// DefaultConfig returns a Config with the standard HippoRAG parameters.
func DefaultConfig() Config {
	return Config{
		DataDir:  "./data",
		LogLevel: "info",
		Retrieval: RetrievalConfig{
			TopK:            retrieval.DefaultTopK,
			Damping:         retrieval.DefaultDamping,
			MaxIterations:   retrieval.DefaultMaxIterations,
			Tolerance:       retrieval.DefaultTolerance,
			SeedCount:       5,
			UniformFallback: true,
		},
		Similarity: SimilarityConfig{
			Threshold:       graph.DefaultSimilarityThreshold,
			MaxEdgesPerNode: graph.DefaultMaxEdgesPerNode,
			Weight:          graph.DefaultSimilarWeight,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// LoadConfig reads a YAML file, or JSON when the extension is .json, on
// top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from HIPPOREG_* environment variables.
// Malformed numbers are reported as ErrInvalidConfig.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("HIPPOREG_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HIPPOREG_JURISDICTIONS"); v != "" {
		c.Jurisdictions = splitList(v)
	}
	if v := os.Getenv("HIPPOREG_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("HIPPOREG_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("HIPPOREG_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("HIPPOREG_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"HIPPOREG_TOP_K", &c.Retrieval.TopK},
		{"HIPPOREG_MAX_ITERATIONS", &c.Retrieval.MaxIterations},
		{"HIPPOREG_SEED_COUNT", &c.Retrieval.SeedCount},
		{"HIPPOREG_SIMILARITY_MAX_EDGES", &c.Similarity.MaxEdgesPerNode},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, e.name, v)
		}
		*e.dst = n
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"HIPPOREG_DAMPING", &c.Retrieval.Damping},
		{"HIPPOREG_TOLERANCE", &c.Retrieval.Tolerance},
		{"HIPPOREG_SIMILARITY_THRESHOLD", &c.Similarity.Threshold},
		{"HIPPOREG_SIMILARITY_WEIGHT", &c.Similarity.Weight},
	}
	for _, e := range floats {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, e.name, v)
		}
		*e.dst = f
	}

	if v := os.Getenv("HIPPOREG_UNIFORM_FALLBACK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: HIPPOREG_UNIFORM_FALLBACK=%q", ErrInvalidConfig, v)
		}
		c.Retrieval.UniformFallback = b
	}
	return nil
}

// Validate normalizes jurisdiction keys and checks parameter ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Jurisdictions))
	keys := make([]string, 0, len(c.Jurisdictions))
	for _, j := range c.Jurisdictions {
		key := normalizeJurisdiction(j)
		if key == "" {
			continue
		}
		if !validJurisdiction(key) {
			return fmt.Errorf("%w: invalid jurisdiction key %q", ErrInvalidConfig, j)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	c.Jurisdictions = keys

	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}

	r := c.Retrieval
	switch {
	case r.TopK <= 0:
		return fmt.Errorf("%w: retrieval.top_k must be positive", ErrInvalidConfig)
	case !validDamping(r.Damping):
		return fmt.Errorf("%w: retrieval.damping must be in (0, 1)", ErrInvalidConfig)
	case r.MaxIterations <= 0:
		return fmt.Errorf("%w: retrieval.max_iterations must be positive", ErrInvalidConfig)
	case !(r.Tolerance > 0) || math.IsInf(r.Tolerance, 1):
		return fmt.Errorf("%w: retrieval.tolerance must be positive", ErrInvalidConfig)
	case r.SeedCount < 0:
		return fmt.Errorf("%w: retrieval.seed_count must not be negative", ErrInvalidConfig)
	}

	s := c.Similarity
	switch {
	case !(s.Threshold >= -1 && s.Threshold <= 1):
		return fmt.Errorf("%w: similarity.threshold must be in [-1, 1]", ErrInvalidConfig)
	case s.MaxEdgesPerNode < 0:
		return fmt.Errorf("%w: similarity.max_edges_per_node must not be negative", ErrInvalidConfig)
	case !(s.Weight >= 0) || math.IsInf(s.Weight, 1):
		return fmt.Errorf("%w: similarity.weight must be a finite non-negative number", ErrInvalidConfig)
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	l, err := parseLogLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func (c Config) retrievalConfig() retrieval.Config {
	return retrieval.Config{
		TopK:            c.Retrieval.TopK,
		Damping:         c.Retrieval.Damping,
		MaxIterations:   c.Retrieval.MaxIterations,
		Tolerance:       c.Retrieval.Tolerance,
		UniformFallback: c.Retrieval.UniformFallback,
	}
}

func (c Config) weightPolicy() graph.WeightPolicy {
	return graph.WeightPolicy{SimilarWeight: c.Similarity.Weight}
}

func (c Config) similarityOptions() graph.SimilarityOptions {
	return graph.SimilarityOptions{
		Threshold:       c.Similarity.Threshold,
		MaxEdgesPerNode: c.Similarity.MaxEdgesPerNode,
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, s)
	}
}

func validDamping(d float64) bool {
	return d > 0 && d < 1
}

func normalizeJurisdiction(j string) string {
	return strings.ToLower(strings.TrimSpace(j))
}

// validJurisdiction keeps keys usable as directory names.
func validJurisdiction(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
