// Package config loads inkwell configuration from defaults, an optional
// YAML project file, and environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete inkwell configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Rerank     RerankConfig     `yaml:"rerank" json:"rerank"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Critic     CriticConfig     `yaml:"critic" json:"critic"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host        string   `yaml:"host" json:"host"`
	Port        int      `yaml:"port" json:"port"`
	LogLevel    string   `yaml:"log_level" json:"log_level"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// StorageConfig configures the database and index locations.
type StorageConfig struct {
	// DBPath is the SQLite database file path.
	DBPath string `yaml:"db_path" json:"db_path"`
	// VectorDir is the directory where vector index files are persisted.
	VectorDir string `yaml:"vector_dir" json:"vector_dir"`
	// KeywordBackend selects the keyword index backend.
	// Options: "sqlite" (default, shares the primary DB) or "bleve".
	KeywordBackend string `yaml:"keyword_backend" json:"keyword_backend"`
}

// RetrievalConfig configures chunking and retrieval parameters.
type RetrievalConfig struct {
	// MaxChunkChars is the maximum chunk size in characters.
	MaxChunkChars int `yaml:"max_chunk_chars" json:"max_chunk_chars"`
	// OverlapRatio is the tail-overlap fraction between adjacent chunks (0.0-1.0).
	OverlapRatio float64 `yaml:"overlap_ratio" json:"overlap_ratio"`
	// SnippetChars is the snippet prefix length stored per chunk.
	SnippetChars int `yaml:"snippet_chars" json:"snippet_chars"`
	// TopKVector is the dense channel candidate count.
	TopKVector int `yaml:"top_k_vector" json:"top_k_vector"`
	// TopKKeyword is the sparse channel candidate count.
	TopKKeyword int `yaml:"top_k_keyword" json:"top_k_keyword"`
	// CacheSize is the in-memory embedding LRU cache capacity.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "local_bge_m3" or "mock".
	Provider string `yaml:"provider" json:"provider"`
	// Model is the model name for the local provider.
	Model string `yaml:"model" json:"model"`
	// BaseURL is the OpenAI-compatible endpoint of the local embedding server.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Device is the compute device hint for local backends.
	Device string `yaml:"device" json:"device"`
	// BatchSize is the embedding batch size.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// RerankConfig configures the reranker provider.
type RerankConfig struct {
	// Provider selects the reranker: "local_bge" or "mock".
	Provider string `yaml:"provider" json:"provider"`
	// Model is the model name for the local provider.
	Model string `yaml:"model" json:"model"`
	// BaseURL is the endpoint of the local rerank server.
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// LLMConfig configures the completion backend.
type LLMConfig struct {
	// Mock forces the deterministic mock client regardless of provider.
	Mock bool `yaml:"mock" json:"mock"`
	// Provider selects the client: "openai_compatible" or "mock".
	Provider string `yaml:"provider" json:"provider"`
	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key" json:"api_key"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Model is the completion model name.
	Model string `yaml:"model" json:"model"`
	// Temperature is the sampling temperature.
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// CriticConfig configures the consistency critic.
type CriticConfig struct {
	// Provider selects the critic mode: "llm" or "mock" (rule-based).
	Provider string `yaml:"provider" json:"provider"`
	// AutoRevise applies the critic's revised text back to the chapter.
	AutoRevise bool `yaml:"auto_revise" json:"auto_revise"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			LogLevel:    "info",
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Storage: StorageConfig{
			DBPath:         defaultDBPath(),
			VectorDir:      defaultVectorDir(),
			KeywordBackend: "sqlite",
		},
		Retrieval: RetrievalConfig{
			MaxChunkChars: 1400,
			OverlapRatio:  0.2,
			SnippetChars:  240,
			TopKVector:    10,
			TopKKeyword:   10,
			CacheSize:     1024,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "mock",
			Model:     "BAAI/bge-m3",
			BaseURL:   "http://localhost:11434/v1",
			Device:    "cpu",
			BatchSize: 16,
		},
		Rerank: RerankConfig{
			Provider: "mock",
			Model:    "BAAI/bge-reranker-base",
			BaseURL:  "http://localhost:8080",
		},
		LLM: LLMConfig{
			Mock:        true,
			Provider:    "mock",
			BaseURL:     "",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
		},
		Critic: CriticConfig{
			Provider:   "mock",
			AutoRevise: false,
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".inkwell", "inkwell.db")
	}
	return filepath.Join(home, ".inkwell", "inkwell.db")
}

func defaultVectorDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".inkwell", "vectors")
	}
	return filepath.Join(home, ".inkwell", "vectors")
}

// ConfigFileName is the project-level configuration file.
const ConfigFileName = ".inkwell.yaml"

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. Project config (.inkwell.yaml in dir)
//  3. Environment variables (a .env file in dir is loaded first, if present)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// .env supplies environment variables without overriding existing ones.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .inkwell.yaml or .inkwell.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".inkwell.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if len(other.Server.CORSOrigins) > 0 {
		c.Server.CORSOrigins = other.Server.CORSOrigins
	}

	// Storage
	if other.Storage.DBPath != "" {
		c.Storage.DBPath = other.Storage.DBPath
	}
	if other.Storage.VectorDir != "" {
		c.Storage.VectorDir = other.Storage.VectorDir
	}
	if other.Storage.KeywordBackend != "" {
		c.Storage.KeywordBackend = other.Storage.KeywordBackend
	}

	// Retrieval
	if other.Retrieval.MaxChunkChars != 0 {
		c.Retrieval.MaxChunkChars = other.Retrieval.MaxChunkChars
	}
	if other.Retrieval.OverlapRatio != 0 {
		c.Retrieval.OverlapRatio = other.Retrieval.OverlapRatio
	}
	if other.Retrieval.SnippetChars != 0 {
		c.Retrieval.SnippetChars = other.Retrieval.SnippetChars
	}
	if other.Retrieval.TopKVector != 0 {
		c.Retrieval.TopKVector = other.Retrieval.TopKVector
	}
	if other.Retrieval.TopKKeyword != 0 {
		c.Retrieval.TopKKeyword = other.Retrieval.TopKKeyword
	}
	if other.Retrieval.CacheSize != 0 {
		c.Retrieval.CacheSize = other.Retrieval.CacheSize
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.BaseURL != "" {
		c.Embeddings.BaseURL = other.Embeddings.BaseURL
	}
	if other.Embeddings.Device != "" {
		c.Embeddings.Device = other.Embeddings.Device
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}

	// Rerank
	if other.Rerank.Provider != "" {
		c.Rerank.Provider = other.Rerank.Provider
	}
	if other.Rerank.Model != "" {
		c.Rerank.Model = other.Rerank.Model
	}
	if other.Rerank.BaseURL != "" {
		c.Rerank.BaseURL = other.Rerank.BaseURL
	}

	// LLM
	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
		c.LLM.Mock = other.LLM.Provider == "mock"
	}
	if other.LLM.APIKey != "" {
		c.LLM.APIKey = other.LLM.APIKey
	}
	if other.LLM.BaseURL != "" {
		c.LLM.BaseURL = other.LLM.BaseURL
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}

	// Critic
	if other.Critic.Provider != "" {
		c.Critic.Provider = other.Critic.Provider
	}
	if other.Critic.AutoRevise {
		c.Critic.AutoRevise = true
	}
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("BACKEND_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("CHROMA_PERSIST_DIR"); v != "" {
		c.Storage.VectorDir = v
	}
	if v := os.Getenv("KEYWORD_BACKEND"); v != "" {
		c.Storage.KeywordBackend = v
	}

	if v := os.Getenv("RAG_MAX_CHUNK_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.MaxChunkChars = n
		}
	}
	if v := os.Getenv("RAG_OVERLAP_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 && f < 1 {
			c.Retrieval.OverlapRatio = f
		}
	}
	if v := os.Getenv("RAG_TOP_K_V"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.TopKVector = n
		}
	}
	if v := os.Getenv("RAG_TOP_K_KW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.TopKKeyword = n
		}
	}

	if v := os.Getenv("EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("BGE_M3_MODEL_NAME"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("RAG_DEVICE"); v != "" {
		c.Embeddings.Device = v
	}

	if v := os.Getenv("RERANK_PROVIDER"); v != "" {
		c.Rerank.Provider = v
	}
	if v := os.Getenv("BGE_RERANK_MODEL_NAME"); v != "" {
		c.Rerank.Model = v
	}
	if v := os.Getenv("RERANK_BASE_URL"); v != "" {
		c.Rerank.BaseURL = v
	}

	if v := os.Getenv("MOCK_LLM"); v != "" {
		c.LLM.Mock = parseBool(v)
		if c.LLM.Mock {
			c.LLM.Provider = "mock"
		}
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
		c.LLM.Mock = v == "mock"
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			c.LLM.Temperature = f
		}
	}

	if v := os.Getenv("CRITIC_PROVIDER"); v != "" {
		c.Critic.Provider = v
	}
	if v := os.Getenv("AUTO_REVISE"); v != "" {
		c.Critic.AutoRevise = parseBool(v)
	}
}

// splitList splits a comma-separated env value, trimming whitespace.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseBool interprets common truthy spellings.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	validBackends := map[string]bool{"sqlite": true, "bleve": true}
	if !validBackends[strings.ToLower(c.Storage.KeywordBackend)] {
		return fmt.Errorf("storage.keyword_backend must be 'sqlite' or 'bleve', got %s", c.Storage.KeywordBackend)
	}

	if c.Retrieval.MaxChunkChars <= 0 {
		return fmt.Errorf("retrieval.max_chunk_chars must be positive, got %d", c.Retrieval.MaxChunkChars)
	}
	if c.Retrieval.OverlapRatio < 0 || c.Retrieval.OverlapRatio >= 1 {
		return fmt.Errorf("retrieval.overlap_ratio must be in [0, 1), got %f", c.Retrieval.OverlapRatio)
	}
	if c.Retrieval.TopKVector < 0 || c.Retrieval.TopKKeyword < 0 {
		return fmt.Errorf("retrieval top_k values must be non-negative")
	}

	validEmbedders := map[string]bool{"local_bge_m3": true, "mock": true}
	if !validEmbedders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'local_bge_m3' or 'mock', got %s", c.Embeddings.Provider)
	}

	validRerankers := map[string]bool{"local_bge": true, "mock": true}
	if !validRerankers[strings.ToLower(c.Rerank.Provider)] {
		return fmt.Errorf("rerank.provider must be 'local_bge' or 'mock', got %s", c.Rerank.Provider)
	}

	validLLM := map[string]bool{"openai_compatible": true, "mock": true}
	if !validLLM[strings.ToLower(c.LLM.Provider)] {
		return fmt.Errorf("llm.provider must be 'openai_compatible' or 'mock', got %s", c.LLM.Provider)
	}

	validCritics := map[string]bool{"llm": true, "mock": true}
	if !validCritics[strings.ToLower(c.Critic.Provider)] {
		return fmt.Errorf("critic.provider must be 'llm' or 'mock', got %s", c.Critic.Provider)
	}

	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
