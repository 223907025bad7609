package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultChunkSize    = 3000
	DefaultChunkOverlap = 500
	DefaultTopK         = 5
	DefaultStorageDir   = "./rag_database"
	DefaultBatchSize    = 32
)

var (
	ErrInvalidChunking = errors.New("invalid chunking parameters")
	ErrUnknownProvider = errors.New("unknown llm provider")
)

type LLMConfig struct {
	Type      string `yaml:"type"` // hash | ollama | openai
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Key       string `yaml:"key,omitempty"`
	KeyEnv    string `yaml:"api_key_env"`
	BatchSize int    `yaml:"batch_size"`
	Dimension int    `yaml:"dimension"`
}

// APIKey returns the inline key or, failing that, the value of KeyEnv
func (c *LLMConfig) APIKey() string {
	if c.Key != "" {
		return c.Key
	}
	if c.KeyEnv != "" {
		return os.Getenv(c.KeyEnv)
	}
	return ""
}

type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	TopK         int `yaml:"top_k"`
}

// ExtractConfig crops PDF headers and footers, in points, before text extraction
type ExtractConfig struct {
	CropTop    float64 `yaml:"crop_top"`
	CropBottom float64 `yaml:"crop_bottom"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"` // pgdriver | pq
	Table  string `yaml:"table"`
	Debug  bool   `yaml:"debug"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"` // plain json lines instead of the console writer
}

type Config struct {
	Source       string         `yaml:"source"`
	StorageDir   string         `yaml:"storage_dir"`
	RAG          RAGConfig      `yaml:"rag"`
	Extract      ExtractConfig  `yaml:"extract"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Server       ServerConfig   `yaml:"server"`
	Chromem      ChromemConfig  `yaml:"chromem"`
	Database     DatabaseConfig `yaml:"database"`
	Log          LogConfig      `yaml:"log"`
}

// LoadConfig reads the yaml file at path. A missing file yields the defaults.
// A .env file next to the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	var present struct {
		RAG struct {
			ChunkOverlap *int `yaml:"chunk_overlap"`
		} `yaml:"rag"`
	}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	applyDefaults(cfg)
	if present.RAG.ChunkOverlap == nil {
		cfg.RAG.ChunkOverlap = defaultOverlap(cfg.RAG.ChunkSize)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as yaml
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.RAG.ChunkOverlap = defaultOverlap(cfg.RAG.ChunkSize)
	return cfg
}

// defaultOverlap is used when chunk_overlap is absent. An explicit 0 is kept.
func defaultOverlap(chunkSize int) int {
	return min(DefaultChunkOverlap, chunkSize/6)
}

func applyDefaults(cfg *Config) {
	if cfg.StorageDir == "" {
		cfg.StorageDir = DefaultStorageDir
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = DefaultChunkSize
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = DefaultTopK
	}
	if cfg.EmbedLLM.Type == "" {
		cfg.EmbedLLM.Type = "hash"
	}
	cfg.EmbedLLM.Type = strings.ToLower(cfg.EmbedLLM.Type)
	if cfg.EmbedLLM.BatchSize == 0 {
		cfg.EmbedLLM.BatchSize = DefaultBatchSize
	}
	switch cfg.EmbedLLM.Type {
	case "hash":
		if cfg.EmbedLLM.Dimension == 0 {
			cfg.EmbedLLM.Dimension = 384
		}
		if cfg.EmbedLLM.Model == "" {
			cfg.EmbedLLM.Model = fmt.Sprintf("hash-%d", cfg.EmbedLLM.Dimension)
		}
	case "ollama":
		if cfg.EmbedLLM.BaseURL == "" {
			cfg.EmbedLLM.BaseURL = "http://localhost:11434"
		}
		if cfg.EmbedLLM.Model == "" {
			cfg.EmbedLLM.Model = "nomic-embed-text"
		}
	case "openai":
		if cfg.EmbedLLM.BaseURL == "" {
			cfg.EmbedLLM.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.EmbedLLM.KeyEnv == "" {
			cfg.EmbedLLM.KeyEnv = "OPENAI_API_KEY"
		}
		if cfg.EmbedLLM.Model == "" {
			cfg.EmbedLLM.Model = "text-embedding-3-small"
		}
	}

	cfg.InferenceLLM.Type = strings.ToLower(cfg.InferenceLLM.Type)
	if cfg.InferenceLLM.Type == "" {
		cfg.InferenceLLM.Type = "ollama"
	}
	switch cfg.InferenceLLM.Type {
	case "ollama":
		if cfg.InferenceLLM.BaseURL == "" {
			cfg.InferenceLLM.BaseURL = "http://localhost:11434"
		}
		if cfg.InferenceLLM.Model == "" {
			cfg.InferenceLLM.Model = "llama3.2"
		}
	case "openai":
		if cfg.InferenceLLM.BaseURL == "" {
			cfg.InferenceLLM.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.InferenceLLM.KeyEnv == "" {
			cfg.InferenceLLM.KeyEnv = "OPENAI_API_KEY"
		}
		if cfg.InferenceLLM.Model == "" {
			cfg.InferenceLLM.Model = "gpt-4o-mini"
		}
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3000"
	}
	if cfg.Chromem.Path == "" {
		cfg.Chromem.Path = "./chromemdb"
	}
	if cfg.Chromem.Collection == "" {
		cfg.Chromem.Collection = "rag_chunks"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}
	if cfg.Database.Table == "" {
		cfg.Database.Table = "rag_chunks"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate rejects settings the chunker and the embedder cannot work with
func (c *Config) Validate() error {
	if c.RAG.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be >= 1, got %d", ErrInvalidChunking, c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, %d), got %d",
			ErrInvalidChunking, c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	switch c.EmbedLLM.Type {
	case "hash", "ollama", "openai":
	default:
		return fmt.Errorf("%w: embed_llm.type %q", ErrUnknownProvider, c.EmbedLLM.Type)
	}
	switch c.InferenceLLM.Type {
	case "ollama", "openai":
	default:
		return fmt.Errorf("%w: inference_llm.type %q", ErrUnknownProvider, c.InferenceLLM.Type)
	}
	switch c.Database.Driver {
	case "pgdriver", "pq":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}
