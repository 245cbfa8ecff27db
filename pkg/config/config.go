package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL     string        `yaml:"base_url" env:"LLM_BASE_URL"`
		APIKey      string        `yaml:"api_key" env:"LLM_API_KEY"`
		Model       string        `yaml:"model" env:"LLM_MODEL"`
		MaxTokens   int           `yaml:"max_tokens" env:"LLM_MAX_TOKENS"`
		Temperature float64       `yaml:"temperature" env:"LLM_TEMPERATURE"`
		Timeout     time.Duration `yaml:"timeout" env:"LLM_TIMEOUT"`
		Retries     uint          `yaml:"retries" env:"LLM_RETRIES"`
	} `yaml:"llm"`

	Embedding struct {
		BaseURL string `yaml:"base_url" env:"EMBEDDING_BASE_URL"`
		Model   string `yaml:"model" env:"EMBEDDING_MODEL"`
		Dim     int    `yaml:"dim" env:"EMBEDDING_DIM"`
	} `yaml:"embedding"`

	Database struct {
		URL           string `yaml:"url" env:"DATABASE_URL"`
		TableName     string `yaml:"table_name" env:"DATABASE_TABLE"`
		MessagesTable string `yaml:"messages_table" env:"DATABASE_MESSAGES_TABLE"`
	} `yaml:"database"`

	Ingest struct {
		ChunkSize         int `yaml:"chunk_size" env:"INGEST_CHUNK_SIZE"`
		ChunkOverlap      int `yaml:"chunk_overlap" env:"INGEST_CHUNK_OVERLAP"`
		ParallelThreshold int `yaml:"parallel_threshold" env:"INGEST_PARALLEL_THRESHOLD"`
		EmbedWidth        int `yaml:"embed_width" env:"INGEST_EMBED_WIDTH"`
		WriteBatchSize    int `yaml:"write_batch_size" env:"INGEST_WRITE_BATCH_SIZE"`
	} `yaml:"ingest"`

	Query struct {
		TopK         int `yaml:"top_k" env:"QUERY_TOP_K"`
		HistoryLimit int `yaml:"history_limit" env:"QUERY_HISTORY_LIMIT"`
	} `yaml:"query"`

	Server struct {
		Addr string `yaml:"addr" env:"SERVER_ADDR"`
	} `yaml:"server"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/codechat/config.yaml"),
			"/etc/codechat/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	config := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Environment variables win over the file
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}

	applyDefaults(config)

	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "meta-llama/Llama-3.3-70B-Instruct"
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 800
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.3
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}
	if config.LLM.Retries == 0 {
		config.LLM.Retries = 3
	}

	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "gte-small"
	}
	if config.Embedding.Dim == 0 {
		config.Embedding.Dim = 384
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.MessagesTable == "" {
		config.Database.MessagesTable = "messages"
	}

	if config.Ingest.ChunkSize == 0 {
		config.Ingest.ChunkSize = 1000
	}
	if config.Ingest.ChunkOverlap == 0 {
		config.Ingest.ChunkOverlap = 200
	}
	if config.Ingest.ParallelThreshold == 0 {
		config.Ingest.ParallelThreshold = 10 * 1024
	}
	if config.Ingest.EmbedWidth == 0 {
		config.Ingest.EmbedWidth = 32
	}
	if config.Ingest.WriteBatchSize == 0 {
		config.Ingest.WriteBatchSize = 100
	}

	if config.Query.TopK == 0 {
		config.Query.TopK = 5
	}
	if config.Query.HistoryLimit == 0 {
		config.Query.HistoryLimit = 10
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
}
