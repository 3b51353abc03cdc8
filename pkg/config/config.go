package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	Streaming   bool    `yaml:"streaming"`
}

type EmbeddingConfig struct {
	BaseURL   string  `yaml:"base_url"`
	Model     string  `yaml:"model"`
	BatchSize int     `yaml:"batch_size"`
	RateLimit float64 `yaml:"rate_limit"`
}

type DatabaseConfig struct {
	Driver    string `yaml:"driver"` // postgres or sqlite
	URL       string `yaml:"url"`
	Path      string `yaml:"path"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
	Index     string `yaml:"index"` // none, ivfflat or hnsw
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type SearchConfig struct {
	TopK int `yaml:"top_k"`
}

type ScraperConfig struct {
	MaxDepth       int           `yaml:"max_depth"`
	RateLimit      float64       `yaml:"rate_limit"`
	Timeout        time.Duration `yaml:"timeout"`
	DownloadDir    string        `yaml:"download_dir"`
	IgnorePatterns []string      `yaml:"ignore_patterns"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Database  DatabaseConfig  `yaml:"database"`
	Processor ProcessorConfig `yaml:"processor"`
	Search    SearchConfig    `yaml:"search"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// LoadConfig reads the YAML file at path, or the first one found in the
// default locations, then applies .env and process environment overrides
// and fills in defaults. No file at all yields the defaults.
func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docseek/config.yaml"),
			"/etc/docseek/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "llama2"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2500
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.8
	}
	if config.LLM.TopP == 0 {
		config.LLM.TopP = 1
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 512
	}

	if config.Database.Driver == "" {
		config.Database.Driver = "postgres"
	}
	if config.Database.Path == "" {
		config.Database.Path = filepath.Join(".docseek", "docseek.db")
	}
	if config.Database.TableName == "" {
		config.Database.TableName = "documents"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.Index == "" {
		config.Database.Index = "none"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}

	if config.Search.TopK == 0 {
		config.Search.TopK = 10
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 3
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}
	if config.Scraper.DownloadDir == "" {
		config.Scraper.DownloadDir = filepath.Join(".docseek", "downloads")
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "console"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		config.Embedding.BaseURL = baseURL
	}
	if driver := os.Getenv("DOCSEEK_DB_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if config.Database.URL == "" {
		config.Database.URL = dsnFromParts()
	}
	if level := os.Getenv("DOCSEEK_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

// dsnFromParts builds a Postgres URL from DB_NAME, DB_USER, DB_PASSWORD,
// DB_HOST and DB_PORT. It returns "" unless DB_NAME is set.
func dsnFromParts() string {
	name := os.Getenv("DB_NAME")
	if name == "" {
		return ""
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + name,
	}
	if user := os.Getenv("DB_USER"); user != "" {
		if password, ok := os.LookupEnv("DB_PASSWORD"); ok {
			u.User = url.UserPassword(user, password)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}
