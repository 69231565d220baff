package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Gemini      GeminiConfig              `json:"gemini"`
	Page        PageConfig                `json:"page_config"`
}

type BasicConfig struct {
	ServerAddress  string   `json:"server_address"`
	Store          string   `json:"store"`
	LogMode        string   `json:"log_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
	HistoryWindow  int      `json:"history_window"`
	NodeID         int64    `json:"node_id"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// GeminiConfig holds the generateContent endpoint and sampling parameters.
type GeminiConfig struct {
	BaseURL         string  `json:"base_url"`
	Model           string  `json:"model"`
	Temperature     float32 `json:"temperature"`
	TopP            float32 `json:"top_p"`
	TopK            float32 `json:"top_k"`
	MaxOutputTokens int32   `json:"max_output_tokens"`
}

// PageConfig is the page-level fallback object. It is only consulted when no
// persisted override or build-time value is present.
type PageConfig struct {
	GeminiAPIKey string `json:"gemini_api_key"`
	RoastStyle   string `json:"roast_style"`
}

const (
	DefaultServerAddress = ":8090"
	DefaultStore         = "sqlite3"
	DefaultHistoryWindow = 10
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-2.5-flash"
	DefaultSQLiteDSN     = "roastchat.db"
)

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()

	if sqliteCfg, ok := cfg.Databases["sqlite3"]; ok {
		if sqliteCfg.DSN != "" && sqliteCfg.DSN != ":memory:" && !filepath.IsAbs(sqliteCfg.DSN) {
			sqliteCfg.DSN = filepath.Join(filepath.Dir(absPath), sqliteCfg.DSN)
			cfg.Databases["sqlite3"] = sqliteCfg
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddress
	}
	c.BasicConfig.Store = strings.ToLower(strings.TrimSpace(c.BasicConfig.Store))
	if c.BasicConfig.Store == "" {
		c.BasicConfig.Store = DefaultStore
	}
	if c.BasicConfig.HistoryWindow <= 0 {
		c.BasicConfig.HistoryWindow = DefaultHistoryWindow
	}
	if c.BasicConfig.NodeID <= 0 {
		c.BasicConfig.NodeID = 1
	}
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = DefaultGeminiBaseURL
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = DefaultGeminiModel
	}
	if c.Gemini.Temperature <= 0 {
		c.Gemini.Temperature = 0.9
	}
	if c.Gemini.TopP <= 0 {
		c.Gemini.TopP = 0.95
	}
	if c.Gemini.TopK <= 0 {
		c.Gemini.TopK = 40
	}
	if c.Gemini.MaxOutputTokens <= 0 {
		c.Gemini.MaxOutputTokens = 256
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if sqliteCfg := c.Databases["sqlite3"]; sqliteCfg.DSN == "" {
		sqliteCfg.DSN = DefaultSQLiteDSN
		c.Databases["sqlite3"] = sqliteCfg
	}
}

// Build-time credential variables, checked in order.
var buildCredentialEnv = []string{"GEMINI_API_KEY", "VITE_GEMINI_API_KEY"}

// LoadBuildCredential loads .env (when present) and returns the build-time
// Gemini credential, or "" when none is set.
func LoadBuildCredential(envFiles ...string) string {
	// a missing .env is normal outside development
	_ = godotenv.Load(envFiles...)
	for _, name := range buildCredentialEnv {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}
