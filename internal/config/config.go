package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backends
const (
	CacheBackendBolt  = "bolt"
	CacheBackendRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	// Trakt
	TraktClientID     string
	TraktClientSecret string
	TraktAPIURL       string
	TraktRateLimit    float64 // requests per second

	// Jellyfin provider, disabled when JellyfinURL is empty
	JellyfinURL    string
	JellyfinAPIKey string
	JellyfinUserID string

	// Cache
	CacheBackend string // bolt or redis
	RedisURL     string

	// Sync
	MinProgress       float64       // percent watched below which items are not committed (default: 80)
	MatchWindow       time.Duration // slop when matching remote watch records (default: 26h)
	HistoryPageSize   int
	MatchConcurrency  int
	AutoSyncSchedule  string   // cron expression (default: hourly)
	AutoSyncProviders []string // providers enabled for auto-sync on first start

	// Server
	ServerPort string

	// Paths
	TokenFile     string // $CONFIG_DIR/token.json
	ExclusionFile string // $CONFIG_DIR/exclusions.txt
	DatabaseFile  string // $CONFIG_DIR/scrobblarr.db

	// Observability
	LogLevel       string
	LogFormat      string // text or json
	TracingEnabled bool
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Setup viper FIRST to load .env file
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Load .env file if it exists (ignore if not found)
	_ = viper.ReadInConfig()

	// Set defaults
	viper.SetDefault("TRAKT_API_URL", "https://api.trakt.tv")
	viper.SetDefault("TRAKT_RATE_LIMIT", 3.0)
	viper.SetDefault("CACHE_BACKEND", CacheBackendBolt)
	viper.SetDefault("MIN_PROGRESS", 80.0)
	viper.SetDefault("MATCH_WINDOW_HOURS", 26)
	viper.SetDefault("HISTORY_PAGE_SIZE", 100)
	viper.SetDefault("MATCH_CONCURRENCY", 4)
	viper.SetDefault("AUTOSYNC_SCHEDULE", "0 * * * *")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("TRACING_ENABLED", false)

	// NOW read CONFIG_DIR from viper (which has loaded .env file)
	configDir := viper.GetString("CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config", "scrobblarr")
	} else {
		// Convert relative path to absolute path
		absPath, err := filepath.Abs(configDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
		}
		configDir = absPath
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	config := &Config{
		// Trakt
		TraktClientID:     viper.GetString("TRAKT_CLIENT_ID"),
		TraktClientSecret: viper.GetString("TRAKT_CLIENT_SECRET"),
		TraktAPIURL:       strings.TrimSuffix(viper.GetString("TRAKT_API_URL"), "/"),
		TraktRateLimit:    viper.GetFloat64("TRAKT_RATE_LIMIT"),

		// Jellyfin
		JellyfinURL:    viper.GetString("JELLYFIN_URL"),
		JellyfinAPIKey: viper.GetString("JELLYFIN_API_KEY"),
		JellyfinUserID: viper.GetString("JELLYFIN_USER_ID"),

		// Cache
		CacheBackend: strings.ToLower(viper.GetString("CACHE_BACKEND")),
		RedisURL:     viper.GetString("REDIS_URL"),

		// Sync
		MinProgress:       viper.GetFloat64("MIN_PROGRESS"),
		MatchWindow:       time.Duration(viper.GetInt("MATCH_WINDOW_HOURS")) * time.Hour,
		HistoryPageSize:   viper.GetInt("HISTORY_PAGE_SIZE"),
		MatchConcurrency:  viper.GetInt("MATCH_CONCURRENCY"),
		AutoSyncSchedule:  viper.GetString("AUTOSYNC_SCHEDULE"),
		AutoSyncProviders: splitList(viper.GetString("AUTOSYNC_PROVIDERS")),

		// Server
		ServerPort: viper.GetString("SERVER_PORT"),

		// Paths
		TokenFile:     filepath.Join(configDir, "token.json"),
		ExclusionFile: filepath.Join(configDir, "exclusions.txt"),
		DatabaseFile:  filepath.Join(configDir, "scrobblarr.db"),

		// Observability
		LogLevel:       viper.GetString("LOG_LEVEL"),
		LogFormat:      viper.GetString("LOG_FORMAT"),
		TracingEnabled: viper.GetBool("TRACING_ENABLED"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.TraktClientID == "" {
		return fmt.Errorf("TRAKT_CLIENT_ID is required")
	}
	if c.TraktClientSecret == "" {
		return fmt.Errorf("TRAKT_CLIENT_SECRET is required")
	}
	switch c.CacheBackend {
	case CacheBackendBolt:
	case CacheBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND is redis")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.JellyfinURL != "" && (c.JellyfinAPIKey == "" || c.JellyfinUserID == "") {
		return fmt.Errorf("JELLYFIN_API_KEY and JELLYFIN_USER_ID are required when JELLYFIN_URL is set")
	}
	if c.MinProgress < 0 || c.MinProgress > 100 {
		return fmt.Errorf("MIN_PROGRESS must be between 0 and 100, got %v", c.MinProgress)
	}
	if c.MatchWindow <= 0 {
		return fmt.Errorf("MATCH_WINDOW_HOURS must be positive")
	}
	if c.HistoryPageSize <= 0 {
		return fmt.Errorf("HISTORY_PAGE_SIZE must be positive")
	}
	if c.MatchConcurrency <= 0 {
		return fmt.Errorf("MATCH_CONCURRENCY must be positive")
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
