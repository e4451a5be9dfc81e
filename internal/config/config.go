package config

import (
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

type Config struct {
	Port        int
	DatabaseURL string
	DataDir     string
	DownloadDir string
	YtDlpPath   string
	FFprobePath string

	IMVDbAPIKey     string
	IMVDbBaseURL    string
	IMVDbRatePerSec float64

	RedisAddr string

	WebhookURL  string
	WebhookType string

	MaxConcurrentDownloads int
	MaxRetries             int
	PollInterval           time.Duration
	BackoffInterval        time.Duration
	DownloadTimeout        time.Duration
	SearchTimeout          time.Duration
	StaleCheckSchedule     string
	ExportNFO              bool
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the process win over the file.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: ignoring .env: %v", err)
	}

	return &Config{
		Port:        envInt("PORT", 8080),
		DatabaseURL: env("DATABASE_URL", "sqlite:///data/videojockey.db"),
		DataDir:     env("DATA_DIR", "/data"),
		DownloadDir: env("DOWNLOAD_DIR", "/data/downloads"),
		YtDlpPath:   env("YTDLP_PATH", "yt-dlp"),
		FFprobePath: env("FFPROBE_PATH", "ffprobe"),

		IMVDbAPIKey:     env("IMVDB_API_KEY", ""),
		IMVDbBaseURL:    env("IMVDB_BASE_URL", "https://imvdb.com/api/v1"),
		IMVDbRatePerSec: envFloat("IMVDB_RATE_PER_SEC", 2),

		RedisAddr: env("REDIS_ADDR", ""),

		WebhookURL:  env("WEBHOOK_URL", ""),
		WebhookType: env("WEBHOOK_TYPE", "generic"),

		MaxConcurrentDownloads: envInt("MAX_CONCURRENT_DOWNLOADS", 2),
		MaxRetries:             envInt("MAX_RETRIES", 3),
		PollInterval:           envDuration("POLL_INTERVAL", 5*time.Second),
		BackoffInterval:        envDuration("BACKOFF_INTERVAL", 30*time.Second),
		DownloadTimeout:        envDuration("DOWNLOAD_TIMEOUT", time.Hour),
		SearchTimeout:          envDuration("SEARCH_TIMEOUT", 20*time.Second),
		StaleCheckSchedule:     env("STALE_CHECK_SCHEDULE", "@every 10m"),
		ExportNFO:              envBool("EXPORT_NFO", true),
	}
}

// MergeFromDB overlays settings saved through the UI on top of the
// environment. Unknown keys are ignored.
func (c *Config) MergeFromDB(db *sql.DB) {
	rows, err := db.Query("SELECT key, value FROM settings")
	if err != nil {
		log.Printf("config: skipping DB merge: %v", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		switch key {
		case "imvdb_api_key":
			c.IMVDbAPIKey = value
		case "download_dir":
			c.DownloadDir = value
		case "max_concurrent_downloads":
			if v, err := cast.ToIntE(value); err == nil && v > 0 {
				c.MaxConcurrentDownloads = v
			}
		case "max_retries":
			if v, err := cast.ToIntE(value); err == nil && v >= 0 {
				c.MaxRetries = v
			}
		case "export_nfo":
			if v, err := cast.ToBoolE(value); err == nil {
				c.ExportNFO = v
			}
		}
	}
}

func (c *Config) IMVDbEnabled() bool {
	return c.IMVDbAPIKey != ""
}

func (c *Config) QueueEnabled() bool {
	return c.RedisAddr != ""
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := cast.ToIntE(strings.TrimSpace(v)); err == nil {
			return i
		}
		log.Printf("config: invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := cast.ToFloat64E(strings.TrimSpace(v)); err == nil {
			return f
		}
		log.Printf("config: invalid %s=%q, using %v", key, v, fallback)
	}
	return fallback
}

// envDuration accepts Go duration strings ("5s", "1h30m").
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := cast.ToDurationE(strings.TrimSpace(v)); err == nil && d > 0 {
			return d
		}
		log.Printf("config: invalid %s=%q, using %s", key, v, fallback)
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := cast.ToBoolE(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}
