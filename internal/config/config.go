package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Storage
	DBPath string

	// Server
	Port int

	// Playback
	CacheSize    int    // decoded clips kept in memory
	DeviceOutput bool   // play through the local sound card
	FFmpegPath   string // fallback decoder for formats without a native decoder

	// Spotify track lookup, disabled unless both are set
	SpotifyClientID     string
	SpotifyClientSecret string

	LogLevel slog.Level
}

// Load reads configuration from environment variables with sane defaults.
// A .env file (LOOPBOOK_ENV_FILE, default ".env") is applied first when present;
// variables already set in the environment win over the file.
func Load() Config {
	envFile := envStr("LOOPBOOK_ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			slog.Warn("could not load env file", slog.String("path", envFile), slog.Any("error", err))
		}
	}

	return Config{
		DBPath: envStr("LOOPBOOK_DB_PATH", defaultDBPath()),

		Port: envInt("LOOPBOOK_PORT", 8080),

		CacheSize:    envInt("LOOPBOOK_CACHE_SIZE", 32),
		DeviceOutput: envBool("LOOPBOOK_DEVICE_OUTPUT", true),
		FFmpegPath:   envStr("LOOPBOOK_FFMPEG", "ffmpeg"),

		SpotifyClientID:     envStr("LOOPBOOK_SPOTIFY_CLIENT_ID", ""),
		SpotifyClientSecret: envStr("LOOPBOOK_SPOTIFY_CLIENT_SECRET", ""),

		LogLevel: envLevel("LOOPBOOK_LOG_LEVEL", slog.LevelInfo),
	}
}

// SpotifyEnabled reports whether track lookups have credentials.
func (c Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "loopbook.db"
	}
	return filepath.Join(home, ".loopbook", "loopbook.db")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envLevel(key string, fallback slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(v))); err == nil {
			return lvl
		}
	}
	return fallback
}
