// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	KeysMode     model.KeyMode
	GeminiKeys   []string
	Judge0Keys   []string
	MasterSecret string
	CacheTTL     time.Duration
	MaxRetries   int
	InitialGrant int64

	RedisAddr  string
	ListenAddr string
	DBPath     string

	// Base URL overrides for self-hosted Judge0 and for tests; empty means
	// the adapter default.
	GeminiBaseURL string
	Judge0BaseURL string
}

// Load reads configuration from environment variables and returns a
// validated Config.
//
// MASTER_SECRET is always required. KEYS_MODE selects "managed" (default,
// the deployment's key pool serves all users) or "local" (users bring their
// own keys). In managed mode each service needs at least one key:
// {SERVICE}_TOTAL_KEYS with {SERVICE}_API_KEY_{0..N-1}, or a single
// {SERVICE}_API_KEY. Missing required keys is a fatal startup error, never
// a per-request one.
//
// Optional variables with defaults: CACHE_TTL_SECONDS (3600), MAX_RETRIES
// (3), INITIAL_CREDITS (50), SPARKGATE_LISTEN_ADDR (127.0.0.1:8080),
// SPARKGATE_DB_PATH (sparkgate.db). REDIS_ADDR enables the distributed
// credential cache backend.
func Load() (*Config, error) {
	masterSecret := os.Getenv("MASTER_SECRET")
	if masterSecret == "" {
		return nil, fmt.Errorf("MASTER_SECRET is required")
	}

	mode := model.KeyModeManaged
	if v, ok := os.LookupEnv("KEYS_MODE"); ok {
		switch model.KeyMode(v) {
		case model.KeyModeManaged, model.KeyModeLocal:
			mode = model.KeyMode(v)
		default:
			return nil, fmt.Errorf("KEYS_MODE has invalid value %q (want %q or %q)", v, model.KeyModeManaged, model.KeyModeLocal)
		}
	}

	geminiKeys, err := loadServiceKeys("GEMINI")
	if err != nil {
		return nil, err
	}
	judge0Keys, err := loadServiceKeys("JUDGE0")
	if err != nil {
		return nil, err
	}
	if mode == model.KeyModeManaged {
		if len(geminiKeys) == 0 {
			return nil, fmt.Errorf("managed mode requires GEMINI_API_KEY or GEMINI_TOTAL_KEYS with GEMINI_API_KEY_0..N-1")
		}
		if len(judge0Keys) == 0 {
			return nil, fmt.Errorf("managed mode requires JUDGE0_API_KEY or JUDGE0_TOTAL_KEYS with JUDGE0_API_KEY_0..N-1")
		}
	}

	cacheTTL := time.Hour
	if v, ok := os.LookupEnv("CACHE_TTL_SECONDS"); ok {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("CACHE_TTL_SECONDS has invalid value %q", v)
		}
		cacheTTL = time.Duration(seconds) * time.Second
	}

	maxRetries := 3
	if v, ok := os.LookupEnv("MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("MAX_RETRIES has invalid value %q", v)
		}
		maxRetries = n
	}

	initialGrant := int64(50)
	if v, ok := os.LookupEnv("INITIAL_CREDITS"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("INITIAL_CREDITS has invalid value %q", v)
		}
		initialGrant = n
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("SPARKGATE_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "sparkgate.db"
	if v, ok := os.LookupEnv("SPARKGATE_DB_PATH"); ok {
		dbPath = v
	}

	return &Config{
		KeysMode:      mode,
		GeminiKeys:    geminiKeys,
		Judge0Keys:    judge0Keys,
		MasterSecret:  masterSecret,
		CacheTTL:      cacheTTL,
		MaxRetries:    maxRetries,
		InitialGrant:  initialGrant,
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		ListenAddr:    listenAddr,
		DBPath:        dbPath,
		GeminiBaseURL: os.Getenv("GEMINI_BASE_URL"),
		Judge0BaseURL: os.Getenv("JUDGE0_BASE_URL"),
	}, nil
}

// loadServiceKeys reads the key list for one service prefix. An indexed set
// ({SERVICE}_TOTAL_KEYS + {SERVICE}_API_KEY_i) takes precedence over the
// single-key fallback ({SERVICE}_API_KEY). Returns an empty list when
// neither form is set; the caller decides whether that is fatal.
func loadServiceKeys(prefix string) ([]string, error) {
	if v, ok := os.LookupEnv(prefix + "_TOTAL_KEYS"); ok {
		total, err := strconv.Atoi(v)
		if err != nil || total <= 0 {
			return nil, fmt.Errorf("%s_TOTAL_KEYS has invalid value %q", prefix, v)
		}

		keys := make([]string, 0, total)
		for i := 0; i < total; i++ {
			name := fmt.Sprintf("%s_API_KEY_%d", prefix, i)
			key := os.Getenv(name)
			if key == "" {
				return nil, fmt.Errorf("%s is required when %s_TOTAL_KEYS=%d", name, prefix, total)
			}
			keys = append(keys, key)
		}
		return keys, nil
	}

	if key := os.Getenv(prefix + "_API_KEY"); key != "" {
		return []string{key}, nil
	}
	return nil, nil
}
