package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/theimaginaryfoundation/wa-digest/digest/eventlog"
	"github.com/theimaginaryfoundation/wa-digest/digest/fileutils"
)

const defaultConfigPath = "wa-digest.yaml"

type Config struct {
	LogLevel string `yaml:"log_level"`
	Debug    bool   `yaml:"debug"`
	LogFile  string `yaml:"log_file"`
	HTTPAddr string `yaml:"http_addr"`

	// Log file rotation: size in megabytes and number of rotated files kept.
	LogMaxSizeMB  int `yaml:"log_max_size_mb"`
	LogMaxBackups int `yaml:"log_max_backups"`

	Storage eventlog.StorageConfig `yaml:"storage"`
	Ingest  IngestConfig           `yaml:"ingest"`
	LLM     LLMConfig              `yaml:"llm"`
	Chats   ChatsConfig            `yaml:"chats"`
}

type IngestConfig struct {
	JWTSecret        string   `yaml:"jwt_secret"`
	MaxBatch         int      `yaml:"max_batch"`
	AllowlistBridges []string `yaml:"allowlist_bridges"`
}

type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	Concurrency int     `yaml:"concurrency"`

	MaxChats     int `yaml:"max_chats"`
	MsgsPerChat  int `yaml:"msgs_per_chat"`
	BulletsLimit int `yaml:"bullets_limit"`
}

// ChatsConfig holds glob patterns matched against chat ids and titles.
type ChatsConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

func (c Config) Validate() error {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("log_level must be one of DEBUG, INFO, WARNING, ERROR (got %q)", c.LogLevel)
	}
	if c.LogMaxSizeMB <= 0 {
		return errors.New("log_max_size_mb must be > 0")
	}
	if c.LogMaxBackups < 0 {
		return errors.New("log_max_backups must be >= 0")
	}
	switch strings.ToLower(c.Storage.Backend) {
	case eventlog.BackendJSONL:
		if c.Storage.JSONLPath == "" {
			return errors.New("missing storage.events_jsonl")
		}
	case eventlog.BackendSQLite:
		if c.Storage.DBPath == "" {
			return errors.New("missing storage.events_db")
		}
	default:
		return fmt.Errorf("storage.backend must be jsonl or sqlite (got %q)", c.Storage.Backend)
	}
	if c.Ingest.JWTSecret == "" {
		return errors.New("missing ingest.jwt_secret")
	}
	if c.Ingest.MaxBatch <= 0 {
		return errors.New("ingest.max_batch must be > 0")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	if c.LLM.Concurrency <= 0 {
		return errors.New("llm.concurrency must be > 0")
	}
	if c.HTTPAddr == "" {
		return errors.New("missing http_addr")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		LogLevel: "INFO",
		LogFile:  filepath.FromSlash("server/logs/app.log"),
		HTTPAddr: ":8000",

		LogMaxSizeMB:  2,
		LogMaxBackups: 3,
		Storage: eventlog.StorageConfig{
			Backend:   eventlog.BackendJSONL,
			JSONLPath: filepath.FromSlash("server/storage/wa_events.jsonl"),
			DBPath:    filepath.FromSlash("server/storage/wa_events.db"),
		},
		Ingest: IngestConfig{
			JWTSecret: "change-me",
			MaxBatch:  500,
		},
		LLM: LLMConfig{
			Model:        "gpt-4o-mini",
			Temperature:  0.2,
			Concurrency:  1,
			MaxChats:     8,
			MsgsPerChat:  120,
			BulletsLimit: 6,
		},
	}
}

// loadConfig layers defaults, the YAML file at path and the environment. A missing file is only
// an error when the path was given explicitly.
func loadConfig(path string, explicit bool, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if !explicit && !fileutils.FileExists(path) {
			path = ""
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookupEnv func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookupEnv(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("LOG_LEVEL", &cfg.LogLevel)
	if v, ok := lookupEnv("DEBUG"); ok && strings.TrimSpace(v) != "" {
		b, err := parseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DEBUG: %w", err))
		} else {
			cfg.Debug = b
		}
	}
	str("LOG_FILE", &cfg.LogFile)
	integer("LOG_MAX_SIZE_MB", &cfg.LogMaxSizeMB)
	integer("LOG_MAX_BACKUPS", &cfg.LogMaxBackups)
	str("HTTP_ADDR", &cfg.HTTPAddr)

	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("EVENTS_JSONL", &cfg.Storage.JSONLPath)
	str("EVENTS_DB", &cfg.Storage.DBPath)

	str("WA_JWT_SECRET", &cfg.Ingest.JWTSecret)
	integer("WA_INGEST_MAX_BATCH", &cfg.Ingest.MaxBatch)
	if v, ok := lookupEnv("WA_ALLOWLIST_BRIDGES"); ok {
		cfg.Ingest.AllowlistBridges = splitList(v)
	}

	str("OPENAI_API_KEY", &cfg.LLM.APIKey)
	str("OPENAI_BASE_URL", &cfg.LLM.BaseURL)
	str("LLM_MODEL", &cfg.LLM.Model)
	if v, ok := lookupEnv("LLM_TEMPERATURE"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("LLM_TEMPERATURE: %w", err))
		} else {
			cfg.LLM.Temperature = f
		}
	}
	integer("LLM_CONCURRENCY", &cfg.LLM.Concurrency)

	return errors.Join(errs...)
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
