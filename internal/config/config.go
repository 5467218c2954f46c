// Package config loads docweaver's environment-variable configuration,
// in env-var-with-fallback style (no flag parsing, no config-file
// library — a batch documentation run has no subcommands or flags to
// route).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ModelTier selects which LLMTransport tier a caller wants.
type ModelTier string

const (
	TierFast      ModelTier = "fast"
	TierReasoning ModelTier = "reasoning"
)

// EmbeddingBackend selects the RetrievalService implementation.
type EmbeddingBackend string

const (
	BackendTypesense EmbeddingBackend = "typesense"
	BackendMemory    EmbeddingBackend = "memory"
)

// Config holds every environment-driven setting docweaver needs.
type Config struct {
	Root      string
	OutputDir string

	Concurrency    int
	ModuleRetries  int
	PlanRetries    int
	SccRetries     int
	RetrieveTimeout time.Duration
	ReviewTimeout   time.Duration
	MaxTurns        int

	SectionModelTier ModelTier
	EmbeddingBackend EmbeddingBackend
	Adaptive         bool
	AutoExpand       bool

	OpenAI    OpenAIConfig
	Typesense TypesenseConfig
	Arango    ArangoConfig

	DebugDir string
	Env      string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	FastModel      string
	ReasoningModel string
}

type TypesenseConfig struct {
	URL        string
	APIKey     string
	Collection string
}

type ArangoConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c Config) IsDevelopment() bool { return c.Env != "production" }

// Load reads configuration from the environment, applying defaults for
// everything but DOCWEAVER_ROOT, which must be set. It does not check
// that Root exists or validate OpenAI credentials; callers validate once they know which backends they
// actually need (e.g. tests use BackendMemory and never touch OpenAI).
func Load() (Config, error) {
	root := os.Getenv("DOCWEAVER_ROOT")
	if root == "" {
		return Config{}, fmt.Errorf("DOCWEAVER_ROOT is required")
	}

	cfg := Config{
		Root:      root,
		OutputDir: getEnv("DOCWEAVER_OUTPUT_DIR", "./docweaver-out"),

		Concurrency:     getEnvInt("DOCWEAVER_CONCURRENCY", 20),
		ModuleRetries:   getEnvInt("DOCWEAVER_MODULE_RETRIES", 1),
		PlanRetries:     getEnvInt("DOCWEAVER_PLAN_RETRIES", 2),
		SccRetries:      getEnvInt("DOCWEAVER_SCC_RETRIES", 3),
		RetrieveTimeout: getEnvDuration("DOCWEAVER_RETRIEVE_TIMEOUT", 10*time.Second),
		ReviewTimeout:   getEnvDuration("DOCWEAVER_REVIEW_TIMEOUT", 60*time.Second),
		MaxTurns:        getEnvInt("DOCWEAVER_MAX_TURNS", 3),

		SectionModelTier: ModelTier(getEnv("DOCWEAVER_SECTION_MODEL_TIER", string(TierReasoning))),
		EmbeddingBackend: EmbeddingBackend(getEnv("DOCWEAVER_EMBEDDING_BACKEND", string(BackendTypesense))),
		Adaptive:         getEnvBool("DOCWEAVER_ADAPTIVE", false),
		AutoExpand:       getEnvBool("DOCWEAVER_AUTO_EXPAND", true),

		OpenAI: OpenAIConfig{
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			BaseURL:        os.Getenv("OPENAI_BASE_URL"),
			FastModel:      getEnv("DOCWEAVER_FAST_MODEL", "gpt-4o-mini"),
			ReasoningModel: getEnv("DOCWEAVER_REASONING_MODEL", "gpt-4o"),
		},
		Typesense: TypesenseConfig{
			URL: getEnv("TYPESENSE_URL", "http://localhost:8108"),
			APIKey:     os.Getenv("TYPESENSE_API_KEY"),
			Collection: getEnv("TYPESENSE_COLLECTION", "docweaver_chunks"),
		},
		Arango: ArangoConfig{
			URL: getEnv("ARANGO_URL", "http://localhost:8529"),
			Username: getEnv("ARANGO_USERNAME", "root"),
			Password: os.Getenv("ARANGO_PASSWORD"),
			Database: getEnv("ARANGO_DATABASE", "docweaver"),
		},

		DebugDir: os.Getenv("DOCWEAVER_DEBUG_DIR"),
		Env:      getEnv("DOCWEAVER_ENV", "development"),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
