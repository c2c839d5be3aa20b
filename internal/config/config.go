// Package config loads the orchestrator's runtime configuration from a .env
// file plus process environment variables into a plain struct, grounded on
// the corpus's github.com/joho/godotenv usage: no package-level globals, one
// explicit Load returning a value the caller threads through constructors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Memory holds C2-C6 configuration.
type Memory struct {
	EmbeddingModel     string
	EmbeddingDimension int
	SemanticIndexURL   string
	EpisodicStoreURL   string
	WorkingBufferSize  int
	PinnedSlotNames    []string
}

// Workflow holds C8/C9 configuration.
type Workflow struct {
	MaxConcurrentThreads    int
	MaxRetriesPerNode       int
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	DefaultHumanGateTimeout time.Duration
	StateTTL                time.Duration

	// Engine selects the C9 workflow engine backend: "inmem" (default, a
	// single process, lost on restart) or "temporal" (durable execution
	// via a Temporal cluster).
	Engine            string
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Cache holds C7 configuration.
type Cache struct {
	Enabled                    bool
	TemperatureCacheableCeiling float64
	L2SimilarityThreshold      float64
	TTL                        time.Duration
	MaxEntries                 int
}

// Dispatch holds C10 configuration.
type Dispatch struct {
	RolePermissionMatrix        map[string][]string
	InjectionDetectorEnabled    bool
	InjectionConfidenceThreshold float64
}

// ProviderConfig describes one model provider entry in the routing chain.
// Tagged for YAML since the provider cost table is overlay-file territory,
// not a flat-env-var one.
type ProviderConfig struct {
	Name           string  `yaml:"name"`
	Model          string  `yaml:"model"`
	CostPerInputK  float64 `yaml:"cost_per_input_k"`
	CostPerOutputK float64 `yaml:"cost_per_output_k"`
}

// Routing holds C15 configuration.
type Routing struct {
	Providers     []ProviderConfig
	PerRequestBudget float64
	GlobalBudget     float64
	WarnThreshold    float64
}

// Telemetry holds logging/trace/metrics sink configuration.
type Telemetry struct {
	MetricsSink   string
	TraceExporter string
	LogSink       string
}

// Config is the fully-resolved configuration for one orchestrator process.
type Config struct {
	Memory    Memory
	Workflow  Workflow
	Cache     Cache
	Dispatch  Dispatch
	Routing   Routing
	Telemetry Telemetry

	ListenAddr      string
	RedisURL        string
	MongoURL        string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	AWSRegion       string
}

// Load reads .env.local and .env (if present, in that order, first value
// wins per godotenv.Load semantics) into the process environment, resolves
// a Config from it, then applies a YAML overlay file for the settings too
// structured for flat env vars (the role permission matrix, the provider
// cost table). A missing .env or overlay file is not an error; a malformed
// one is.
func Load() (*Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: loading %s: %w", f, err)
		}
	}
	cfg := fromEnv()
	if err := applyYAMLOverlay(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay holds the subset of Config worth expressing as structured YAML
// rather than flat environment variables.
type overlay struct {
	Dispatch struct {
		RolePermissionMatrix map[string][]string `yaml:"role_permission_matrix"`
	} `yaml:"dispatch"`
	Routing struct {
		Providers []ProviderConfig `yaml:"providers"`
	} `yaml:"routing"`
}

// applyYAMLOverlay reads the file named by CONFIG_FILE (default
// config.yaml) relative to the process working directory and, for any
// section present, replaces cfg's corresponding default.
func applyYAMLOverlay(cfg *Config) error {
	path := getenv("CONFIG_FILE", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	var ov overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if len(ov.Dispatch.RolePermissionMatrix) > 0 {
		cfg.Dispatch.RolePermissionMatrix = ov.Dispatch.RolePermissionMatrix
	}
	if len(ov.Routing.Providers) > 0 {
		cfg.Routing.Providers = ov.Routing.Providers
	}
	return nil
}

func fromEnv() *Config {
	return &Config{
		Memory: Memory{
			EmbeddingModel:     getenv("MEMORY_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getenvInt("MEMORY_EMBEDDING_DIMENSION", 1536),
			SemanticIndexURL:   getenv("MEMORY_SEMANTIC_INDEX_URL", ""),
			EpisodicStoreURL:   getenv("MEMORY_EPISODIC_STORE_URL", ""),
			WorkingBufferSize:  getenvInt("MEMORY_WORKING_BUFFER_SIZE", 32),
			PinnedSlotNames:    getenvList("MEMORY_PINNED_SLOT_NAMES", nil),
		},
		Workflow: Workflow{
			MaxConcurrentThreads:    getenvInt("WORKFLOW_MAX_CONCURRENT_THREADS", 64),
			MaxRetriesPerNode:       getenvInt("WORKFLOW_MAX_RETRIES_PER_NODE", 3),
			RetryBaseDelay:          getenvDuration("WORKFLOW_RETRY_BASE_DELAY", 500*time.Millisecond),
			RetryMaxDelay:           getenvDuration("WORKFLOW_RETRY_MAX_DELAY", 30*time.Second),
			DefaultHumanGateTimeout: getenvDuration("WORKFLOW_DEFAULT_HUMAN_GATE_TIMEOUT", 24*time.Hour),
			StateTTL:                getenvDuration("WORKFLOW_STATE_TTL", 24*time.Hour),
			Engine:                  getenv("WORKFLOW_ENGINE", "inmem"),
			TemporalHostPort:        getenv("WORKFLOW_TEMPORAL_HOST_PORT", "localhost:7233"),
			TemporalNamespace:       getenv("WORKFLOW_TEMPORAL_NAMESPACE", "default"),
			TemporalTaskQueue:       getenv("WORKFLOW_TEMPORAL_TASK_QUEUE", "petition-orchestrator"),
		},
		Cache: Cache{
			Enabled:                     getenvBool("CACHE_ENABLED", true),
			TemperatureCacheableCeiling: getenvFloat("CACHE_TEMPERATURE_CACHEABLE_CEILING", 0.1),
			L2SimilarityThreshold:       getenvFloat("CACHE_L2_SIMILARITY_THRESHOLD", 0.95),
			TTL:                         getenvDuration("CACHE_TTL", time.Hour),
			MaxEntries:                  getenvInt("CACHE_MAX_ENTRIES", 10000),
		},
		Dispatch: Dispatch{
			RolePermissionMatrix:         defaultRoleMatrix(),
			InjectionDetectorEnabled:     getenvBool("DISPATCH_INJECTION_DETECTOR_ENABLED", true),
			InjectionConfidenceThreshold: getenvFloat("DISPATCH_INJECTION_CONFIDENCE_THRESHOLD", 0.75),
		},
		Routing: Routing{
			Providers:        defaultProviders(),
			PerRequestBudget: getenvFloat("ROUTING_PER_REQUEST_BUDGET", 0.50),
			GlobalBudget:     getenvFloat("ROUTING_GLOBAL_BUDGET", 500.0),
			WarnThreshold:    getenvFloat("ROUTING_WARN_THRESHOLD", 0.8),
		},
		Telemetry: Telemetry{
			MetricsSink:   getenv("TELEMETRY_METRICS_SINK", "prometheus"),
			TraceExporter: getenv("TELEMETRY_TRACE_EXPORTER", "otlp"),
			LogSink:       getenv("TELEMETRY_LOG_SINK", "stdout"),
		},
		ListenAddr:      getenv("LISTEN_ADDR", ":8080"),
		RedisURL:        getenv("REDIS_URL", "redis://localhost:6379/0"),
		MongoURL:        getenv("MONGO_URL", "mongodb://localhost:27017"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AWSRegion:       getenv("AWS_REGION", "us-east-1"),
	}
}

func defaultRoleMatrix() map[string][]string {
	return map[string][]string{
		"applicant": {"ask", "case_create", "case_get", "case_active", "memory_lookup",
			"intake_start", "intake_answer", "intake_skip", "intake_status", "intake_cancel",
			"intake_resume", "upload_exhibit", "get_preview", "download_pdf"},
		"attorney": {"ask", "case_create", "case_get", "case_active", "memory_lookup",
			"generate_letter", "generate_petition", "pause", "resume", "get_preview", "download_pdf"},
		"admin":  {"*"},
		"system": {"memory_lookup", "generate_petition_internal", "validate_section"},
	}
}

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{Name: "anthropic", Model: "claude-sonnet", CostPerInputK: 0.003, CostPerOutputK: 0.015},
		{Name: "openai", Model: "gpt-4o", CostPerInputK: 0.0025, CostPerOutputK: 0.01},
		{Name: "bedrock", Model: "amazon.titan", CostPerInputK: 0.0008, CostPerOutputK: 0.0016},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
