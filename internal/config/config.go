// Package config loads corpusd's process and run configuration from a YAML
// file, a .env file, and environment variables, in that ascending precedence
// order (a .env entry never overrides a variable already set in the
// environment), following the viper/godotenv shape rcliao-briefly's internal/config
// package uses for the same problem (config file defaults, env override).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is every option listed in spec.md §6's configuration surface,
// grouped by scope (Provider/Pipeline/Store/Logging).
type Config struct {
	Provider Provider `mapstructure:"provider"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Store    Store    `mapstructure:"store"`
	Logging  Logging  `mapstructure:"logging"`
}

// Provider configures both external providers: the metadata catalog and the
// three interchangeable analysis (LLM) backends.
type Provider struct {
	MetadataBaseURL string  `mapstructure:"metadata_base_url"`
	MetadataAPIKey  string  `mapstructure:"metadata_api_key"`
	MetadataRPS     float64 `mapstructure:"metadata_rps"`

	// AnalysisPrimary/AnalysisFallback each name one of {openai, anthropic,
	// genai}, matching spec.md's {A,B,C} three configured analysis providers.
	AnalysisPrimary      string        `mapstructure:"analysis_primary"`
	AnalysisFallback     string        `mapstructure:"analysis_fallback"`
	AnalysisRPM          float64       `mapstructure:"analysis_rpm"`
	AnalysisFailBudget   int           `mapstructure:"analysis_fail_budget"`
	AnalysisBudgetWindow time.Duration `mapstructure:"analysis_budget_window"`

	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	OpenAIChatModel string `mapstructure:"openai_chat_model"`

	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	AnthropicModel  string `mapstructure:"anthropic_model"`

	GenAIAPIKey   string `mapstructure:"genai_api_key"`
	GenAIChatModel string `mapstructure:"genai_chat_model"`
}

// Pipeline configures a run's discovery/fetch/analyze/persist dataflow; see
// §4.2 and §4.5.
type Pipeline struct {
	MaxDepth          int `mapstructure:"max_depth"`
	MaxPapers         int `mapstructure:"max_papers"`
	MaxFanoutPerPaper int `mapstructure:"max_fanout_per_paper"`

	StageWorkerCounts [4]int `mapstructure:"stage_worker_counts"`
	QueueCapacities   [3]int `mapstructure:"queue_capacities"`
	CheckpointEveryN  int    `mapstructure:"checkpoint_every_n"`
	CheckpointPath    string `mapstructure:"checkpoint_path"`

	AnalyzeEnabled bool `mapstructure:"analyze_enabled"`
	EmbedEnabled   bool `mapstructure:"embed_enabled"`
	UseMetadata    bool `mapstructure:"use_metadata"`
	UseFullText    bool `mapstructure:"use_full_text"`

	DLQSubject  string `mapstructure:"dlq_subject"`
	NatsURL     string `mapstructure:"nats_url"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// Store configures the two storage backends.
type Store struct {
	GraphURI      string `mapstructure:"graph_uri"`
	GraphUser     string `mapstructure:"graph_user"`
	GraphPassword string `mapstructure:"graph_password"`

	VectorAddr       string `mapstructure:"vector_addr"`
	VectorCollection string `mapstructure:"vector_collection"`
	EmbeddingDim     int    `mapstructure:"embedding_dim"`
}

// Logging configures the process-wide zerolog level.
type Logging struct {
	Level string `mapstructure:"level"`
}

// sensitiveKeys are config fields that §6 requires redacted from any log or
// status output: provider keys and the store password.
var sensitiveKeys = []string{
	"metadata_api_key", "openai_api_key", "anthropic_api_key", "genai_api_key",
	"graph_password",
}

const redactedValue = "[REDACTED]"

// Redacted returns a shallow map view of the fields that must never be
// logged or returned verbatim in status output, with sensitive values
// masked, for any caller that logs or returns configuration.
func (c Config) Redacted() map[string]any {
	m := map[string]any{
		"provider": map[string]any{
			"metadata_base_url":     c.Provider.MetadataBaseURL,
			"metadata_api_key":      mask(c.Provider.MetadataAPIKey),
			"metadata_rps":          c.Provider.MetadataRPS,
			"analysis_primary":      c.Provider.AnalysisPrimary,
			"analysis_fallback":     c.Provider.AnalysisFallback,
			"analysis_rpm":          c.Provider.AnalysisRPM,
			"openai_api_key":        mask(c.Provider.OpenAIAPIKey),
			"anthropic_api_key":     mask(c.Provider.AnthropicAPIKey),
			"genai_api_key":         mask(c.Provider.GenAIAPIKey),
		},
		"pipeline": map[string]any{
			"max_depth":            c.Pipeline.MaxDepth,
			"max_papers":           c.Pipeline.MaxPapers,
			"max_fanout_per_paper": c.Pipeline.MaxFanoutPerPaper,
			"checkpoint_every_n":   c.Pipeline.CheckpointEveryN,
			"checkpoint_path":      c.Pipeline.CheckpointPath,
		},
		"store": map[string]any{
			"graph_uri":         c.Store.GraphURI,
			"graph_user":        c.Store.GraphUser,
			"graph_password":    mask(c.Store.GraphPassword),
			"vector_addr":       c.Store.VectorAddr,
			"vector_collection": c.Store.VectorCollection,
			"embedding_dim":     c.Store.EmbeddingDim,
		},
		"logging": map[string]any{"level": c.Logging.Level},
	}
	return m
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	return redactedValue
}

// Load reads configFile (if non-empty), overlays a .env file and process
// environment variables (CORPUSD_ prefixed, nested keys joined by
// underscore), and unmarshals the result. It does not cache a global
// singleton: every coordinator-owned handle (§9) is built from an explicit
// *Config passed down by the caller, never read back from package state.
func Load(configFile string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "config: warning: error loading .env: %v\n", err)
		}
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("corpusd")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("corpusd")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.metadata_rps", 10.0)
	v.SetDefault("provider.analysis_primary", "openai")
	v.SetDefault("provider.analysis_fallback", "anthropic")
	v.SetDefault("provider.analysis_rpm", 60.0)
	v.SetDefault("provider.analysis_fail_budget", 3)
	v.SetDefault("provider.analysis_budget_window", time.Minute)
	v.SetDefault("provider.openai_chat_model", "")
	v.SetDefault("provider.anthropic_model", "")
	v.SetDefault("provider.genai_chat_model", "")

	v.SetDefault("pipeline.max_depth", 2)
	v.SetDefault("pipeline.max_papers", 1000)
	v.SetDefault("pipeline.max_fanout_per_paper", 20)
	v.SetDefault("pipeline.stage_worker_counts", [4]int{1, 8, 4, 3})
	v.SetDefault("pipeline.queue_capacities", [3]int{64, 64, 64})
	v.SetDefault("pipeline.checkpoint_every_n", 500)
	v.SetDefault("pipeline.checkpoint_path", "./corpusd-checkpoint.json")
	v.SetDefault("pipeline.analyze_enabled", true)
	v.SetDefault("pipeline.embed_enabled", true)
	v.SetDefault("pipeline.use_metadata", true)
	v.SetDefault("pipeline.use_full_text", false)
	v.SetDefault("pipeline.dlq_subject", "corpusd.pipeline.dlq")
	v.SetDefault("pipeline.metrics_port", 9090)

	v.SetDefault("store.graph_uri", "neo4j://localhost:7687")
	v.SetDefault("store.graph_user", "neo4j")
	v.SetDefault("store.graph_password", "")
	v.SetDefault("store.vector_addr", "localhost:6334")
	v.SetDefault("store.vector_collection", "corpusd")
	v.SetDefault("store.embedding_dim", 1536)

	v.SetDefault("logging.level", "info")
}
