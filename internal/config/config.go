// Package config loads idea-sonar settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joelkehle/idea-sonar/internal/cache"
	"github.com/joelkehle/idea-sonar/internal/embedding"
	"github.com/joelkehle/idea-sonar/internal/keywords"
	"github.com/joelkehle/idea-sonar/internal/priorartsearch"
	"github.com/joelkehle/idea-sonar/internal/runstore"
)

const (
	FileName  = "idea-sonar"
	EnvPrefix = "IDEA_SONAR"
)

// legacyEnv maps config keys to the unprefixed variable names deployments
// already use for credentials.
var legacyEnv = map[string]string{
	"web.api_key":    "GOOGLE_SEARCH_API_KEY",
	"web.engine_id":  "SEARCH_ENGINE_ID",
	"patent.api_key": "KIPRIS_API_KEY",
	"llm.api_key":    "ANTHROPIC_API_KEY",
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Web       WebConfig       `mapstructure:"web"`
	Patent    PatentConfig    `mapstructure:"patent"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Runs      RunsConfig      `mapstructure:"runs"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ChromePath     string        `mapstructure:"chrome_path"`
}

type CacheConfig struct {
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	PurgeSchedule string `mapstructure:"purge_schedule"`
}

type WebConfig struct {
	APIKey   string `mapstructure:"api_key"`
	EngineID string `mapstructure:"engine_id"`
	BaseURL  string `mapstructure:"base_url"`
	Results  int    `mapstructure:"results"`
}

type PatentConfig struct {
	APIKey       string `mapstructure:"api_key"`
	AdvancedURL  string `mapstructure:"advanced_url"`
	WordURL      string `mapstructure:"word_url"`
	AdvancedRows int    `mapstructure:"advanced_rows"`
	WordRows     int    `mapstructure:"word_rows"`
	MaxKeywords  int    `mapstructure:"max_keywords"`
}

type EmbeddingConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type LLMConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type AnalysisConfig struct {
	RelevanceThreshold    float64  `mapstructure:"relevance_threshold"`
	VerificationThreshold float64  `mapstructure:"verification_threshold"`
	MaxVerifications      int      `mapstructure:"max_verifications"`
	MaxExcerpt            int      `mapstructure:"max_excerpt"`
	HintExcerpt           int      `mapstructure:"hint_excerpt"`
	Hints                 []string `mapstructure:"hints"`
	PromptVersion         string   `mapstructure:"prompt_version"`
}

type PolicyConfig struct {
	File string `mapstructure:"file"`
}

// RunsConfig bounds the in-memory archive of asynchronous runs.
type RunsConfig struct {
	Max int `mapstructure:"max"`
}

type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 3 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:       cache.BackendSQLite,
			Path:          "idea-sonar-cache.db",
			PurgeSchedule: "@every 1h",
		},
		Web: WebConfig{
			BaseURL: priorartsearch.GoogleSearchURL,
			Results: priorartsearch.DefaultWebResults,
		},
		Patent: PatentConfig{
			AdvancedURL:  priorartsearch.KiprisAdvancedURL,
			WordURL:      priorartsearch.KiprisWordURL,
			AdvancedRows: priorartsearch.DefaultAdvancedRows,
			WordRows:     priorartsearch.DefaultWordRows,
			MaxKeywords:  keywords.DefaultMaxKeywords,
		},
		Embedding: EmbeddingConfig{
			Model: embedding.DefaultModel,
		},
		LLM: LLMConfig{
			Model: priorartsearch.DefaultLLMModel,
		},
		Analysis: AnalysisConfig{
			RelevanceThreshold: priorartsearch.DefaultRelevanceThreshold,
			MaxVerifications:   priorartsearch.DefaultMaxVerificationTargets,
			MaxExcerpt:         priorartsearch.DefaultMaxExcerpt,
			HintExcerpt:        priorartsearch.DefaultHintExcerpt,
			Hints:              priorartsearch.DefaultHints,
			PromptVersion:      priorartsearch.DefaultPromptVersion,
		},
		Runs: RunsConfig{
			Max: runstore.DefaultMaxRuns,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "idea-sonar",
		},
	}
}

// NewViper returns a viper instance with defaults, file search paths and
// environment bindings set. cfgFile overrides the search paths when set.
func NewViper(cfgFile string) *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", FileName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	return v
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.chrome_path", d.Server.ChromePath)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.purge_schedule", d.Cache.PurgeSchedule)
	v.SetDefault("web.api_key", "")
	v.SetDefault("web.engine_id", "")
	v.SetDefault("web.base_url", d.Web.BaseURL)
	v.SetDefault("web.results", d.Web.Results)
	v.SetDefault("patent.api_key", "")
	v.SetDefault("patent.advanced_url", d.Patent.AdvancedURL)
	v.SetDefault("patent.word_url", d.Patent.WordURL)
	v.SetDefault("patent.advanced_rows", d.Patent.AdvancedRows)
	v.SetDefault("patent.word_rows", d.Patent.WordRows)
	v.SetDefault("patent.max_keywords", d.Patent.MaxKeywords)
	v.SetDefault("embedding.base_url", d.Embedding.BaseURL)
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("analysis.relevance_threshold", d.Analysis.RelevanceThreshold)
	v.SetDefault("analysis.verification_threshold", d.Analysis.VerificationThreshold)
	v.SetDefault("analysis.max_verifications", d.Analysis.MaxVerifications)
	v.SetDefault("analysis.max_excerpt", d.Analysis.MaxExcerpt)
	v.SetDefault("analysis.hint_excerpt", d.Analysis.HintExcerpt)
	v.SetDefault("analysis.hints", d.Analysis.Hints)
	v.SetDefault("analysis.prompt_version", d.Analysis.PromptVersion)
	v.SetDefault("policy.file", "")
	v.SetDefault("runs.max", d.Runs.Max)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
}

// Load reads the config file if one is found, then decodes and validates.
// A missing file is not an error; a malformed one is.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.trim()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) trim() {
	c.Web.APIKey = strings.TrimSpace(c.Web.APIKey)
	c.Web.EngineID = strings.TrimSpace(c.Web.EngineID)
	c.Patent.APIKey = strings.TrimSpace(c.Patent.APIKey)
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.Embedding.APIKey = strings.TrimSpace(c.Embedding.APIKey)
}

func (c Config) Validate() error {
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server.request_timeout must be positive")
	}
	if c.Analysis.RelevanceThreshold <= 0 || c.Analysis.RelevanceThreshold > 1 {
		return fmt.Errorf("analysis.relevance_threshold must be in (0,1], got %v", c.Analysis.RelevanceThreshold)
	}
	if c.Analysis.VerificationThreshold < 0 || c.Analysis.VerificationThreshold > 1 {
		return fmt.Errorf("analysis.verification_threshold must be in [0,1], got %v", c.Analysis.VerificationThreshold)
	}
	if c.Analysis.MaxVerifications < 0 {
		return errors.New("analysis.max_verifications must not be negative")
	}
	if c.Runs.Max < 0 {
		return errors.New("runs.max must not be negative")
	}
	switch c.Cache.Backend {
	case cache.BackendSQLite, cache.BackendBadger, cache.BackendNone:
	default:
		return fmt.Errorf("cache.backend must be sqlite, badger or none, got %q", c.Cache.Backend)
	}
	if !c.WebEnabled() && !c.PatentEnabled() {
		return errors.New("configure at least one source: web.api_key with web.engine_id, or patent.api_key")
	}
	return nil
}

func (c Config) WebEnabled() bool { return c.Web.APIKey != "" && c.Web.EngineID != "" }

func (c Config) PatentEnabled() bool { return c.Patent.APIKey != "" }

func (c Config) VerificationEnabled() bool { return c.LLM.APIKey != "" }

// VerifyConfig maps the analysis settings onto the verification stage.
func (c Config) VerifyConfig() priorartsearch.VerifyConfig {
	return priorartsearch.VerifyConfig{
		Threshold:     c.Analysis.VerificationThreshold,
		MaxTargets:    c.Analysis.MaxVerifications,
		MaxExcerpt:    c.Analysis.MaxExcerpt,
		HintExcerpt:   c.Analysis.HintExcerpt,
		Hints:         c.Analysis.Hints,
		PromptVersion: c.Analysis.PromptVersion,
	}
}
