// File: internal/config/config.go
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/arborist/internal/prune"
	"github.com/xkilldash9x/arborist/internal/similarity"
	"github.com/xkilldash9x/arborist/internal/suggest"
)

// EnvPrefix is prepended to every environment override, e.g. ARBORIST_MATCHING_T_HIGH.
const EnvPrefix = "ARBORIST"

// Experiment modes.
const (
	ModeKB       = "kb"
	ModeBaseline = "baseline"
)

// Semantic providers.
const (
	ProviderLexical = "lexical"
	ProviderGemini  = "gemini"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Data() DataConfig
	Experiment() ExperimentConfig
	Matching() MatchingConfig
	Suggest() SuggestConfig
	Prune() PruneConfig
	Knowledge() KnowledgeConfig
	Semantic() SemanticConfig
	WoZ() WoZConfig
	Server() ServerConfig
	Session() SessionConfig

	SetScenario(id string)
	SetKBPath(path string)
	SetServerAddr(addr string)
}

// Config is the root of the application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DataCfg       DataConfig       `mapstructure:"data" yaml:"data"`
	ExperimentCfg ExperimentConfig `mapstructure:"experiment" yaml:"experiment"`
	MatchingCfg   MatchingConfig   `mapstructure:"matching" yaml:"matching"`
	SuggestCfg    SuggestConfig    `mapstructure:"suggest" yaml:"suggest"`
	PruneCfg      PruneConfig      `mapstructure:"prune" yaml:"prune"`
	KnowledgeCfg  KnowledgeConfig  `mapstructure:"knowledge" yaml:"knowledge"`
	SemanticCfg   SemanticConfig   `mapstructure:"semantic" yaml:"semantic"`
	WoZCfg        WoZConfig        `mapstructure:"woz" yaml:"woz"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
	SessionCfg    SessionConfig    `mapstructure:"session" yaml:"session"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Data() DataConfig             { return c.DataCfg }
func (c *Config) Experiment() ExperimentConfig { return c.ExperimentCfg }
func (c *Config) Matching() MatchingConfig     { return c.MatchingCfg }
func (c *Config) Suggest() SuggestConfig       { return c.SuggestCfg }
func (c *Config) Prune() PruneConfig           { return c.PruneCfg }
func (c *Config) Knowledge() KnowledgeConfig   { return c.KnowledgeCfg }
func (c *Config) Semantic() SemanticConfig     { return c.SemanticCfg }
func (c *Config) WoZ() WoZConfig               { return c.WoZCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }
func (c *Config) Session() SessionConfig       { return c.SessionCfg }

// --- Setters (CLI flag overrides) ---

func (c *Config) SetScenario(id string)     { c.DataCfg.Scenario = id }
func (c *Config) SetKBPath(path string)     { c.DataCfg.KBPath = path }
func (c *Config) SetServerAddr(addr string) { c.ServerCfg.Addr = addr }

// -- Section Types --

// LoggerConfig configures the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color settings for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DataConfig locates the knowledge base and the scenario definitions.
type DataConfig struct {
	KBPath      string `mapstructure:"kb_path" yaml:"kb_path"`
	ScenarioDir string `mapstructure:"scenario_dir" yaml:"scenario_dir"`
	Scenario    string `mapstructure:"scenario" yaml:"scenario"`
}

// ExperimentConfig selects the study condition for a session.
type ExperimentConfig struct {
	Mode          string `mapstructure:"mode" yaml:"mode"`
	ParticipantID string `mapstructure:"participant_id" yaml:"participant_id"`
	SessionID     string `mapstructure:"session_id" yaml:"session_id"`
}

// Assisted reports whether suggestions and pruning are enabled.
func (e ExperimentConfig) Assisted() bool {
	return !strings.EqualFold(e.Mode, ModeBaseline)
}

// MatchingConfig holds the similarity cut-offs and blend weights.
type MatchingConfig struct {
	THigh   float64       `mapstructure:"t_high" yaml:"t_high"`
	TMed    float64       `mapstructure:"t_med" yaml:"t_med"`
	Weights WeightsConfig `mapstructure:"weights" yaml:"weights"`
}

// WeightsConfig mirrors similarity.Weights.
type WeightsConfig struct {
	Token   float64 `mapstructure:"token" yaml:"token"`
	Trigram float64 `mapstructure:"trigram" yaml:"trigram"`
	Edit    float64 `mapstructure:"edit" yaml:"edit"`
}

// Thresholds converts the section to the similarity package type.
func (m MatchingConfig) Thresholds() similarity.Thresholds {
	return similarity.Thresholds{High: m.THigh, Med: m.TMed}
}

// SimilarityWeights converts the section to the similarity package type.
func (m MatchingConfig) SimilarityWeights() similarity.Weights {
	return similarity.Weights{Token: m.Weights.Token, Trigram: m.Weights.Trigram, Edit: m.Weights.Edit}
}

// SuggestConfig tunes the suggestion ranking and node planting.
type SuggestConfig struct {
	MinScore         float64 `mapstructure:"min_score" yaml:"min_score"`
	TopK             int     `mapstructure:"top_k" yaml:"top_k"`
	MoreK            int     `mapstructure:"more_k" yaml:"more_k"`
	PlantChildrenCap int     `mapstructure:"plant_children_cap" yaml:"plant_children_cap"`
}

// PruneConfig tunes the review pass.
type PruneConfig struct {
	MaxVisible       int      `mapstructure:"max_visible" yaml:"max_visible"`
	DomainVocabulary []string `mapstructure:"domain_vocabulary" yaml:"domain_vocabulary"`
	GenericWords     []string `mapstructure:"generic_words" yaml:"generic_words"`
}

// KnowledgeConfig carries the curated tables layered over the KB.
type KnowledgeConfig struct {
	CommonIDs             []string              `mapstructure:"common_ids" yaml:"common_ids"`
	SynergyPairs          []suggest.SynergyPair `mapstructure:"synergy_pairs" yaml:"synergy_pairs"`
	AlternativeCategories map[string][]string   `mapstructure:"alternative_categories" yaml:"alternative_categories"`
}

// SemanticConfig configures the optional embedding oracle.
type SemanticConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Threshold         float64       `mapstructure:"threshold" yaml:"threshold"`
	TopK              int           `mapstructure:"top_k" yaml:"top_k"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// WoZConfig configures the facilitator suggestion feed.
type WoZConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	RemoteURL    string        `mapstructure:"remote_url" yaml:"remote_url"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Jitter       time.Duration `mapstructure:"jitter" yaml:"jitter"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	MaxReturned  int           `mapstructure:"max_returned" yaml:"max_returned"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// SessionConfig configures the NDJSON session event log.
type SessionConfig struct {
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// -- Construction --

// NewDefaultConfig creates a new configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "arborist")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Data --
	v.SetDefault("data.kb_path", "data/kb.json")
	v.SetDefault("data.scenario_dir", "data/scenarios")
	v.SetDefault("data.scenario", "auth")

	// -- Experiment --
	v.SetDefault("experiment.mode", ModeKB)
	v.SetDefault("experiment.participant_id", "Px")
	v.SetDefault("experiment.session_id", "")

	// -- Matching --
	th := similarity.DefaultThresholds()
	w := similarity.DefaultWeights()
	v.SetDefault("matching.t_high", th.High)
	v.SetDefault("matching.t_med", th.Med)
	v.SetDefault("matching.weights.token", w.Token)
	v.SetDefault("matching.weights.trigram", w.Trigram)
	v.SetDefault("matching.weights.edit", w.Edit)

	// -- Suggest --
	so := suggest.DefaultOptions()
	v.SetDefault("suggest.min_score", so.MinScore)
	v.SetDefault("suggest.top_k", so.TopK)
	v.SetDefault("suggest.more_k", so.MoreK)
	v.SetDefault("suggest.plant_children_cap", 4)

	// -- Prune --
	v.SetDefault("prune.max_visible", prune.DefaultMaxVisible)
	v.SetDefault("prune.domain_vocabulary", prune.DefaultDomainVocabulary())
	v.SetDefault("prune.generic_words", prune.DefaultGenericWords())

	// -- Knowledge tables --
	v.SetDefault("knowledge.common_ids", suggest.DefaultCommonIDs())
	v.SetDefault("knowledge.synergy_pairs", suggest.DefaultSynergyPairs())
	v.SetDefault("knowledge.alternative_categories", prune.DefaultAlternativeCategories())

	// -- Semantic --
	v.SetDefault("semantic.enabled", false)
	v.SetDefault("semantic.provider", ProviderLexical)
	v.SetDefault("semantic.model", "text-embedding-004")
	v.SetDefault("semantic.api_key", "")
	v.SetDefault("semantic.threshold", 0.6)
	v.SetDefault("semantic.top_k", 3)
	v.SetDefault("semantic.timeout", "1500ms")
	v.SetDefault("semantic.requests_per_second", 5.0)

	// -- WoZ --
	v.SetDefault("woz.enabled", false)
	v.SetDefault("woz.remote_url", "")
	v.SetDefault("woz.poll_interval", "4s")
	v.SetDefault("woz.jitter", "500ms")
	v.SetDefault("woz.max_backoff", "60s")
	v.SetDefault("woz.max_returned", 10)

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	// -- Session --
	v.SetDefault("session.log_file", "arborist-session.ndjson")
	v.SetDefault("session.max_size", 20)
	v.SetDefault("session.max_backups", 3)
	v.SetDefault("session.max_age", 90)
	v.SetDefault("session.compress", false)
}

// NewConfigFromViper unmarshals, expands and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are commonly provided without the nested key path.
	_ = v.BindEnv("semantic.api_key", EnvPrefix+"_SEMANTIC_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading ~ in every configured file path.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.DataCfg.KBPath, &c.DataCfg.ScenarioDir, &c.LoggerCfg.LogFile, &c.SessionCfg.LogFile} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// -- Validation --

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.ExperimentCfg.Validate(); err != nil {
		return fmt.Errorf("experiment configuration invalid: %w", err)
	}
	if err := c.MatchingCfg.Validate(); err != nil {
		return fmt.Errorf("matching configuration invalid: %w", err)
	}
	if err := c.SuggestCfg.Validate(); err != nil {
		return fmt.Errorf("suggest configuration invalid: %w", err)
	}
	if c.PruneCfg.MaxVisible <= 0 {
		return fmt.Errorf("prune.max_visible must be a positive integer")
	}
	if err := c.SemanticCfg.Validate(); err != nil {
		return fmt.Errorf("semantic configuration invalid: %w", err)
	}
	if err := c.WoZCfg.Validate(); err != nil {
		return fmt.Errorf("woz configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the experiment mode.
func (e ExperimentConfig) Validate() error {
	switch strings.ToLower(e.Mode) {
	case ModeKB, ModeBaseline:
		return nil
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeKB, ModeBaseline, e.Mode)
	}
}

// Validate checks the thresholds and the weight blend.
func (m MatchingConfig) Validate() error {
	if !unit(m.THigh) || !unit(m.TMed) {
		return fmt.Errorf("t_high and t_med must be between 0.0 and 1.0")
	}
	if m.TMed > m.THigh {
		return fmt.Errorf("t_med (%.2f) must not exceed t_high (%.2f)", m.TMed, m.THigh)
	}
	if err := m.SimilarityWeights().Validate(); err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	return nil
}

// Validate checks the ranking limits.
func (s SuggestConfig) Validate() error {
	if !unit(s.MinScore) {
		return fmt.Errorf("min_score must be between 0.0 and 1.0")
	}
	if s.TopK <= 0 || s.MoreK <= 0 {
		return fmt.Errorf("top_k and more_k must be positive integers")
	}
	if s.PlantChildrenCap < 0 {
		return fmt.Errorf("plant_children_cap must not be negative")
	}
	return nil
}

// Validate checks the provider settings. A disabled section is always valid.
func (s SemanticConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	switch strings.ToLower(s.Provider) {
	case ProviderLexical:
	case ProviderGemini:
		if s.APIKey == "" {
			return fmt.Errorf("api_key is required for the gemini provider")
		}
	default:
		return fmt.Errorf("provider must be %q or %q, got %q", ProviderLexical, ProviderGemini, s.Provider)
	}
	if !unit(s.Threshold) {
		return fmt.Errorf("threshold must be between 0.0 and 1.0")
	}
	if s.TopK <= 0 {
		return fmt.Errorf("top_k must be a positive integer")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if s.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	return nil
}

// Validate checks the polling settings. A disabled section is always valid.
func (w WoZConfig) Validate() error {
	if !w.Enabled {
		return nil
	}
	if w.RemoteURL == "" {
		return fmt.Errorf("remote_url is required when woz is enabled")
	}
	if w.PollInterval <= 0 || w.MaxBackoff <= 0 {
		return fmt.Errorf("poll_interval and max_backoff must be positive durations")
	}
	if w.MaxReturned <= 0 {
		return fmt.Errorf("max_returned must be a positive integer")
	}
	return nil
}

func unit(x float64) bool {
	return !math.IsNaN(x) && x >= 0 && x <= 1
}
