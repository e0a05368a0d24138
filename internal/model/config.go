package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Config is the full runtime configuration
type Config struct {
	Segmenter     SegmenterConfig     `yaml:"segmenter" mapstructure:"segmenter"`
	Classifier    ClassifierConfig    `yaml:"classifier" mapstructure:"classifier"`
	Authorization AuthorizationConfig `yaml:"authorization" mapstructure:"authorization"`
	Scoring       ScoringConfig       `yaml:"scoring" mapstructure:"scoring"`
	Patterns      PatternsConfig      `yaml:"patterns" mapstructure:"patterns"`
	Concurrency   ConcurrencyConfig   `yaml:"concurrency" mapstructure:"concurrency"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Review        ReviewConfig        `yaml:"review" mapstructure:"review"`
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	HTTP          HTTPConfig          `yaml:"http" mapstructure:"http"`
	Output        OutputConfig        `yaml:"output" mapstructure:"output"`
}

// SegmenterConfig controls structural splitting
type SegmenterConfig struct {
	BlankLineThreshold int     `yaml:"blank_line_threshold" mapstructure:"blank_line_threshold"` // Blank lines that end a paragraph chunk
	TableTokenRatio    float64 `yaml:"table_token_ratio" mapstructure:"table_token_ratio"`       // Code tokens / tokens for a table-like line
}

// ClassifierConfig holds the chunk classifier thresholds
type ClassifierConfig struct {
	ProcedureDensity float64 `yaml:"procedure_density" mapstructure:"procedure_density"`
	NarrativeMax     float64 `yaml:"narrative_max" mapstructure:"narrative_max"`
	DiagnosisDensity float64 `yaml:"diagnosis_density" mapstructure:"diagnosis_density"`
	ReviewThreshold  float64 `yaml:"review_threshold" mapstructure:"review_threshold"` // Below this a chunk goes to review
}

// AuthorizationConfig holds authorization classifier switches
type AuthorizationConfig struct {
	// When true a conditional connector anywhere in the text downgrades
	// REQUIRED, NOTIFICATION_ONLY and NOT_REQUIRED cues to CONDITIONAL.
	ConditionalOverride bool `yaml:"conditional_override" mapstructure:"conditional_override"`
}

// ScoringConfig holds the rule confidence weights
type ScoringConfig struct {
	PatternWeight     float64 `yaml:"pattern_weight" mapstructure:"pattern_weight"`
	CueBonus          float64 `yaml:"cue_bonus" mapstructure:"cue_bonus"`
	UnresolvedPenalty float64 `yaml:"unresolved_penalty" mapstructure:"unresolved_penalty"`
	RangePenalty      float64 `yaml:"range_penalty" mapstructure:"range_penalty"`
}

// PatternsConfig points at an optional pattern table override
type PatternsConfig struct {
	File string `yaml:"file" mapstructure:"file"` // Empty uses the built-in table
}

// ConcurrencyConfig bounds parallel work
type ConcurrencyConfig struct {
	ChunkWorkers int `yaml:"chunk_workers" mapstructure:"chunk_workers"` // Per-document classify/extract parallelism
	BatchWorkers int `yaml:"batch_workers" mapstructure:"batch_workers"` // Documents processed at once
}

// CacheConfig controls the layered result cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// ReviewConfig configures the semantic review dispatcher
type ReviewConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Provider  string        `yaml:"provider" mapstructure:"provider"` // openai, ollama
	Model     string        `yaml:"model" mapstructure:"model"`
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey    string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RPS       float64       `yaml:"rps" mapstructure:"rps"`
	Burst     int           `yaml:"burst" mapstructure:"burst"`
	QueueSize int           `yaml:"queue_size" mapstructure:"queue_size"`
	Workers   int           `yaml:"workers" mapstructure:"workers"`
	JSONLPath string        `yaml:"jsonl_path" mapstructure:"jsonl_path"` // Needs-review sink file, empty disables
}

// StoreConfig configures SQLite persistence
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // Empty disables persistence
}

// HTTPConfig configures remote document fetching
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBytes      int64         `yaml:"max_bytes" mapstructure:"max_bytes"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HostRPS       float64       `yaml:"host_rps" mapstructure:"host_rps"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// OutputConfig controls report rendering
type OutputConfig struct {
	Verbose       bool `yaml:"verbose" mapstructure:"verbose"`
	IncludeChunks bool `yaml:"include_chunks" mapstructure:"include_chunks"`
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() Config {
	return Config{
		Segmenter: SegmenterConfig{
			BlankLineThreshold: 1,
			TableTokenRatio:    0.5,
		},
		Classifier: ClassifierConfig{
			ProcedureDensity: 0.3,
			NarrativeMax:     0.65,
			DiagnosisDensity: 0.3,
			ReviewThreshold:  0.5,
		},
		Authorization: AuthorizationConfig{
			ConditionalOverride: true,
		},
		Scoring: ScoringConfig{
			PatternWeight:     0.7,
			CueBonus:          0.3,
			UnresolvedPenalty: 0.25,
			RangePenalty:      0.2,
		},
		Concurrency: ConcurrencyConfig{
			ChunkWorkers: 4,
			BatchWorkers: 4,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".authrules-cache",
			MemoryTTL: 10 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		Review: ReviewConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			Timeout:   60 * time.Second,
			RPS:       1,
			Burst:     2,
			QueueSize: 256,
			Workers:   2,
		},
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "authrules/0.1 (+https://github.com/ppiankov/authrules)",
			MaxBytes:      10 << 20,
			RespectRobots: true,
			HostRPS:       1,
		},
	}
}

// Fingerprint identifies the settings that change a report, for cache keys
func (c Config) Fingerprint() string {
	data, _ := json.Marshal(struct {
		Segmenter     SegmenterConfig
		Classifier    ClassifierConfig
		Authorization AuthorizationConfig
		Scoring       ScoringConfig
		IncludeChunks bool
	}{c.Segmenter, c.Classifier, c.Authorization, c.Scoring, c.Output.IncludeChunks})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
