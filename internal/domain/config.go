package domain

// Config holds the complete CallGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Engine policy
	Detection DetectionConfig      `json:"detection"`
	Voice     VoiceDetectionConfig `json:"voiceDetection"`
	Languages LanguageConfig       `json:"languages"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DetectionConfig holds scoring-engine policy. Thresholds here are
// configuration data, not constants embedded in the scoring logic.
type DetectionConfig struct {
	// VelocityWindowSecs is the lookback window for the caller-velocity
	// behavioral signal.
	VelocityWindowSecs int `json:"velocityWindowSecs"`

	// MaxTranscriptChars rejects absurdly large inputs before analysis.
	MaxTranscriptChars int `json:"maxTranscriptChars"`

	// MinAudioBytes rejects audio payloads too small to hold speech.
	// Zero disables the check.
	MinAudioBytes int `json:"minAudioBytes"`

	// FeatureBounds declares the valid range per named acoustic feature.
	// Out-of-range values are clamped by the ingestor, not rejected.
	FeatureBounds map[string]FeatureBound `json:"featureBounds"`
}

// FeatureBound is the declared valid range of one numeric feature.
type FeatureBound struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// LanguageConfig fixes the supported language set.
type LanguageConfig struct {
	// Supported is the fixed set of ISO codes the engine accepts.
	Supported []string `json:"supported"`

	// Default is used when neither a hint nor detection yields a language.
	Default string `json:"default"`
}

// IsSupported reports whether code is in the supported set.
func (c LanguageConfig) IsSupported(code string) bool {
	for _, l := range c.Supported {
		if l == code {
			return true
		}
	}
	return false
}

// VoiceDetectionConfig holds the AI-voice decision policy. The
// thresholds and check weights are tunable policy, not calibrated
// probabilities.
type VoiceDetectionConfig struct {
	// AIThreshold: composite score at or above this classifies the
	// sample as ai_generated.
	AIThreshold float64 `json:"aiThreshold"`

	// HumanThreshold: composite score at or below this classifies the
	// sample as human. Scores strictly between the two thresholds are
	// uncertain.
	HumanThreshold float64 `json:"humanThreshold"`

	// Checks are the built-in heuristic threshold checks evaluated
	// against the acoustic feature map.
	Checks []VoiceCheck `json:"checks"`
}

// VoiceCheck is one heuristic threshold comparison over a named
// acoustic feature. A check whose feature is absent from the record is
// not applicable and emits nothing.
type VoiceCheck struct {
	Feature   string  `json:"feature"`
	Op        string  `json:"op"` // "lt" or "gt"
	Threshold float64 `json:"threshold"`

	// Verdict is "ai" or "human". Human-leaning checks are descriptive:
	// they appear as indicators with zero contribution.
	Verdict string `json:"verdict"`

	Severity    Severity `json:"severity"`
	Weight      int      `json:"weight"` // score contribution when fired, [0,100]
	Description string   `json:"description"`
}

// DefaultFeatureBounds covers the acoustic features produced by the
// supported extraction backends.
func DefaultFeatureBounds() map[string]FeatureBound {
	return map[string]FeatureBound{
		"pitch_mean":             {Min: 50, Max: 500},
		"pitch_std":              {Min: 0, Max: 300},
		"pitch_range":            {Min: 0, Max: 500},
		"voiced_ratio":           {Min: 0, Max: 1},
		"spectral_centroid_mean": {Min: 0, Max: 8000},
		"spectral_centroid_std":  {Min: 0, Max: 4000},
		"spectral_rolloff_mean":  {Min: 0, Max: 8000},
		"spectral_flatness_mean": {Min: 0, Max: 1},
		"spectral_flatness_std":  {Min: 0, Max: 1},
		"spectral_bandwidth":     {Min: 0, Max: 8000},
		"zero_crossing_rate":     {Min: 0, Max: 1},
		"zcr_std":                {Min: 0, Max: 1},
		"mfcc_variance_total":    {Min: 0, Max: 10000},
		"rms_mean":               {Min: 0, Max: 1},
		"rms_std":                {Min: 0, Max: 1},
		"onset_regularity":       {Min: 0, Max: 1},
		"hnr_approx":             {Min: -10, Max: 60},
		"speaking_rate":          {Min: 0, Max: 600},
		"stress_level":           {Min: 0, Max: 1},
		"synthetic_probability":  {Min: 0, Max: 1},
	}
}

// DefaultVoiceChecks mirrors the heuristic thresholds the detector
// ships with. Administrators can extend the set with acoustic rules.
func DefaultVoiceChecks() []VoiceCheck {
	return []VoiceCheck{
		{Feature: "pitch_std", Op: "lt", Threshold: 15, Verdict: "ai", Severity: SeverityHigh, Weight: 18,
			Description: "Pitch variation too consistent (monotonic)"},
		{Feature: "pitch_std", Op: "gt", Threshold: 150, Verdict: "ai", Severity: SeverityMedium, Weight: 10,
			Description: "Pitch variation too erratic"},
		{Feature: "pitch_range", Op: "lt", Threshold: 50, Verdict: "ai", Severity: SeverityLow, Weight: 8,
			Description: "Limited pitch range"},
		{Feature: "spectral_flatness_mean", Op: "lt", Threshold: 0.1, Verdict: "ai", Severity: SeverityHigh, Weight: 15,
			Description: "Unusually tonal spectral content (low flatness)"},
		{Feature: "spectral_flatness_std", Op: "lt", Threshold: 0.05, Verdict: "ai", Severity: SeverityMedium, Weight: 12,
			Description: "Spectral consistency too uniform"},
		{Feature: "spectral_centroid_std", Op: "lt", Threshold: 200, Verdict: "ai", Severity: SeverityMedium, Weight: 10,
			Description: "Limited spectral centroid variation"},
		{Feature: "onset_regularity", Op: "gt", Threshold: 0.9, Verdict: "ai", Severity: SeverityHigh, Weight: 15,
			Description: "Timing patterns too regular (machine-like)"},
		{Feature: "zero_crossing_rate", Op: "lt", Threshold: 0.02, Verdict: "ai", Severity: SeverityMedium, Weight: 10,
			Description: "Abnormally low zero-crossing rate"},
		{Feature: "zcr_std", Op: "lt", Threshold: 0.02, Verdict: "ai", Severity: SeverityLow, Weight: 8,
			Description: "Zero-crossing rate too consistent"},
		{Feature: "mfcc_variance_total", Op: "lt", Threshold: 50, Verdict: "ai", Severity: SeverityMedium, Weight: 12,
			Description: "Limited timbral variation in voice"},
		{Feature: "hnr_approx", Op: "gt", Threshold: 25, Verdict: "ai", Severity: SeverityMedium, Weight: 10,
			Description: "Unusually clean harmonic structure"},
		{Feature: "rms_std", Op: "lt", Threshold: 0.01, Verdict: "ai", Severity: SeverityLow, Weight: 8,
			Description: "Energy dynamics too uniform"},
		{Feature: "voiced_ratio", Op: "gt", Threshold: 0.95, Verdict: "ai", Severity: SeverityLow, Weight: 5,
			Description: "Unnatural amount of voiced content"},

		// Human-leaning checks, descriptive only.
		{Feature: "spectral_flatness_mean", Op: "gt", Threshold: 0.35, Verdict: "human", Severity: SeverityLow, Weight: 0,
			Description: "Natural spectral variation"},
		{Feature: "spectral_centroid_std", Op: "gt", Threshold: 800, Verdict: "human", Severity: SeverityLow, Weight: 0,
			Description: "Natural spectral dynamics"},
		{Feature: "rms_std", Op: "gt", Threshold: 0.05, Verdict: "human", Severity: SeverityLow, Weight: 0,
			Description: "Natural energy variation in speech"},
		{Feature: "hnr_approx", Op: "lt", Threshold: 10, Verdict: "human", Severity: SeverityLow, Weight: 0,
			Description: "Natural voice characteristics with breath noise"},
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./callguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detection: DetectionConfig{
			VelocityWindowSecs: 3600,
			MaxTranscriptChars: 100000,
			MinAudioBytes:      1024,
			FeatureBounds:      DefaultFeatureBounds(),
		},
		Voice: VoiceDetectionConfig{
			AIThreshold:    70,
			HumanThreshold: 30,
			Checks:         DefaultVoiceChecks(),
		},
		Languages: LanguageConfig{
			Supported: []string{"ta", "en", "hi", "ml", "te"},
			Default:   "en",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "callguard",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "callguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
