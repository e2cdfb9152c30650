package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/antoniostano/voicegate/internal/apperrors"
)

// MaxCredentialTTL bounds the lifetime of any participant credential.
const MaxCredentialTTL = 15 * time.Minute

// Config contains all runtime settings for the join service. It is loaded once
// and never mutated afterwards.
type Config struct {
	BindAddr         string        `env:"APP_BIND_ADDR" envDefault:":8080"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"voicegate"`
	LogLevel         string        `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat        string        `env:"APP_LOG_FORMAT" envDefault:"console"`
	AllowAnyOrigin   bool          `env:"APP_ALLOW_ANY_ORIGIN" envDefault:"false"`
	DebugEndpoints   bool          `env:"APP_DEBUG_ENDPOINTS" envDefault:"false"`

	// Realtime backend endpoint and signing material. All three are required
	// before any credential is issued.
	LiveKitURL       string `env:"LIVEKIT_URL"`
	LiveKitAPIKey    string `env:"LIVEKIT_API_KEY"`
	LiveKitAPISecret string `env:"LIVEKIT_API_SECRET"`

	CredentialTTL time.Duration `env:"CREDENTIAL_TTL" envDefault:"15m"`

	DispatchProtocol    string            `env:"DISPATCH_PROTOCOL" envDefault:"rpc"`
	DispatchTimeout     time.Duration     `env:"DISPATCH_TIMEOUT" envDefault:"5s"`
	DispatchMaxAttempts int               `env:"DISPATCH_MAX_ATTEMPTS" envDefault:"2"`
	AgentNames          map[string]string `env:"AGENT_NAMES" envDefault:"male:agent_male_voice,female:agent_female_voice"`
	DefaultPersona      string            `env:"DEFAULT_PERSONA"`
	// AllowUnroutedSession lets a join proceed when no persona maps to an agent.
	AllowUnroutedSession bool `env:"ALLOW_UNROUTED_SESSION" envDefault:"true"`

	IdentitySuffixSpace int64 `env:"IDENTITY_SUFFIX_SPACE" envDefault:"1000000"`

	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads environment variables and applies safe defaults. Missing backend
// secrets are not reported here; see Validate.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LiveKitURL = strings.TrimSpace(cfg.LiveKitURL)
	cfg.LiveKitAPIKey = strings.TrimSpace(cfg.LiveKitAPIKey)
	cfg.LiveKitAPISecret = strings.TrimSpace(cfg.LiveKitAPISecret)
	cfg.DispatchProtocol = strings.ToLower(strings.TrimSpace(cfg.DispatchProtocol))
	cfg.DefaultPersona = strings.TrimSpace(cfg.DefaultPersona)

	if cfg.CredentialTTL <= 0 {
		return Config{}, fmt.Errorf("CREDENTIAL_TTL must be positive")
	}
	if cfg.CredentialTTL > MaxCredentialTTL {
		return Config{}, fmt.Errorf("CREDENTIAL_TTL must be at most %s", MaxCredentialTTL)
	}
	if cfg.DispatchTimeout <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_TIMEOUT must be positive")
	}
	if cfg.DispatchMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be positive")
	}
	if cfg.IdentitySuffixSpace < 10 {
		return Config{}, fmt.Errorf("IDENTITY_SUFFIX_SPACE must be at least 10")
	}
	switch cfg.DispatchProtocol {
	case "rpc", "token", "none":
	default:
		return Config{}, fmt.Errorf("invalid DISPATCH_PROTOCOL: %q (expected rpc|token|none)", cfg.DispatchProtocol)
	}
	return cfg, nil
}

// placeholderSecrets are values copied from sample env files that must never
// sign a real credential.
var placeholderSecrets = map[string]bool{
	"changeme":           true,
	"change-me":          true,
	"secret":             true,
	"your-api-secret":    true,
	"your-api-key":       true,
	"devkey-placeholder": true,
}

// Validate reports the first missing or placeholder backend setting. It does
// no I/O and is cheap enough to run on every request.
func (c Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"LIVEKIT_URL", c.LiveKitURL},
		{"LIVEKIT_API_KEY", c.LiveKitAPIKey},
		{"LIVEKIT_API_SECRET", c.LiveKitAPISecret},
	}
	for _, r := range required {
		v := strings.TrimSpace(r.value)
		if v == "" {
			return apperrors.New(apperrors.KindConfig, r.key+" is not defined")
		}
		if placeholderSecrets[strings.ToLower(v)] {
			return apperrors.New(apperrors.KindConfig, r.key+" holds a placeholder value")
		}
	}
	return nil
}
