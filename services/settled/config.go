package settled

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"contentpay/storage"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for settled.
type Config struct {
	ListenAddress        string          `yaml:"listen"`
	Storage              StorageConfig   `yaml:"storage"`
	FeeSchedulePath      string          `yaml:"fee_schedule"`
	GenesisPath          string          `yaml:"genesis"`
	RequireAuthorization bool            `yaml:"require_authorization"`
	LogRequests          bool            `yaml:"log_requests"`
	RateLimit            RateLimitConfig `yaml:"rate_limit"`
	HTTP                 HTTPConfig      `yaml:"http"`
	LogFile              LogFileConfig   `yaml:"log_file"`
	Admin                AdminConfig     `yaml:"admin"`
	TLS                  TLSConfig       `yaml:"tls"`
}

// AdminConfig captures the credentials accepted on the /admin routes.
type AdminConfig struct {
	BearerToken     string     `yaml:"bearer_token"`
	BearerTokenFile string     `yaml:"bearer_token_file"`
	JWT             JWTConfig  `yaml:"jwt"`
	MTLS            MTLSConfig `yaml:"mtls"`
}

// JWTConfig accepts HMAC-signed operator tokens.
type JWTConfig struct {
	HMACSecret     string   `yaml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	Scope          string   `yaml:"scope"`
	ClockSkew      Duration `yaml:"clock_skew"`
}

// MTLSConfig controls client certificate authentication of operators.
type MTLSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientCAPath string `yaml:"client_ca"`
}

// TLSConfig serves the listener over TLS when a certificate is configured.
type TLSConfig struct {
	CertPath string `yaml:"cert"`
	KeyPath  string `yaml:"key"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// RateLimitConfig bounds the per-client request rate on the purchase route.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// HTTPConfig tunes the listener.
type HTTPConfig struct {
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
}

// LogFileConfig enables a rotating log file next to stdout.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin security: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.TLS.normalise()
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = storage.BackendLevelDB
	}
	if cfg.Storage.Path == "" && cfg.Storage.Backend != storage.BackendMemory {
		cfg.Storage.Path = "./settled-data"
	}
	if cfg.FeeSchedulePath == "" {
		cfg.FeeSchedulePath = "services/settled/fees.toml"
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 50
	}
	if cfg.HTTP.ReadTimeout.Duration == 0 {
		cfg.HTTP.ReadTimeout.Duration = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout.Duration == 0 {
		cfg.HTTP.WriteTimeout.Duration = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout.Duration == 0 {
		cfg.HTTP.IdleTimeout.Duration = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout.Duration == 0 {
		cfg.HTTP.ShutdownTimeout.Duration = 10 * time.Second
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 16
	}
	if cfg.LogFile.Path != "" {
		if cfg.LogFile.MaxSizeMB <= 0 {
			cfg.LogFile.MaxSizeMB = 100
		}
		if cfg.LogFile.MaxBackups <= 0 {
			cfg.LogFile.MaxBackups = 5
		}
	}
}

func validateConfig(cfg Config) error {
	switch cfg.Storage.Backend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("storage backend %q not supported", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend != storage.BackendMemory && strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage path must be configured for %s", cfg.Storage.Backend)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	if (cfg.TLS.CertPath == "") != (cfg.TLS.KeyPath == "") {
		return fmt.Errorf("tls.cert and tls.key must be configured together")
	}
	if cfg.Admin.BearerToken == "" && cfg.Admin.JWT.HMACSecret == "" && !cfg.Admin.MTLS.Enabled {
		return fmt.Errorf("configure admin bearer_token, jwt or mTLS for admin authentication")
	}
	if cfg.Admin.MTLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return fmt.Errorf("admin mTLS requires tls.cert and tls.key")
		}
		if cfg.Admin.MTLS.ClientCAPath == "" {
			return fmt.Errorf("admin mTLS requires mtls.client_ca")
		}
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	token, err := secretFromFile(a.BearerToken, a.BearerTokenFile, "bearer_token_file")
	if err != nil {
		return err
	}
	a.BearerToken = token
	secret, err := secretFromFile(a.JWT.HMACSecret, a.JWT.HMACSecretFile, "jwt.hmac_secret_file")
	if err != nil {
		return err
	}
	a.JWT.HMACSecret = secret
	a.MTLS.ClientCAPath = strings.TrimSpace(a.MTLS.ClientCAPath)
	return nil
}

func (t *TLSConfig) normalise() {
	t.CertPath = strings.TrimSpace(t.CertPath)
	t.KeyPath = strings.TrimSpace(t.KeyPath)
}

// secretFromFile prefers the contents of path over the inline value.
func secretFromFile(inline, path, field string) (string, error) {
	value := strings.TrimSpace(inline)
	if path = strings.TrimSpace(path); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", field, err)
		}
		value = strings.TrimSpace(string(contents))
	}
	return value, nil
}
