// Package config handles loading and hot-reloading of the gateway YAML
// configuration via Viper. All struct fields map 1-to-1 with gateway.yaml.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// HostCfg is the YAML representation of a single upstream NVR host.
type HostCfg struct {
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// UserCfg is a gateway login account. Passwords are stored as bcrypt hashes.
type UserCfg struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// AuthCfg controls JWT Bearer-token authentication.
type AuthCfg struct {
	Secret   string    `mapstructure:"secret"`    // HMAC-SHA256 signing secret
	TokenTTL string    `mapstructure:"token_ttl"` // token lifetime, e.g. "8h"
	Users    []UserCfg `mapstructure:"users"`
}

// ParsedTokenTTL returns the token lifetime, defaulting to 8h.
func (a AuthCfg) ParsedTokenTTL() time.Duration {
	d, _ := time.ParseDuration(a.TokenTTL)
	if d <= 0 {
		return 8 * time.Hour
	}
	return d
}

// ProbeCfg controls the liveness probe run during host updates.
type ProbeCfg struct {
	Timeout string `mapstructure:"timeout"`
	Path    string `mapstructure:"path"` // e.g. "/api/version"
}

// ParsedTimeout returns the probe timeout, defaulting to 5s.
func (p ProbeCfg) ParsedTimeout() time.Duration {
	d, _ := time.ParseDuration(p.Timeout)
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// ProxyCfg controls upstream request handling.
type ProxyCfg struct {
	ShortTimeout string `mapstructure:"short_timeout"` // metadata/control endpoints
	LongTimeout  string `mapstructure:"long_timeout"`  // media and summary endpoints
	// DefaultWSTarget, when set, is the upstream base URL a WebSocket upgrade
	// falls back to when the host in the path cannot be resolved. Leaving it
	// empty rejects such upgrades instead. The fallback silently connects
	// misaddressed clients to this target — keep it empty unless legacy
	// clients depend on it.
	DefaultWSTarget string `mapstructure:"default_ws_target"`
}

// ParsedShortTimeout returns the short upstream timeout, defaulting to 5s.
func (p ProxyCfg) ParsedShortTimeout() time.Duration {
	d, _ := time.ParseDuration(p.ShortTimeout)
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// ParsedLongTimeout returns the long upstream timeout, defaulting to 30s.
func (p ProxyCfg) ParsedLongTimeout() time.Duration {
	d, _ := time.ParseDuration(p.LongTimeout)
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

// TranscodeCfg controls the external prober/encoder processes.
type TranscodeCfg struct {
	FFmpegPath    string `mapstructure:"ffmpeg_path"`
	FFprobePath   string `mapstructure:"ffprobe_path"`
	Dir           string `mapstructure:"dir"`            // output directory for encoded files
	ProbeTimeout  string `mapstructure:"probe_timeout"`  // ffprobe deadline
	EncodeTimeout string `mapstructure:"encode_timeout"` // ffmpeg deadline
	MaxAge        string `mapstructure:"max_age"`        // output eviction age
}

// ParsedProbeTimeout returns the ffprobe deadline, defaulting to 30s.
func (t TranscodeCfg) ParsedProbeTimeout() time.Duration {
	d, _ := time.ParseDuration(t.ProbeTimeout)
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ParsedEncodeTimeout returns the ffmpeg deadline, defaulting to 10m.
func (t TranscodeCfg) ParsedEncodeTimeout() time.Duration {
	d, _ := time.ParseDuration(t.EncodeTimeout)
	if d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// ParsedMaxAge returns the output eviction age, defaulting to 1h.
func (t TranscodeCfg) ParsedMaxAge() time.Duration {
	d, _ := time.ParseDuration(t.MaxAge)
	if d <= 0 {
		return time.Hour
	}
	return d
}

// RateLimitCfg controls per-IP token-bucket rate limiting.
type RateLimitCfg struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`   // sustained requests per second
	Burst   int     `mapstructure:"burst"` // maximum burst size
}

// Config is the top-level gateway configuration.
type Config struct {
	ListenAddr string       `mapstructure:"listen_addr"`
	Hosts      []HostCfg    `mapstructure:"hosts"`
	Auth       AuthCfg      `mapstructure:"auth"`
	Probe      ProbeCfg     `mapstructure:"probe"`
	Proxy      ProxyCfg     `mapstructure:"proxy"`
	Transcode  TranscodeCfg `mapstructure:"transcode"`
	RateLimit  RateLimitCfg `mapstructure:"rate_limit"`
}

// Default returns a sensible single-host config for development.
func Default() Config {
	return Config{
		ListenAddr: ":4000",
		Hosts: []HostCfg{
			{ID: "1", Name: "Host 1", URL: "http://localhost:5000", Enabled: true},
		},
		Auth: AuthCfg{
			Secret:   "supersecret",
			TokenTTL: "8h",
		},
		Probe: ProbeCfg{Timeout: "5s", Path: "/api/version"},
		Proxy: ProxyCfg{ShortTimeout: "5s", LongTimeout: "30s"},
		Transcode: TranscodeCfg{
			FFmpegPath:    "ffmpeg",
			FFprobePath:   "ffprobe",
			Dir:           "/tmp/nvrgate-transcode",
			ProbeTimeout:  "30s",
			EncodeTimeout: "10m",
			MaxAge:        "1h",
		},
		RateLimit: RateLimitCfg{Enabled: false, RPS: 100, Burst: 200},
	}
}

// Load reads and parses the YAML file at path using Viper.
// It returns the parsed Config and the Viper instance (needed for Watch).
func Load(path string) (Config, *viper.Viper, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// Watch registers an onChange callback that fires whenever the config file is
// saved. The callback receives a freshly parsed Config. Invalid reloads are
// logged and silently skipped (the previous config stays active).
func Watch(v *viper.Viper, onChange func(Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			slog.Error("config hot-reload failed", "error", err)
			return
		}
		slog.Info("config hot-reloaded", "hosts", len(cfg.Hosts))
		onChange(cfg)
	})
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)

	// Defaults — all overridable by gateway.yaml.
	v.SetDefault("listen_addr", ":4000")
	v.SetDefault("auth.secret", "supersecret")
	v.SetDefault("auth.token_ttl", "8h")
	v.SetDefault("probe.timeout", "5s")
	v.SetDefault("probe.path", "/api/version")
	v.SetDefault("proxy.short_timeout", "5s")
	v.SetDefault("proxy.long_timeout", "30s")
	v.SetDefault("transcode.ffmpeg_path", "ffmpeg")
	v.SetDefault("transcode.ffprobe_path", "ffprobe")
	v.SetDefault("transcode.dir", "/tmp/nvrgate-transcode")
	v.SetDefault("transcode.probe_timeout", "30s")
	v.SetDefault("transcode.encode_timeout", "10m")
	v.SetDefault("transcode.max_age", "1h")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 100.0)
	v.SetDefault("rate_limit.burst", 200)

	return v
}

func unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing: %w", err)
	}
	if cfg.Auth.Secret == "" {
		return Config{}, fmt.Errorf("config: auth.secret must not be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		if h.ID == "" {
			return Config{}, fmt.Errorf("config: hosts[%d] has empty id", i)
		}
		if h.URL == "" {
			return Config{}, fmt.Errorf("config: hosts[%d] has empty url", i)
		}
		if _, dup := seen[h.ID]; dup {
			return Config{}, fmt.Errorf("config: duplicate host id %q", h.ID)
		}
		seen[h.ID] = struct{}{}
	}
	return cfg, nil
}
