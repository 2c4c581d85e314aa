package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultStateDir       = "state"
	DefaultJWTExpiresIn   = "24h"
	DefaultPollInterval   = "3s"
	DefaultCallDelay      = "300ms"
	DefaultPushRetry      = "30s"
	DefaultRestoreGrace   = "30s"
	DefaultRestoreBackoff = "2s"
	DefaultPageSize       = 50
	DefaultEntityCapacity = 512
	DefaultMediaCapacity  = 32
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Admin    AdminConfig    `toml:"admin"`
	Auth     AuthConfig     `toml:"auth"`
	State    StateConfig    `toml:"state"`
	Session  SessionConfig  `toml:"session"`
	Ingest   IngestConfig   `toml:"ingest"`
	Cache    CacheConfig    `toml:"cache"`
	Telegram TelegramConfig `toml:"telegram"`
	Slack    SlackConfig    `toml:"slack"`
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// StateConfig locates durable local state: persisted session tokens, the
// avatar cache, and the WhatsApp device store.
type StateConfig struct {
	Dir string `toml:"dir"`
}

type SessionConfig struct {
	// RestoreGrace is how long a silent restore may take before the stored
	// token is considered invalid.
	RestoreGrace string `toml:"restore_grace"`
	// RestoreBackoff is the base delay between transient restore retries.
	RestoreBackoff string `toml:"restore_backoff"`
}

type IngestConfig struct {
	PollInterval string `toml:"poll_interval"`
	// CallDelay spaces provider calls within one poll cycle.
	CallDelay string `toml:"call_delay"`
	// PushRetry is how long to poll before re-attempting a dropped push
	// subscription. Longer values spare rate limits at the cost of latency.
	PushRetry string `toml:"push_retry"`
	PageSize  int    `toml:"page_size"`
}

type CacheConfig struct {
	EntityCapacity int `toml:"entity_capacity"`
	MediaCapacity  int `toml:"media_capacity"`
}

type TelegramConfig struct {
	APIID   int    `toml:"api_id"`
	APIHash string `toml:"api_hash"`
}

type SlackConfig struct {
	// Token optionally pre-configures the bot/user token so the session can
	// reach ready without a login call.
	Token string `toml:"token"`
}

type WhatsAppConfig struct {
	// StorePath overrides the default device store location under state.dir.
	StorePath string `toml:"store_path"`
}

func (a AuthConfig) JWTExpiresInDuration() time.Duration {
	return parseDuration(a.JWTExpiresIn, DefaultJWTExpiresIn)
}

func (s SessionConfig) RestoreGraceDuration() time.Duration {
	return parseDuration(s.RestoreGrace, DefaultRestoreGrace)
}

func (s SessionConfig) RestoreBackoffDuration() time.Duration {
	return parseDuration(s.RestoreBackoff, DefaultRestoreBackoff)
}

func (i IngestConfig) PollIntervalDuration() time.Duration {
	return parseDuration(i.PollInterval, DefaultPollInterval)
}

func (i IngestConfig) CallDelayDuration() time.Duration {
	return parseDuration(i.CallDelay, DefaultCallDelay)
}

func (i IngestConfig) PushRetryDuration() time.Duration {
	return parseDuration(i.PushRetry, DefaultPushRetry)
}

// Validate rejects configurations the server cannot run safely with. There is
// no default JWT secret: an empty signing key would make every token
// forgeable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}

func parseDuration(raw, fallback string) time.Duration {
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "change-your-password-here",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		State: StateConfig{
			Dir: DefaultStateDir,
		},
		Session: SessionConfig{
			RestoreGrace:   DefaultRestoreGrace,
			RestoreBackoff: DefaultRestoreBackoff,
		},
		Ingest: IngestConfig{
			PollInterval: DefaultPollInterval,
			CallDelay:    DefaultCallDelay,
			PushRetry:    DefaultPushRetry,
			PageSize:     DefaultPageSize,
		},
		Cache: CacheConfig{
			EntityCapacity: DefaultEntityCapacity,
			MediaCapacity:  DefaultMediaCapacity,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
