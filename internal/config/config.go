package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "DIALTONE"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	JWTIssuer  string        `mapstructure:"jwt_issuer"`
	// Lets the session endpoint accept a bare user id; for local development only.
	AllowInsecureLogin bool `mapstructure:"allow_insecure_login"`

	RateLimit     RateLimit      `mapstructure:"rate_limit"`
	Presence      Presence       `mapstructure:"presence"`
	Redis         Redis          `mapstructure:"redis"`
	Push          Push           `mapstructure:"push"`
	NotifyTimeout time.Duration  `mapstructure:"notify_timeout"`
	RouteIdleTTL  time.Duration  `mapstructure:"route_idle_ttl"`
	RouteSweep    time.Duration  `mapstructure:"route_sweep"`
	Endpoint      EndpointConfig `mapstructure:"endpoint"`
}

type RateLimit struct {
	Count    int           `mapstructure:"count"`
	Interval time.Duration `mapstructure:"interval"`
}

type Presence struct {
	// "contacts" or "everyone"
	Fanout   string              `mapstructure:"fanout"`
	Contacts map[string][]string `mapstructure:"contacts"`
	StoreTTL time.Duration       `mapstructure:"store_ttl"`
}

type Redis struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Push struct {
	// "log", "fcm", "apns" or "all"
	Provider string        `mapstructure:"provider"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	FCM      FCM           `mapstructure:"fcm"`
	APNs     APNs          `mapstructure:"apns"`
}

type FCM struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	ProjectID       string `mapstructure:"project_id"`
}

type APNs struct {
	KeyPath      string `mapstructure:"key_path"`
	KeyID        string `mapstructure:"key_id"`
	TeamID       string `mapstructure:"team_id"`
	CertPath     string `mapstructure:"cert_path"`
	CertPassword string `mapstructure:"cert_password"`
	BundleID     string `mapstructure:"bundle_id"`
	Production   bool   `mapstructure:"production"`
}

// EndpointConfig drives the softphone.
type EndpointConfig struct {
	RelayURL         string        `mapstructure:"relay_url"`
	Token            string        `mapstructure:"token"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	EstablishTimeout time.Duration `mapstructure:"establish_timeout"`
	DropGrace        time.Duration `mapstructure:"drop_grace"`
	ICEDisconnected  time.Duration `mapstructure:"ice_disconnected_timeout"`
	ICEFailed        time.Duration `mapstructure:"ice_failed_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "dialtone")
	v.SetDefault("allow_insecure_login", false)

	v.SetDefault("rate_limit.count", 10)
	v.SetDefault("rate_limit.interval", "10s")

	v.SetDefault("presence.fanout", "contacts")
	v.SetDefault("presence.contacts", map[string][]string{})
	v.SetDefault("presence.store_ttl", "720h")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("push.provider", "log")
	v.SetDefault("push.token_ttl", "2160h")
	v.SetDefault("push.fcm.credentials_file", "")
	v.SetDefault("push.fcm.project_id", "")
	v.SetDefault("push.apns.key_path", "")
	v.SetDefault("push.apns.key_id", "")
	v.SetDefault("push.apns.team_id", "")
	v.SetDefault("push.apns.cert_path", "")
	v.SetDefault("push.apns.cert_password", "")
	v.SetDefault("push.apns.bundle_id", "")
	v.SetDefault("push.apns.production", false)

	v.SetDefault("notify_timeout", "10s")
	v.SetDefault("route_idle_ttl", "2h")
	v.SetDefault("route_sweep", "1m")

	v.SetDefault("endpoint.relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("endpoint.token", "")
	v.SetDefault("endpoint.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("endpoint.establish_timeout", "30s")
	v.SetDefault("endpoint.drop_grace", "5s")
	v.SetDefault("endpoint.ice_disconnected_timeout", "5s")
	v.SetDefault("endpoint.ice_failed_timeout", "25s")
}

// Load reads .env, then config/config.<CONFIG_ENV>.yaml, then DIALTONE_* env vars,
// and validates the relay settings.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("fanout", cfg.Presence.Fanout).Str("push", cfg.Push.Provider).Bool("redis", cfg.Redis.Enabled).Msg("config ready")
	return cfg, nil
}

// LoadEndpoint reads the same sources as Load but only checks the endpoint section.
func LoadEndpoint() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.Endpoint.RelayURL == "" {
		return nil, errors.New("endpoint.relay_url is required")
	}
	return cfg, nil
}

func read() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg(".env not loaded")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Presence.Fanout {
	case "contacts", "everyone":
	default:
		errs = append(errs, fmt.Errorf("presence.fanout must be contacts or everyone, got %q", c.Presence.Fanout))
	}
	switch c.Push.Provider {
	case "log", "fcm", "apns", "all":
	default:
		errs = append(errs, fmt.Errorf("unknown push.provider %q", c.Push.Provider))
	}
	if c.RateLimit.Count <= 0 || c.RateLimit.Interval <= 0 {
		errs = append(errs, errors.New("rate_limit.count and rate_limit.interval must be positive"))
	}
	if c.Mode == "release" && c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required in release mode"))
	}
	return errors.Join(errs...)
}
