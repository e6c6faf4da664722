package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

type TCPConfig struct {
	Port int `yaml:"port"`
}

type MediaConfig struct {
	Dir string `yaml:"dir"`
}

// CallbackConfig is the server address embedded in attachment-upload and
// stream requests; devices connect back to it.
type CallbackConfig struct {
	Host    string `yaml:"host"`
	TCPPort uint16 `yaml:"tcp_port"`
	UDPPort uint16 `yaml:"udp_port"`
}

type ProtocolConfig struct {
	// TimezoneOffset is the fixed UTC offset (hours) BCD timestamps are
	// interpreted in. The protocol default is +8.
	TimezoneOffset int `yaml:"timezone_offset"`
	// MultimediaEventShim enables the attachment-request workaround for
	// firmware that reports multimedia events without an alarm record.
	MultimediaEventShim bool `yaml:"multimedia_event_shim"`
	// ShortIndexModels lists device models that expect a 1-byte frame index.
	ShortIndexModels []string `yaml:"short_index_models"`
	// AltOilModels lists device models that only honor the parameter form of
	// the oil-control command.
	AltOilModels []string `yaml:"alt_oil_models"`
	// SweepMinutes is the eviction age for stale correlations and transfers.
	SweepMinutes int `yaml:"sweep_minutes"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	TCP      TCPConfig      `yaml:"tcp"`
	Media    MediaConfig    `yaml:"media"`
	Callback CallbackConfig `yaml:"callback"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Auth     AuthConfig     `yaml:"auth"`
	RedisURL string         `yaml:"redis_url"`
	LogLevel string         `yaml:"log_level"`
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE), and environment overrides, in that order.
func LoadConfig() *Config {
	cfg := &Config{
		HTTP:     HTTPConfig{Host: "0.0.0.0", Port: "8000"},
		TCP:      TCPConfig{Port: 7611},
		Media:    MediaConfig{Dir: "./media"},
		Protocol: ProtocolConfig{TimezoneOffset: 8, MultimediaEventShim: true, SweepMinutes: 60},
		LogLevel: "info",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("cannot read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("cannot parse config file")
		}
	}

	cfg.HTTP.Host = getEnv("HOST", cfg.HTTP.Host)
	cfg.HTTP.Port = getEnv("PORT", cfg.HTTP.Port)
	cfg.TCP.Port = getEnvInt("TCP_PORT", cfg.TCP.Port)
	cfg.Media.Dir = getEnv("MEDIA_DIR", cfg.Media.Dir)
	cfg.Callback.Host = getEnv("CALLBACK_HOST", cfg.Callback.Host)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.Username = getEnv("API_USERNAME", cfg.Auth.Username)
	cfg.Auth.Password = getEnv("API_PASSWORD", cfg.Auth.Password)
	cfg.Protocol.TimezoneOffset = getEnvInt("TZ_OFFSET_HOURS", cfg.Protocol.TimezoneOffset)
	if v := os.Getenv("MULTIMEDIA_EVENT_SHIM"); v != "" {
		cfg.Protocol.MultimediaEventShim = strings.ToLower(v) == "true"
	}

	// The callback defaults to the TCP ingest listener itself: the bulk
	// framing is recognized on the same port.
	if cfg.Callback.TCPPort == 0 {
		cfg.Callback.TCPPort = uint16(cfg.TCP.Port)
	}
	if cfg.Callback.UDPPort == 0 {
		cfg.Callback.UDPPort = cfg.Callback.TCPPort
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.TrimSpace(value)
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-numeric env override")
		return defaultValue
	}
	return n
}
