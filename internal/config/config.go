package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode                string        `mapstructure:"mode"`
	LogLevel            string        `mapstructure:"log_level"`
	Server              ServerConfig  `mapstructure:"server"`
	HTTP                HTTPConfig    `mapstructure:"http"`
	History             HistoryConfig `mapstructure:"history"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

type ServerConfig struct {
	TCPAddress    string        `mapstructure:"tcp_address"`
	MaxFrameBytes int           `mapstructure:"max_frame_bytes"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout closes silent sessions; 0 keeps them forever.
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	HandshakeLimit int           `mapstructure:"handshake_limit"`
}

type HTTPConfig struct {
	Address       string        `mapstructure:"address"`
	SessionSecret string        `mapstructure:"session_secret"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
}

type HistoryConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
	AudioDir string `mapstructure:"audio_dir"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) on top of the
// defaults, then applies CHATLINE_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		fileName = fmt.Sprintf("%s/config.%s.yaml", strings.TrimRight(dir, "/"), env)
	}
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("CHATLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("tcp", cfg.Server.TCPAddress).Str("http", cfg.HTTP.Address).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.tcp_address", ":12345")
	v.SetDefault("server.max_frame_bytes", 8<<20)
	v.SetDefault("server.write_timeout", "5s")
	v.SetDefault("server.idle_timeout", "0s")
	v.SetDefault("server.handshake_limit", 0)
	v.SetDefault("http.address", ":8080")
	v.SetDefault("http.session_secret", "chatline-dev-secret")
	v.SetDefault("http.read_limit", 8<<20)
	v.SetDefault("http.ping_period", "54s")
	v.SetDefault("history.path", "./data/history")
	v.SetDefault("history.in_memory", false)
	v.SetDefault("history.audio_dir", "./data/audio")
	v.SetDefault("shutdown_grace_period", "5s")
}

func (c *Config) validate() error {
	if c.Server.TCPAddress == "" && c.HTTP.Address == "" {
		return fmt.Errorf("config: server.tcp_address and http.address are both empty")
	}
	if c.Server.MaxFrameBytes <= 0 {
		return fmt.Errorf("config: server.max_frame_bytes must be positive, got %d", c.Server.MaxFrameBytes)
	}
	if !c.History.InMemory && c.History.Path == "" {
		return fmt.Errorf("config: history.path is required unless history.in_memory is set")
	}
	return nil
}
