package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	LogLevel   string `mapstructure:"log_level"`
	StatusPort int    `mapstructure:"status_port"`

	SignalURL    string        `mapstructure:"signal_url"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	STUNServers []string `mapstructure:"stun_servers"`

	Facing          string        `mapstructure:"facing"`
	ReleaseGrace    time.Duration `mapstructure:"release_grace"`
	RestartCooldown time.Duration `mapstructure:"restart_cooldown"`
	MaxRestarts     int           `mapstructure:"max_restarts"`
	NextDebounce    time.Duration `mapstructure:"next_debounce"`
	MeterInterval   time.Duration `mapstructure:"meter_interval"`
}

func Load() (*Config, error) {
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

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("status_port", 8091)
	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("facing", "user")
	v.SetDefault("release_grace", "300ms")
	v.SetDefault("restart_cooldown", "10s")
	v.SetDefault("max_restarts", 2)
	v.SetDefault("next_debounce", "300ms")
	v.SetDefault("meter_interval", "200ms")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
