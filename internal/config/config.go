package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	ServerURL     string        `mapstructure:"server_url"`
	STUNURLs      []string      `mapstructure:"stun_urls"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
	RTTGood       time.Duration `mapstructure:"rtt_good"`
	RTTMedium     time.Duration `mapstructure:"rtt_medium"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	Secret        string        `mapstructure:"secret"`
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
	v.SetDefault("port", 8080)
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("stats_interval", "2s")
	v.SetDefault("rtt_good", "150ms")
	v.SetDefault("rtt_medium", "400ms")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Server: %s\n", cfg.Mode, cfg.Port, cfg.ServerURL)
	return &cfg, nil
}
