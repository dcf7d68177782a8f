package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	LogLevel    string        `mapstructure:"log_level"`
	Secret      string        `mapstructure:"secret"`
	Store       string        `mapstructure:"store"`
	MongoURI    string        `mapstructure:"mongo_uri"`
	MongoDB     string        `mapstructure:"mongo_db"`
	STUNServers []string      `mapstructure:"stun_servers"`
	SessionTTL  time.Duration `mapstructure:"session_ttl"`
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
	MediaSource string        `mapstructure:"media_source"`
	SinkDir     string        `mapstructure:"sink_dir"`
	MicMono     bool          `mapstructure:"mic_mono"`
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
	v.SetDefault("port", 8090)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "zenith-dev-secret")
	v.SetDefault("store", "standalone")
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_db", "zenith")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("session_ttl", "30s")
	v.SetDefault("ring_timeout", "45s")
	v.SetDefault("media_source", "device")
	v.SetDefault("sink_dir", "./audio")
	v.SetDefault("mic_mono", true)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
