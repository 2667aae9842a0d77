package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APNs environments. Sandbox is the default so a misconfigured deploy never
// pushes at real devices.
const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

// Config holds all runtime configuration knobs for the gateway.
type Config struct {
	HTTP struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"http"`
	APNs struct {
		KeyID          string        `mapstructure:"key_id"`
		TeamID         string        `mapstructure:"team_id"`
		PrivateKey     string        `mapstructure:"private_key"`
		Topic          string        `mapstructure:"topic"`
		Environment    string        `mapstructure:"environment"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"apns"`
	Storage struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"storage"`
	Auth struct {
		Enabled   bool   `mapstructure:"enabled"`
		Username  string `mapstructure:"username"`
		Password  string `mapstructure:"password"`
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`
}

// Load reads the configuration from disk/environment using Viper.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ten_push")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// v.ReadInConfig returns error if file missing; ignore if not found to allow env-only config
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("apns.topic", "com.socialten.ten")
	v.SetDefault("apns.environment", EnvSandbox)
	v.SetDefault("apns.request_timeout", "10s")

	v.SetDefault("storage.path", "./data/push.db")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "admin123")
	v.SetDefault("auth.jwt_secret", "")
}
