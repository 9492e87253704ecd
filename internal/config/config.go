package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	APIBaseURL string
	ChannelURL string

	PageSize     int
	TypingIdle   time.Duration
	TypingExpiry time.Duration
}

// Load reads an optional domus.yaml plus DOMUS_* environment variables.
// Every knob has a usable default; a missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("domus")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/domus")

	v.SetEnvPrefix("DOMUS")
	v.AutomaticEnv()

	v.SetDefault("api_base_url", "http://localhost:8080")
	v.SetDefault("channel_url", "ws://localhost:8080/ws")
	v.SetDefault("page_size", 50)
	v.SetDefault("typing_idle", "3s")
	v.SetDefault("typing_expiry", "5s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return &Config{
		APIBaseURL:   v.GetString("api_base_url"),
		ChannelURL:   v.GetString("channel_url"),
		PageSize:     v.GetInt("page_size"),
		TypingIdle:   v.GetDuration("typing_idle"),
		TypingExpiry: v.GetDuration("typing_expiry"),
	}, nil
}
