package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the application's configuration. Values come from config.json,
// environment variables, and CLI flags, in ascending precedence.
type Config struct {
	Address        string        `json:"address" mapstructure:"address"`
	TickInterval   time.Duration `json:"tick-interval" mapstructure:"tick-interval"`
	CaptureTimeout time.Duration `json:"capture-timeout" mapstructure:"capture-timeout"`
	LogLevel       string        `json:"log-level" mapstructure:"log-level"`
	OutputDir      string        `json:"output-dir" mapstructure:"output-dir"`
	ActionLogSize  int           `json:"action-log-size" mapstructure:"action-log-size"`
}

var requiredFields = []string{
	"address",
}

// field: default value
var optionalFields = map[string]interface{}{
	"tick-interval":   time.Second,
	"capture-timeout": 800 * time.Millisecond,
	"log-level":       "INFO",
	"output-dir":      "captures",
	"action-log-size": 128,
}

// Init reads configuration from the given JSON file (optional), the
// environment, and the already-parsed flag set. Flags beat env, env beats
// file.
func Init(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for _, field := range requiredFields {
		v.BindEnv(field)
	}
	for field, def := range optionalFields {
		v.BindEnv(field)
		v.SetDefault(field, def)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("could not bind flags: %w", err)
		}
	}

	for _, field := range requiredFields {
		if !v.IsSet(field) || v.GetString(field) == "" {
			return nil, fmt.Errorf("missing required config field: %s", field)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	if config.TickInterval <= 0 {
		return nil, fmt.Errorf("tick-interval must be > 0")
	}
	if config.CaptureTimeout <= 0 {
		return nil, fmt.Errorf("capture-timeout must be > 0")
	}

	return &config, nil
}
