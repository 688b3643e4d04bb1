package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Archive   string   `mapstructure:"archive"`
	Database  string   `mapstructure:"database"`
	Listfiles []string `mapstructure:"listfiles"`
	Output    string   `mapstructure:"output"`
	Workers   int      `mapstructure:"workers"`
	LogLevel  string   `mapstructure:"log_level"`
	LogFormat string   `mapstructure:"log_format"`
}

// Load initializes and loads configuration from file
func Load(cfgFile string) (*Config, error) {
	// Set defaults
	viper.SetDefault("database", "mpq.db")
	viper.SetDefault("output", "extracted")
	viper.SetDefault("workers", 4)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")

	// Config file handling
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName("mpqdb")
		viper.SetConfigType("yaml")
	}

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	// External listfiles must exist if configured
	for _, path := range cfg.Listfiles {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("invalid listfile configuration: %w", err)
		}
	}

	return &cfg, nil
}
