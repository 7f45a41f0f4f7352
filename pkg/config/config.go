package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration, loaded from YAML with env-var
// overrides (MEDIABOT_ prefix).
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

type DownloaderConfig struct {
	BinaryPath   string `mapstructure:"binary_path"`
	BaseDir      string `mapstructure:"base_dir"`
	AlacQuality  string `mapstructure:"alac_quality"`
	AtmosQuality string `mapstructure:"atmos_quality"`
}

type StorageConfig struct {
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	Region      string `mapstructure:"region"`
	EndpointURL string `mapstructure:"endpoint_url"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
}

type ProgressConfig struct {
	MinIntervalSeconds float64 `mapstructure:"min_interval_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path (or ./config.yaml when empty).
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mediabot")
	}
	v.SetEnvPrefix("MEDIABOT")
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("downloader.binary_path", "apple-music-downloader")
	v.SetDefault("downloader.base_dir", "/tmp/mediabot")
	v.SetDefault("downloader.alac_quality", "192000")
	v.SetDefault("downloader.atmos_quality", "2768")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("progress.min_interval_seconds", 2.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ProgressInterval returns the minimum delay between progress renders.
func (c *Config) ProgressInterval() time.Duration {
	if c.Progress.MinIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Progress.MinIntervalSeconds * float64(time.Second))
}
