package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	IMAP    IMAPConfig    `mapstructure:"imap" yaml:"imap"`
	SMTP    SMTPConfig    `mapstructure:"smtp" yaml:"smtp"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type IMAPConfig struct {
	Host               string `mapstructure:"host" yaml:"host"`
	Port               int    `mapstructure:"port" yaml:"port"`
	TLS                bool   `mapstructure:"tls" yaml:"tls"`
	StartTLS           bool   `mapstructure:"starttls" yaml:"starttls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type SMTPConfig struct {
	Host               string `mapstructure:"host" yaml:"host"`
	Port               int    `mapstructure:"port" yaml:"port"`
	TLS                bool   `mapstructure:"tls" yaml:"tls"`
	StartTLS           bool   `mapstructure:"starttls" yaml:"starttls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type SessionConfig struct {
	// Key signs session cookies. Leave empty to use the OS keyring.
	Key    string        `mapstructure:"key" yaml:"key"`
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

func DefaultConfig() Config {
	return Config{
		IMAP: IMAPConfig{
			Host: "imap.gmail.com",
			Port: 993,
			TLS:  true,
		},
		SMTP: SMTPConfig{
			Host:     "smtp.gmail.com",
			Port:     587,
			StartTLS: true,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Session: SessionConfig{
			MaxAge: 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("WEBMAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func Save(cfg Config) (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

func Redact(cfg Config) Config {
	masked := cfg
	if masked.Session.Key != "" {
		masked.Session.Key = "****"
	}
	return masked
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("imap.host", cfg.IMAP.Host)
	v.SetDefault("imap.port", cfg.IMAP.Port)
	v.SetDefault("imap.tls", cfg.IMAP.TLS)
	v.SetDefault("imap.starttls", cfg.IMAP.StartTLS)
	v.SetDefault("imap.insecure_skip_verify", cfg.IMAP.InsecureSkipVerify)

	v.SetDefault("smtp.host", cfg.SMTP.Host)
	v.SetDefault("smtp.port", cfg.SMTP.Port)
	v.SetDefault("smtp.tls", cfg.SMTP.TLS)
	v.SetDefault("smtp.starttls", cfg.SMTP.StartTLS)
	v.SetDefault("smtp.insecure_skip_verify", cfg.SMTP.InsecureSkipVerify)

	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("session.max_age", cfg.Session.MaxAge)
	v.SetDefault("log.level", cfg.Log.Level)
}

func Validate(cfg Config) error {
	if cfg.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if cfg.IMAP.Port <= 0 {
		return fmt.Errorf("imap.port must be positive")
	}
	if cfg.SMTP.Host == "" {
		return fmt.Errorf("smtp.host is required")
	}
	if cfg.SMTP.Port <= 0 {
		return fmt.Errorf("smtp.port must be positive")
	}
	if cfg.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if cfg.Session.MaxAge <= 0 {
		return fmt.Errorf("session.max_age must be positive")
	}
	return nil
}
