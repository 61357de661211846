// Package config loads the analyzer runtime's static configuration: a base
// YAML file merged with environment-variable overrides, producing an
// immutable Config the rest of the process depends on.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig configures the sqlite-backed metadata store (internal/store).
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ObjectStoreConfig configures the S3-compatible object store client
// (internal/objectstore).
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseTLS    bool   `yaml:"useTls"`
}

// NotifyConfig configures the NATS notification/control bus (internal/notify).
type NotifyConfig struct {
	URL             string `yaml:"url"`
	NotifySubject   string `yaml:"notifySubject"`
	ControlSubject  string `yaml:"controlSubject"`
}

// DetectorConfig configures the gRPC detection service client
// (internal/detectclient).
type DetectorConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	DialTimeout    time.Duration `yaml:"-"`
	DialTimeoutRaw string        `yaml:"dialTimeout"`
}

// TelegramConfig configures the optional Telegram notification sink.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// ControlPlaneConfig configures the HTTP control-plane transport.
type ControlPlaneConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// FrameConfig fixes the decoded frame geometry every analyzer normalizes
// its source to before motion filtering, detection, and ROI checks.
type FrameConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// AuthConfig configures the control-plane's bearer-token authentication.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the complete, immutable runtime configuration. A process loads
// exactly one Config at startup; there is no hot-reload of these fields —
// per-analyzer settings are mutated later, through the control plane, not
// through this file.
type Config struct {
	LogLevel     string             `yaml:"logLevel"`
	Store        StoreConfig        `yaml:"store"`
	ObjectStore  ObjectStoreConfig  `yaml:"objectStore"`
	Notify       NotifyConfig       `yaml:"notify"`
	Detector     DetectorConfig     `yaml:"detector"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	ControlPlane ControlPlaneConfig `yaml:"controlPlane"`
	Frame        FrameConfig        `yaml:"frame"`
	Auth         AuthConfig         `yaml:"auth"`
	AuthSecret   string             `yaml:"authSecret"`
}

func defaults() Config {
	return Config{
		LogLevel: "info",
		Store: StoreConfig{
			Path: "analyzer.db",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint: "localhost:9000",
			Bucket:   "event-clips",
		},
		Notify: NotifyConfig{
			URL:            "nats://127.0.0.1:4222",
			NotifySubject:  "notification",
			ControlSubject: "api.analyzer",
		},
		Detector: DetectorConfig{
			Endpoint:       "127.0.0.1:50051",
			DialTimeoutRaw: "5s",
		},
		ControlPlane: ControlPlaneConfig{
			ListenAddr: ":8090",
		},
		Frame: FrameConfig{
			Width:  1280,
			Height: 720,
		},
		Auth: AuthConfig{
			Username: "admin",
		},
	}
}

// Load reads path as YAML over the built-in defaults, then applies
// VIDEOGUARD_-prefixed environment variable overrides, and finally parses
// derived duration fields. A missing file is not an error: the defaults
// cover every field except authSecret, which must come from the file or
// VIDEOGUARD_AUTH_SECRET; Load fails when it is still empty.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	dur, err := time.ParseDuration(cfg.Detector.DialTimeoutRaw)
	if err != nil {
		return nil, fmt.Errorf("config: invalid detector.dialTimeout %q: %w", cfg.Detector.DialTimeoutRaw, err)
	}
	cfg.Detector.DialTimeout = dur

	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("config: authSecret must be set (VIDEOGUARD_AUTH_SECRET or authSecret in %s)", path)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str(&cfg.LogLevel, "VIDEOGUARD_LOG_LEVEL")
	str(&cfg.Store.Path, "VIDEOGUARD_STORE_PATH")
	str(&cfg.ObjectStore.Endpoint, "VIDEOGUARD_OBJECTSTORE_ENDPOINT")
	str(&cfg.ObjectStore.Bucket, "VIDEOGUARD_OBJECTSTORE_BUCKET")
	str(&cfg.ObjectStore.AccessKey, "VIDEOGUARD_OBJECTSTORE_ACCESS_KEY")
	str(&cfg.ObjectStore.SecretKey, "VIDEOGUARD_OBJECTSTORE_SECRET_KEY")
	boolean(&cfg.ObjectStore.UseTLS, "VIDEOGUARD_OBJECTSTORE_USE_TLS")
	str(&cfg.Notify.URL, "VIDEOGUARD_NATS_URL")
	str(&cfg.Detector.Endpoint, "VIDEOGUARD_DETECTOR_ENDPOINT")
	str(&cfg.Detector.DialTimeoutRaw, "VIDEOGUARD_DETECTOR_DIAL_TIMEOUT")
	boolean(&cfg.Telegram.Enabled, "VIDEOGUARD_TELEGRAM_ENABLED")
	str(&cfg.Telegram.BotToken, "VIDEOGUARD_TELEGRAM_BOT_TOKEN")
	str(&cfg.Telegram.ChatID, "VIDEOGUARD_TELEGRAM_CHAT_ID")
	str(&cfg.ControlPlane.ListenAddr, "VIDEOGUARD_LISTEN_ADDR")
	integer(&cfg.Frame.Width, "VIDEOGUARD_FRAME_WIDTH")
	integer(&cfg.Frame.Height, "VIDEOGUARD_FRAME_HEIGHT")
	boolean(&cfg.Auth.Enabled, "VIDEOGUARD_AUTH_ENABLED")
	str(&cfg.Auth.Username, "VIDEOGUARD_AUTH_USERNAME")
	str(&cfg.Auth.Password, "VIDEOGUARD_AUTH_PASSWORD")
	str(&cfg.AuthSecret, "VIDEOGUARD_AUTH_SECRET")
}

func str(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok {
		*dst = v
	}
}

func boolean(dst *bool, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func integer(dst *int, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
