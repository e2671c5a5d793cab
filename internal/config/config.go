// Package config loads tokenpipe settings for the commands from a YAML file, an optional
// .env file and the process environment, in that order of precedence from lowest to
// highest.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	tokenpipe "github.com/MrEthical07/tokenpipe"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Settings is the flat, file-friendly view of a tokenpipe.Config plus the few knobs the
// commands need on top of it.
type Settings struct {
	BaseURL   string        `yaml:"base_url" env:"TOKENPIPE_BASE_URL"`
	Timeout   time.Duration `yaml:"timeout" env:"TOKENPIPE_TIMEOUT"`
	UserAgent string        `yaml:"user_agent" env:"TOKENPIPE_USER_AGENT"`

	SuccessCode      int `yaml:"success_code" env:"TOKENPIPE_SUCCESS_CODE"`
	TokenExpiredCode int `yaml:"token_expired_code" env:"TOKENPIPE_TOKEN_EXPIRED_CODE"`

	RefreshPath    string        `yaml:"refresh_path" env:"TOKENPIPE_REFRESH_PATH"`
	RefreshParam   string        `yaml:"refresh_param" env:"TOKENPIPE_REFRESH_PARAM"`
	RefreshInBody  bool          `yaml:"refresh_in_body" env:"TOKENPIPE_REFRESH_IN_BODY"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"TOKENPIPE_REFRESH_TIMEOUT"`
	ProactiveSkew  time.Duration `yaml:"proactive_skew" env:"TOKENPIPE_PROACTIVE_SKEW"`
	Throttle       bool          `yaml:"throttle" env:"TOKENPIPE_THROTTLE"`
	ThrottleMax    int           `yaml:"throttle_max" env:"TOKENPIPE_THROTTLE_MAX"`
	ThrottleWindow time.Duration `yaml:"throttle_window" env:"TOKENPIPE_THROTTLE_WINDOW"`

	LoginPage     string `yaml:"login_page" env:"TOKENPIPE_LOGIN_PAGE"`
	NotifyErrors  bool   `yaml:"notify_errors" env:"TOKENPIPE_NOTIFY_ERRORS"`
	NotifyRenewed bool   `yaml:"notify_renewed" env:"TOKENPIPE_NOTIFY_RENEWED"`

	RedisAddr   string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPrefix string        `yaml:"redis_prefix" env:"TOKENPIPE_REDIS_PREFIX"`
	StoreTTL    time.Duration `yaml:"store_ttl" env:"TOKENPIPE_STORE_TTL"`

	Metrics  bool   `yaml:"metrics" env:"TOKENPIPE_METRICS"`
	LogLevel string `yaml:"log_level" env:"TOKENPIPE_LOG_LEVEL"`
}

// Defaults returns Settings mirroring tokenpipe.DefaultConfig.
func Defaults() Settings {
	cfg := tokenpipe.DefaultConfig()
	return Settings{
		BaseURL:          cfg.Transport.BaseURL,
		Timeout:          cfg.Transport.Timeout,
		UserAgent:        cfg.Transport.UserAgent,
		SuccessCode:      cfg.Envelope.SuccessCode,
		TokenExpiredCode: cfg.Envelope.TokenExpiredCode,
		RefreshPath:      cfg.Refresh.Path,
		RefreshParam:     cfg.Refresh.Param,
		RefreshInBody:    cfg.Refresh.InBody,
		RefreshTimeout:   cfg.Refresh.Timeout,
		ProactiveSkew:    cfg.Refresh.ProactiveSkew,
		Throttle:         cfg.Refresh.EnableThrottle,
		ThrottleMax:      cfg.Refresh.MaxAttempts,
		ThrottleWindow:   cfg.Refresh.Window,
		LoginPage:        cfg.Session.LoginPage,
		NotifyErrors:     cfg.Notify.Errors,
		NotifyRenewed:    cfg.Notify.Renewed,
		RedisPrefix:      cfg.Store.RedisPrefix,
		StoreTTL:         cfg.Store.TTL,
		Metrics:          cfg.Metrics.Enabled,
		LogLevel:         "info",
	}
}

// Load starts from [Defaults], then applies the YAML file at path and the dotenv file
// at envFile, then the environment. Empty paths are skipped; a missing envFile is not an
// error.
func Load(path, envFile string) (Settings, error) {
	s := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	// Only variables that are set overwrite fields.
	if err := envdecode.Decode(&s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Settings{}, fmt.Errorf("failed to decode environment: %w", err)
	}

	return s, nil
}

// Config converts s into a validated tokenpipe.Config.
func (s Settings) Config() (tokenpipe.Config, error) {
	cfg := tokenpipe.DefaultConfig()

	cfg.Transport.BaseURL = strings.TrimRight(s.BaseURL, "/")
	cfg.Transport.Timeout = s.Timeout
	cfg.Transport.UserAgent = s.UserAgent

	cfg.Envelope.SuccessCode = s.SuccessCode
	cfg.Envelope.TokenExpiredCode = s.TokenExpiredCode

	cfg.Refresh.Path = s.RefreshPath
	cfg.Refresh.Param = s.RefreshParam
	cfg.Refresh.InBody = s.RefreshInBody
	cfg.Refresh.Timeout = s.RefreshTimeout
	cfg.Refresh.ProactiveSkew = s.ProactiveSkew
	cfg.Refresh.EnableThrottle = s.Throttle
	cfg.Refresh.MaxAttempts = s.ThrottleMax
	cfg.Refresh.Window = s.ThrottleWindow

	cfg.Session.LoginPage = s.LoginPage
	cfg.Notify.Errors = s.NotifyErrors
	cfg.Notify.Renewed = s.NotifyRenewed

	cfg.Store.RedisPrefix = s.RedisPrefix
	cfg.Store.TTL = s.StoreTTL

	cfg.Metrics.Enabled = s.Metrics
	cfg.Metrics.EnableLatencyHistograms = s.Metrics

	if err := cfg.Validate(); err != nil {
		return tokenpipe.Config{}, err
	}
	return cfg, nil
}

// Level parses LogLevel, falling back to info.
func (s Settings) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
