package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Storefront
	BaseURL       string
	WSURL         string
	SessionCookie string
	CSRFToken     string
	CSRFHeader    string
	HTTPTimeout   time.Duration

	// Chat
	Streaming bool
	AIName    string

	// Description drafts
	DraftFile string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// ConfigFile is the YAML file that was read, empty if none.
	ConfigFile string
}

// fileConfig mirrors the YAML config file. Empty fields keep their defaults.
type fileConfig struct {
	BaseURL       string `yaml:"base_url"`
	WSURL         string `yaml:"ws_url"`
	SessionCookie string `yaml:"session_cookie"`
	CSRFToken     string `yaml:"csrf_token"`
	CSRFHeader    string `yaml:"csrf_header"`
	HTTPTimeout   string `yaml:"http_timeout"`
	Streaming     *bool  `yaml:"streaming"`
	AIName        string `yaml:"ai_name"`
	DraftFile     string `yaml:"draft_file"`
	LogFile       string `yaml:"log_file"`
	LogLevel      string `yaml:"log_level"`
}

// Load reads configuration from, in increasing precedence: built-in
// defaults, the YAML file named by STARCHAT_CONFIG, and environment
// variables. A .env file in the working directory is loaded into the
// environment first if present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	path := getEnv("STARCHAT_CONFIG", defaultConfigPath())
	fc, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := resolve(fc)
	if err != nil {
		return Config{}, err
	}
	if fc != nil {
		cfg.ConfigFile = path
	}
	return cfg, nil
}

// resolve layers fc (may be nil) and the environment over the defaults.
func resolve(fc *fileConfig) (Config, error) {
	if fc == nil {
		fc = &fileConfig{}
	}

	cfg := Config{
		BaseURL:       getEnv("STARCHAT_BASE_URL", or(fc.BaseURL, "http://localhost:8080")),
		SessionCookie: getEnv("STARCHAT_SESSION_COOKIE", fc.SessionCookie),
		CSRFToken:     getEnv("STARCHAT_CSRF_TOKEN", fc.CSRFToken),
		CSRFHeader:    getEnv("STARCHAT_CSRF_HEADER", or(fc.CSRFHeader, "X-XSRF-TOKEN")),
		AIName:        getEnv("STARCHAT_AI_NAME", or(fc.AIName, "Hoa AI")),
		DraftFile:     getEnv("STARCHAT_DRAFT_FILE", or(fc.DraftFile, defaultDraftPath())),
		LogFile:       getEnv("STARCHAT_LOG_FILE", or(fc.LogFile, "/tmp/starchat.log")),
		LogLevel:      parseLogLevel(getEnv("STARCHAT_LOG_LEVEL", or(fc.LogLevel, "INFO"))),
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	streaming := "true"
	if fc.Streaming != nil {
		streaming = strconv.FormatBool(*fc.Streaming)
	}
	b, err := strconv.ParseBool(getEnv("STARCHAT_STREAMING", streaming))
	if err != nil {
		return Config{}, fmt.Errorf("parse STARCHAT_STREAMING: %w", err)
	}
	cfg.Streaming = b

	timeout, err := time.ParseDuration(getEnv("STARCHAT_HTTP_TIMEOUT", or(fc.HTTPTimeout, "30s")))
	if err != nil {
		return Config{}, fmt.Errorf("parse STARCHAT_HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	ws := getEnv("STARCHAT_WS_URL", fc.WSURL)
	if ws == "" {
		if ws, err = DeriveWSURL(cfg.BaseURL); err != nil {
			return Config{}, err
		}
	}
	cfg.WSURL = ws

	return cfg, nil
}

// readFile parses the YAML config at path. A missing file is not an error.
func readFile(path string) (*fileConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &fc, nil
}

// DeriveWSURL maps the storefront base URL to its raw STOMP websocket
// endpoint: http becomes ws, https becomes wss, and /ws/websocket is appended.
func DeriveWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/websocket"
	return u.String(), nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "starchat", "config.yaml")
}

func defaultDraftPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "starchat-draft.json")
	}
	return filepath.Join(dir, "starchat", "draft.json")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func or(val, fallback string) string {
	if val != "" {
		return val
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
