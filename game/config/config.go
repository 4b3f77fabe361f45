package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/wricardo/gpt-party/transport/websocket"
)

// EnvPrefix prefixes every environment override, e.g. PARTY_SERVER_URL.
const EnvPrefix = "PARTY"

// Keys
const (
	KeyServerURL            = "server_url"
	KeyWSURL                = "ws_url"
	KeyNickname             = "nickname"
	KeyReconnectBase        = "reconnect_base"
	KeyReconnectMaxAttempts = "reconnect_max_attempts"
	KeyIdleGrace            = "idle_grace"
	KeyPingInterval         = "ping_interval"
	KeyTranscriptSize       = "transcript_size"
	KeyListen               = "listen"
	KeySessionsDir          = "sessions_dir"
	KeyDebug                = "debug"
	KeyNgrokEnabled         = "ngrok_enabled"
	KeyNgrokAuthToken       = "ngrok_authtoken"
	KeyNgrokDomain          = "ngrok_domain"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrConfigFile    = errors.New("failed to read config file")
)

// Config holds everything the client needs to reach a game server and to
// serve its local surfaces.
type Config struct {
	ServerURL string
	// WSURL is derived from ServerURL when not set.
	WSURL    string
	Nickname string

	ReconnectBase        time.Duration
	ReconnectMaxAttempts int
	IdleGrace            time.Duration
	PingInterval         time.Duration
	TranscriptSize       int

	Listen string
	// SessionsDir keeps joined rooms across restarts of serve and mcp.
	// Empty disables it.
	SessionsDir string
	Debug       bool
	Ngrok       NgrokConfig
}

type NgrokConfig struct {
	Enabled   bool
	AuthToken string
	Domain    string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerURL, "http://localhost:8080")
	v.SetDefault(KeyWSURL, "")
	v.SetDefault(KeyNickname, "")
	v.SetDefault(KeyReconnectBase, websocket.DefaultBackoff.Base)
	v.SetDefault(KeyReconnectMaxAttempts, websocket.DefaultBackoff.MaxAttempts)
	v.SetDefault(KeyIdleGrace, 5*time.Second)
	v.SetDefault(KeyPingInterval, 30*time.Second)
	v.SetDefault(KeyTranscriptSize, 50)
	v.SetDefault(KeyListen, "localhost:8090")
	v.SetDefault(KeySessionsDir, "")
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyNgrokEnabled, false)
	v.SetDefault(KeyNgrokAuthToken, "")
	v.SetDefault(KeyNgrokDomain, "")
}

// LoadDotEnv loads .env from the working directory if present. Variables
// already set in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load layers defaults, the optional config file at path, and PARTY_*
// environment variables. The result is not validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w %s: %v", ErrConfigFile, path, err)
		}
	}

	cfg := &Config{
		ServerURL:            strings.TrimRight(v.GetString(KeyServerURL), "/"),
		WSURL:                strings.TrimRight(v.GetString(KeyWSURL), "/"),
		Nickname:             v.GetString(KeyNickname),
		ReconnectBase:        v.GetDuration(KeyReconnectBase),
		ReconnectMaxAttempts: v.GetInt(KeyReconnectMaxAttempts),
		IdleGrace:            v.GetDuration(KeyIdleGrace),
		PingInterval:         v.GetDuration(KeyPingInterval),
		TranscriptSize:       v.GetInt(KeyTranscriptSize),
		Listen:               v.GetString(KeyListen),
		SessionsDir:          v.GetString(KeySessionsDir),
		Debug:                v.GetBool(KeyDebug),
		Ngrok: NgrokConfig{
			Enabled:   v.GetBool(KeyNgrokEnabled),
			AuthToken: v.GetString(KeyNgrokAuthToken),
			Domain:    v.GetString(KeyNgrokDomain),
		},
	}

	// ngrok's own variable names
	if cfg.Ngrok.AuthToken == "" {
		cfg.Ngrok.AuthToken = firstEnv("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")
	}
	if cfg.Ngrok.Domain == "" {
		cfg.Ngrok.Domain = os.Getenv("NGROK_DOMAIN")
	}

	return cfg, nil
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the URLs and numeric settings and fills in WSURL.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: server_url must be an http(s) URL, got %q", ErrInvalidConfig, c.ServerURL)
	}

	if c.WSURL == "" {
		ws, err := DeriveWSURL(c.ServerURL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		c.WSURL = ws
	} else {
		u, err := url.Parse(c.WSURL)
		if err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("%w: ws_url must be a ws(s) URL, got %q", ErrInvalidConfig, c.WSURL)
		}
	}

	if c.ReconnectBase <= 0 {
		return fmt.Errorf("%w: reconnect_base must be positive", ErrInvalidConfig)
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("%w: reconnect_max_attempts must not be negative", ErrInvalidConfig)
	}
	if c.IdleGrace < 0 {
		return fmt.Errorf("%w: idle_grace must not be negative", ErrInvalidConfig)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("%w: ping_interval must be positive", ErrInvalidConfig)
	}
	if c.TranscriptSize <= 0 {
		return fmt.Errorf("%w: transcript_size must be positive", ErrInvalidConfig)
	}
	if c.Ngrok.Enabled && c.Ngrok.AuthToken == "" {
		return fmt.Errorf("%w: ngrok enabled without an auth token (set NGROK_AUTHTOKEN)", ErrInvalidConfig)
	}
	return nil
}

// Backoff returns the reconnect policy for room and lobby sockets.
func (c *Config) Backoff() websocket.Backoff {
	return websocket.Backoff{Base: c.ReconnectBase, MaxAttempts: c.ReconnectMaxAttempts}
}

// DeriveWSURL maps http to ws and https to wss, keeping host and path.
func DeriveWSURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
