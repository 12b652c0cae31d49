package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds dashboard/API server settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// BrowserConfig holds settings for the automated Chrome session.
type BrowserConfig struct {
	Headless    bool
	NoSandbox   bool
	PageTimeout time.Duration
}

// OAuthConfig holds the provider endpoints and client identity used for the
// code-for-token exchange. The URLs default to Google's but stay configurable
// so staging tenants can point elsewhere.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	UserinfoURL  string
	Scopes       []string
}

// AutomationConfig holds the target account and cycle cadence.
type AutomationConfig struct {
	BaseURL         string
	AccountEmail    string
	Credential      string
	CycleInterval   time.Duration
	RetryDelay      time.Duration
	OAuthTimeout    time.Duration
	MaxOAuthRetries int
	ReauthCron      string
	Autostart       bool
}

// BarkConfig holds Bark push notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server     ServerConfig
	Browser    BrowserConfig
	OAuth      OAuthConfig
	Automation AutomationConfig
	Bark       BarkConfig

	Mode     string
	StateDir string
	LogLevel string

	ShutdownGrace time.Duration
}

const (
	defaultAddr          = "0.0.0.0:7080"
	defaultLogLevel      = "info"
	defaultCycleInterval = 20 * time.Minute
	defaultRetryDelay    = 5 * time.Minute
	defaultOAuthTimeout  = 45 * time.Second
	defaultPageTimeout   = 30 * time.Second
	defaultMaxRetries    = 5
	defaultShutdownGrace = 5 * time.Second

	defaultAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse() (*Config, error) {
	// Load .env file if present: current directory first, then config dir.
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "mailpilot", ".env"))
	}
	_ = godotenv.Load(envFiles...) // Ignore error - file is optional

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("MAILPILOT_ADDR", defaultAddr),
			AuthToken: getEnvString("MAILPILOT_AUTH_TOKEN", ""),
		},
		Browser: BrowserConfig{
			Headless:    getEnvBool("MAILPILOT_HEADLESS", true),
			NoSandbox:   getEnvBool("MAILPILOT_NO_SANDBOX", true),
			PageTimeout: getEnvDuration("MAILPILOT_PAGE_TIMEOUT", defaultPageTimeout),
		},
		OAuth: OAuthConfig{
			ClientID:     getEnvString("MAILPILOT_CLIENT_ID", ""),
			ClientSecret: getEnvString("MAILPILOT_CLIENT_SECRET", ""),
			RedirectURI:  getEnvString("MAILPILOT_REDIRECT_URI", ""),
			AuthURL:      getEnvString("MAILPILOT_AUTH_URL", defaultAuthURL),
			TokenURL:     getEnvString("MAILPILOT_TOKEN_URL", defaultTokenURL),
			UserinfoURL:  getEnvString("MAILPILOT_USERINFO_URL", defaultUserinfoURL),
			Scopes:       splitScopes(getEnvString("MAILPILOT_SCOPES", "")),
		},
		Automation: AutomationConfig{
			BaseURL:         getEnvString("MAILPILOT_BASE_URL", ""),
			AccountEmail:    getEnvString("MAILPILOT_ACCOUNT_EMAIL", ""),
			Credential:      getEnvString("MAILPILOT_CREDENTIAL", ""),
			CycleInterval:   getEnvDuration("MAILPILOT_CYCLE_INTERVAL", defaultCycleInterval),
			RetryDelay:      getEnvDuration("MAILPILOT_RETRY_DELAY", defaultRetryDelay),
			OAuthTimeout:    getEnvDuration("MAILPILOT_OAUTH_TIMEOUT", defaultOAuthTimeout),
			MaxOAuthRetries: getEnvInt("MAILPILOT_MAX_OAUTH_RETRIES", defaultMaxRetries),
			ReauthCron:      getEnvString("MAILPILOT_REAUTH_CRON", ""),
			Autostart:       getEnvBool("MAILPILOT_AUTOSTART", true),
		},
		Bark: BarkConfig{
			URL:     getEnvString("MAILPILOT_BARK_URL", ""),
			Enabled: getEnvBool("MAILPILOT_BARK_ENABLED", false),
		},
		Mode:          getEnvString("MAILPILOT_MODE", "http"),
		StateDir:      getEnvString("MAILPILOT_STATE_DIR", ""),
		LogLevel:      getEnvString("MAILPILOT_LOG_LEVEL", defaultLogLevel),
		ShutdownGrace: getEnvDuration("MAILPILOT_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	var (
		addr          string
		mode          string
		stateDir      string
		logLevel      string
		baseURL       string
		account       string
		credential    string
		headless      bool
		retryDelay    time.Duration
		shutdownGrace time.Duration
	)

	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&mode, "mode", "", "Run mode: http, mcp, or both")
	flag.StringVar(&stateDir, "state-dir", "", "Directory for database and state")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&baseURL, "base-url", "", "Base URL of the application to automate")
	flag.StringVar(&account, "account", "", "Target account email for OAuth")
	flag.StringVar(&credential, "credential", "", "Account credential for unattended login")
	flag.BoolVar(&headless, "headless", true, "Run the browser headless")
	flag.DurationVar(&retryDelay, "retry-delay", 0, "Delay between failed cycle retries")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")

	flag.Parse()

	// Apply CLI flags if set (they take precedence)
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if baseURL != "" {
		cfg.Automation.BaseURL = baseURL
	}
	if account != "" {
		cfg.Automation.AccountEmail = account
	}
	if credential != "" {
		cfg.Automation.Credential = credential
	}
	if retryDelay > 0 {
		cfg.Automation.RetryDelay = retryDelay
	}
	// Bool and duration flags only override when explicitly set.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "headless":
			cfg.Browser.Headless = headless
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}

	if cfg.Automation.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required (MAILPILOT_BASE_URL or -base-url)")
	}
	cfg.Automation.BaseURL = strings.TrimRight(cfg.Automation.BaseURL, "/")

	if cfg.Automation.CycleInterval <= 0 {
		cfg.Automation.CycleInterval = defaultCycleInterval
	}
	if cfg.Automation.RetryDelay <= 0 {
		cfg.Automation.RetryDelay = defaultRetryDelay
	}
	if cfg.Automation.MaxOAuthRetries < 1 {
		cfg.Automation.MaxOAuthRetries = defaultMaxRetries
	}
	if cfg.OAuth.RedirectURI == "" {
		cfg.OAuth.RedirectURI = cfg.Automation.BaseURL + "/oauth-callback"
	}

	return cfg, nil
}

func splitScopes(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "mailpilot")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
