package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

const maxBrowserPoolSize = 8

type rawCfg struct {
	// Storage
	DBPath       string `long:"db-path" env:"DB_PATH" default:"./data/mp-comb.db" description:"Path to the sqlite database file"`
	SettingsFile string `long:"settings-file" env:"SETTINGS_FILE" description:"YAML file with initial system settings (optional)"`

	// HTTP
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://feeds.example.com)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	ProxyImages  bool   `long:"proxy-images" env:"PROXY_IMAGES" description:"Point feed images at /proxy/img so readers can load them"`

	// Browser
	BrowserPoolSize int    `long:"browser-pool-size" env:"BROWSER_POOL_SIZE" default:"2" description:"Number of concurrent browsing contexts used for extraction"`
	BrowserPath     string `long:"browser-path" env:"BROWSER_PATH" description:"Chrome/Chromium executable (auto-detected when empty)"`
	Headful         bool   `long:"headful" env:"HEADFUL" description:"Show the browser window (useful when debugging login)"`
	UserAgent       string `long:"user-agent" env:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36" description:"User agent string for browsing contexts"`

	// Sessions and extraction
	LoginTTL          int `long:"login-ttl" env:"LOGIN_TTL" default:"300" description:"QR login session lifetime in seconds"`
	ExtractTimeout    int `long:"extract-timeout" env:"EXTRACT_TIMEOUT" default:"15" description:"Per-attempt extraction timeout in seconds"`
	BacklogTimeout    int `long:"backlog-timeout" env:"BACKLOG_TIMEOUT" default:"120" description:"Upper bound in seconds for one backlog fetch across all pages and retries"`
	DailyQuota        int `long:"daily-quota" env:"DAILY_QUOTA" default:"100" description:"Maximum leases per credential per day"`
	BlockedCooldown   int `long:"blocked-cooldown" env:"BLOCKED_COOLDOWN" default:"3600" description:"Seconds before a rate-limited credential is tried again"`
	SchedulerInterval int `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Scheduler tick in seconds"`

	// Alerts
	SMTPHost     string `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host for credential alerts (optional)"`
	SMTPPort     int    `long:"smtp-port" env:"SMTP_PORT" default:"587" description:"SMTP port"`
	SMTPUser     string `long:"smtp-user" env:"SMTP_USER" description:"SMTP username"`
	SMTPPassword string `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
	SMTPFrom     string `long:"smtp-from" env:"SMTP_FROM" description:"Sender address for alerts"`
	SMTPTo       string `long:"smtp-to" env:"SMTP_TO" description:"Recipient address for alerts"`

	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps and daily quota boundaries"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := Parse(os.Args[1:])
	if err != nil || cfg == nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

// Parse builds a Cfg from command-line arguments and the environment.
// It returns nil, nil when help was requested.
func Parse(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if raw.BrowserPoolSize < 1 || raw.BrowserPoolSize > maxBrowserPoolSize {
		return nil, fmt.Errorf("browser pool size must be between 1 and %d, got %d", maxBrowserPoolSize, raw.BrowserPoolSize)
	}
	if raw.LoginTTL <= 0 || raw.ExtractTimeout <= 0 || raw.BacklogTimeout <= 0 || raw.SchedulerInterval <= 0 {
		return nil, fmt.Errorf("login ttl, extract timeout, backlog timeout and scheduler interval must be positive")
	}
	if raw.DailyQuota <= 0 {
		return nil, fmt.Errorf("daily quota must be positive, got %d", raw.DailyQuota)
	}

	return &Cfg{
		DBPath:            raw.DBPath,
		SettingsFile:      raw.SettingsFile,
		Port:              raw.Port,
		BaseUrl:           raw.BaseUrl,
		APIAccessKey:      raw.APIAccessKey,
		ProxyImages:       raw.ProxyImages,
		BrowserPoolSize:   raw.BrowserPoolSize,
		BrowserPath:       raw.BrowserPath,
		Headless:          !raw.Headful,
		UserAgent:         raw.UserAgent,
		LoginTTL:          time.Duration(raw.LoginTTL) * time.Second,
		ExtractTimeout:    time.Duration(raw.ExtractTimeout) * time.Second,
		BacklogTimeout:    time.Duration(raw.BacklogTimeout) * time.Second,
		DailyQuota:        raw.DailyQuota,
		BlockedCooldown:   time.Duration(raw.BlockedCooldown) * time.Second,
		SchedulerInterval: time.Duration(raw.SchedulerInterval) * time.Second,
		SMTPHost:          raw.SMTPHost,
		SMTPPort:          raw.SMTPPort,
		SMTPUser:          raw.SMTPUser,
		SMTPPassword:      raw.SMTPPassword,
		SMTPFrom:          raw.SMTPFrom,
		SMTPTo:            raw.SMTPTo,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Set installs c as the process configuration. Used by tests and tools that
// build a Cfg without parsing flags.
func Set(c *Cfg) {
	globalCfg = c
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
