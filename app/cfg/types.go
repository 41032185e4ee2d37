package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath       string
	SettingsFile string

	// HTTP
	Port         string
	BaseUrl      string
	APIAccessKey string
	ProxyImages  bool

	// Browser
	BrowserPoolSize int
	BrowserPath     string
	Headless        bool
	UserAgent       string

	// Sessions and extraction
	LoginTTL          time.Duration
	ExtractTimeout    time.Duration
	BacklogTimeout    time.Duration
	DailyQuota        int
	BlockedCooldown   time.Duration
	SchedulerInterval time.Duration

	// Alerts
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       string

	Timezone string
	Debug    bool
	Version  string
}

// MailEnabled reports whether credential alerts should go out by email.
func (c *Cfg) MailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPTo != ""
}
