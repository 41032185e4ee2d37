package settings

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lysyi3m/mp-comb/app/database"
	"gopkg.in/yaml.v3"
)

const (
	KeyCrawlInterval  = "crawl_interval"
	KeyMaxItems       = "max_items"
	KeyRetentionDays  = "retention_days"
	KeyExtractContent = "extract_content"
	KeyCrawlEnabled   = "crawl_enabled"
)

const (
	minCrawlInterval = 5 * time.Minute
	maxItemsLimit    = 500
	maxRetentionDays = 3650
)

// Settings is the typed view of the settings table.
type Settings struct {
	CrawlInterval  time.Duration `json:"crawl_interval"`
	MaxItems       int           `json:"max_items"`
	RetentionDays  int           `json:"retention_days"`
	ExtractContent bool          `json:"extract_content"`
	CrawlEnabled   bool          `json:"crawl_enabled"`
}

func Defaults() Settings {
	return Settings{
		CrawlInterval:  time.Hour,
		MaxItems:       50,
		RetentionDays:  30,
		ExtractContent: true,
		CrawlEnabled:   true,
	}
}

// Keys lists the settable keys in display order.
func Keys() []string {
	return []string{KeyCrawlInterval, KeyMaxItems, KeyRetentionDays, KeyExtractContent, KeyCrawlEnabled}
}

// ValidationError reports a rejected setting value.
type ValidationError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %q for setting %s: %s", e.Value, e.Key, e.Reason)
}

type Store struct {
	repo database.SettingRepository
}

func NewStore(repo database.SettingRepository) *Store {
	return &Store{repo: repo}
}

// Get returns the stored settings layered over the defaults. Stored values
// that no longer validate fall back to their default.
func (s *Store) Get(ctx context.Context) (Settings, error) {
	values, err := s.repo.GetSettings(ctx)
	if err != nil {
		return Settings{}, err
	}

	out := Defaults()
	for key, value := range values {
		_ = apply(&out, key, value)
	}
	return out, nil
}

// Set validates and stores a single value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	var scratch Settings
	if err := apply(&scratch, key, value); err != nil {
		return err
	}
	return s.repo.SetSetting(ctx, key, value)
}

// SetMany validates every value before storing any of them.
func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	var scratch Settings
	for key, value := range values {
		if err := apply(&scratch, key, value); err != nil {
			return err
		}
	}
	for key, value := range values {
		if err := s.repo.SetSetting(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// SeedFile loads initial values from a YAML mapping. Keys already present
// in the store are left untouched.
func (s *Store) SeedFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read settings file: %w", err)
	}

	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("failed to parse settings file: %w", err)
	}

	values := make(map[string]string, len(raw))
	var scratch Settings
	for key, node := range raw {
		if node.Kind != yaml.ScalarNode {
			return 0, &ValidationError{Key: key, Value: node.Tag, Reason: "expected a scalar value"}
		}
		if err := apply(&scratch, key, node.Value); err != nil {
			return 0, err
		}
		values[key] = node.Value
	}

	seeded := 0
	for key, value := range values {
		inserted, err := s.repo.InsertSettingIfMissing(ctx, key, value)
		if err != nil {
			return seeded, err
		}
		if inserted {
			seeded++
		}
	}
	return seeded, nil
}

func apply(s *Settings, key, value string) error {
	invalid := func(reason string) error {
		return &ValidationError{Key: key, Value: value, Reason: reason}
	}

	switch key {
	case KeyCrawlInterval:
		d, err := time.ParseDuration(value)
		if err != nil {
			return invalid("expected a duration such as 90m")
		}
		if d < minCrawlInterval {
			return invalid(fmt.Sprintf("must be at least %s", minCrawlInterval))
		}
		s.CrawlInterval = d
	case KeyMaxItems:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > maxItemsLimit {
			return invalid(fmt.Sprintf("expected an integer between 1 and %d", maxItemsLimit))
		}
		s.MaxItems = n
	case KeyRetentionDays:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > maxRetentionDays {
			return invalid(fmt.Sprintf("expected an integer between 0 and %d", maxRetentionDays))
		}
		s.RetentionDays = n
	case KeyExtractContent, KeyCrawlEnabled:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return invalid("expected true or false")
		}
		if key == KeyExtractContent {
			s.ExtractContent = b
		} else {
			s.CrawlEnabled = b
		}
	default:
		return invalid("unknown setting")
	}
	return nil
}

// Strings renders s in the stored string form.
func (s Settings) Strings() map[string]string {
	return map[string]string{
		KeyCrawlInterval:  s.CrawlInterval.String(),
		KeyMaxItems:       strconv.Itoa(s.MaxItems),
		KeyRetentionDays:  strconv.Itoa(s.RetentionDays),
		KeyExtractContent: strconv.FormatBool(s.ExtractContent),
		KeyCrawlEnabled:   strconv.FormatBool(s.CrawlEnabled),
	}
}
