package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type MockSettingRepository struct {
	values map[string]string
}

func newMockRepo() *MockSettingRepository {
	return &MockSettingRepository{values: map[string]string{}}
}

func (m *MockSettingRepository) GetSettings(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *MockSettingRepository) SetSetting(ctx context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func (m *MockSettingRepository) InsertSettingIfMissing(ctx context.Context, key, value string) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

func TestGetReturnsDefaults(t *testing.T) {
	s, err := NewStore(newMockRepo()).Get(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if s != Defaults() {
		t.Errorf("Expected defaults %+v, got %+v", Defaults(), s)
	}
}

func TestSetValidates(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo()
	store := NewStore(repo)

	cases := []struct {
		key, value string
		valid      bool
	}{
		{KeyCrawlInterval, "90m", true},
		{KeyCrawlInterval, "1m", false},
		{KeyCrawlInterval, "often", false},
		{KeyMaxItems, "200", true},
		{KeyMaxItems, "0", false},
		{KeyMaxItems, "501", false},
		{KeyRetentionDays, "0", true},
		{KeyRetentionDays, "-1", false},
		{KeyExtractContent, "false", true},
		{KeyExtractContent, "maybe", false},
		{"color", "blue", false},
	}

	for _, tc := range cases {
		err := store.Set(ctx, tc.key, tc.value)
		if tc.valid && err != nil {
			t.Errorf("Expected %s=%s to be accepted, got: %v", tc.key, tc.value, err)
		}
		if !tc.valid {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Expected ValidationError for %s=%s, got: %v", tc.key, tc.value, err)
			}
		}
	}

	s, _ := store.Get(ctx)
	if s.CrawlInterval != 90*time.Minute {
		t.Errorf("Expected crawl interval 90m, got %v", s.CrawlInterval)
	}
	if s.MaxItems != 200 {
		t.Errorf("Expected max items 200, got %d", s.MaxItems)
	}
	if s.ExtractContent {
		t.Error("Expected content extraction to be disabled")
	}
	if _, ok := repo.values["color"]; ok {
		t.Error("Expected unknown key to be rejected before storage")
	}
}

func TestSetManyIsAllOrNothing(t *testing.T) {
	repo := newMockRepo()
	err := NewStore(repo).SetMany(context.Background(), map[string]string{
		KeyMaxItems:      "10",
		KeyRetentionDays: "forever",
	})
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if len(repo.values) != 0 {
		t.Errorf("Expected nothing stored, got %v", repo.values)
	}
}

func TestSeedFile(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo()
	repo.values[KeyMaxItems] = "80"
	store := NewStore(repo)

	path := filepath.Join(t.TempDir(), "settings.yml")
	content := "crawl_interval: 2h\nmax_items: 10\nretention_days: 7\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write settings file: %v", err)
	}

	seeded, err := store.SeedFile(ctx, path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if seeded != 2 {
		t.Errorf("Expected 2 seeded values, got %d", seeded)
	}

	s, _ := store.Get(ctx)
	if s.MaxItems != 80 {
		t.Errorf("Expected stored max items to win over seed, got %d", s.MaxItems)
	}
	if s.CrawlInterval != 2*time.Hour {
		t.Errorf("Expected crawl interval 2h, got %v", s.CrawlInterval)
	}
	if s.RetentionDays != 7 {
		t.Errorf("Expected retention 7 days, got %d", s.RetentionDays)
	}
}

func TestSeedFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	os.WriteFile(path, []byte("max_items: lots\n"), 0o644)

	_, err := NewStore(newMockRepo()).SeedFile(context.Background(), path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError, got: %v", err)
	}
}
