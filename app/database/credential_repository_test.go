package database

import (
	"context"
	"testing"
	"time"
)

func testCredential(id string) Credential {
	return Credential{
		ID:      id,
		Name:    "reader " + id,
		Session: NewSessionBlob([]Cookie{{Name: "wr_vid", Value: id}}, time.Now()),
		Skey:    "skey-" + id,
	}
}

func TestCredentialUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewCredentialRepository(newTestDB(t))

	created, err := repo.UpsertCredential(ctx, testCredential("100"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !created {
		t.Error("Expected first upsert to create the credential")
	}

	if err := repo.UpdateCredentialStatus(ctx, "100", CredentialExpired, time.Now()); err != nil {
		t.Fatalf("Failed to expire credential: %v", err)
	}

	refreshed := testCredential("100")
	refreshed.Skey = "fresh"
	created, err = repo.UpsertCredential(ctx, refreshed)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if created {
		t.Error("Expected second upsert to refresh, not create")
	}

	c, err := repo.GetCredential(ctx, "100")
	if err != nil || c == nil {
		t.Fatalf("Expected credential, got %v (err=%v)", c, err)
	}
	if c.Status != CredentialActive {
		t.Errorf("Expected status active after re-login, got %s", c.Status)
	}
	if c.Skey != "fresh" {
		t.Errorf("Expected skey 'fresh', got '%s'", c.Skey)
	}
	if v, _ := c.Session.Cookie("wr_vid"); v != "100" {
		t.Errorf("Expected session cookie wr_vid '100', got '%s'", v)
	}

	all, err := repo.ListCredentials(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 credential, got %d", len(all))
	}
}

func TestCredentialLeaseAndStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewCredentialRepository(newTestDB(t))

	if _, err := repo.UpsertCredential(ctx, testCredential("7")); err != nil {
		t.Fatalf("Failed to create credential: %v", err)
	}

	blockedAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := repo.UpdateCredentialStatus(ctx, "7", CredentialBlocked, blockedAt); err != nil {
		t.Fatalf("Failed to block credential: %v", err)
	}

	c, _ := repo.GetCredential(ctx, "7")
	if c.Status != CredentialBlocked {
		t.Errorf("Expected status blocked, got %s", c.Status)
	}
	if c.BlockedAt == nil || !c.BlockedAt.Equal(blockedAt) {
		t.Errorf("Expected blocked at %v, got %v", blockedAt, c.BlockedAt)
	}

	usedAt := blockedAt.Add(2 * time.Hour)
	if err := repo.RecordLease(ctx, "7", 3, "2024-06-01", usedAt); err != nil {
		t.Fatalf("Failed to record lease: %v", err)
	}

	c, _ = repo.GetCredential(ctx, "7")
	if c.Status != CredentialActive {
		t.Errorf("Expected lease to reactivate credential, got %s", c.Status)
	}
	if c.BlockedAt != nil {
		t.Errorf("Expected blocked at to be cleared, got %v", c.BlockedAt)
	}
	if c.UsageOn("2024-06-01") != 3 {
		t.Errorf("Expected usage 3, got %d", c.UsageOn("2024-06-01"))
	}
	if c.UsageOn("2024-06-02") != 0 {
		t.Errorf("Expected usage to reset on the next day, got %d", c.UsageOn("2024-06-02"))
	}

	if err := repo.RecordLease(ctx, "missing", 1, "2024-06-01", usedAt); err == nil {
		t.Error("Expected error when recording a lease for an unknown credential")
	}
}

func TestGetCredentialNotFound(t *testing.T) {
	repo := NewCredentialRepository(newTestDB(t))

	c, err := repo.GetCredential(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if c != nil {
		t.Errorf("Expected nil credential, got %+v", c)
	}
}
