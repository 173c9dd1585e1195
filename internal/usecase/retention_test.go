package usecase

import (
	"context"
	"testing"
	"time"

	"chatstream/internal/infra/config"
)

func TestRetentionPurge(t *testing.T) {
	store := newMemStore()
	old, _ := store.CreateConversation(context.Background(), "sess-1")
	store.conversations[old.ID].UpdatedAt = time.Now().Add(-48 * time.Hour)
	store.CreateConversation(context.Background(), "sess-1")

	job, err := NewRetentionJob(store, config.RetentionConfig{
		Enabled: true,
		MaxAge:  "24h",
	}, newTestLogger())
	if err != nil {
		t.Fatalf("NewRetentionJob: %v", err)
	}

	n, err := job.Purge(context.Background())
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
}

func TestRetentionRejectsBadConfig(t *testing.T) {
	if _, err := NewRetentionJob(newMemStore(), config.RetentionConfig{MaxAge: "soon"}, newTestLogger()); err == nil {
		t.Error("expected error for unparseable max_age")
	}
	if _, err := NewRetentionJob(newMemStore(), config.RetentionConfig{Schedule: "not a cron"}, newTestLogger()); err == nil {
		t.Error("expected error for invalid schedule")
	}
}
