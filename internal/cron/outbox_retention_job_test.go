package cron

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/coachloop/coachloop-backend/pkg/logger"
)

type stubRetentionRepo struct {
	cutoff      time.Time
	minAttempts int
	deleted     int64
	calls       int
}

func (s *stubRetentionRepo) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	s.calls++
	s.cutoff = cutoff
	s.minAttempts = minAttemptCount
	return s.deleted, nil
}

func TestOutboxRetentionJobDeletesWithCutoff(t *testing.T) {
	repo := &stubRetentionRepo{deleted: 7}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:         &stubTxRunner{},
		Repository: repo,
		Retention:  14,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if repo.calls != 1 {
		t.Fatalf("expected one delete call, got %d", repo.calls)
	}
	if repo.minAttempts != outboxMinAttempts {
		t.Fatalf("unexpected min attempts %d", repo.minAttempts)
	}
	expected := time.Now().UTC().Add(-14 * 24 * time.Hour)
	if repo.cutoff.After(expected.Add(time.Minute)) || repo.cutoff.Before(expected.Add(-time.Minute)) {
		t.Fatalf("cutoff %v not near expected %v", repo.cutoff, expected)
	}
}
