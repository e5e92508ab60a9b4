package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/crosspost/internal/config"
	"github.com/ifuryst/crosspost/internal/models"
	"github.com/ifuryst/crosspost/internal/service/poster"
)

func TestNotificationService_NotifyStoresFailures(t *testing.T) {
	ctx := context.Background()
	svc := NewNotificationService(newTestDB(t), config.NotificationsConfig{RatePerSecond: 1, Burst: 1}, zap.NewNop())

	svc.Notify(ctx, poster.Notification{
		Level:        poster.LevelError,
		Title:        "Posting failed: hello",
		Message:      "gallery: API returned status 502",
		SubmissionID: "s1",
		Failures: []poster.FailedPost{
			{Website: "gallery", AccountID: "acct", Message: "API returned status 502"},
		},
	})
	svc.Notify(ctx, poster.Notification{
		Level:        poster.LevelInfo,
		Title:        "Posted: other",
		Message:      "Posted to every website",
		SubmissionID: "s2",
	})

	recent, err := svc.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	assert.Equal(t, "s2", recent[0].SubmissionID)
	assert.Equal(t, "info", recent[0].Level)
	assert.Empty(t, recent[0].Context)

	failed := recent[1]
	assert.Equal(t, "error", failed.Level)
	assert.Equal(t, "gallery", failed.Website)
	var payload struct {
		Failures []poster.FailedPost `json:"failures"`
	}
	require.NoError(t, json.Unmarshal([]byte(failed.Context), &payload))
	assert.Equal(t, "API returned status 502", payload.Failures[0].Message)

	limited, err := svc.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestNotificationService_RecentLimits(t *testing.T) {
	ctx := context.Background()
	svc := NewNotificationService(newTestDB(t), config.NotificationsConfig{}, zap.NewNop())

	for i := 0; i < 60; i++ {
		_, err := svc.Record(ctx, "info", fmt.Sprintf("n%d", i), "posted")
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default", 0, 50},
		{"explicit", 5, 5},
		{"above max is clamped", 1000, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Recent(ctx, tt.limit)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestNotificationService_DeliversToWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		received []models.Notification
	)
	hook := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var n models.Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err == nil {
			mu.Lock()
			received = append(received, n)
			mu.Unlock()
		}
		rw.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hook.Close)

	svc := NewNotificationService(newTestDB(t), config.NotificationsConfig{
		WebhookURL:    hook.URL,
		RatePerSecond: 100,
		Burst:         10,
	}, zap.NewNop())

	stored, err := svc.Record(context.Background(), "warn", "Skipped", "validation failed", WithSubmission("s1"), WithWebsite("gallery"))
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)

	svc.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, stored.ID, received[0].ID)
	assert.Equal(t, "Skipped", received[0].Title)
	assert.Equal(t, "gallery", received[0].Website)
}
