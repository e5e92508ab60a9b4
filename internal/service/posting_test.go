package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/crosspost/internal/config"
	"github.com/ifuryst/crosspost/internal/models"
	"github.com/ifuryst/crosspost/internal/service/poster"
	"github.com/ifuryst/crosspost/internal/service/website/webhook"
)

type postingStack struct {
	submissions   *SubmissionService
	logs          *PostLogService
	notifications *NotificationService
	poster        *PosterService
}

func newPostingStack(t *testing.T, cfg *config.Config, redisAddr string) *postingStack {
	t.Helper()
	db := newTestDB(t)
	logger := zap.NewNop()

	stack := &postingStack{
		submissions:   NewSubmissionService(db, logger),
		logs:          NewPostLogService(db),
		notifications: NewNotificationService(db, cfg.Notifications, logger),
	}

	deps := PosterDependencies{
		Submissions: stack.submissions,
		Logs:        stack.logs,
		Notifier:    stack.notifications,
		Files:       NewFileStore(t.TempDir()),
	}
	if redisAddr != "" {
		client, err := NewRedisClient(context.Background(), &config.RedisConfig{Addr: redisAddr})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		deps.Redis = client
	}

	svc, err := NewPosterService(cfg, deps, logger)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	stack.poster = svc
	return stack
}

func siteServer(t *testing.T, status int, source string, posts *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/me" {
			rw.WriteHeader(http.StatusOK)
			return
		}
		posts.Add(1)
		rw.WriteHeader(status)
		if status < 300 {
			_ = json.NewEncoder(rw).Encode(map[string]string{"url": source})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(websites ...config.WebsiteConfig) *config.Config {
	return &config.Config{
		Redis: config.RedisConfig{
			KeyPrefix:   "test:last_post",
			PostTimeTTL: time.Hour,
		},
		Poster:        config.PosterConfig{MinPostDelay: 10 * time.Millisecond},
		Notifications: config.NotificationsConfig{RatePerSecond: 10, Burst: 1},
		Websites:      websites,
	}
}

func TestPosterService_PostsThroughWebsites(t *testing.T) {
	var galleryPosts, blogPosts atomic.Int32
	gallery := siteServer(t, http.StatusOK, "https://gallery.example/1", &galleryPosts)
	blog := siteServer(t, http.StatusOK, "https://blog.example/1", &blogPosts)

	mr := miniredis.RunT(t)
	cfg := testConfig(
		config.WebsiteConfig{Name: "gallery", BaseURL: gallery.URL},
		config.WebsiteConfig{Name: "blog", BaseURL: blog.URL, AcceptsSourceURLs: true},
	)
	cfg.Redis.Enabled = true
	stack := newPostingStack(t, cfg, mr.Addr())

	assert.Equal(t, []string{"blog", "gallery"}, stack.poster.Websites())

	ctx := context.Background()
	require.NoError(t, stack.submissions.Create(ctx, testSubmission("s1", "gallery", "blog")))
	require.NoError(t, stack.poster.Queue(ctx, "s1"))

	require.Eventually(t, func() bool {
		_, err := stack.submissions.GetSubmission(ctx, "s1")
		return err != nil && !stack.poster.IsPosting("s1")
	}, 5*time.Second, 10*time.Millisecond)

	assert.EqualValues(t, 1, galleryPosts.Load())
	assert.EqualValues(t, 1, blogPosts.Load())

	logs, err := stack.logs.ListLogs(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Len(t, logs[0].Parts, 2)

	assert.True(t, mr.Exists("test:last_post:gallery:acct-gallery"))
	assert.True(t, mr.Exists("test:last_post:blog:acct-blog"))

	recent, err := stack.notifications.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "info", recent[0].Level)
}

func TestPosterService_FailureKeepsSubmission(t *testing.T) {
	var posts atomic.Int32
	broken := siteServer(t, http.StatusBadGateway, "", &posts)

	stack := newPostingStack(t, testConfig(config.WebsiteConfig{Name: "gallery", BaseURL: broken.URL}), "")

	ctx := context.Background()
	require.NoError(t, stack.submissions.Create(ctx, testSubmission("s1", "gallery")))
	require.NoError(t, stack.poster.Queue(ctx, "s1"))

	var sub *models.Submission
	require.Eventually(t, func() bool {
		got, err := stack.submissions.GetSubmission(ctx, "s1")
		if err != nil || got.IsPosting || stack.poster.IsPosting("s1") {
			return false
		}
		sub = got
		return true
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.PostStatusFailed, sub.Parts[1].PostStatus)

	require.Eventually(t, func() bool {
		recent, err := stack.notifications.Recent(ctx, 10)
		return err == nil && len(recent) == 1 && recent[0].Level == "error"
	}, time.Second, 10*time.Millisecond)

	logs, err := stack.logs.ListLogs(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "FAILED", logs[0].Parts[0].Outcome.Status)
	assert.Equal(t, map[string]any{"status_code": float64(502), "body": ""}, logs[0].Parts[0].Outcome.AdditionalInfo)
}

func TestPosterService_DisabledWebsiteIsNotRegistered(t *testing.T) {
	disabled := false
	cfg := testConfig(
		config.WebsiteConfig{Name: "gallery", BaseURL: "http://gallery.invalid"},
		config.WebsiteConfig{Name: "blog", BaseURL: "http://blog.invalid", Enabled: &disabled},
	)
	stack := newPostingStack(t, cfg, "")
	assert.Equal(t, []string{"gallery"}, stack.poster.Websites())

	ctx := context.Background()
	require.NoError(t, stack.submissions.Create(ctx, testSubmission("s1", "blog")))

	err := stack.poster.Queue(ctx, "s1")
	var verr *poster.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "blog", verr.Problems[0].Website)
}

func TestPosterService_DuplicateWebsite(t *testing.T) {
	cfg := testConfig(config.WebsiteConfig{Name: "gallery", BaseURL: "http://gallery.invalid"})
	_, err := NewPosterService(cfg, PosterDependencies{
		ExtraWebsites: []poster.Website{webhook.New(webhook.Config{Name: "gallery", BaseURL: "http://other.invalid"}, zap.NewNop())},
	}, zap.NewNop())
	assert.Error(t, err)
}

func TestPosterService_CancelledScheduledSubmissionIsNotPickedUpAgain(t *testing.T) {
	release := make(chan struct{})
	site := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/me" {
			rw.WriteHeader(http.StatusOK)
			return
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
		_ = json.NewEncoder(rw).Encode(map[string]string{"url": "https://gallery.example/1"})
	}))
	t.Cleanup(site.Close)
	defer close(release)

	stack := newPostingStack(t, testConfig(config.WebsiteConfig{Name: "gallery", BaseURL: site.URL}), "")
	ctx := context.Background()

	require.NoError(t, stack.submissions.Create(ctx, testSubmission("s1", "gallery")))
	require.NoError(t, stack.submissions.Create(ctx, testSubmission("s2", "gallery")))
	require.NoError(t, stack.poster.Queue(ctx, "s1"))
	require.True(t, stack.poster.IsPosting("s1"))
	require.NoError(t, stack.submissions.Schedule(ctx, "s2", time.Now().Add(-time.Minute)))

	scheduler := NewScheduler(&config.SchedulerConfig{Enabled: true, Spec: "@every 1h"}, zap.NewNop(), stack.submissions, stack.poster)
	assert.Equal(t, 1, scheduler.runPickup(ctx))
	require.True(t, stack.poster.IsQueued("s2"))

	assert.True(t, stack.poster.Cancel(ctx, "s2"))
	assert.Equal(t, 0, scheduler.runPickup(ctx))
	assert.False(t, stack.poster.IsQueued("s2"))

	sub, err := stack.submissions.GetSubmission(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, sub.IsQueued)
	assert.False(t, sub.IsScheduled)
}

func TestPosterService_ClearsStaleFlagsOnStartup(t *testing.T) {
	ctx := context.Background()
	submissions := NewSubmissionService(newTestDB(t), zap.NewNop())

	require.NoError(t, submissions.Create(ctx, testSubmission("s1", "gallery")))
	require.NoError(t, submissions.Schedule(ctx, "s1", time.Now().Add(-time.Minute)))
	require.NoError(t, submissions.SaveSubmission(ctx, &models.Submission{ID: "s1", IsQueued: true, IsPosting: true, IsScheduled: true}))

	ids, err := submissions.ListDueScheduled(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, ids)

	svc, err := NewPosterService(testConfig(config.WebsiteConfig{Name: "gallery", BaseURL: "http://gallery.invalid"}),
		PosterDependencies{Submissions: submissions}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	ids, err = submissions.ListDueScheduled(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}
