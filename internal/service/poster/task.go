package poster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/crosspost/internal/models"
	"github.com/ifuryst/crosspost/pkg/util"
)

// TaskState is the lifecycle state of a Task. States only move forward.
type TaskState string

const (
	TaskScheduled        TaskState = "SCHEDULED"
	TaskReady            TaskState = "READY"
	TaskWaitingForSource TaskState = "WAITING_FOR_SOURCE"
	TaskPosting          TaskState = "POSTING"
	TaskDone             TaskState = "DONE"
	TaskCancelled        TaskState = "CANCELLED"
)

func (s TaskState) Terminal() bool {
	return s == TaskDone || s == TaskCancelled
}

func (s TaskState) cancellable() bool {
	return s == TaskScheduled || s == TaskReady || s == TaskWaitingForSource
}

type TaskEventType string

const (
	EventReady     TaskEventType = "ready"
	EventWaiting   TaskEventType = "waiting"
	EventPosting   TaskEventType = "posting"
	EventDone      TaskEventType = "done"
	EventCancelled TaskEventType = "cancelled"
)

type TaskEvent struct {
	Type TaskEventType
	Task *Task
}

// TaskConfig carries everything a Task needs for one (submission, account)
// pair.
type TaskConfig struct {
	Submission  *models.Submission
	Part        *models.SubmissionPart
	DefaultPart *models.SubmissionPart
	Website     Website
	Relay       *SourceRelay
	Limiter     *RateLimiter
	Files       FileLoader
	Logger      *zap.Logger
}

// Task drives one part of a submission through
// SCHEDULED -> READY -> [WAITING_FOR_SOURCE ->] POSTING -> DONE.
// It can be cancelled until it starts posting.
type Task struct {
	key         string
	submission  *models.Submission
	part        *models.SubmissionPart
	defaultPart *models.SubmissionPart
	website     Website
	relay       *SourceRelay
	limiter     *RateLimiter
	files       FileLoader
	logger      *zap.Logger
	token       *CancellationToken

	postAt               time.Time
	waitForExternalStart bool

	mu        sync.Mutex
	state     TaskState
	outcome   *PostOutcome
	started   bool
	listeners []func(TaskEvent)
}

func NewTask(ctx context.Context, cfg TaskConfig) *Task {
	name := cfg.Website.Name()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Task{
		key:         fmt.Sprintf("%s/%s", name, cfg.Part.AccountID),
		submission:  cfg.Submission.Clone(),
		part:        cfg.Part.Clone(),
		defaultPart: cfg.DefaultPart.Clone(),
		website:     cfg.Website,
		relay:       cfg.Relay,
		limiter:     cfg.Limiter,
		files:       cfg.Files,
		token:       NewCancellationToken(),
		state:       TaskScheduled,
		logger: logger.With(
			zap.String("submission_id", cfg.Submission.ID),
			zap.String("website", name),
			zap.String("account_id", cfg.Part.AccountID)),
	}
	t.postAt = cfg.Limiter.NextAllowedTime(ctx, cfg.Part.AccountID, name, cfg.Website.WaitBetweenPosts())
	t.waitForExternalStart = cfg.Website.AcceptsSourceURLs() && len(cfg.Relay.Sources()) == 0
	return t
}

// Key identifies the task within its submission.
func (t *Task) Key() string { return t.key }

func (t *Task) Website() string { return t.website.Name() }

func (t *Task) AccountID() string { return t.part.AccountID }

func (t *Task) PostAt() time.Time { return t.postAt }

func (t *Task) WaitForExternalStart() bool { return t.waitForExternalStart }

func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Outcome returns the posting outcome once the task is DONE.
func (t *Task) Outcome() (PostOutcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcome == nil {
		return PostOutcome{}, false
	}
	return *t.outcome, true
}

// Subscribe registers fn for lifecycle events. Listeners run on the task's
// goroutine, or on the caller's goroutine for events caused by Cancel.
func (t *Task) Subscribe(fn func(TaskEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *Task) emit(typ TaskEventType) {
	t.mu.Lock()
	listeners := append([]func(TaskEvent){}, t.listeners...)
	t.mu.Unlock()

	ev := TaskEvent{Type: typ, Task: t}
	for _, fn := range listeners {
		fn(ev)
	}
}

// Start runs the task in its own goroutine. Calling Start twice is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	go t.run(ctx)
}

// Cancel stops the task if it has not started posting. It returns false when
// the task is already posting or finished.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	if !t.state.cancellable() {
		t.mu.Unlock()
		return false
	}
	t.state = TaskCancelled
	t.mu.Unlock()

	t.token.Cancel()
	t.relay.Unsubscribe(t.key)
	t.logger.Info("Post cancelled")
	t.emit(EventCancelled)
	return true
}

func (t *Task) transition(to TaskState, from ...TaskState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range from {
		if t.state == f {
			t.state = to
			return true
		}
	}
	return false
}

func (t *Task) run(ctx context.Context) {
	timer := time.NewTimer(time.Until(t.postAt))
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-t.token.Done():
		return
	case <-ctx.Done():
		t.Cancel()
		return
	}

	if !t.transition(TaskReady, TaskScheduled) {
		return
	}
	t.emit(EventReady)

	if t.waitForExternalStart && len(t.relay.Sources()) == 0 {
		if !t.transition(TaskWaitingForSource, TaskReady) {
			return
		}
		wake := t.relay.Subscribe(t.key)
		t.logger.Debug("Waiting for a source URL")
		t.emit(EventWaiting)

		select {
		case <-wake:
		case <-t.token.Done():
			t.relay.Unsubscribe(t.key)
			return
		case <-ctx.Done():
			t.Cancel()
			return
		}
	}

	if !t.transition(TaskPosting, TaskReady, TaskWaitingForSource) {
		return
	}
	t.logger.Info("Posting")
	t.emit(EventPosting)

	outcome := t.post(ctx)
	if outcome.Succeeded() {
		t.limiter.RecordSuccess(ctx, t.part.AccountID, t.website.Name(), outcome.Time)
		t.relay.Publish(outcome.Source)
		t.logger.Info("Post succeeded", zap.String("source", outcome.Source))
	} else {
		t.logger.Warn("Post failed", zap.String("message", outcome.Message))
	}

	t.mu.Lock()
	t.outcome = &outcome
	t.state = TaskDone
	t.mu.Unlock()
	t.emit(EventDone)
}

func (t *Task) post(ctx context.Context) (outcome PostOutcome) {
	name := t.website.Name()
	defer func() {
		if r := recover(); r != nil {
			outcome = failedOutcome(name, fmt.Errorf("website panicked: %v", r), time.Now())
		}
	}()

	login, err := t.website.CheckLogin(ctx, t.part.AccountID)
	if err != nil {
		return failedOutcome(name, fmt.Errorf("login check failed: %w", err), time.Now())
	}
	if !login.LoggedIn {
		return failedOutcome(name, ErrNotLoggedIn, time.Now())
	}

	data := t.postData()

	var resp *PostResponse
	if t.submission.Type == models.SubmissionTypeFile {
		fileData, err := t.loadFiles(ctx, data)
		if err != nil {
			return failedOutcome(name, err, time.Now())
		}
		resp, err = t.website.PostFile(ctx, t.token, fileData)
		if err != nil {
			return failedOutcome(name, err, time.Now())
		}
	} else {
		resp, err = t.website.PostNotification(ctx, t.token, data)
		if err != nil {
			return failedOutcome(name, err, time.Now())
		}
	}

	if resp == nil {
		resp = &PostResponse{}
	}
	return successOutcome(name, resp, time.Now())
}

// postData merges the part over the default part.
func (t *Task) postData() PostData {
	def := models.PartData{}
	if t.defaultPart != nil {
		def = t.defaultPart.Data
	}
	own := t.part.Data

	description := own.Description
	if own.UseDefaultDescription || description == "" {
		description = def.Description
	}

	var tags []string
	switch {
	case own.ExtendDefaultTags:
		tags = util.DedupeStrings(def.Tags, own.Tags)
	case len(own.Tags) > 0:
		tags = util.DedupeStrings(own.Tags)
	default:
		tags = util.DedupeStrings(def.Tags)
	}

	return PostData{
		SubmissionID: t.submission.ID,
		AccountID:    t.part.AccountID,
		Title:        util.FirstNonEmpty(own.Title, def.Title, t.submission.Title),
		Description:  description,
		Tags:         tags,
		Rating:       util.FirstNonEmpty(own.Rating, def.Rating),
		Sources:      t.relay.Sources(),
		Options:      own.Options,
	}
}

func (t *Task) loadFiles(ctx context.Context, data PostData) (FilePostData, error) {
	out := FilePostData{PostData: data}
	if t.files == nil {
		return out, errors.New("no file loader configured")
	}

	primary, err := t.files.Load(ctx, t.submission.PrimaryFile)
	if err != nil {
		return out, fmt.Errorf("failed to load primary file: %w", err)
	}
	out.Primary = primary

	if t.submission.ThumbnailFile != "" {
		thumb, err := t.files.Load(ctx, t.submission.ThumbnailFile)
		if err != nil {
			return out, fmt.Errorf("failed to load thumbnail: %w", err)
		}
		out.Thumbnail = &thumb
	}

	for _, ref := range t.submission.AdditionalFiles {
		f, err := t.files.Load(ctx, ref)
		if err != nil {
			return out, fmt.Errorf("failed to load additional file %s: %w", ref, err)
		}
		out.Additional = append(out.Additional, f)
	}
	return out, nil
}
