package poster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifuryst/crosspost/internal/models"
)

// SubmissionStore persists submissions and their parts.
type SubmissionStore interface {
	// GetSubmission loads a submission with its parts. It returns an error
	// wrapping ErrNotFound for unknown ids.
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	// SaveSubmission persists the posting flags (IsPosting, IsQueued,
	// IsScheduled) of the submission.
	SaveSubmission(ctx context.Context, sub *models.Submission) error
	UpdatePart(ctx context.Context, part *models.SubmissionPart) error
	DeleteSubmission(ctx context.Context, id string) error
}

// LogStore persists audit entries.
type LogStore interface {
	CreateLog(ctx context.Context, entry *models.SubmissionLog) error
}

type NotificationLevel string

const (
	LevelInfo  NotificationLevel = "info"
	LevelWarn  NotificationLevel = "warn"
	LevelError NotificationLevel = "error"
)

// FailedPost is one line of a failure notification.
type FailedPost struct {
	Website   string `json:"website"`
	AccountID string `json:"account_id"`
	Message   string `json:"message"`
}

type Notification struct {
	Level        NotificationLevel `json:"level"`
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	SubmissionID string            `json:"submission_id,omitempty"`
	Failures     []FailedPost      `json:"failures,omitempty"`
}

// Notifier tells the user how a submission went. Implementations must not
// call back into the Orchestrator.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type Options struct {
	// EmptyQueueOnFailure drops the remaining queue of a type after any
	// failed post of that type.
	EmptyQueueOnFailure bool
}

type Dependencies struct {
	Store    SubmissionStore
	Logs     LogStore
	Notifier Notifier
	Registry *Registry
	Limiter  *RateLimiter
	Files    FileLoader
	Logger   *zap.Logger
}

type activeSubmission struct {
	submission  *models.Submission
	defaultPart *models.SubmissionPart
	relay       *SourceRelay
	tasks       []*Task
	parts       map[*Task]*models.SubmissionPart
	persisted   map[*Task]bool
	startedAt   time.Time
	cancelling  bool
	finished    bool
}

// Orchestrator owns the posting pipeline: one queue per submission type, at
// most one active submission per type, and the tasks of every active
// submission.
type Orchestrator struct {
	deps   Dependencies
	opts   Options
	logger *zap.Logger

	ctx  context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	queues map[models.SubmissionType]*SubmissionQueue
	active map[models.SubmissionType]*activeSubmission
}

func NewOrchestrator(deps Dependencies, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger,
		ctx:    ctx,
		stop:   stop,
		queues: make(map[models.SubmissionType]*SubmissionQueue),
		active: make(map[models.SubmissionType]*activeSubmission),
	}
	for _, typ := range models.SubmissionTypes {
		o.queues[typ] = NewSubmissionQueue(typ)
	}
	return o
}

// Close cancels every task that has not started posting. Posts in flight see
// their context cancelled.
func (o *Orchestrator) Close() {
	o.stop()
}

// Queue validates the submission and either starts posting it or appends it
// to the queue of its type. Queuing a submission that is already queued or
// posting is a no-op.
func (o *Orchestrator) Queue(ctx context.Context, id string) error {
	sub, err := o.deps.Store.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	if !sub.Type.Valid() {
		return fmt.Errorf("submission %s has unknown type %q", id, sub.Type)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	q := o.queues[sub.Type]
	if q.IsActive(id) || q.IsQueued(id) {
		return nil
	}

	if o.active[sub.Type] == nil {
		return o.activateLocked(sub)
	}

	if err := o.validate(sub); err != nil {
		return err
	}
	if !q.Enqueue(sub) {
		return nil
	}
	sub.IsQueued = true
	sub.IsPosting = false
	o.saveSubmissionLocked(sub)
	o.logger.Info("Submission queued",
		zap.String("submission_id", id),
		zap.String("type", string(sub.Type)),
		zap.Int("position", q.Len()))
	return nil
}

// Cancel removes a queued submission or cancels the tasks of an active one.
// It reports whether the submission was found.
func (o *Orchestrator) Cancel(ctx context.Context, id string) bool {
	o.mu.Lock()
	for _, q := range o.queues {
		if removed, ok := q.Remove(id); ok {
			o.dequeuedLocked(removed)
			o.mu.Unlock()
			o.logger.Info("Queued submission cancelled", zap.String("submission_id", id))
			return true
		}
	}

	var tasks []*Task
	found := false
	for _, entry := range o.active {
		if entry.submission.ID == id && !entry.finished {
			entry.cancelling = true
			tasks = append(tasks, entry.tasks...)
			found = true
		}
	}
	o.mu.Unlock()

	if !found {
		return false
	}

	// Task.Cancel emits events that take o.mu, so it runs unlocked.
	cancelled := 0
	for _, t := range tasks {
		if t.Cancel() {
			cancelled++
		}
	}
	o.logger.Info("Active submission cancelled",
		zap.String("submission_id", id),
		zap.Int("cancelled_tasks", cancelled),
		zap.Int("total_tasks", len(tasks)))
	return true
}

// CancelAll empties the queue of typ and cancels its active submission.
func (o *Orchestrator) CancelAll(ctx context.Context, typ models.SubmissionType) {
	o.mu.Lock()
	q, ok := o.queues[typ]
	if !ok {
		o.mu.Unlock()
		return
	}
	drained := q.Drain()
	for _, sub := range drained {
		o.dequeuedLocked(sub)
	}

	var tasks []*Task
	if entry := o.active[typ]; entry != nil && !entry.finished {
		entry.cancelling = true
		tasks = append(tasks, entry.tasks...)
	}
	o.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	o.logger.Info("Cancelled all submissions",
		zap.String("type", string(typ)),
		zap.Int("dequeued", len(drained)),
		zap.Int("active_tasks", len(tasks)))
}

// IsPosting reports whether id is the active submission of its type.
func (o *Orchestrator) IsPosting(id string) bool {
	for _, q := range o.queues {
		if q.IsActive(id) {
			return true
		}
	}
	return false
}

// IsQueued reports whether id is waiting in a queue.
func (o *Orchestrator) IsQueued(id string) bool {
	for _, q := range o.queues {
		if q.IsQueued(id) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) validate(sub *models.Submission) error {
	var problems []Problem
	var defaultPart *models.SubmissionPart
	targets := 0

	for i := range sub.Parts {
		if sub.Parts[i].IsDefault {
			defaultPart = &sub.Parts[i]
		} else {
			targets++
		}
	}

	if defaultPart == nil {
		problems = append(problems, Problem{Message: "submission has no default part"})
	}
	if targets == 0 {
		problems = append(problems, Problem{Message: "no websites selected"})
	}
	if sub.Type == models.SubmissionTypeFile && sub.PrimaryFile == "" {
		problems = append(problems, Problem{Message: "file submission has no primary file"})
	}

	for i := range sub.Parts {
		part := &sub.Parts[i]
		if part.IsDefault || part.PostStatus == models.PostStatusSuccess {
			continue
		}
		website, err := o.deps.Registry.Get(part.Website)
		if err != nil {
			problems = append(problems, Problem{Website: part.Website, AccountID: part.AccountID, Message: err.Error()})
			continue
		}
		result := website.Validate(sub, part, defaultPart)
		for _, msg := range result.Problems {
			problems = append(problems, Problem{Website: part.Website, AccountID: part.AccountID, Message: msg})
		}
		for _, msg := range result.Warnings {
			o.logger.Warn("Validation warning",
				zap.String("submission_id", sub.ID),
				zap.String("website", part.Website),
				zap.String("warning", msg))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{SubmissionID: sub.ID, Problems: problems}
	}
	return nil
}

func (o *Orchestrator) activateLocked(sub *models.Submission) error {
	if err := o.validate(sub); err != nil {
		return err
	}

	var defaultPart *models.SubmissionPart
	for i := range sub.Parts {
		if sub.Parts[i].IsDefault {
			defaultPart = &sub.Parts[i]
			break
		}
	}

	sub.IsScheduled = false
	sub.IsPosting = true
	sub.IsQueued = false
	if err := o.deps.Store.SaveSubmission(o.ctx, sub); err != nil {
		return fmt.Errorf("failed to mark submission %s as posting: %w", sub.ID, err)
	}

	entry := &activeSubmission{
		submission:  sub,
		defaultPart: defaultPart,
		relay:       NewSourceRelay(sub.Sources),
		parts:       make(map[*Task]*models.SubmissionPart),
		persisted:   make(map[*Task]bool),
		startedAt:   time.Now(),
	}

	for i := range sub.Parts {
		part := &sub.Parts[i]
		if part.IsDefault {
			continue
		}
		if part.PostStatus == models.PostStatusSuccess {
			o.logger.Debug("Skipping website already posted to",
				zap.String("submission_id", sub.ID),
				zap.String("website", part.Website))
			continue
		}
		website, err := o.deps.Registry.Get(part.Website)
		if err != nil {
			// validate already rejected unknown websites
			return err
		}
		task := NewTask(o.ctx, TaskConfig{
			Submission:  sub,
			Part:        part,
			DefaultPart: defaultPart,
			Website:     website,
			Relay:       entry.relay,
			Limiter:     o.deps.Limiter,
			Files:       o.deps.Files,
			Logger:      o.logger,
		})
		task.Subscribe(func(ev TaskEvent) { o.handleEvent(entry, ev) })
		entry.tasks = append(entry.tasks, task)
		entry.parts[task] = part
	}

	o.queues[sub.Type].MarkActive(sub)
	o.active[sub.Type] = entry

	o.logger.Info("Submission posting started",
		zap.String("submission_id", sub.ID),
		zap.String("type", string(sub.Type)),
		zap.Int("tasks", len(entry.tasks)))

	if len(entry.tasks) == 0 {
		o.finishLocked(entry)
		return nil
	}
	for _, t := range entry.tasks {
		t.Start(o.ctx)
	}
	return nil
}

func (o *Orchestrator) handleEvent(entry *activeSubmission, ev TaskEvent) {
	switch ev.Type {
	case EventWaiting, EventDone, EventCancelled:
	default:
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if entry.finished || o.active[entry.submission.Type] != entry {
		return
	}
	if ev.Type == EventDone {
		o.persistOutcomeLocked(entry, ev.Task)
	}
	o.checkCompletionLocked(entry)
}

func (o *Orchestrator) persistOutcomeLocked(entry *activeSubmission, task *Task) {
	outcome, ok := task.Outcome()
	part := entry.parts[task]
	if !ok || part == nil || entry.persisted[task] {
		return
	}
	entry.persisted[task] = true

	if outcome.Succeeded() {
		part.PostStatus = models.PostStatusSuccess
		if part.PostedTo == "" && outcome.Source != "" {
			part.PostedTo = outcome.Source
		}
	} else {
		part.PostStatus = models.PostStatusFailed
	}

	if err := o.deps.Store.UpdatePart(o.ctx, part); err != nil {
		o.logger.Error("Failed to persist part status",
			zap.String("submission_id", entry.submission.ID),
			zap.String("website", part.Website),
			zap.Error(err))
	}
}

// checkCompletionLocked finishes the submission once every task is terminal.
// When the only tasks left are waiting for a source nobody can produce, it
// starts them without one.
func (o *Orchestrator) checkCompletionLocked(entry *activeSubmission) {
	pending, waiting := 0, 0
	for _, t := range entry.tasks {
		state := t.State()
		if state.Terminal() {
			continue
		}
		pending++
		if state == TaskWaitingForSource {
			waiting++
		}
	}

	if pending == 0 {
		o.finishLocked(entry)
		return
	}
	if waiting == pending && !entry.cancelling {
		if n := entry.relay.ForceStartAll(); n > 0 {
			o.logger.Info("No source URL will be produced, starting waiting tasks",
				zap.String("submission_id", entry.submission.ID),
				zap.Int("tasks", n))
		}
	}
}

func (o *Orchestrator) finishLocked(entry *activeSubmission) {
	entry.finished = true
	sub := entry.submission
	q := o.queues[sub.Type]

	// Tasks that finished while another handler held o.mu have not been
	// written yet.
	for _, t := range entry.tasks {
		o.persistOutcomeLocked(entry, t)
	}

	var logged []models.LoggedPart
	var failures []FailedPost
	allSucceeded := true
	for _, t := range entry.tasks {
		outcome, ok := t.Outcome()
		if !ok {
			// cancelled
			allSucceeded = false
			continue
		}
		logged = append(logged, models.LoggedPart{Part: *entry.parts[t].Clone(), Outcome: outcome.logged()})
		if !outcome.Succeeded() {
			allSucceeded = false
			failures = append(failures, FailedPost{Website: t.Website(), AccountID: t.AccountID(), Message: outcome.Message})
		}
	}

	if len(logged) > 0 {
		o.writeLogLocked(sub, logged)
	}

	logger := o.logger.With(
		zap.String("submission_id", sub.ID),
		zap.Duration("duration", time.Since(entry.startedAt)))

	if allSucceeded {
		if err := o.deps.Store.DeleteSubmission(o.ctx, sub.ID); err != nil {
			logger.Error("Failed to delete posted submission", zap.Error(err))
		}
		logger.Info("Submission posted to every website")
		o.notify(Notification{
			Level:        LevelInfo,
			Title:        "Posted",
			Message:      fmt.Sprintf("%s was posted successfully", displayTitle(sub)),
			SubmissionID: sub.ID,
		})
	} else {
		sub.IsPosting = false
		o.saveSubmissionLocked(sub)

		if len(failures) > 0 {
			lines := make([]string, 0, len(failures))
			for _, f := range failures {
				lines = append(lines, fmt.Sprintf("%s: %s", f.Website, f.Message))
			}
			logger.Warn("Submission finished with failures", zap.Int("failed", len(failures)))
			o.notify(Notification{
				Level:        LevelError,
				Title:        "Post failed",
				Message:      fmt.Sprintf("%s failed to post\n%s", displayTitle(sub), strings.Join(lines, "\n")),
				SubmissionID: sub.ID,
				Failures:     failures,
			})

			if o.opts.EmptyQueueOnFailure {
				drained := q.Drain()
				for _, d := range drained {
					o.dequeuedLocked(d)
				}
				if len(drained) > 0 {
					logger.Info("Queue emptied after failure",
						zap.String("type", string(sub.Type)),
						zap.Int("removed", len(drained)))
				}
			}
		} else {
			logger.Info("Submission posting cancelled")
		}
	}

	delete(o.active, sub.Type)
	q.ClearActive()
	o.startNextLocked(sub.Type)
}

func (o *Orchestrator) writeLogLocked(sub *models.Submission, parts []models.LoggedPart) {
	entry := &models.SubmissionLog{
		ID:            uuid.NewString(),
		SubmissionID:  sub.ID,
		Submission:    *sub.Clone(),
		Parts:         parts,
		SchemaVersion: models.SubmissionLogSchemaVersion,
	}
	if err := o.deps.Logs.CreateLog(o.ctx, entry); err != nil {
		o.logger.Error("Failed to write submission log",
			zap.String("submission_id", sub.ID),
			zap.Error(err))
	}
}

// startNextLocked activates the next queued submission of typ, skipping any
// that were deleted or no longer validate.
func (o *Orchestrator) startNextLocked(typ models.SubmissionType) {
	q := o.queues[typ]
	for {
		next, ok := q.DequeueNext()
		if !ok {
			return
		}

		fresh, err := o.deps.Store.GetSubmission(o.ctx, next.ID)
		if err != nil {
			o.logger.Warn("Skipping queued submission that could not be loaded",
				zap.String("submission_id", next.ID),
				zap.Error(err))
			continue
		}

		err = o.activateLocked(fresh)
		if err == nil {
			return
		}

		o.logger.Warn("Skipping queued submission that failed to start",
			zap.String("submission_id", fresh.ID),
			zap.Error(err))
		fresh.IsPosting = false
		o.dequeuedLocked(fresh)

		n := Notification{
			Level:        LevelWarn,
			Title:        "Submission skipped",
			Message:      fmt.Sprintf("%s was removed from the queue: %v", displayTitle(fresh), err),
			SubmissionID: fresh.ID,
		}
		var verr *ValidationError
		if errors.As(err, &verr) {
			for _, p := range verr.Problems {
				n.Failures = append(n.Failures, FailedPost{Website: p.Website, AccountID: p.AccountID, Message: p.Message})
			}
		}
		o.notify(n)
	}
}

// dequeuedLocked persists a submission that left the queue without being
// posted. Its schedule is cleared too, otherwise the scheduler would queue it
// again on the next pickup.
func (o *Orchestrator) dequeuedLocked(sub *models.Submission) {
	sub.IsQueued = false
	sub.IsScheduled = false
	o.saveSubmissionLocked(sub)
}

func (o *Orchestrator) saveSubmissionLocked(sub *models.Submission) {
	if err := o.deps.Store.SaveSubmission(o.ctx, sub); err != nil {
		o.logger.Error("Failed to save submission",
			zap.String("submission_id", sub.ID),
			zap.Error(err))
	}
}

func (o *Orchestrator) notify(n Notification) {
	if o.deps.Notifier == nil {
		return
	}
	o.deps.Notifier.Notify(o.ctx, n)
}

func displayTitle(sub *models.Submission) string {
	if sub.Title != "" {
		return sub.Title
	}
	return sub.ID
}
