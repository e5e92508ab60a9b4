package poster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/crosspost/internal/models"
)

const testFloor = 10 * time.Millisecond

type fakeWebsite struct {
	name     string
	accepts  bool
	interval time.Duration

	loginErr    error
	notLoggedIn bool
	postErr     error
	source      string
	problems    []string
	// release, when set, blocks PostFile/PostNotification until closed.
	release chan struct{}
	posting chan struct{}
	panics  bool

	loginCalls    atomic.Int32
	postCalls     atomic.Int32
	validateCalls atomic.Int32

	mu       sync.Mutex
	received []PostData
	files    []FilePostData
}

func newFakeWebsite(name string) *fakeWebsite {
	return &fakeWebsite{name: name}
}

func (w *fakeWebsite) Name() string                    { return w.name }
func (w *fakeWebsite) AcceptsSourceURLs() bool         { return w.accepts }
func (w *fakeWebsite) WaitBetweenPosts() time.Duration { return w.interval }

func (w *fakeWebsite) CheckLogin(ctx context.Context, accountID string) (LoginStatus, error) {
	w.loginCalls.Add(1)
	if w.loginErr != nil {
		return LoginStatus{}, w.loginErr
	}
	return LoginStatus{LoggedIn: !w.notLoggedIn, Username: accountID}, nil
}

func (w *fakeWebsite) post(data PostData) (*PostResponse, error) {
	w.postCalls.Add(1)
	if w.posting != nil {
		close(w.posting)
	}
	if w.release != nil {
		<-w.release
	}
	if w.panics {
		panic("boom")
	}
	w.mu.Lock()
	w.received = append(w.received, data)
	w.mu.Unlock()
	if w.postErr != nil {
		return nil, w.postErr
	}
	return &PostResponse{Source: w.source}, nil
}

func (w *fakeWebsite) PostFile(ctx context.Context, token *CancellationToken, data FilePostData) (*PostResponse, error) {
	w.mu.Lock()
	w.files = append(w.files, data)
	w.mu.Unlock()
	return w.post(data.PostData)
}

func (w *fakeWebsite) PostNotification(ctx context.Context, token *CancellationToken, data PostData) (*PostResponse, error) {
	return w.post(data)
}

func (w *fakeWebsite) Validate(sub *models.Submission, part, defaultPart *models.SubmissionPart) ValidationResult {
	w.validateCalls.Add(1)
	return ValidationResult{Problems: w.problems}
}

func (w *fakeWebsite) Received() []PostData {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]PostData(nil), w.received...)
}

type memStore struct {
	mu          sync.Mutex
	submissions map[string]*models.Submission
	deleted     map[string]bool
	partUpdates []models.SubmissionPart
}

func newMemStore(subs ...*models.Submission) *memStore {
	s := &memStore{submissions: make(map[string]*models.Submission), deleted: make(map[string]bool)}
	for _, sub := range subs {
		s.submissions[sub.ID] = sub.Clone()
	}
	return s
}

func (s *memStore) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sub.Clone(), nil
}

func (s *memStore) SaveSubmission(ctx context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.submissions[sub.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sub.ID)
	}
	stored.IsPosting = sub.IsPosting
	stored.IsQueued = sub.IsQueued
	stored.IsScheduled = sub.IsScheduled
	return nil
}

func (s *memStore) UpdatePart(ctx context.Context, part *models.SubmissionPart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partUpdates = append(s.partUpdates, *part.Clone())
	sub, ok := s.submissions[part.SubmissionID]
	if !ok {
		return errors.New("no submission")
	}
	for i := range sub.Parts {
		if sub.Parts[i].Website == part.Website && sub.Parts[i].AccountID == part.AccountID {
			sub.Parts[i] = *part.Clone()
		}
	}
	return nil
}

func (s *memStore) DeleteSubmission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.submissions, id)
	s.deleted[id] = true
	return nil
}

func (s *memStore) get(id string) (*models.Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, false
	}
	return sub.Clone(), true
}

func (s *memStore) isDeleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted[id]
}

func (s *memStore) replace(sub *models.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.ID] = sub.Clone()
}

type memLogs struct {
	mu      sync.Mutex
	entries []*models.SubmissionLog
}

func (l *memLogs) CreateLog(ctx context.Context, entry *models.SubmissionLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *memLogs) forSubmission(id string) []*models.SubmissionLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.SubmissionLog
	for _, e := range l.entries {
		if e.SubmissionID == id {
			out = append(out, e)
		}
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, notification)
}

func (n *recordingNotifier) forSubmission(id string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, item := range n.items {
		if item.SubmissionID == id {
			out = append(out, item)
		}
	}
	return out
}

type memFiles struct {
	files map[string][]byte
}

func (f memFiles) Load(ctx context.Context, ref string) (PostFile, error) {
	data, ok := f.files[ref]
	if !ok {
		return PostFile{}, fmt.Errorf("file %s not found", ref)
	}
	return PostFile{Name: ref, MimeType: "application/octet-stream", Data: data}, nil
}

type harness struct {
	store    *memStore
	logs     *memLogs
	notifier *recordingNotifier
	registry *Registry
	times    *MemoryPostTimeStore
	limiter  *RateLimiter
	orch     *Orchestrator
}

func newHarness(opts Options, websites []*fakeWebsite, subs ...*models.Submission) *harness {
	logger := zap.NewNop()
	h := &harness{
		store:    newMemStore(subs...),
		logs:     &memLogs{},
		notifier: &recordingNotifier{},
		registry: NewRegistry(logger),
		times:    NewMemoryPostTimeStore(),
	}
	for _, w := range websites {
		if err := h.registry.Register(w); err != nil {
			panic(err)
		}
	}
	h.limiter = NewRateLimiter(h.times, logger, WithMinPostDelay(testFloor))
	h.orch = NewOrchestrator(Dependencies{
		Store:    h.store,
		Logs:     h.logs,
		Notifier: h.notifier,
		Registry: h.registry,
		Limiter:  h.limiter,
		Files:    memFiles{files: map[string][]byte{"primary.png": []byte("png"), "thumb.png": []byte("thumb")}},
		Logger:   logger,
	}, opts)
	return h
}

func notificationSubmission(id string, websites ...string) *models.Submission {
	sub := &models.Submission{
		ID:    id,
		Type:  models.SubmissionTypeNotification,
		Title: "title " + id,
		Parts: []models.SubmissionPart{{
			SubmissionID: id,
			AccountID:    "default",
			Website:      "default",
			IsDefault:    true,
			Data: models.PartData{
				Title:       "default title",
				Description: "default description",
				Tags:        []string{"art", "sketch"},
				Rating:      "general",
			},
		}},
	}
	for _, w := range websites {
		sub.Parts = append(sub.Parts, models.SubmissionPart{
			SubmissionID: id,
			AccountID:    "acct-" + w,
			Website:      w,
			PostStatus:   models.PostStatusUnposted,
		})
	}
	return sub
}
