package poster

import (
	"sync"

	"github.com/ifuryst/crosspost/internal/models"
)

// SubmissionQueue is the FIFO of submissions of one type waiting to be
// posted, plus the one submission of that type currently posting.
type SubmissionQueue struct {
	mu     sync.Mutex
	typ    models.SubmissionType
	items  []*models.Submission
	active *models.Submission
}

func NewSubmissionQueue(typ models.SubmissionType) *SubmissionQueue {
	return &SubmissionQueue{typ: typ}
}

func (q *SubmissionQueue) Type() models.SubmissionType { return q.typ }

func (q *SubmissionQueue) indexLocked(id string) int {
	for i, s := range q.items {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Enqueue appends sub unless it is already queued or active. It reports
// whether the submission was added.
func (q *SubmissionQueue) Enqueue(sub *models.Submission) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active != nil && q.active.ID == sub.ID {
		return false
	}
	if q.indexLocked(sub.ID) >= 0 {
		return false
	}
	q.items = append(q.items, sub)
	return true
}

// DequeueNext pops the oldest queued submission.
func (q *SubmissionQueue) DequeueNext() (*models.Submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	next := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return next, true
}

// Remove drops a queued submission. The active submission is never removed.
func (q *SubmissionQueue) Remove(id string) (*models.Submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(id)
	if i < 0 {
		return nil, false
	}
	removed := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	return removed, true
}

// Drain removes and returns every queued submission.
func (q *SubmissionQueue) Drain() []*models.Submission {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.items
	q.items = nil
	return drained
}

func (q *SubmissionQueue) MarkActive(sub *models.Submission) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = sub
}

func (q *SubmissionQueue) ClearActive() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = nil
}

func (q *SubmissionQueue) Active() (*models.Submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active, q.active != nil
}

func (q *SubmissionQueue) IsActive(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active != nil && q.active.ID == id
}

func (q *SubmissionQueue) IsQueued(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(id) >= 0
}

func (q *SubmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the queued submissions in order.
func (q *SubmissionQueue) Snapshot() []*models.Submission {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*models.Submission(nil), q.items...)
}
