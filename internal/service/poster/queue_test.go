package poster

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/crosspost/internal/models"
)

func ids(subs []*models.Submission) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.ID)
	}
	return out
}

func TestSubmissionQueue_FIFOAndIdempotentEnqueue(t *testing.T) {
	q := NewSubmissionQueue(models.SubmissionTypeFile)
	assert.Equal(t, models.SubmissionTypeFile, q.Type())

	assert.True(t, q.Enqueue(&models.Submission{ID: "1"}))
	assert.True(t, q.Enqueue(&models.Submission{ID: "2"}))
	assert.False(t, q.Enqueue(&models.Submission{ID: "1"}))
	assert.True(t, q.Enqueue(&models.Submission{ID: "3"}))

	if diff := cmp.Diff([]string{"1", "2", "3"}, ids(q.Snapshot())); diff != "" {
		t.Errorf("queue order mismatch (-want +got):\n%s", diff)
	}

	next, ok := q.DequeueNext()
	require.True(t, ok)
	assert.Equal(t, "1", next.ID)
	assert.Equal(t, 2, q.Len())
}

func TestSubmissionQueue_ActiveIsNotQueuedTwice(t *testing.T) {
	q := NewSubmissionQueue(models.SubmissionTypeNotification)
	active := &models.Submission{ID: "a"}
	q.MarkActive(active)

	assert.True(t, q.IsActive("a"))
	assert.False(t, q.Enqueue(&models.Submission{ID: "a"}))
	_, ok := q.Remove("a")
	assert.False(t, ok, "the active submission cannot be removed from the queue")

	got, ok := q.Active()
	require.True(t, ok)
	assert.Same(t, active, got)

	q.ClearActive()
	assert.False(t, q.IsActive("a"))
	_, ok = q.Active()
	assert.False(t, ok)
}

func TestSubmissionQueue_RemoveAndDrain(t *testing.T) {
	q := NewSubmissionQueue(models.SubmissionTypeFile)
	for _, id := range []string{"1", "2", "3"} {
		q.Enqueue(&models.Submission{ID: id})
	}

	removed, ok := q.Remove("2")
	require.True(t, ok)
	assert.Equal(t, "2", removed.ID)
	assert.False(t, q.IsQueued("2"))
	assert.True(t, q.IsQueued("3"))

	drained := q.Drain()
	assert.Equal(t, []string{"1", "3"}, ids(drained))
	assert.Equal(t, 0, q.Len())

	_, ok = q.DequeueNext()
	assert.False(t, ok)
}
