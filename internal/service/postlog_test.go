package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/crosspost/internal/models"
)

func TestPostLogService_CreateAndList(t *testing.T) {
	ctx := context.Background()
	svc := NewPostLogService(newTestDB(t))

	snapshot := testSubmission("s1", "gallery")
	first := &models.SubmissionLog{
		ID:            "log-1",
		SubmissionID:  "s1",
		Submission:    *snapshot,
		SchemaVersion: models.SubmissionLogSchemaVersion,
		CreatedAt:     time.Now().Add(-time.Minute),
		Parts: []models.LoggedPart{{
			Part: snapshot.Parts[1],
			Outcome: models.LoggedOutcome{
				Status:         "FAILED",
				Message:        "API returned status 502",
				Website:        "gallery",
				AdditionalInfo: map[string]any{"status_code": float64(502)},
			},
		}},
	}
	second := &models.SubmissionLog{
		ID:            "log-2",
		SubmissionID:  "s1",
		Submission:    *snapshot,
		SchemaVersion: models.SubmissionLogSchemaVersion,
		Parts: []models.LoggedPart{{
			Part:    snapshot.Parts[1],
			Outcome: models.LoggedOutcome{Status: "SUCCESS", Source: "https://gallery.example/1", Website: "gallery"},
		}},
	}
	other := &models.SubmissionLog{ID: "log-3", SubmissionID: "s2", SchemaVersion: models.SubmissionLogSchemaVersion}

	require.NoError(t, svc.CreateLog(ctx, first))
	require.NoError(t, svc.CreateLog(ctx, second))
	require.NoError(t, svc.CreateLog(ctx, other))

	logs, err := svc.ListLogs(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, "log-2", logs[0].ID)
	assert.Equal(t, "log-1", logs[1].ID)
	assert.Equal(t, "title s1", logs[1].Submission.Title)
	require.Len(t, logs[1].Parts, 1)
	assert.Equal(t, "gallery", logs[1].Parts[0].Part.Website)
	assert.Equal(t, map[string]any{"status_code": float64(502)}, logs[1].Parts[0].Outcome.AdditionalInfo)
	assert.Equal(t, "https://gallery.example/1", logs[0].Parts[0].Outcome.Source)
}
