package service

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ifuryst/crosspost/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Every connection to ":memory:" is a separate database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func testSubmission(id string, websites ...string) *models.Submission {
	sub := &models.Submission{
		ID:    id,
		Type:  models.SubmissionTypeNotification,
		Title: "title " + id,
		Parts: []models.SubmissionPart{{
			AccountID: "default",
			Website:   "default",
			IsDefault: true,
			Data: models.PartData{
				Title:       "default title",
				Description: "default description",
				Tags:        []string{"art"},
			},
		}},
	}
	for _, w := range websites {
		sub.Parts = append(sub.Parts, models.SubmissionPart{
			AccountID: "acct-" + w,
			Website:   w,
		})
	}
	return sub
}
