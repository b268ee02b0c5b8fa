package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resqfood/models"
)

func openTestJournal(t *testing.T) *Journal {
	j, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "journal.sqlite3"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func record(t *testing.T, j *Journal, kind models.DiagnosticKind, postID string, at time.Time) {
	require.NoError(t, j.Record(context.Background(), &models.Diagnostic{
		ID:        uuid.NewString(),
		Kind:      kind,
		Role:      "map",
		PostID:    postID,
		Detail:    string(kind) + " for " + postID,
		CreatedAt: at,
	}))
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	base := time.Now().Add(-time.Hour).UTC()
	record(t, j, models.DiagIllegalTransition, "a", base)
	record(t, j, models.DiagStaleOverwrite, "b", base.Add(time.Minute))
	record(t, j, models.DiagIllegalTransition, "c", base.Add(2*time.Minute))

	all, err := j.Recent(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].PostID)
	assert.Equal(t, "a", all[2].PostID)

	illegal, err := j.Recent(context.Background(), models.DiagIllegalTransition, 1)
	require.NoError(t, err)
	require.Len(t, illegal, 1)
	assert.Equal(t, "c", illegal[0].PostID)
}

func TestCountByKind(t *testing.T) {
	j := openTestJournal(t)
	now := time.Now().UTC()
	record(t, j, models.DiagUnknownEvent, "", now)
	record(t, j, models.DiagUnknownEvent, "", now)
	record(t, j, models.DiagFetchFailure, "", now)

	counts, err := j.CountByKind(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[models.DiagnosticKind]int64{
		models.DiagUnknownEvent: 2,
		models.DiagFetchFailure: 1,
	}, counts)
}

func TestPrune(t *testing.T) {
	j := openTestJournal(t)
	now := time.Now().UTC()
	record(t, j, models.DiagTransport, "", now.Add(-48*time.Hour))
	record(t, j, models.DiagTransport, "", now)

	n, err := j.Prune(context.Background(), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := j.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", nil)
	assert.Error(t, err)
	_, err = Open(DriverSQLite, "", nil)
	assert.Error(t, err)
}
