package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resqfood/models"
)

// memJournal - журнал диагностик в памяти
type memJournal struct {
	mu      sync.Mutex
	records []models.Diagnostic
	err     error
}

func (j *memJournal) Record(_ context.Context, d *models.Diagnostic) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.records = append(j.records, *d)
	return nil
}

func (j *memJournal) all() []models.Diagnostic {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.Diagnostic(nil), j.records...)
}

func TestDiagnosticsWorkerJournalsReports(t *testing.T) {
	journal := &memJournal{}
	d := NewDiagnostics(quietLogger(), journal)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.StartWorker(ctx)

	d.Report(models.DiagIllegalTransition, RoleOwner, "p1", "food_collected_owner", ErrIllegalTransition)
	d.Report(models.DiagFetchFailure, RoleMap, "", "nearby", errors.New("boom"))

	require.Eventually(t, func() bool { return len(journal.all()) == 2 }, time.Second, 5*time.Millisecond)
	recs := journal.all()
	assert.Equal(t, models.DiagIllegalTransition, recs[0].Kind)
	assert.Equal(t, "owner", recs[0].Role)
	assert.Equal(t, "p1", recs[0].PostID)
	assert.Equal(t, ErrIllegalTransition.Error(), recs[0].Detail)
	assert.NotEmpty(t, recs[0].ID)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
	assert.Equal(t, "nearby", recs[1].Event)
}

func TestDiagnosticsReportOnce(t *testing.T) {
	journal := &memJournal{}
	logger, logs := newCaptureLogger()
	d := NewDiagnostics(logger, journal)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.StartWorker(ctx)

	for i := 0; i < 3; i++ {
		d.ReportOnce("unknown:food_teleported", models.DiagUnknownEvent, "food_teleported", ErrUnknownEvent)
	}
	d.ReportOnce("unknown:food_moved", models.DiagUnknownEvent, "food_moved", ErrUnknownEvent)

	require.Eventually(t, func() bool { return len(journal.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, logs.count("event dropped"))
}

func TestDiagnosticsQueueFullDropsRecord(t *testing.T) {
	logger, logs := newCaptureLogger()
	d := NewDiagnostics(logger, &memJournal{})

	// воркер не запущен, очередь только заполняется
	for i := 0; i < DIAGNOSTICS_QUEUE_SIZE+2; i++ {
		d.Report(models.DiagStaleOverwrite, RoleClaimant, "p1", "", ErrStaleOverwrite)
	}
	assert.Equal(t, 2, logs.count("diagnostics queue full, record dropped"))
}

func TestDiagnosticsJournalErrorIsLogged(t *testing.T) {
	logger, logs := newCaptureLogger()
	d := NewDiagnostics(logger, &memJournal{err: errors.New("disk full")})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.StartWorker(ctx)

	d.Report(models.DiagMalformedPayload, "", "", "post_updated", ErrMalformedPayload)
	require.Eventually(t, func() bool { return logs.count("failed to journal diagnostic") == 1 }, time.Second, 5*time.Millisecond)
}

func TestDiagnosticsNilIsSafe(t *testing.T) {
	var d *Diagnostics
	assert.NotPanics(t, func() {
		d.Report(models.DiagFetchFailure, RoleMap, "", "nearby", errors.New("x"))
		d.ReportOnce("k", models.DiagUnknownEvent, "x", nil)
	})

	noJournal := NewDiagnostics(nil, nil)
	assert.NotPanics(t, func() {
		noJournal.StartWorker(context.Background())
		noJournal.Report(models.DiagTransport, "", "", "", ErrTransport)
	})
}
