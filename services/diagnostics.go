package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"resqfood/models"
)

const DIAGNOSTICS_QUEUE_SIZE = 256

// Journal сохраняет диагностические записи (см. db.Journal)
type Journal interface {
	Record(ctx context.Context, d *models.Diagnostic) error
}

// Diagnostics - единая точка для отброшенных событий: лог, метрики и, если задан, журнал.
// Запись в журнал идет через очередь и отдельный воркер, чтобы код сверки не делал I/O.
type Diagnostics struct {
	logger  *slog.Logger
	journal Journal
	queue   chan *models.Diagnostic
	once    sync.Map
}

func NewDiagnostics(logger *slog.Logger, journal Journal) *Diagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Diagnostics{
		logger:  logger.With("component", "diagnostics"),
		journal: journal,
	}
	if journal != nil {
		d.queue = make(chan *models.Diagnostic, DIAGNOSTICS_QUEUE_SIZE)
	}
	return d
}

// StartWorker запускает воркер, который пишет записи в журнал
func (d *Diagnostics) StartWorker(ctx context.Context) {
	if d.queue == nil {
		return
	}
	go func() {
		d.logger.Debug("diagnostics worker started")
		for {
			select {
			case <-ctx.Done():
				d.logger.Debug("diagnostics worker stopping")
				return
			case rec := <-d.queue:
				if err := d.journal.Record(ctx, rec); err != nil {
					d.logger.Warn("failed to journal diagnostic", "kind", rec.Kind, "error", err)
				}
			}
		}
	}()
}

// Report логирует и считает одну диагностику
func (d *Diagnostics) Report(kind models.DiagnosticKind, role Role, postID, event string, err error) {
	if d == nil {
		return
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}

	attrs := []any{"kind", kind, "role", role}
	if postID != "" {
		attrs = append(attrs, "post_id", postID)
	}
	if event != "" {
		attrs = append(attrs, "event", event)
	}
	attrs = append(attrs, "detail", detail)

	switch kind {
	case models.DiagStaleOverwrite:
		staleOverwritesTotal.WithLabelValues(string(role)).Inc()
		d.logger.Debug("stale refresh entry discarded", attrs...)
	case models.DiagIllegalTransition:
		transitionsRejectedTotal.WithLabelValues(string(role)).Inc()
		d.logger.Warn("illegal transition ignored", attrs...)
	case models.DiagFetchFailure:
		fetchFailuresTotal.WithLabelValues(string(role)).Inc()
		d.logger.Error("fetch failed", attrs...)
	case models.DiagUnknownEvent, models.DiagMalformedPayload:
		eventsDroppedTotal.WithLabelValues(string(kind)).Inc()
		d.logger.Warn("event dropped", attrs...)
	default:
		d.logger.Warn("diagnostic", attrs...)
	}

	if d.queue == nil {
		return
	}
	rec := &models.Diagnostic{
		ID:     uuid.NewString(),
		Kind:   kind,
		Role:   string(role),
		PostID: postID,
		Event:  event,
		Detail: detail,
	}
	select {
	case d.queue <- rec:
	default:
		d.logger.Warn("diagnostics queue full, record dropped", "kind", kind)
	}
}

// ReportOnce - как Report, но только при первом появлении key
func (d *Diagnostics) ReportOnce(key string, kind models.DiagnosticKind, event string, err error) {
	if d == nil {
		return
	}
	if _, seen := d.once.LoadOrStore(key, struct{}{}); seen {
		eventsDroppedTotal.WithLabelValues(string(kind)).Inc()
		return
	}
	d.Report(kind, "", "", event, err)
}
