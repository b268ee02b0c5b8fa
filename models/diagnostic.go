package models

import "time"

// DiagnosticKind - класс отброшенного или проигнорированного события
type DiagnosticKind string

const (
	DiagIllegalTransition DiagnosticKind = "illegal_transition"
	DiagStaleOverwrite    DiagnosticKind = "stale_overwrite"
	DiagUnknownEvent      DiagnosticKind = "unknown_event"
	DiagMalformedPayload  DiagnosticKind = "malformed_payload"
	DiagFetchFailure      DiagnosticKind = "fetch_failure"
	DiagTransport         DiagnosticKind = "transport"
	DiagRejectedListener  DiagnosticKind = "rejected_listener"
)

// Diagnostic - запись журнала диагностики
type Diagnostic struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Kind      DiagnosticKind `gorm:"size:40;index" json:"kind"`
	Role      string         `gorm:"size:20" json:"role,omitempty"`
	PostID    string         `gorm:"size:64;index" json:"post_id,omitempty"`
	Event     string         `gorm:"size:64" json:"event,omitempty"`
	Detail    string         `gorm:"type:text" json:"detail"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName возвращает имя таблицы для модели Diagnostic
func (Diagnostic) TableName() string {
	return "diagnostics"
}
