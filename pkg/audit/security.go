// Package audit provides security audit logging for SIEM consumption.
// Events are logged as structured JSON so they can be filtered on the
// "security_audit" logger name.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/llm"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
	fleetsql "github.com/ekaya-inc/ekaya-fleetql/pkg/sql"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a phrase
	// that was about to become a SQL literal.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventWriteAttempt is logged when generated SQL would modify data.
	EventWriteAttempt SecurityEventType = "write_attempt"
	// EventSQLRejected is logged for any other validator rejection.
	EventSQLRejected SecurityEventType = "sql_rejected"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// maxLoggedSQL bounds the statement text carried in an event.
const maxLoggedSQL = 2000

// Rejection describes a statement or phrase the pipeline refused to run.
type Rejection struct {
	SessionID string
	UserID    string
	Question  string
	SQL       string
	Err       error
}

// SecurityEvent is the JSON document written for each rejection.
type SecurityEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   SecurityEventType `json:"event_type"`
	RequestID   string            `json:"request_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	Question    string            `json:"question,omitempty"`
	SQL         string            `json:"sql,omitempty"`
	Reason      string            `json:"reason"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Severity    string            `json:"severity"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor logging under "security_audit".
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// Classify builds the event for a rejection without logging it.
func Classify(ctx context.Context, r Rejection) SecurityEvent {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventSQLRejected,
		RequestID: llm.RequestID(ctx),
		SessionID: r.SessionID,
		UserID:    r.UserID,
		Question:  logging.TruncateString(r.Question, maxLoggedSQL),
		SQL:       logging.TruncateString(logging.SanitizeQuery(r.SQL), maxLoggedSQL),
		Severity:  SeverityWarning,
	}
	if r.Err != nil {
		event.Reason = logging.SanitizeError(r.Err)
	}

	var inj *fleetsql.InjectionCheckResult
	switch {
	case errors.As(r.Err, &inj):
		event.EventType = EventSQLInjectionAttempt
		event.Fingerprint = inj.Fingerprint
		event.Severity = SeverityCritical
	case errors.Is(r.Err, fleetsql.ErrWriteAttempt):
		event.EventType = EventWriteAttempt
		event.Severity = SeverityCritical
	}
	return event
}

// LogRejection records a rejected statement. Injection and write attempts
// are logged at ERROR with critical severity; everything else at WARN.
func (a *SecurityAuditor) LogRejection(ctx context.Context, r Rejection) {
	event := Classify(ctx, r)

	// Marshaling a struct of strings cannot fail.
	eventJSON, _ := json.Marshal(event)

	fields := []zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("event_type", string(event.EventType)),
		zap.String("session_id", event.SessionID),
		zap.String("user_id", event.UserID),
		zap.String("reason", event.Reason),
		zap.String("severity", event.Severity),
	}
	if event.Fingerprint != "" {
		fields = append(fields, zap.String("fingerprint", event.Fingerprint))
	}

	if event.Severity == SeverityCritical {
		a.logger.Error("Security violation blocked", fields...)
		return
	}
	a.logger.Warn("Generated SQL rejected", fields...)
}
