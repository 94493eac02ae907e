package data

import (
	"context"
	"encoding/json"
	"time"

	"FuseGate/internal/model"
	pkgerrors "FuseGate/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// AuditLog is the GORM model for resilience_audit_logs table
type AuditLog struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	Subject   string    `gorm:"column:subject;type:varchar(100);not null;index"`
	EventType string    `gorm:"column:event_type;type:varchar(50);not null"`
	Details   string    `gorm:"column:details;type:json"` // JSON string
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "resilience_audit_logs"
}

// AuditLoggerImpl implements biz.AuditLogger interface. With a nil db
// (no MySQL configured) every call is a no-op beyond debug logging.
type AuditLoggerImpl struct {
	db      *gorm.DB
	logChan chan *AuditLog
	logger  *log.Helper
}

// NewAuditLogger creates a new audit logger with async channel
func NewAuditLogger(db *gorm.DB, logger log.Logger) *AuditLoggerImpl {
	al := &AuditLoggerImpl{
		db:      db,
		logChan: make(chan *AuditLog, 1000), // Buffer size 1000 to prevent blocking
		logger:  log.NewHelper(logger),
	}

	if db != nil {
		// Start background goroutine for async logging
		go al.start()
	}

	return al
}

// start processes audit log events from channel
func (a *AuditLoggerImpl) start() {
	for event := range a.logChan {
		ctx := context.Background()
		err := a.db.WithContext(ctx).Create(event).Error
		if err != nil {
			// Deadlocks and dropped connections get one retry; everything
			// else is dropped since the row will never insert.
			if dbErr := pkgerrors.ClassifyDBError(err); dbErr.IsTransient() {
				time.Sleep(100 * time.Millisecond)
				err = a.db.WithContext(ctx).Create(event).Error
			}
		}
		if err != nil {
			a.logger.Errorw("msg", "failed to write audit log",
				"subject", event.Subject,
				"event_type", event.EventType,
				"error", err)
		} else {
			a.logger.Debugw("msg", "audit log written",
				"subject", event.Subject,
				"event_type", event.EventType)
		}
	}
}

// enqueue sends an event to the channel without blocking the caller.
func (a *AuditLoggerImpl) enqueue(event *AuditLog) {
	if a.db == nil {
		return
	}

	select {
	case a.logChan <- event:
		// Successfully queued
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"subject", event.Subject,
			"event_type", event.EventType)
	}
}

// LogCircuitStateChange records a breaker state transition
func (a *AuditLoggerImpl) LogCircuitStateChange(ctx context.Context, service string, from, to model.CircuitState, consecutiveFailures, totalRequests int64) {
	details := map[string]interface{}{
		"from":                 string(from),
		"to":                   string(to),
		"consecutive_failures": consecutiveFailures,
		"total_requests":       totalRequests,
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit log details", "error", err)
		return
	}

	a.enqueue(&AuditLog{
		Subject:   service,
		EventType: model.AuditEventStateChanged,
		Details:   string(detailsJSON),
	})
}

// LogCircuitReset records an administrative breaker reset
func (a *AuditLoggerImpl) LogCircuitReset(ctx context.Context, service string) {
	a.enqueue(&AuditLog{
		Subject:   service,
		EventType: model.AuditEventBreakerReset,
		Details:   "{}",
	})
}

// LogRateLimitDenied records a rate limit denial
func (a *AuditLoggerImpl) LogRateLimitDenied(ctx context.Context, action, identifier string, count, limit int) {
	details := map[string]interface{}{
		"identifier": identifier,
		"count":      count,
		"limit":      limit,
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit log details", "error", err)
		return
	}

	a.enqueue(&AuditLog{
		Subject:   action,
		EventType: model.AuditEventRateLimitDenied,
		Details:   string(detailsJSON),
	})
}

// PurgeOlderThan deletes audit rows created before the cutoff. Returns
// the number of rows removed.
func (a *AuditLoggerImpl) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if a.db == nil {
		return 0, nil
	}

	res := a.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&AuditLog{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
