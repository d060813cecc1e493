package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"approval-matrix-service/internal/models"
)

// GormSessionRepository handles database operations for approval sessions
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a new GormSessionRepository
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

func preloadDecisions(db *gorm.DB) *gorm.DB {
	return db.Order("sequence ASC")
}

// CreateSession inserts a new session
func (r *GormSessionRepository) CreateSession(ctx context.Context, session *models.ApprovalSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Omit("Decisions").Create(session).Error
}

// GetSession retrieves a session with its decision history
func (r *GormSessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*models.ApprovalSession, error) {
	var session models.ApprovalSession
	err := r.db.WithContext(ctx).
		Preload("Decisions", preloadDecisions).
		Where("id = ?", id).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// ListSessions retrieves sessions, newest first
func (r *GormSessionRepository) ListSessions(ctx context.Context, filter models.SessionFilter) ([]models.ApprovalSession, int64, error) {
	var sessions []models.ApprovalSession
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ApprovalSession{})
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if filter.TransactionType != "" {
		query = query.Where("transaction_type = ?", filter.TransactionType)
	}
	if filter.TransactionID != "" {
		query = query.Where("transaction_id = ?", filter.TransactionID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Preload("Decisions", preloadDecisions).Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	err := query.Find(&sessions).Error

	return sessions, total, err
}

// SaveDecision inserts the decision and advances the session version in one transaction
func (r *GormSessionRepository) SaveDecision(ctx context.Context, session *models.ApprovalSession, decision *models.ApprovalDecision) error {
	oldVersion := session.Version
	if decision.ID == uuid.Nil {
		decision.ID = uuid.New()
	}
	decision.SessionID = session.ID

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(decision).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrVersionConflict
			}
			return err
		}

		result := tx.Model(&models.ApprovalSession{}).
			Where("id = ? AND version = ?", session.ID, oldVersion).
			Updates(map[string]interface{}{
				"state":        session.State,
				"completed_at": session.CompletedAt,
				"version":      oldVersion + 1,
				"updated_at":   time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return err
	}

	session.Version = oldVersion + 1
	session.Decisions = append(session.Decisions, *decision)
	return nil
}

// UpdateSessionState updates the session state with optimistic locking
func (r *GormSessionRepository) UpdateSessionState(ctx context.Context, session *models.ApprovalSession) error {
	oldVersion := session.Version

	result := r.db.WithContext(ctx).Model(&models.ApprovalSession{}).
		Where("id = ? AND version = ?", session.ID, oldVersion).
		Updates(map[string]interface{}{
			"state":         session.State,
			"cancelled_by":  session.CancelledBy,
			"cancel_reason": session.CancelReason,
			"completed_at":  session.CompletedAt,
			"version":       oldVersion + 1,
			"updated_at":    time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	session.Version = oldVersion + 1
	return nil
}

// FindPendingSince finds sessions still pending that were created before the cutoff
func (r *GormSessionRepository) FindPendingSince(ctx context.Context, before time.Time) ([]models.ApprovalSession, error) {
	var sessions []models.ApprovalSession
	err := r.db.WithContext(ctx).
		Preload("Decisions", preloadDecisions).
		Where("state = ? AND created_at < ?", models.StatePending, before).
		Order("created_at ASC").
		Find(&sessions).Error
	return sessions, err
}

// CreateAuditLog creates an audit log entry
func (r *GormSessionRepository) CreateAuditLog(ctx context.Context, log *models.ApprovalAuditLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// ListAuditLogs retrieves the audit trail of an entity, oldest first
func (r *GormSessionRepository) ListAuditLogs(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.ApprovalAuditLog, error) {
	var logs []models.ApprovalAuditLog
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

var (
	_ SessionRepository = (*GormSessionRepository)(nil)
	_ AuditRepository   = (*GormSessionRepository)(nil)
)
