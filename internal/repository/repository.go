package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"approval-matrix-service/internal/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict - record was modified by another request")
)

// RuleRepository persists approval rules
type RuleRepository interface {
	CreateRule(ctx context.Context, rule *models.ApprovalRule) error
	GetRule(ctx context.Context, id uuid.UUID) (*models.ApprovalRule, error)
	ListRules(ctx context.Context, filter models.RuleFilter) ([]models.ApprovalRule, error)
	UpdateRule(ctx context.Context, rule *models.ApprovalRule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
	CountRules(ctx context.Context) (int64, error)
}

// SessionRepository persists approval sessions and their decisions
type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.ApprovalSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.ApprovalSession, error)
	ListSessions(ctx context.Context, filter models.SessionFilter) ([]models.ApprovalSession, int64, error)
	// SaveDecision appends decision and writes the session's state in one unit,
	// guarded by the session version. ErrVersionConflict means another writer won.
	SaveDecision(ctx context.Context, session *models.ApprovalSession, decision *models.ApprovalDecision) error
	// UpdateSessionState writes state/cancel fields guarded by the session version.
	UpdateSessionState(ctx context.Context, session *models.ApprovalSession) error
	FindPendingSince(ctx context.Context, before time.Time) ([]models.ApprovalSession, error)
}

// AuditRepository stores the audit trail
type AuditRepository interface {
	CreateAuditLog(ctx context.Context, log *models.ApprovalAuditLog) error
	ListAuditLogs(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.ApprovalAuditLog, error)
}

// StaffRoleRepository stores role assignments for the built-in directory
type StaffRoleRepository interface {
	GetStaffRole(ctx context.Context, userID string) (*models.StaffRole, error)
	SaveStaffRole(ctx context.Context, staff *models.StaffRole) error
}

// Store bundles the repositories the service needs.
type Store struct {
	Rules    RuleRepository
	Sessions SessionRepository
	Audit    AuditRepository
	Staff    StaffRoleRepository
}
