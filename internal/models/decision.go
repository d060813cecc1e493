package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Outcome is what an approver decided at a level.
type Outcome string

const (
	OutcomeApprove  Outcome = "approve"
	OutcomeReject   Outcome = "reject"
	OutcomeDelegate Outcome = "delegate"
)

// IsValid reports whether o is a known outcome.
func (o Outcome) IsValid() bool {
	return o == OutcomeApprove || o == OutcomeReject || o == OutcomeDelegate
}

// IsFinal reports whether the outcome closes the level.
func (o Outcome) IsFinal() bool {
	return o == OutcomeApprove || o == OutcomeReject
}

// ApprovalDecision is one recorded decision at a level of a session
type ApprovalDecision struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_session_decision_seq" json:"sessionId"`
	Sequence   int       `gorm:"not null;uniqueIndex:idx_session_decision_seq" json:"sequence"`
	Level      int       `gorm:"not null" json:"level"`
	DecidedBy  string    `gorm:"type:varchar(255);not null;index" json:"decidedBy"`
	Outcome    Outcome   `gorm:"type:varchar(20);not null" json:"outcome"`
	DelegateTo string    `gorm:"type:varchar(255)" json:"delegateTo,omitempty"`
	Comment    string    `gorm:"type:text" json:"comment,omitempty"`
	DecidedAt  time.Time `gorm:"not null" json:"decidedAt"`
}

// TableName returns the table name for ApprovalDecision
func (ApprovalDecision) TableName() string {
	return "approval_decisions"
}

// View converts the record to its API shape.
func (d ApprovalDecision) View() LevelDecision {
	return LevelDecision{
		DecidedBy:  d.DecidedBy,
		Outcome:    d.Outcome,
		Timestamp:  d.DecidedAt,
		DelegateTo: d.DelegateTo,
		Comment:    d.Comment,
	}
}

// LevelDecision is the decision entry exposed per level.
type LevelDecision struct {
	DecidedBy  string    `json:"decidedBy"`
	Outcome    Outcome   `json:"outcome"`
	Timestamp  time.Time `json:"timestamp"`
	DelegateTo string    `json:"delegateTo,omitempty"`
	Comment    string    `json:"comment,omitempty"`
}

// ApprovalAuditLog represents an audit trail entry
type ApprovalAuditLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EntityType string         `gorm:"type:varchar(20);not null;index:idx_audit_entity" json:"entityType"` // rule, session
	EntityID   uuid.UUID      `gorm:"type:uuid;not null;index:idx_audit_entity" json:"entityId"`
	EventType  string         `gorm:"type:varchar(50);not null;index" json:"eventType"`
	ActorID    string         `gorm:"type:varchar(255)" json:"actorId,omitempty"`
	Metadata   datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// TableName returns the table name for ApprovalAuditLog
func (ApprovalAuditLog) TableName() string {
	return "approval_audit_logs"
}

// Audit entity types
const (
	AuditEntityRule    = "rule"
	AuditEntitySession = "session"
)

// Audit event types
const (
	AuditEventRuleCreated      = "rule_created"
	AuditEventRuleUpdated      = "rule_updated"
	AuditEventRuleDeleted      = "rule_deleted"
	AuditEventRuleActivated    = "rule_activated"
	AuditEventRuleDeactivated  = "rule_deactivated"
	AuditEventSessionStarted   = "session_started"
	AuditEventLevelApproved    = "level_approved"
	AuditEventLevelRejected    = "level_rejected"
	AuditEventLevelDelegated   = "level_delegated"
	AuditEventSessionApproved  = "session_approved"
	AuditEventSessionRejected  = "session_rejected"
	AuditEventSessionCancelled = "session_cancelled"
)
