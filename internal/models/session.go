package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SessionState is the lifecycle state of an approval session.
type SessionState string

const (
	StatePending   SessionState = "PENDING"
	StateApproved  SessionState = "APPROVED"
	StateRejected  SessionState = "REJECTED"
	StateCancelled SessionState = "CANCELLED"
)

// IsTerminal returns true if no further decisions can be recorded
func (s SessionState) IsTerminal() bool {
	return s == StateApproved || s == StateRejected || s == StateCancelled
}

// IsValid reports whether s is a known state.
func (s SessionState) IsValid() bool {
	switch s {
	case StatePending, StateApproved, StateRejected, StateCancelled:
		return true
	}
	return false
}

// ApprovalSession tracks one transaction through the chain of the rule it matched.
// Chain is a copy taken at start; later rule edits never reach it.
type ApprovalSession struct {
	ID              uuid.UUID                         `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID   string                            `gorm:"type:varchar(255);not null;index" json:"transactionId"`
	TransactionType TransactionType                   `gorm:"type:varchar(50);not null;index" json:"transactionType"`
	Department      string                            `gorm:"type:varchar(255);not null" json:"department"`
	Amount          decimal.Decimal                   `gorm:"type:numeric(18,2);not null" json:"amount"`
	MatchedRuleID   uuid.UUID                         `gorm:"type:uuid;not null;index" json:"matchedRuleId"`
	Chain           datatypes.JSONSlice[ApproverLevel] `gorm:"type:jsonb;not null" json:"chain"`
	State           SessionState                      `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"state"`
	Version         int                               `gorm:"not null;default:1" json:"version"` // Optimistic locking
	RequestedBy     string                            `gorm:"type:varchar(255)" json:"requestedBy,omitempty"`
	CancelledBy     string                            `gorm:"type:varchar(255)" json:"cancelledBy,omitempty"`
	CancelReason    string                            `gorm:"type:text" json:"cancelReason,omitempty"`
	CompletedAt     *time.Time                        `json:"completedAt,omitempty"`
	CreatedAt       time.Time                         `json:"createdAt"`
	UpdatedAt       time.Time                         `json:"updatedAt"`

	// History, oldest first
	Decisions []ApprovalDecision `gorm:"foreignKey:SessionID" json:"-"`
}

// TableName returns the table name for ApprovalSession
func (ApprovalSession) TableName() string {
	return "approval_sessions"
}

// LevelConfig returns the snapshotted configuration for level.
func (s *ApprovalSession) LevelConfig(level int) (ApproverLevel, bool) {
	for _, l := range s.Chain {
		if l.Level == level {
			return l, true
		}
	}
	return ApproverLevel{}, false
}

// LatestDecisions projects the decision history to the most recent entry per level.
func (s *ApprovalSession) LatestDecisions() map[int]LevelDecision {
	out := make(map[int]LevelDecision, len(s.Decisions))
	for _, d := range s.Decisions {
		out[d.Level] = d.View()
	}
	return out
}

// LatestDecision returns the most recent decision recorded at level.
func (s *ApprovalSession) LatestDecision(level int) (*ApprovalDecision, bool) {
	for i := len(s.Decisions) - 1; i >= 0; i-- {
		if s.Decisions[i].Level == level {
			return &s.Decisions[i], true
		}
	}
	return nil, false
}

// RequiredSatisfied reports whether every required level has an approve outcome.
func (s *ApprovalSession) RequiredSatisfied() bool {
	latest := s.LatestDecisions()
	for _, l := range s.Chain {
		if !l.Required {
			continue
		}
		d, ok := latest[l.Level]
		if !ok || d.Outcome != OutcomeApprove {
			return false
		}
	}
	return true
}

// OutstandingLevels returns the levels without an approve or reject outcome, in chain order.
func (s *ApprovalSession) OutstandingLevels() []ApproverLevel {
	latest := s.LatestDecisions()
	var out []ApproverLevel
	for _, l := range s.Chain {
		if d, ok := latest[l.Level]; ok && d.Outcome.IsFinal() {
			continue
		}
		out = append(out, l)
	}
	return out
}

// View is the API shape of a session with the latest decision per level.
func (s *ApprovalSession) View() SessionView {
	return SessionView{ApprovalSession: s, Decisions: s.LatestDecisions()}
}

// SessionView embeds the session and adds its decisions map.
type SessionView struct {
	*ApprovalSession
	Decisions map[int]LevelDecision `json:"decisions"`
}

// Status is the read-only projection returned by status lookups.
func (s *ApprovalSession) Status() SessionStatus {
	return SessionStatus{
		SessionID: s.ID,
		State:     s.State,
		Decisions: s.LatestDecisions(),
	}
}

// SessionStatus is {state, decisions}.
type SessionStatus struct {
	SessionID uuid.UUID             `json:"sessionId"`
	State     SessionState          `json:"state"`
	Decisions map[int]LevelDecision `json:"decisions"`
}

// SessionFilter narrows session listings.
type SessionFilter struct {
	State           SessionState
	TransactionType TransactionType
	TransactionID   string
	Limit           int
	Offset          int
}
