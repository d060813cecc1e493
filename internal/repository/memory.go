package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"approval-matrix-service/internal/models"
)

// MemoryStore is an in-memory implementation of every repository.
// Records are copied on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	rules     map[uuid.UUID]*models.ApprovalRule
	sessions  map[uuid.UUID]*models.ApprovalSession
	audit     []models.ApprovalAuditLog
	staff     map[string]*models.StaffRole
	lastStamp time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:    make(map[uuid.UUID]*models.ApprovalRule),
		sessions: make(map[uuid.UUID]*models.ApprovalSession),
		staff:    make(map[string]*models.StaffRole),
	}
}

// Store exposes the memory repositories through the Store bundle.
func (m *MemoryStore) Store() *Store {
	return &Store{Rules: m, Sessions: m, Audit: m, Staff: m}
}

// stamp returns a strictly increasing timestamp so insertion order survives sorting.
func (m *MemoryStore) stamp() time.Time {
	now := time.Now()
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Microsecond)
	}
	m.lastStamp = now
	return now
}

// --- Rules ---

func (m *MemoryStore) CreateRule(_ context.Context, rule *models.ApprovalRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := m.stamp()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	m.rules[rule.ID] = rule.Clone()
	return nil
}

func (m *MemoryStore) GetRule(_ context.Context, id uuid.UUID) (*models.ApprovalRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rule.Clone(), nil
}

func (m *MemoryStore) ListRules(_ context.Context, filter models.RuleFilter) ([]models.ApprovalRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ApprovalRule, 0, len(m.rules))
	for _, rule := range m.rules {
		if filter.Matches(rule) {
			out = append(out, *rule.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) UpdateRule(_ context.Context, rule *models.ApprovalRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rules[rule.ID]
	if !ok {
		return ErrNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.CreatedBy = existing.CreatedBy
	rule.UpdatedAt = m.stamp()
	m.rules[rule.ID] = rule.Clone()
	return nil
}

func (m *MemoryStore) DeleteRule(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *MemoryStore) CountRules(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.rules)), nil
}

// --- Sessions ---

func copySession(s *models.ApprovalSession) *models.ApprovalSession {
	c := *s
	c.Chain = models.CopyChain(s.Chain)
	if s.Decisions != nil {
		c.Decisions = make([]models.ApprovalDecision, len(s.Decisions))
		copy(c.Decisions, s.Decisions)
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (m *MemoryStore) CreateSession(_ context.Context, session *models.ApprovalSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Version == 0 {
		session.Version = 1
	}
	now := m.stamp()
	session.CreatedAt = now
	session.UpdatedAt = now
	m.sessions[session.ID] = copySession(session)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*models.ApprovalSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(session), nil
}

func (m *MemoryStore) ListSessions(_ context.Context, filter models.SessionFilter) ([]models.ApprovalSession, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []models.ApprovalSession
	for _, s := range m.sessions {
		if filter.State != "" && s.State != filter.State {
			continue
		}
		if filter.TransactionType != "" && s.TransactionType != filter.TransactionType {
			continue
		}
		if filter.TransactionID != "" && s.TransactionID != filter.TransactionID {
			continue
		}
		matched = append(matched, *copySession(s))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := filter.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return matched[start:end], total, nil
}

func (m *MemoryStore) SaveDecision(_ context.Context, session *models.ApprovalSession, decision *models.ApprovalDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != session.Version {
		return ErrVersionConflict
	}
	for _, d := range stored.Decisions {
		if d.Sequence == decision.Sequence {
			return ErrVersionConflict
		}
	}
	if decision.ID == uuid.Nil {
		decision.ID = uuid.New()
	}
	decision.SessionID = session.ID

	session.Version++
	session.UpdatedAt = m.stamp()
	session.Decisions = append(session.Decisions, *decision)

	next := copySession(stored)
	next.State = session.State
	next.CompletedAt = session.CompletedAt
	next.Version = session.Version
	next.UpdatedAt = session.UpdatedAt
	next.Decisions = append(next.Decisions, *decision)
	m.sessions[session.ID] = next
	return nil
}

func (m *MemoryStore) UpdateSessionState(_ context.Context, session *models.ApprovalSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != session.Version {
		return ErrVersionConflict
	}
	session.Version++
	session.UpdatedAt = m.stamp()

	next := copySession(stored)
	next.State = session.State
	next.CancelledBy = session.CancelledBy
	next.CancelReason = session.CancelReason
	next.CompletedAt = session.CompletedAt
	next.Version = session.Version
	next.UpdatedAt = session.UpdatedAt
	m.sessions[session.ID] = next
	return nil
}

func (m *MemoryStore) FindPendingSince(_ context.Context, before time.Time) ([]models.ApprovalSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ApprovalSession
	for _, s := range m.sessions {
		if s.State == models.StatePending && s.CreatedAt.Before(before) {
			out = append(out, *copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- Audit ---

func (m *MemoryStore) CreateAuditLog(_ context.Context, log *models.ApprovalAuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.CreatedAt = m.stamp()
	m.audit = append(m.audit, *log)
	return nil
}

func (m *MemoryStore) ListAuditLogs(_ context.Context, entityType string, entityID uuid.UUID) ([]models.ApprovalAuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ApprovalAuditLog
	for _, l := range m.audit {
		if l.EntityType == entityType && l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}

// --- Staff roles ---

func (m *MemoryStore) GetStaffRole(_ context.Context, userID string) (*models.StaffRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	staff, ok := m.staff[userID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *staff
	c.Roles = append([]string(nil), staff.Roles...)
	return &c, nil
}

func (m *MemoryStore) SaveStaffRole(_ context.Context, staff *models.StaffRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	staff.UpdatedAt = m.stamp()
	c := *staff
	c.Roles = append([]string(nil), staff.Roles...)
	m.staff[staff.UserID] = &c
	return nil
}

var (
	_ RuleRepository      = (*MemoryStore)(nil)
	_ SessionRepository   = (*MemoryStore)(nil)
	_ AuditRepository     = (*MemoryStore)(nil)
	_ StaffRoleRepository = (*MemoryStore)(nil)
)
