package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"approval-matrix-service/internal/directory"
	"approval-matrix-service/internal/events"
	"approval-matrix-service/internal/lock"
	"approval-matrix-service/internal/models"
	"approval-matrix-service/internal/repository"
)

// StartInput identifies the transaction a session is opened for
type StartInput struct {
	TransactionID   string                 `json:"transactionId" binding:"required"`
	TransactionType models.TransactionType `json:"transactionType" binding:"required,transaction_type"`
	Department      string                 `json:"department"`
	Amount          *decimal.Decimal       `json:"amount"`
	RequestedBy     string                 `json:"requestedBy,omitempty"`
}

// DecisionInput is one approver's decision at a level
type DecisionInput struct {
	Level      int            `json:"level" binding:"required,min=1"`
	ApproverID string         `json:"approverId"` // defaults to the caller
	Outcome    models.Outcome `json:"outcome" binding:"required,outcome"`
	DelegateTo string         `json:"delegateTo,omitempty"`
	Comment    string         `json:"comment,omitempty"`
}

// SessionService drives approval sessions through their chain
type SessionService struct {
	sessions  repository.SessionRepository
	audit     repository.AuditRepository
	matcher   *Matcher
	directory directory.RoleDirectory
	locker    lock.Locker
	events    events.Emitter
	guard     storageGuard
	logger    *logrus.Entry
	now       func() time.Time
}

// NewSessionService creates a new SessionService. locker defaults to an in-process lock; emitter may be nil.
func NewSessionService(
	store *repository.Store,
	matcher *Matcher,
	roles directory.RoleDirectory,
	locker lock.Locker,
	emitter events.Emitter,
	opts StorageOptions,
	logger *logrus.Logger,
) *SessionService {
	if logger == nil {
		logger = logrus.New()
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &SessionService{
		sessions:  store.Sessions,
		audit:     store.Audit,
		matcher:   matcher,
		directory: roles,
		locker:    locker,
		events:    emitter,
		guard:     newStorageGuard(opts),
		logger:    logger.WithField("component", "session-service"),
		now:       time.Now,
	}
}

// Start matches a rule and opens a session holding a copy of its chain.
// A chain with no required level completes immediately as APPROVED.
func (s *SessionService) Start(ctx context.Context, input StartInput) (*models.ApprovalSession, error) {
	input.TransactionID = strings.TrimSpace(input.TransactionID)
	if input.TransactionID == "" {
		return nil, invalid("transactionId", "is required")
	}
	if input.Amount == nil {
		return nil, invalid("amount", "is required")
	}
	txAmount := *input.Amount

	rule, err := s.matcher.Match(ctx, MatchQuery{
		TransactionType: input.TransactionType,
		Department:      input.Department,
		Amount:          txAmount,
	})
	if err != nil {
		return nil, err
	}

	session := &models.ApprovalSession{
		ID:              uuid.New(),
		TransactionID:   input.TransactionID,
		TransactionType: input.TransactionType,
		Department:      strings.TrimSpace(input.Department),
		Amount:          txAmount,
		MatchedRuleID:   rule.ID,
		Chain:           models.CopyChain(rule.Approvers),
		State:           models.StatePending,
		Version:         1,
		RequestedBy:     input.RequestedBy,
	}
	if session.RequiredSatisfied() {
		completed := s.now()
		session.State = models.StateApproved
		session.CompletedAt = &completed
	}

	if err := s.guard.write(ctx, func(ctx context.Context) error {
		return s.sessions.CreateSession(ctx, session)
	}); err != nil {
		return nil, err
	}

	s.createAuditLog(ctx, session, models.AuditEventSessionStarted, input.RequestedBy, map[string]interface{}{
		"rule_id": rule.ID.String(),
		"levels":  len(session.Chain),
	})
	s.emit(ctx, events.SubjectSessionStarted, session, nil)

	if session.State == models.StateApproved {
		s.createAuditLog(ctx, session, models.AuditEventSessionApproved, input.RequestedBy, map[string]interface{}{
			"reason": "no required levels",
		})
		s.emit(ctx, events.SubjectSessionApproved, session, nil)
	}

	s.logger.WithFields(logrus.Fields{
		"sessionId":     session.ID,
		"ruleId":        rule.ID,
		"transactionId": session.TransactionID,
		"state":         session.State,
	}).Info("Approval session started")

	return session, nil
}

// RecordDecision records one decision at a level. Writes for a session are
// serialised; a concurrent loser observes ErrAlreadyDecided.
func (s *SessionService) RecordDecision(ctx context.Context, sessionID uuid.UUID, input DecisionInput) (*models.ApprovalSession, error) {
	if err := validateDecision(&input); err != nil {
		return nil, err
	}

	unlock, err := s.obtain(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.State.IsTerminal() {
		return nil, fmt.Errorf("%w: session is %s", ErrAlreadyDecided, session.State)
	}

	cfg, ok := session.LevelConfig(input.Level)
	if !ok {
		return nil, fmt.Errorf("%w: level %d", ErrInvalidLevel, input.Level)
	}

	latest, hasLatest := session.LatestDecision(input.Level)
	if hasLatest {
		if latest.Outcome.IsFinal() {
			return nil, fmt.Errorf("%w: level %d is %s", ErrAlreadyDecided, input.Level, latest.Outcome)
		}
		if latest.DecidedBy == input.ApproverID && latest.Outcome == input.Outcome {
			return nil, fmt.Errorf("%w: level %d already delegated by %s", ErrAlreadyDecided, input.Level, input.ApproverID)
		}
	}

	if err := s.authorize(ctx, cfg, latest, input.ApproverID); err != nil {
		return nil, err
	}

	if input.Outcome == models.OutcomeDelegate {
		if err := s.authorizeDelegation(ctx, cfg, input.DelegateTo); err != nil {
			return nil, err
		}
	}

	decision := &models.ApprovalDecision{
		ID:         uuid.New(),
		SessionID:  session.ID,
		Sequence:   len(session.Decisions) + 1,
		Level:      input.Level,
		DecidedBy:  input.ApproverID,
		Outcome:    input.Outcome,
		DelegateTo: input.DelegateTo,
		Comment:    input.Comment,
		DecidedAt:  s.now(),
	}

	previous := session.State
	session.State = nextState(session, cfg, decision)
	if session.State.IsTerminal() {
		completed := decision.DecidedAt
		session.CompletedAt = &completed
	}

	err = s.guard.write(ctx, func(ctx context.Context) error {
		return s.sessions.SaveDecision(ctx, session, decision)
	})
	if errors.Is(err, repository.ErrVersionConflict) {
		return nil, fmt.Errorf("%w: session was modified concurrently", ErrAlreadyDecided)
	}
	if err != nil {
		return nil, err
	}

	s.afterDecision(ctx, session, decision, previous)
	return session, nil
}

// Cancel withdraws a pending session. Cancellation is terminal and distinct from rejection.
func (s *SessionService) Cancel(ctx context.Context, sessionID uuid.UUID, actorID, reason string) (*models.ApprovalSession, error) {
	unlock, err := s.obtain(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != models.StatePending {
		return nil, fmt.Errorf("%w: session is %s", ErrAlreadyDecided, session.State)
	}

	completed := s.now()
	session.State = models.StateCancelled
	session.CancelledBy = actorID
	session.CancelReason = reason
	session.CompletedAt = &completed

	err = s.guard.write(ctx, func(ctx context.Context) error {
		return s.sessions.UpdateSessionState(ctx, session)
	})
	if errors.Is(err, repository.ErrVersionConflict) {
		return nil, fmt.Errorf("%w: session was modified concurrently", ErrAlreadyDecided)
	}
	if err != nil {
		return nil, err
	}

	s.createAuditLog(ctx, session, models.AuditEventSessionCancelled, actorID, map[string]interface{}{
		"reason": reason,
	})
	s.emit(ctx, events.SubjectSessionCancelled, session, func(e *events.Event) {
		e.ActorID = actorID
	})
	s.logger.WithField("sessionId", session.ID).Info("Approval session cancelled")

	return session, nil
}

// Get returns a session with its full decision history
func (s *SessionService) Get(ctx context.Context, sessionID uuid.UUID) (*models.ApprovalSession, error) {
	var session *models.ApprovalSession
	err := s.guard.read(ctx, func(ctx context.Context) error {
		var err error
		session, err = s.sessions.GetSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Status is a side-effect free projection of state and latest decision per level.
func (s *SessionService) Status(ctx context.Context, sessionID uuid.UUID) (*models.SessionStatus, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	status := session.Status()
	return &status, nil
}

// History returns the audit trail of a session
func (s *SessionService) History(ctx context.Context, sessionID uuid.UUID) ([]models.ApprovalAuditLog, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	var logs []models.ApprovalAuditLog
	err := s.guard.read(ctx, func(ctx context.Context) error {
		var err error
		logs, err = s.audit.ListAuditLogs(ctx, models.AuditEntitySession, sessionID)
		return err
	})
	return logs, err
}

// List returns sessions newest first with the total count before paging
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.ApprovalSession, int64, error) {
	if filter.State != "" && !filter.State.IsValid() {
		return nil, 0, invalid("state", "%q is not a known session state", filter.State)
	}
	if filter.TransactionType != "" && !filter.TransactionType.IsValid() {
		return nil, 0, invalid("transactionType", "%q is not a known transaction type", filter.TransactionType)
	}

	var (
		sessions []models.ApprovalSession
		total    int64
	)
	err := s.guard.read(ctx, func(ctx context.Context) error {
		var err error
		sessions, total, err = s.sessions.ListSessions(ctx, filter)
		return err
	})
	return sessions, total, err
}

func validateDecision(input *DecisionInput) error {
	input.ApproverID = strings.TrimSpace(input.ApproverID)
	input.DelegateTo = strings.TrimSpace(input.DelegateTo)

	if input.ApproverID == "" {
		return invalid("approverId", "is required")
	}
	if !input.Outcome.IsValid() {
		return invalid("outcome", "%q must be approve, reject or delegate", input.Outcome)
	}
	if input.Level < 1 {
		return fmt.Errorf("%w: level %d", ErrInvalidLevel, input.Level)
	}
	if input.Outcome == models.OutcomeDelegate {
		if input.DelegateTo == "" {
			return invalid("delegateTo", "is required when delegating")
		}
		if input.DelegateTo == input.ApproverID {
			return invalid("delegateTo", "cannot delegate to yourself")
		}
	} else if input.DelegateTo != "" {
		return invalid("delegateTo", "only allowed when delegating")
	}
	return nil
}

// nextState applies decision to the session's current state.
func nextState(session *models.ApprovalSession, cfg models.ApproverLevel, decision *models.ApprovalDecision) models.SessionState {
	switch decision.Outcome {
	case models.OutcomeReject:
		if cfg.Required {
			return models.StateRejected
		}
	case models.OutcomeApprove:
		projected := *session
		projected.Decisions = append(append([]models.ApprovalDecision(nil), session.Decisions...), *decision)
		if projected.RequiredSatisfied() {
			return models.StateApproved
		}
	}
	return session.State
}

// authorize checks approverID may act at the level. After a delegation only
// the current delegate may act.
func (s *SessionService) authorize(ctx context.Context, cfg models.ApproverLevel, latest *models.ApprovalDecision, approverID string) error {
	if latest != nil && latest.Outcome == models.OutcomeDelegate {
		if approverID == latest.DelegateTo {
			return nil
		}
		return fmt.Errorf("%w: level %d is delegated to %s", ErrUnauthorizedApprover, cfg.Level, latest.DelegateTo)
	}

	if cfg.UserID != "" {
		if approverID == cfg.UserID {
			return nil
		}
		return fmt.Errorf("%w: level %d is assigned to a specific user", ErrUnauthorizedApprover, cfg.Level)
	}

	ok, err := s.hasRole(ctx, approverID, cfg.Role)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s does not hold role %s", ErrUnauthorizedApprover, approverID, cfg.Role)
	}
	return nil
}

func (s *SessionService) authorizeDelegation(ctx context.Context, cfg models.ApproverLevel, delegateTo string) error {
	if !cfg.CanDelegate {
		return fmt.Errorf("%w: level %d cannot be delegated", ErrUnauthorizedApprover, cfg.Level)
	}
	ok, err := s.hasRole(ctx, delegateTo, cfg.Role)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: delegate %s does not hold role %s", ErrUnauthorizedApprover, delegateTo, cfg.Role)
	}
	return nil
}

func (s *SessionService) hasRole(ctx context.Context, userID string, role models.Role) (bool, error) {
	var ok bool
	err := s.guard.read(ctx, func(ctx context.Context) error {
		var err error
		ok, err = s.directory.HasRole(ctx, userID, role)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("role directory: %w", err)
	}
	return ok, nil
}

func (s *SessionService) obtain(ctx context.Context, sessionID uuid.UUID) (lock.Unlock, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.guard.opts.Timeout)
	defer cancel()

	unlock, err := s.locker.Obtain(lockCtx, sessionID.String())
	if errors.Is(err, lock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: session %s is locked", ErrStorageTimeout, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return unlock, nil
}

func (s *SessionService) afterDecision(ctx context.Context, session *models.ApprovalSession, decision *models.ApprovalDecision, previous models.SessionState) {
	eventType := models.AuditEventLevelApproved
	subject := events.SubjectSessionDecided
	switch decision.Outcome {
	case models.OutcomeReject:
		eventType = models.AuditEventLevelRejected
	case models.OutcomeDelegate:
		eventType = models.AuditEventLevelDelegated
		subject = events.SubjectSessionDelegated
	}

	s.createAuditLog(ctx, session, eventType, decision.DecidedBy, map[string]interface{}{
		"level":       decision.Level,
		"delegate_to": decision.DelegateTo,
		"comment":     decision.Comment,
	})
	withDecision := func(e *events.Event) {
		e.Level = decision.Level
		e.Outcome = string(decision.Outcome)
		e.ActorID = decision.DecidedBy
		e.DelegateTo = decision.DelegateTo
		if cfg, ok := session.LevelConfig(decision.Level); ok {
			e.Role = string(cfg.Role)
		}
	}
	s.emit(ctx, subject, session, withDecision)

	s.logger.WithFields(logrus.Fields{
		"sessionId": session.ID,
		"level":     decision.Level,
		"outcome":   decision.Outcome,
		"state":     session.State,
	}).Info("Approval decision recorded")

	if session.State == previous {
		return
	}

	switch session.State {
	case models.StateApproved:
		s.createAuditLog(ctx, session, models.AuditEventSessionApproved, decision.DecidedBy, nil)
		s.emit(ctx, events.SubjectSessionApproved, session, withDecision)
	case models.StateRejected:
		s.createAuditLog(ctx, session, models.AuditEventSessionRejected, decision.DecidedBy, map[string]interface{}{
			"level": decision.Level,
		})
		s.emit(ctx, events.SubjectSessionRejected, session, withDecision)
	}
}

func (s *SessionService) emit(ctx context.Context, subject string, session *models.ApprovalSession, decorate func(*events.Event)) {
	if s.events == nil {
		return
	}
	event := SessionEvent(subject, session)
	if decorate != nil {
		decorate(&event)
	}
	s.events.Emit(ctx, event)
}

// SessionEvent builds the event payload describing session.
func SessionEvent(subject string, session *models.ApprovalSession) events.Event {
	return events.Event{
		Subject:         subject,
		RuleID:          session.MatchedRuleID.String(),
		SessionID:       session.ID.String(),
		TransactionID:   session.TransactionID,
		TransactionType: string(session.TransactionType),
		Department:      session.Department,
		Amount:          session.Amount.String(),
		State:           string(session.State),
	}
}

func (s *SessionService) createAuditLog(ctx context.Context, session *models.ApprovalSession, eventType, actorID string, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["state"] = session.State
	metadataJSON, _ := json.Marshal(metadata)

	log := &models.ApprovalAuditLog{
		EntityType: models.AuditEntitySession,
		EntityID:   session.ID,
		EventType:  eventType,
		ActorID:    actorID,
		Metadata:   datatypes.JSON(metadataJSON),
	}
	if err := s.guard.write(ctx, func(ctx context.Context) error {
		return s.audit.CreateAuditLog(ctx, log)
	}); err != nil {
		s.logger.WithError(err).WithField("sessionId", session.ID).Warn("Failed to write audit log")
	}
}
