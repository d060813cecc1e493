package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"approval-matrix-service/internal/cache"
	"approval-matrix-service/internal/events"
	"approval-matrix-service/internal/models"
	"approval-matrix-service/internal/repository"
)

// RuleInput is the editable part of an approval rule
type RuleInput struct {
	Name            string                 `json:"name,omitempty"`
	Description     string                 `json:"description,omitempty"`
	TransactionType models.TransactionType `json:"transactionType" binding:"required,transaction_type"`
	Department      string                 `json:"department,omitempty"`
	MinAmount       decimal.Decimal        `json:"minAmount"`
	MaxAmount       *decimal.Decimal       `json:"maxAmount,omitempty"` // nil = no limit
	Approvers       []models.ApproverLevel `json:"approvers" binding:"required,min=1"`
	Active          *bool                  `json:"active,omitempty"`
}

func (in RuleInput) toRule() *models.ApprovalRule {
	return &models.ApprovalRule{
		Name:            in.Name,
		Description:     in.Description,
		TransactionType: in.TransactionType,
		Department:      in.Department,
		MinAmount:       in.MinAmount,
		MaxAmount:       resolveMax(in.MaxAmount),
		Approvers:       models.CopyChain(in.Approvers),
		Active:          in.Active == nil || *in.Active,
	}
}

// RuleService is the single writer of approval rules
type RuleService struct {
	rules  repository.RuleRepository
	audit  repository.AuditRepository
	cache  *cache.RuleCache
	events events.Emitter
	guard  storageGuard
	logger *logrus.Entry
}

// NewRuleService creates a new RuleService. ruleCache and emitter may be nil.
func NewRuleService(store *repository.Store, ruleCache *cache.RuleCache, emitter events.Emitter, opts StorageOptions, logger *logrus.Logger) *RuleService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleService{
		rules:  store.Rules,
		audit:  store.Audit,
		cache:  ruleCache,
		events: emitter,
		guard:  newStorageGuard(opts),
		logger: logger.WithField("component", "rule-service"),
	}
}

// Create validates and stores a new rule. Rules are active unless input says otherwise.
func (s *RuleService) Create(ctx context.Context, input RuleInput, actorID string) (*models.ApprovalRule, error) {
	rule := input.toRule()
	if err := normalizeRule(rule); err != nil {
		return nil, err
	}
	rule.CreatedBy = actorID

	if err := s.guard.write(ctx, func(ctx context.Context) error {
		return s.rules.CreateRule(ctx, rule)
	}); err != nil {
		return nil, err
	}

	s.afterWrite(ctx, rule, models.AuditEventRuleCreated, actorID, nil)
	return rule, nil
}

// Update replaces the editable fields of a rule and re-validates it.
// The active flag is kept unless input sets it.
func (s *RuleService) Update(ctx context.Context, id uuid.UUID, input RuleInput, actorID string) (*models.ApprovalRule, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rule := input.toRule()
	rule.ID = existing.ID
	rule.CreatedBy = existing.CreatedBy
	rule.CreatedAt = existing.CreatedAt
	rule.Active = existing.Active
	if input.Active != nil {
		rule.Active = *input.Active
	}
	if err := normalizeRule(rule); err != nil {
		return nil, err
	}

	if err := s.guard.write(ctx, func(ctx context.Context) error {
		return s.rules.UpdateRule(ctx, rule)
	}); err != nil {
		return nil, err
	}

	s.afterWrite(ctx, rule, models.AuditEventRuleUpdated, actorID, nil)
	return rule, nil
}

// RemoveLevel drops one approver level and renumbers the rest.
func (s *RuleService) RemoveLevel(ctx context.Context, id uuid.UUID, level int, actorID string) (*models.ApprovalRule, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	found := false
	for _, l := range rule.Approvers {
		if l.Level == level {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrInvalidLevel
	}

	rule.Approvers = models.RemoveLevel(rule.Approvers, level)
	if err := normalizeRule(rule); err != nil {
		return nil, err
	}

	if err := s.guard.write(ctx, func(ctx context.Context) error {
		return s.rules.UpdateRule(ctx, rule)
	}); err != nil {
		return nil, err
	}

	s.afterWrite(ctx, rule, models.AuditEventRuleUpdated, actorID, map[string]interface{}{
		"removed_level": level,
	})
	return rule, nil
}

// Delete removes a rule. Sessions keep their own copy of the chain.
func (s *RuleService) Delete(ctx context.Context, id uuid.UUID, actorID string) error {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.guard.write(ctx, func(ctx context.Context) error {
		return s.rules.DeleteRule(ctx, id)
	}); err != nil {
		return err
	}

	s.afterWrite(ctx, rule, models.AuditEventRuleDeleted, actorID, nil)
	return nil
}

// SetActive toggles whether the matcher sees the rule
func (s *RuleService) SetActive(ctx context.Context, id uuid.UUID, active bool, actorID string) (*models.ApprovalRule, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.Active == active {
		return rule, nil
	}

	rule.Active = active
	if err := s.guard.write(ctx, func(ctx context.Context) error {
		return s.rules.UpdateRule(ctx, rule)
	}); err != nil {
		return nil, err
	}

	eventType := models.AuditEventRuleDeactivated
	if active {
		eventType = models.AuditEventRuleActivated
	}
	s.afterWrite(ctx, rule, eventType, actorID, nil)
	return rule, nil
}

// Get returns a rule by id
func (s *RuleService) Get(ctx context.Context, id uuid.UUID) (*models.ApprovalRule, error) {
	var rule *models.ApprovalRule
	err := s.guard.read(ctx, func(ctx context.Context) error {
		var err error
		rule, err = s.rules.GetRule(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// List returns rules in insertion order
func (s *RuleService) List(ctx context.Context, filter models.RuleFilter) ([]models.ApprovalRule, error) {
	if filter.TransactionType != "" && !filter.TransactionType.IsValid() {
		return nil, invalid("transactionType", "%q is not a known transaction type", filter.TransactionType)
	}

	var rules []models.ApprovalRule
	err := s.guard.read(ctx, func(ctx context.Context) error {
		var err error
		rules, err = s.rules.ListRules(ctx, filter)
		return err
	})
	return rules, err
}

// ActiveRules returns the active rules of a transaction type, read through the cache.
func (s *RuleService) ActiveRules(ctx context.Context, transactionType models.TransactionType) ([]models.ApprovalRule, error) {
	cached, ok, generation, cacheErr := s.cache.Get(ctx, transactionType)
	if cacheErr != nil {
		s.logger.WithError(cacheErr).Warn("Rule cache read failed")
	} else if ok {
		return cached, nil
	}

	active := true
	rules, err := s.List(ctx, models.RuleFilter{TransactionType: transactionType, Active: &active})
	if err != nil {
		return nil, err
	}

	// stored under the generation read before loading; a write since then has moved readers on
	if cacheErr == nil {
		if err := s.cache.Set(ctx, generation, transactionType, rules); err != nil {
			s.logger.WithError(err).Warn("Rule cache write failed")
		}
	}
	return rules, nil
}

func (s *RuleService) afterWrite(ctx context.Context, rule *models.ApprovalRule, eventType, actorID string, metadata map[string]interface{}) {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to invalidate rule cache")
	}

	s.createAuditLog(ctx, rule, eventType, actorID, metadata)

	s.logger.WithFields(logrus.Fields{
		"ruleId":          rule.ID,
		"transactionType": rule.TransactionType,
		"event":           eventType,
	}).Info("Approval rule changed")

	if s.events != nil {
		s.events.Emit(ctx, events.Event{
			Subject:         events.SubjectRuleChanged,
			RuleID:          rule.ID.String(),
			TransactionType: string(rule.TransactionType),
			Department:      rule.Department,
			Action:          eventType,
			ActorID:         actorID,
		})
	}
}

func (s *RuleService) createAuditLog(ctx context.Context, rule *models.ApprovalRule, eventType, actorID string, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["transaction_type"] = rule.TransactionType
	metadata["department"] = rule.Department
	metadataJSON, _ := json.Marshal(metadata)

	log := &models.ApprovalAuditLog{
		EntityType: models.AuditEntityRule,
		EntityID:   rule.ID,
		EventType:  eventType,
		ActorID:    actorID,
		Metadata:   datatypes.JSON(metadataJSON),
	}
	if err := s.guard.write(ctx, func(ctx context.Context) error {
		return s.audit.CreateAuditLog(ctx, log)
	}); err != nil {
		s.logger.WithError(err).WithField("ruleId", rule.ID).Warn("Failed to write audit log")
	}
}
