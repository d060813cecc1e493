package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"approval-matrix-service/internal/models"
)

// GormRuleRepository handles database operations for approval rules
type GormRuleRepository struct {
	db *gorm.DB
}

// NewGormRuleRepository creates a new GormRuleRepository
func NewGormRuleRepository(db *gorm.DB) *GormRuleRepository {
	return &GormRuleRepository{db: db}
}

// CreateRule inserts a new rule
func (r *GormRuleRepository) CreateRule(ctx context.Context, rule *models.ApprovalRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(rule).Error
}

// GetRule retrieves a rule by ID
func (r *GormRuleRepository) GetRule(ctx context.Context, id uuid.UUID) (*models.ApprovalRule, error) {
	var rule models.ApprovalRule
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// ListRules returns rules in insertion order
func (r *GormRuleRepository) ListRules(ctx context.Context, filter models.RuleFilter) ([]models.ApprovalRule, error) {
	var rules []models.ApprovalRule

	query := r.db.WithContext(ctx).Model(&models.ApprovalRule{})
	if filter.TransactionType != "" {
		query = query.Where("transaction_type = ?", filter.TransactionType)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}

	err := query.Order("created_at ASC, id ASC").Find(&rules).Error
	return rules, err
}

// UpdateRule overwrites the editable columns of an existing rule
func (r *GormRuleRepository) UpdateRule(ctx context.Context, rule *models.ApprovalRule) error {
	result := r.db.WithContext(ctx).
		Model(rule).
		Select("name", "description", "transaction_type", "department", "min_amount", "max_amount", "approvers", "active", "updated_at").
		Updates(rule)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule. Sessions keep their own copy of the chain.
func (r *GormRuleRepository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ApprovalRule{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountRules returns the number of stored rules
func (r *GormRuleRepository) CountRules(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ApprovalRule{}).Count(&count).Error
	return count, err
}

var _ RuleRepository = (*GormRuleRepository)(nil)
