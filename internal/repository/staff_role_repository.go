package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"approval-matrix-service/internal/models"
)

// GormStaffRoleRepository stores staff role assignments
type GormStaffRoleRepository struct {
	db *gorm.DB
}

// NewGormStaffRoleRepository creates a new GormStaffRoleRepository
func NewGormStaffRoleRepository(db *gorm.DB) *GormStaffRoleRepository {
	return &GormStaffRoleRepository{db: db}
}

// GetStaffRole retrieves the roles of a user
func (r *GormStaffRoleRepository) GetStaffRole(ctx context.Context, userID string) (*models.StaffRole, error) {
	var staff models.StaffRole
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&staff).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &staff, nil
}

// SaveStaffRole creates or replaces the roles of a user
func (r *GormStaffRoleRepository) SaveStaffRole(ctx context.Context, staff *models.StaffRole) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"roles", "active", "updated_at"}),
	}).Create(staff).Error
}

var _ StaffRoleRepository = (*GormStaffRoleRepository)(nil)

// NewGormStore wires every gorm repository against db.
func NewGormStore(db *gorm.DB) *Store {
	sessions := NewGormSessionRepository(db)
	return &Store{
		Rules:    NewGormRuleRepository(db),
		Sessions: sessions,
		Audit:    sessions,
		Staff:    NewGormStaffRoleRepository(db),
	}
}
