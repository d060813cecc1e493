// Package directory answers whether a user holds an approver role.
package directory

import (
	"context"
	"errors"

	"approval-matrix-service/internal/models"
	"approval-matrix-service/internal/repository"
)

// RoleDirectory is the external source of truth for role membership.
type RoleDirectory interface {
	HasRole(ctx context.Context, userID string, role models.Role) (bool, error)
}

// StoreDirectory resolves roles from the staff_roles table
type StoreDirectory struct {
	repo repository.StaffRoleRepository
}

// NewStoreDirectory creates a directory backed by the local staff role store
func NewStoreDirectory(repo repository.StaffRoleRepository) *StoreDirectory {
	return &StoreDirectory{repo: repo}
}

// HasRole returns false for unknown or inactive users.
func (d *StoreDirectory) HasRole(ctx context.Context, userID string, role models.Role) (bool, error) {
	staff, err := d.repo.GetStaffRole(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return staff.Has(string(role)), nil
}

var _ RoleDirectory = (*StoreDirectory)(nil)
