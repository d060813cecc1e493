package services

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"approval-matrix-service/internal/models"
	"approval-matrix-service/internal/repository"
)

// StaffService manages role assignments held by the built-in role directory
type StaffService struct {
	repo   repository.StaffRoleRepository
	guard  storageGuard
	logger *logrus.Entry
}

// NewStaffService creates a new StaffService
func NewStaffService(repo repository.StaffRoleRepository, opts StorageOptions, logger *logrus.Logger) *StaffService {
	if logger == nil {
		logger = logrus.New()
	}
	return &StaffService{
		repo:   repo,
		guard:  newStorageGuard(opts),
		logger: logger.WithField("component", "staff-service"),
	}
}

// Get returns the roles held by userID.
func (s *StaffService) Get(ctx context.Context, userID string) (*models.StaffRole, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("userId", "is required")
	}

	var staff *models.StaffRole
	err := s.guard.read(ctx, func(ctx context.Context) error {
		var err error
		staff, err = s.repo.GetStaffRole(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return staff, nil
}

// Set replaces the roles held by userID. Blank and repeated roles are dropped.
func (s *StaffService) Set(ctx context.Context, userID string, roles []string, active bool) (*models.StaffRole, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("userId", "is required")
	}

	staff := &models.StaffRole{
		UserID: userID,
		Roles:  dedupe(roles),
		Active: active,
	}
	if err := s.guard.write(ctx, func(ctx context.Context) error {
		return s.repo.SaveStaffRole(ctx, staff)
	}); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"roles":   staff.Roles,
		"active":  active,
	}).Info("Staff roles updated")
	return staff, nil
}

func dedupe(roles []string) []string {
	seen := make(map[string]bool, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
