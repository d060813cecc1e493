package models

import (
	"time"

	"github.com/lib/pq"
)

// StaffRole holds the roles a back-office user carries
type StaffRole struct {
	UserID    string         `gorm:"type:varchar(255);primaryKey" json:"userId"`
	Roles     pq.StringArray `gorm:"type:text[]" json:"roles"`
	Active    bool           `gorm:"not null" json:"active"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// TableName returns the table name for StaffRole
func (StaffRole) TableName() string {
	return "staff_roles"
}

// Has reports whether the user is active and holds role.
func (s *StaffRole) Has(role string) bool {
	if !s.Active {
		return false
	}
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}
