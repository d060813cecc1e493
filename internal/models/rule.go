package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// AllDepartments is the wildcard department that matches any department.
const AllDepartments = "All Departments"

// NoLimitAmount is the maxAmount sentinel for an open-ended range.
var NoLimitAmount = decimal.NewFromInt(999999999)

// TransactionType identifies the business document an approval rule governs.
type TransactionType string

const (
	TransactionQuotation      TransactionType = "quotation"
	TransactionCostAnalysis   TransactionType = "cost_analysis"
	TransactionCashAdvance    TransactionType = "cash_advance"
	TransactionSOA            TransactionType = "soa"
	TransactionServiceInvoice TransactionType = "service_invoice"
	TransactionBooking        TransactionType = "booking"
)

// TransactionTypes lists every supported transaction type.
var TransactionTypes = []TransactionType{
	TransactionQuotation,
	TransactionCostAnalysis,
	TransactionCashAdvance,
	TransactionSOA,
	TransactionServiceInvoice,
	TransactionBooking,
}

// IsValid reports whether t is one of the supported transaction types.
func (t TransactionType) IsValid() bool {
	for _, known := range TransactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Role is the class of person eligible to approve at a level.
type Role string

const (
	RoleSupervisor     Role = "supervisor"
	RoleManager        Role = "manager"
	RoleHead           Role = "head"
	RoleGeneralManager Role = "general_manager"
	RoleFinanceManager Role = "finance_manager"
	RoleCFO            Role = "cfo"
	RoleCEO            Role = "ceo"
)

// ApproverRoles lists every role that can be placed on an approval chain.
var ApproverRoles = []Role{
	RoleSupervisor,
	RoleManager,
	RoleHead,
	RoleGeneralManager,
	RoleFinanceManager,
	RoleCFO,
	RoleCEO,
}

// IsValid reports whether r can be used on an approval chain.
func (r Role) IsValid() bool {
	for _, known := range ApproverRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ApproverLevel is one position in an approval chain.
type ApproverLevel struct {
	Level       int    `json:"level"`
	Role        Role   `json:"role"`
	UserID      string `json:"userId,omitempty"` // Optional: specific approver, empty = any holder of Role
	Required    bool   `json:"required"`
	CanDelegate bool   `json:"canDelegate"`
}

// ApprovalRule defines who approves a transaction type inside an amount band
type ApprovalRule struct {
	ID              uuid.UUID                         `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string                            `gorm:"type:varchar(255)" json:"name,omitempty"`
	Description     string                            `gorm:"type:text" json:"description,omitempty"`
	TransactionType TransactionType                   `gorm:"type:varchar(50);not null;index" json:"transactionType"`
	Department      string                            `gorm:"type:varchar(255);not null" json:"department"`
	MinAmount       decimal.Decimal                   `gorm:"type:numeric(18,2);not null" json:"minAmount"`
	MaxAmount       decimal.Decimal                   `gorm:"type:numeric(18,2);not null" json:"maxAmount"`
	Approvers       datatypes.JSONSlice[ApproverLevel] `gorm:"type:jsonb;not null" json:"approvers"`
	Active          bool                              `gorm:"not null;index" json:"active"`
	CreatedBy       string                            `gorm:"type:varchar(255)" json:"createdBy,omitempty"`
	CreatedAt       time.Time                         `json:"createdAt"`
	UpdatedAt       time.Time                         `json:"updatedAt"`
}

// TableName returns the table name for ApprovalRule
func (ApprovalRule) TableName() string {
	return "approval_rules"
}

// Covers reports whether amount falls inside the rule's inclusive range.
func (r *ApprovalRule) Covers(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(r.MinAmount) && amount.LessThanOrEqual(r.MaxAmount)
}

// AppliesTo reports whether the rule's department accepts department.
func (r *ApprovalRule) AppliesTo(department string) bool {
	return r.Department == AllDepartments || r.Department == department
}

// IsWildcard reports whether the rule uses the All Departments sentinel.
func (r *ApprovalRule) IsWildcard() bool {
	return r.Department == AllDepartments
}

// Span is the width of the amount range.
func (r *ApprovalRule) Span() decimal.Decimal {
	return r.MaxAmount.Sub(r.MinAmount)
}

// HasNoLimit reports whether the upper bound is the open-ended sentinel.
func (r *ApprovalRule) HasNoLimit() bool {
	return r.MaxAmount.GreaterThanOrEqual(NoLimitAmount)
}

// Clone returns a deep copy; the approver slice is not shared.
func (r *ApprovalRule) Clone() *ApprovalRule {
	c := *r
	c.Approvers = CopyChain(r.Approvers)
	return &c
}

// CopyChain copies an approver chain.
func CopyChain(chain []ApproverLevel) []ApproverLevel {
	if chain == nil {
		return nil
	}
	out := make([]ApproverLevel, len(chain))
	copy(out, chain)
	return out
}

// SortChain orders levels ascending in place.
func SortChain(chain []ApproverLevel) {
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].Level < chain[j].Level
	})
}

// RemoveLevel drops a level and renumbers the rest so they stay contiguous from 1.
func RemoveLevel(chain []ApproverLevel, level int) []ApproverLevel {
	out := make([]ApproverLevel, 0, len(chain))
	for _, l := range chain {
		if l.Level == level {
			continue
		}
		out = append(out, l)
	}
	SortChain(out)
	for i := range out {
		out[i].Level = i + 1
	}
	return out
}

// RuleFilter narrows rule listings.
type RuleFilter struct {
	TransactionType TransactionType
	Active          *bool
}

// Matches reports whether rule passes the filter.
func (f RuleFilter) Matches(rule *ApprovalRule) bool {
	if f.TransactionType != "" && rule.TransactionType != f.TransactionType {
		return false
	}
	if f.Active != nil && rule.Active != *f.Active {
		return false
	}
	return true
}
