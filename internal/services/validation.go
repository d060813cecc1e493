package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"approval-matrix-service/internal/models"
)

// normalizeRule fills defaults and checks every rule invariant before anything is written.
func normalizeRule(rule *models.ApprovalRule) error {
	rule.Name = strings.TrimSpace(rule.Name)
	rule.Department = strings.TrimSpace(rule.Department)
	if rule.Department == "" {
		rule.Department = models.AllDepartments
	}

	if !rule.TransactionType.IsValid() {
		return invalid("transactionType", "%q is not one of %v", rule.TransactionType, models.TransactionTypes)
	}

	if rule.MinAmount.IsNegative() {
		return invalid("minAmount", "must not be negative")
	}
	if rule.MaxAmount.IsNegative() {
		return invalid("maxAmount", "must not be negative")
	}
	if rule.MinAmount.GreaterThan(rule.MaxAmount) {
		return invalid("minAmount", "%s is greater than maxAmount %s", rule.MinAmount, rule.MaxAmount)
	}

	return normalizeChain(rule)
}

func normalizeChain(rule *models.ApprovalRule) error {
	if len(rule.Approvers) == 0 {
		return invalid("approvers", "at least one approver level is required")
	}

	chain := models.CopyChain(rule.Approvers)
	models.SortChain(chain)
	for i := range chain {
		field := fmt.Sprintf("approvers[%d]", i)
		if chain[i].Level != i+1 {
			return invalid(field+".level", "levels must be contiguous from 1, expected %d got %d", i+1, chain[i].Level)
		}
		if !chain[i].Role.IsValid() {
			return invalid(field+".role", "%q is not a known approver role", chain[i].Role)
		}
		chain[i].UserID = strings.TrimSpace(chain[i].UserID)
	}
	rule.Approvers = chain
	return nil
}

// resolveMax maps an omitted upper bound to the no-limit sentinel.
func resolveMax(upper *decimal.Decimal) decimal.Decimal {
	if upper == nil {
		return models.NoLimitAmount
	}
	return *upper
}
