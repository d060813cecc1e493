package seeders

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"approval-matrix-service/internal/models"
	"approval-matrix-service/internal/repository"
	"approval-matrix-service/internal/services"
)

// SeedActor is recorded as the creator of seeded rules.
const SeedActor = "system"

func upTo(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// DefaultRules is the starter approval matrix: every transaction type gets a
// small-amount tier and an open-ended tier for all departments.
func DefaultRules() []services.RuleInput {
	return []services.RuleInput{
		// Quotation
		{
			Name:            "Quotation up to 50,000",
			TransactionType: models.TransactionQuotation,
			MinAmount:       decimal.Zero,
			MaxAmount:       upTo(50000),
			Approvers: []models.ApproverLevel{
				{Level: 1, Role: models.RoleSupervisor, Required: true, CanDelegate: true},
			},
		},
		{
			Name:            "Quotation above 50,000",
			TransactionType: models.TransactionQuotation,
			MinAmount:       decimal.RequireFromString("50000.01"),
			Approvers: []models.ApproverLevel{
				{Level: 1, Role: models.RoleSupervisor, Required: true, CanDelegate: true},
				{Level: 2, Role: models.RoleGeneralManager, Required: true},
			},
		},
		// Cost analysis
		{
			Name:            "Cost analysis",
			TransactionType: models.TransactionCostAnalysis,
			MinAmount:       decimal.Zero,
			Approvers: []models.ApproverLevel{
				{Level: 1, Role: models.RoleManager, Required: true, CanDelegate: true},
				{Level: 2, Role: models.RoleFinanceManager, Required: true},
			},
		},
		// Cash advance
		{
			Name:            "Cash advance up to 10,000",
			TransactionType: models.TransactionCashAdvance,
			MinAmount:       decimal.Zero,
			MaxAmount:       upTo(10000),
			Approvers: []models.ApproverLevel{
				{Level: 1, Role: models.RoleSupervisor, Required: true, CanDelegate: true},
				{Level: 2, Role: models.RoleFinanceManager, Required: true},
			},
		},
		{
			Name:            "Cash advance above 10,000",
			TransactionType: models.TransactionCashAdvance,
			MinAmount:       decimal.RequireFromString("10000.01"),
			Approvers: []models.ApproverLevel{
				{Level: 1, Role: models.RoleSupervisor, Required: true, CanDelegate: true},
				{Level: 2, Role: models.RoleFinanceManager, Required: true},
				{Level: 3, Role: models.RoleCFO, Required: true},
			},
		},
		// Statement of account
		{
			Name:            "Statement of account",
			TransactionType: models.TransactionSOA,
			MinAmount:       decimal.Zero,
			Approvers: []models.ApproverLevel{
				{Level: 1, Role: models.RoleFinanceManager, Required: true},
			},
		},
		// Service invoice
		{
			Name:            "Service invoice",
			TransactionType: models.TransactionServiceInvoice,
			MinAmount:       decimal.Zero,
			Approvers: []models.ApproverLevel{
				{Level: 1, Role: models.RoleManager, Required: true, CanDelegate: true},
				{Level: 2, Role: models.RoleFinanceManager, Required: false},
			},
		},
		// Booking
		{
			Name:            "Booking up to 100,000",
			TransactionType: models.TransactionBooking,
			MinAmount:       decimal.Zero,
			MaxAmount:       upTo(100000),
			Approvers: []models.ApproverLevel{
				{Level: 1, Role: models.RoleHead, Required: true, CanDelegate: true},
			},
		},
		{
			Name:            "Booking above 100,000",
			TransactionType: models.TransactionBooking,
			MinAmount:       decimal.RequireFromString("100000.01"),
			Approvers: []models.ApproverLevel{
				{Level: 1, Role: models.RoleHead, Required: true, CanDelegate: true},
				{Level: 2, Role: models.RoleGeneralManager, Required: true},
				{Level: 3, Role: models.RoleCEO, Required: false},
			},
		},
	}
}

// SeedDefaultRules creates the default matrix when no rules exist yet.
// It returns the number of rules created.
func SeedDefaultRules(ctx context.Context, rules repository.RuleRepository, svc *services.RuleService, logger *logrus.Logger) (int, error) {
	count, err := rules.CountRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count approval rules: %w", err)
	}
	if count > 0 {
		logger.WithField("rules", count).Debug("Approval rules present, skipping seed")
		return 0, nil
	}

	created := 0
	for _, input := range DefaultRules() {
		rule, err := svc.Create(ctx, input, SeedActor)
		if err != nil {
			return created, fmt.Errorf("failed to seed rule %q: %w", input.Name, err)
		}
		created++
		logger.WithFields(logrus.Fields{
			"rule_id":          rule.ID,
			"transaction_type": rule.TransactionType,
		}).Infof("Seeded approval rule: %s", rule.Name)
	}
	return created, nil
}
