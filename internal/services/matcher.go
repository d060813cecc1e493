package services

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"approval-matrix-service/internal/models"
)

// RuleSource supplies the active rules of a transaction type.
type RuleSource interface {
	ActiveRules(ctx context.Context, transactionType models.TransactionType) ([]models.ApprovalRule, error)
}

// MatchQuery identifies the transaction to resolve a rule for
type MatchQuery struct {
	TransactionType models.TransactionType `form:"transactionType" json:"transactionType" binding:"required,transaction_type"`
	Department      string                 `form:"department" json:"department"`
	Amount          decimal.Decimal        `form:"-" json:"amount"`
}

// Matcher selects the single rule governing a transaction
type Matcher struct {
	rules  RuleSource
	logger *logrus.Entry
}

// NewMatcher creates a new Matcher
func NewMatcher(rules RuleSource, logger *logrus.Logger) *Matcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Matcher{rules: rules, logger: logger.WithField("component", "rule-matcher")}
}

// Match returns the best active rule for q or ErrNoMatch.
func (m *Matcher) Match(ctx context.Context, q MatchQuery) (*models.ApprovalRule, error) {
	if !q.TransactionType.IsValid() {
		return nil, invalid("transactionType", "%q is not a known transaction type", q.TransactionType)
	}
	if q.Amount.IsNegative() {
		return nil, invalid("amount", "must not be negative")
	}
	q.Department = strings.TrimSpace(q.Department)

	rules, err := m.rules.ActiveRules(ctx, q.TransactionType)
	if err != nil {
		return nil, err
	}

	rule, ok := SelectRule(rules, q)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"transactionType": q.TransactionType,
			"department":      q.Department,
			"amount":          q.Amount.String(),
		}).Debug("No approval rule matched")
		return nil, ErrNoMatch
	}
	return rule, nil
}

// SelectRule picks the winning candidate from rules. Ties resolve in order:
// exact department over the wildcard, narrower amount range, later creation, then id.
func SelectRule(rules []models.ApprovalRule, q MatchQuery) (*models.ApprovalRule, bool) {
	var best *models.ApprovalRule
	for i := range rules {
		r := &rules[i]
		if !r.Active || r.TransactionType != q.TransactionType {
			continue
		}
		if !r.Covers(q.Amount) || !r.AppliesTo(q.Department) {
			continue
		}
		if best == nil || outranks(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Clone(), true
}

func outranks(a, b *models.ApprovalRule) bool {
	if a.IsWildcard() != b.IsWildcard() {
		return !a.IsWildcard()
	}
	if c := a.Span().Cmp(b.Span()); c != 0 {
		return c < 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}
