package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"approval-matrix-service/internal/cache"
	"approval-matrix-service/internal/events"
	"approval-matrix-service/internal/lock"
	"approval-matrix-service/internal/models"
	"approval-matrix-service/internal/repository"
)

// MockRoleDirectory is a mock implementation of directory.RoleDirectory
type MockRoleDirectory struct {
	mock.Mock
}

func (m *MockRoleDirectory) HasRole(ctx context.Context, userID string, role models.Role) (bool, error) {
	args := m.Called(ctx, userID, role)
	return args.Bool(0), args.Error(1)
}

// grant registers userID as a holder of role. Call before denyOthers.
func (m *MockRoleDirectory) grant(userID string, role models.Role) {
	m.On("HasRole", mock.Anything, userID, role).Return(true, nil)
}

func (m *MockRoleDirectory) denyOthers() {
	m.On("HasRole", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
}

type testEnv struct {
	store    *repository.MemoryStore
	rules    *RuleService
	matcher  *Matcher
	sessions *SessionService
	roles    *MockRoleDirectory
	events   *events.Recorder
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	recorder := events.NewRecorder(0)
	roles := &MockRoleDirectory{}
	logger := quietLogger()

	rules := NewRuleService(store.Store(), cache.NewRuleCache(nil, 0), recorder, StorageOptions{}, logger)
	matcher := NewMatcher(rules, logger)
	sessions := NewSessionService(store.Store(), matcher, roles, lock.NewLocalLocker(), recorder, StorageOptions{}, logger)

	return &testEnv{
		store:    store,
		rules:    rules,
		matcher:  matcher,
		sessions: sessions,
		roles:    roles,
		events:   recorder,
	}
}

func amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func amountPtr(v string) *decimal.Decimal {
	d := amount(v)
	return &d
}

func level(n int, role models.Role, required bool) models.ApproverLevel {
	return models.ApproverLevel{Level: n, Role: role, Required: required}
}

func (e *testEnv) createRule(t *testing.T, input RuleInput) *models.ApprovalRule {
	t.Helper()
	rule, err := e.rules.Create(context.Background(), input, "admin")
	require.NoError(t, err)
	return rule
}

// threeLevelInput is supervisor and manager required, cfo optional.
func threeLevelInput() RuleInput {
	return RuleInput{
		Name:            "Cash advance",
		TransactionType: models.TransactionCashAdvance,
		Department:      "Finance",
		MinAmount:       amount("0"),
		MaxAmount:       amountPtr("100000"),
		Approvers: []models.ApproverLevel{
			level(1, models.RoleSupervisor, true),
			level(2, models.RoleManager, true),
			level(3, models.RoleCFO, false),
		},
	}
}

func (e *testEnv) startSession(t *testing.T, transactionID string) *models.ApprovalSession {
	t.Helper()
	session, err := e.sessions.Start(context.Background(), StartInput{
		TransactionID:   transactionID,
		TransactionType: models.TransactionCashAdvance,
		Department:      "Finance",
		Amount:          amountPtr("5000"),
		RequestedBy:     "clerk-1",
	})
	require.NoError(t, err)
	return session
}
