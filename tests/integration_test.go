//go:build integration

package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"approval-matrix-service/internal/directory"
	"approval-matrix-service/internal/events"
	"approval-matrix-service/internal/handlers"
	"approval-matrix-service/internal/middleware"
	"approval-matrix-service/internal/models"
	"approval-matrix-service/internal/repository"
	"approval-matrix-service/internal/services"
)

// IntegrationTestSuite runs the HTTP API against a real Postgres database
type IntegrationTestSuite struct {
	suite.Suite
	db       *gorm.DB
	store    *repository.Store
	rules    *services.RuleService
	sessions *services.SessionService
	recorder *events.Recorder
	router   *gin.Engine
}

// SetupSuite runs once before all tests
func (s *IntegrationTestSuite) SetupSuite() {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=approval_matrix_test port=5432 sslmode=disable"
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		s.T().Fatalf("Failed to connect to database: %v", err)
	}
	s.db = db

	err = s.db.AutoMigrate(
		&models.ApprovalRule{},
		&models.ApprovalSession{},
		&models.ApprovalDecision{},
		&models.ApprovalAuditLog{},
		&models.StaffRole{},
	)
	if err != nil {
		s.T().Fatalf("Failed to run migrations: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	s.store = repository.NewGormStore(s.db)
	s.recorder = events.NewRecorder(0)
	s.rules = services.NewRuleService(s.store, nil, s.recorder, services.StorageOptions{}, logger)
	matcher := services.NewMatcher(s.rules, logger)
	s.sessions = services.NewSessionService(s.store, matcher, directory.NewStoreDirectory(s.store.Staff), nil, s.recorder, services.StorageOptions{}, logger)

	gin.SetMode(gin.TestMode)
	s.router = gin.New()
	api := s.router.Group("/api/v1")
	api.Use(middleware.Actor(""))
	handlers.NewRuleHandler(s.rules, matcher).RegisterRoutes(api)
	handlers.NewSessionHandler(s.sessions).RegisterRoutes(api)
	handlers.NewStaffRoleHandler(services.NewStaffService(s.store.Staff, services.StorageOptions{}, logger)).RegisterRoutes(api)
}

// SetupTest starts every test from empty tables
func (s *IntegrationTestSuite) SetupTest() {
	s.db.Exec("TRUNCATE approval_audit_logs, approval_decisions, approval_sessions, approval_rules, staff_roles")
}

func (s *IntegrationTestSuite) request(method, path string, body interface{}, userID string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *IntegrationTestSuite) decode(w *httptest.ResponseRecorder, v interface{}) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (s *IntegrationTestSuite) grant(userID string, roles ...string) {
	w := s.request(http.MethodPut, "/api/v1/staff/"+userID+"/roles", map[string]interface{}{"roles": roles}, "admin")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
}

func (s *IntegrationTestSuite) createRule(department string, maxAmount interface{}, approvers ...map[string]interface{}) models.ApprovalRule {
	body := map[string]interface{}{
		"name":            "rule " + department,
		"transactionType": "cash_advance",
		"department":      department,
		"minAmount":       0,
		"approvers":       approvers,
	}
	if maxAmount != nil {
		body["maxAmount"] = maxAmount
	}
	w := s.request(http.MethodPost, "/api/v1/approval-rules", body, "admin")
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var rule models.ApprovalRule
	s.decode(w, &rule)
	return rule
}

func approver(level int, role string, required bool) map[string]interface{} {
	return map[string]interface{}{"level": level, "role": role, "required": required, "canDelegate": true}
}

type sessionBody struct {
	ID            uuid.UUID                       `json:"id"`
	State         models.SessionState             `json:"state"`
	MatchedRuleID uuid.UUID                       `json:"matchedRuleId"`
	Chain         []models.ApproverLevel          `json:"chain"`
	Decisions     map[string]models.LevelDecision `json:"decisions"`
}

func (s *IntegrationTestSuite) start(txID string, amount string) sessionBody {
	w := s.request(http.MethodPost, "/api/v1/approval-sessions", map[string]interface{}{
		"transactionId":   txID,
		"transactionType": "cash_advance",
		"department":      "Finance",
		"amount":          amount,
	}, "clerk-1")
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var body sessionBody
	s.decode(w, &body)
	return body
}

func (s *IntegrationTestSuite) decide(id uuid.UUID, level int, approverID, outcome string) *httptest.ResponseRecorder {
	return s.request(http.MethodPost, "/api/v1/approval-sessions/"+id.String()+"/decisions", map[string]interface{}{
		"level":      level,
		"approverId": approverID,
		"outcome":    outcome,
	}, approverID)
}

func (s *IntegrationTestSuite) TestMatchPrefersExactDepartment() {
	s.createRule(models.AllDepartments, nil, approver(1, "manager", true))
	exact := s.createRule("Finance", 50000, approver(1, "supervisor", true), approver(2, "cfo", true))

	w := s.request(http.MethodGet, "/api/v1/approval-rules/match?transactionType=cash_advance&department=Finance&amount=1200", nil, "")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var matched models.ApprovalRule
	s.decode(w, &matched)
	s.Equal(exact.ID, matched.ID)

	w = s.request(http.MethodGet, "/api/v1/approval-rules/match?transactionType=cash_advance&department=Ops&amount=1200", nil, "")
	s.Require().Equal(http.StatusOK, w.Code)
	s.decode(w, &matched)
	s.NotEqual(exact.ID, matched.ID)

	w = s.request(http.MethodGet, "/api/v1/approval-rules/match?transactionType=soa&amount=1", nil, "")
	s.Equal(http.StatusUnprocessableEntity, w.Code)
}

func (s *IntegrationTestSuite) TestFullApprovalFlow() {
	rule := s.createRule("Finance", nil, approver(1, "supervisor", true), approver(2, "manager", true), approver(3, "cfo", false))
	s.grant("sup-1", "supervisor")
	s.grant("mgr-1", "manager")

	session := s.start("CA-1", "2500.50")
	s.Equal(models.StatePending, session.State)
	s.Equal(rule.ID, session.MatchedRuleID)
	s.Len(session.Chain, 3)

	s.Equal(http.StatusOK, s.decide(session.ID, 2, "mgr-1", "approve").Code)
	s.Equal(http.StatusConflict, s.decide(session.ID, 2, "mgr-1", "approve").Code)
	s.Equal(http.StatusForbidden, s.decide(session.ID, 1, "mgr-1", "approve").Code)

	w := s.decide(session.ID, 1, "sup-1", "approve")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var final sessionBody
	s.decode(w, &final)
	s.Equal(models.StateApproved, final.State)
	s.Len(final.Decisions, 2)

	stored, err := s.store.Sessions.GetSession(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Equal(3, stored.Version)
	s.Require().NotNil(stored.CompletedAt)
	s.True(stored.Amount.Equal(decimal.RequireFromString("2500.50")))

	w = s.request(http.MethodGet, "/api/v1/approval-sessions/"+session.ID.String()+"/history", nil, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var history struct {
		Data []models.ApprovalAuditLog `json:"data"`
	}
	s.decode(w, &history)
	s.Len(history.Data, 4)
}

func (s *IntegrationTestSuite) TestChainSnapshotSurvivesRuleDelete() {
	rule := s.createRule("Finance", nil, approver(1, "supervisor", true))
	s.grant("sup-1", "supervisor")
	session := s.start("CA-2", "10")

	w := s.request(http.MethodDelete, "/api/v1/approval-rules/"+rule.ID.String(), nil, "admin")
	s.Require().Equal(http.StatusNoContent, w.Code)

	w = s.decide(session.ID, 1, "sup-1", "reject")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var final sessionBody
	s.decode(w, &final)
	s.Equal(models.StateRejected, final.State)
}

func (s *IntegrationTestSuite) TestConcurrentDecisionsSingleWinner() {
	s.createRule("Finance", nil, approver(1, "supervisor", true))
	for _, id := range []string{"sup-1", "sup-2", "sup-3", "sup-4"} {
		s.grant(id, "supervisor")
	}
	session := s.start("CA-3", "10")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes []int
	)
	for _, id := range []string{"sup-1", "sup-2", "sup-3", "sup-4"} {
		wg.Add(1)
		go func(approverID string) {
			defer wg.Done()
			code := s.decide(session.ID, 1, approverID, "approve").Code
			mu.Lock()
			codes = append(codes, code)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	ok := 0
	for _, code := range codes {
		if code == http.StatusOK {
			ok++
		} else {
			s.Equal(http.StatusConflict, code)
		}
	}
	s.Equal(1, ok)

	var count int64
	s.db.Model(&models.ApprovalDecision{}).Where("session_id = ?", session.ID).Count(&count)
	s.EqualValues(1, count)
}

func (s *IntegrationTestSuite) TestVersionConflictOnStaleWrite() {
	s.createRule("Finance", nil, approver(1, "supervisor", true), approver(2, "manager", true))
	session := s.start("CA-4", "10")
	ctx := context.Background()

	first, err := s.store.Sessions.GetSession(ctx, session.ID)
	s.Require().NoError(err)
	stale, err := s.store.Sessions.GetSession(ctx, session.ID)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Sessions.SaveDecision(ctx, first, &models.ApprovalDecision{
		Sequence: 1, Level: 1, DecidedBy: "sup-1", Outcome: models.OutcomeApprove,
	}))
	err = s.store.Sessions.SaveDecision(ctx, stale, &models.ApprovalDecision{
		Sequence: 1, Level: 2, DecidedBy: "mgr-1", Outcome: models.OutcomeApprove,
	})
	s.ErrorIs(err, repository.ErrVersionConflict)
}

func (s *IntegrationTestSuite) TestCancelAndList() {
	s.createRule("Finance", nil, approver(1, "supervisor", true))
	first := s.start("CA-5", "10")
	s.start("CA-6", "20")

	w := s.request(http.MethodPost, "/api/v1/approval-sessions/"+first.ID.String()+"/cancel", map[string]string{"reason": "withdrawn"}, "clerk-1")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.request(http.MethodGet, "/api/v1/approval-sessions?state=PENDING&limit=10", nil, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var list struct {
		Data  []sessionBody `json:"data"`
		Total int64         `json:"total"`
	}
	s.decode(w, &list)
	s.EqualValues(1, list.Total)
	s.Require().Len(list.Data, 1)
	s.NotEqual(first.ID, list.Data[0].ID)

	w = s.request(http.MethodPost, "/api/v1/approval-sessions/"+first.ID.String()+"/cancel", nil, "clerk-1")
	s.Equal(http.StatusConflict, w.Code)
}

func (s *IntegrationTestSuite) TestInactiveRuleIsStoredInactiveAndNeverMatches() {
	w := s.request(http.MethodPost, "/api/v1/approval-rules", map[string]interface{}{
		"name":            "parked",
		"transactionType": "cash_advance",
		"department":      "Finance",
		"minAmount":       0,
		"approvers":       []map[string]interface{}{approver(1, "supervisor", true)},
		"active":          false,
	}, "admin")
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var rule models.ApprovalRule
	s.decode(w, &rule)
	s.False(rule.Active)

	var row models.ApprovalRule
	s.Require().NoError(s.db.First(&row, "id = ?", rule.ID).Error)
	s.False(row.Active)

	w = s.request(http.MethodGet, "/api/v1/approval-rules/match?transactionType=cash_advance&department=Finance&amount=10", nil, "")
	s.Equal(http.StatusUnprocessableEntity, w.Code, w.Body.String())

	w = s.request(http.MethodPost, "/api/v1/approval-sessions", map[string]interface{}{
		"transactionId":   "CA-7",
		"transactionType": "cash_advance",
		"department":      "Finance",
		"amount":          "10",
	}, "clerk-1")
	s.Equal(http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func (s *IntegrationTestSuite) TestDeactivatedStaffCannotDecide() {
	s.createRule("Finance", nil, approver(1, "supervisor", true))
	s.grant("sup-1", "supervisor")
	session := s.start("CA-8", "10")

	w := s.request(http.MethodPut, "/api/v1/staff/sup-1/roles", map[string]interface{}{
		"roles":  []string{"supervisor"},
		"active": false,
	}, "admin")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var row models.StaffRole
	s.Require().NoError(s.db.First(&row, "user_id = ?", "sup-1").Error)
	s.False(row.Active)

	w = s.decide(session.ID, 1, "sup-1", "approve")
	s.Equal(http.StatusForbidden, w.Code, w.Body.String())

	s.grant("sup-1", "supervisor")
	w = s.decide(session.ID, 1, "sup-1", "approve")
	s.Equal(http.StatusOK, w.Code, w.Body.String())
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}
