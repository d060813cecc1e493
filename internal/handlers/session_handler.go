package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"approval-matrix-service/internal/models"
	"approval-matrix-service/internal/services"
)

// SessionHandler handles HTTP requests for approval sessions
type SessionHandler struct {
	sessions *services.SessionService
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions *services.SessionService) *SessionHandler {
	registerValidators()
	return &SessionHandler{sessions: sessions}
}

// CancelRequest carries the optional reason for withdrawing a session
type CancelRequest struct {
	Reason string `json:"reason"`
}

// RegisterRoutes mounts the session routes on group
func (h *SessionHandler) RegisterRoutes(group *gin.RouterGroup) {
	sessions := group.Group("/approval-sessions")
	sessions.POST("", h.StartSession)
	sessions.GET("", h.ListSessions)
	sessions.GET("/:id", h.GetStatus)
	sessions.GET("/:id/history", h.GetHistory)
	sessions.POST("/:id/decisions", h.RecordDecision)
	sessions.POST("/:id/cancel", h.CancelSession)
}

// StartSession opens an approval session for a transaction
// @Summary Start approval session
// @Tags ApprovalSessions
// @Accept json
// @Produce json
// @Param session body services.StartInput true "Transaction"
// @Success 201 {object} models.SessionView
// @Failure 422 {object} map[string]string
// @Router /api/v1/approval-sessions [post]
func (h *SessionHandler) StartSession(c *gin.Context) {
	var input services.StartInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}
	if input.RequestedBy == "" {
		input.RequestedBy = actorID(c)
	}

	session, err := h.sessions.Start(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session.View())
}

// ListSessions lists approval sessions, newest first
// @Summary List approval sessions
// @Tags ApprovalSessions
// @Produce json
// @Param state query string false "PENDING, APPROVED, REJECTED or CANCELLED"
// @Param transactionType query string false "Transaction type"
// @Param transactionId query string false "Transaction ID"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Router /api/v1/approval-sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	filter := models.SessionFilter{
		State:           models.SessionState(c.Query("state")),
		TransactionType: models.TransactionType(c.Query("transactionType")),
		TransactionID:   c.Query("transactionId"),
		Limit:           limit,
		Offset:          offset,
	}

	sessions, total, err := h.sessions.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]models.SessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, sessions[i].View())
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   views,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetStatus returns the state and latest decision per level
// @Summary Get approval session status
// @Tags ApprovalSessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.SessionStatus
// @Router /api/v1/approval-sessions/{id} [get]
func (h *SessionHandler) GetStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	status, err := h.sessions.Status(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// RecordDecision records an approve, reject or delegate decision
// @Summary Record decision
// @Tags ApprovalSessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param decision body services.DecisionInput true "Decision"
// @Failure 400 {object} map[string]string
// @Success 200 {object} models.SessionView
// @Failure 403 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/v1/approval-sessions/{id}/decisions [post]
func (h *SessionHandler) RecordDecision(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var input services.DecisionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	// an identified caller decides only as themselves
	if actor := actorID(c); actor != "" {
		approver := strings.TrimSpace(input.ApproverID)
		if approver == "" {
			input.ApproverID = actor
		} else if approver != actor {
			writeError(c, fmt.Errorf("%w: %s cannot decide on behalf of %s", services.ErrUnauthorizedApprover, actor, approver))
			return
		}
	}

	session, err := h.sessions.RecordDecision(c.Request.Context(), id, input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.View())
}

// CancelSession withdraws a pending session
// @Summary Cancel approval session
// @Tags ApprovalSessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param body body CancelRequest false "Reason"
// @Success 200 {object} models.SessionView
// @Router /api/v1/approval-sessions/{id}/cancel [post]
func (h *SessionHandler) CancelSession(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	session, err := h.sessions.Cancel(c.Request.Context(), id, actorID(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.View())
}

// GetHistory returns the audit trail of a session
// @Summary Get approval session history
// @Tags ApprovalSessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {array} models.ApprovalAuditLog
// @Router /api/v1/approval-sessions/{id}/history [get]
func (h *SessionHandler) GetHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	logs, err := h.sessions.History(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if logs == nil {
		logs = []models.ApprovalAuditLog{}
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}
