package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"approval-matrix-service/internal/models"
	"approval-matrix-service/internal/services"
)

// RuleHandler handles HTTP requests for approval rules
type RuleHandler struct {
	rules   *services.RuleService
	matcher *services.Matcher
}

// NewRuleHandler creates a new RuleHandler
func NewRuleHandler(rules *services.RuleService, matcher *services.Matcher) *RuleHandler {
	registerValidators()
	return &RuleHandler{rules: rules, matcher: matcher}
}

// SetActiveRequest toggles a rule's visibility to the matcher
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// RegisterRoutes mounts the rule routes on group. admin guards the write routes.
func (h *RuleHandler) RegisterRoutes(group *gin.RouterGroup, admin ...gin.HandlerFunc) {
	rules := group.Group("/approval-rules")
	rules.GET("", h.ListRules)
	rules.GET("/match", h.MatchRule)
	rules.GET("/:id", h.GetRule)

	write := rules.Group("", admin...)
	write.POST("", h.CreateRule)
	write.PUT("/:id", h.UpdateRule)
	write.DELETE("/:id", h.DeleteRule)
	write.PATCH("/:id/active", h.SetActive)
	write.DELETE("/:id/levels/:level", h.RemoveLevel)
}

// ListRules lists approval rules
// @Summary List approval rules
// @Tags ApprovalRules
// @Produce json
// @Param transactionType query string false "Transaction type"
// @Param active query bool false "Active flag"
// @Success 200 {array} models.ApprovalRule
// @Router /api/v1/approval-rules [get]
func (h *RuleHandler) ListRules(c *gin.Context) {
	filter := models.RuleFilter{
		TransactionType: models.TransactionType(c.Query("transactionType")),
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "active must be true or false")
			return
		}
		filter.Active = &active
	}

	rules, err := h.rules.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	if rules == nil {
		rules = []models.ApprovalRule{}
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule creates an approval rule
// @Summary Create approval rule
// @Tags ApprovalRules
// @Accept json
// @Produce json
// @Param rule body services.RuleInput true "Rule"
// @Success 201 {object} models.ApprovalRule
// @Router /api/v1/approval-rules [post]
func (h *RuleHandler) CreateRule(c *gin.Context) {
	var input services.RuleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	rule, err := h.rules.Create(c.Request.Context(), input, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetRule retrieves an approval rule
// @Summary Get approval rule
// @Tags ApprovalRules
// @Produce json
// @Param id path string true "Rule ID"
// @Success 200 {object} models.ApprovalRule
// @Router /api/v1/approval-rules/{id} [get]
func (h *RuleHandler) GetRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	rule, err := h.rules.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule replaces an approval rule
// @Summary Update approval rule
// @Tags ApprovalRules
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param rule body services.RuleInput true "Rule"
// @Success 200 {object} models.ApprovalRule
// @Router /api/v1/approval-rules/{id} [put]
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var input services.RuleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	rule, err := h.rules.Update(c.Request.Context(), id, input, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule deletes an approval rule
// @Summary Delete approval rule
// @Tags ApprovalRules
// @Param id path string true "Rule ID"
// @Success 204
// @Router /api/v1/approval-rules/{id} [delete]
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.rules.Delete(c.Request.Context(), id, actorID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetActive toggles an approval rule
// @Summary Activate or deactivate approval rule
// @Tags ApprovalRules
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param body body SetActiveRequest true "Active flag"
// @Success 200 {object} models.ApprovalRule
// @Router /api/v1/approval-rules/{id}/active [patch]
func (h *RuleHandler) SetActive(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	rule, err := h.rules.SetActive(c.Request.Context(), id, *req.Active, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// RemoveLevel removes one approver level and renumbers the rest
// @Summary Remove approver level
// @Tags ApprovalRules
// @Produce json
// @Param id path string true "Rule ID"
// @Param level path int true "Level"
// @Success 200 {object} models.ApprovalRule
// @Router /api/v1/approval-rules/{id}/levels/{level} [delete]
func (h *RuleHandler) RemoveLevel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		badRequest(c, "level must be an integer")
		return
	}

	rule, err := h.rules.RemoveLevel(c.Request.Context(), id, level, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// MatchRule resolves the rule governing a transaction
// @Summary Match approval rule
// @Tags ApprovalRules
// @Produce json
// @Param transactionType query string true "Transaction type"
// @Param department query string false "Department"
// @Param amount query string true "Amount"
// @Success 200 {object} models.ApprovalRule
// @Failure 422 {object} map[string]string
// @Router /api/v1/approval-rules/match [get]
func (h *RuleHandler) MatchRule(c *gin.Context) {
	var query services.MatchQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err.Error())
		return
	}

	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		badRequest(c, "amount must be a number")
		return
	}
	query.Amount = amount

	rule, err := h.matcher.Match(c.Request.Context(), query)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
