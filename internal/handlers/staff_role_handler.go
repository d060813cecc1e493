package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"approval-matrix-service/internal/services"
)

// StaffRoleHandler manages role assignments for the built-in role directory
type StaffRoleHandler struct {
	staff *services.StaffService
}

// NewStaffRoleHandler creates a new StaffRoleHandler
func NewStaffRoleHandler(staff *services.StaffService) *StaffRoleHandler {
	registerValidators()
	return &StaffRoleHandler{staff: staff}
}

// SetRolesRequest replaces a user's roles
type SetRolesRequest struct {
	Roles  []string `json:"roles" binding:"dive,required"`
	Active *bool    `json:"active,omitempty"`
}

// RegisterRoutes mounts the staff role routes. admin guards the write route.
func (h *StaffRoleHandler) RegisterRoutes(group *gin.RouterGroup, admin ...gin.HandlerFunc) {
	staff := group.Group("/staff")
	staff.GET("/:id/roles", h.GetRoles)
	staff.PUT("/:id/roles", append(admin, h.SetRoles)...)
}

// GetRoles returns the roles held by a user
// @Summary Get staff roles
// @Tags Staff
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} models.StaffRole
// @Router /api/v1/staff/{id}/roles [get]
func (h *StaffRoleHandler) GetRoles(c *gin.Context) {
	staff, err := h.staff.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, staff)
}

// SetRoles replaces the roles held by a user
// @Summary Set staff roles
// @Tags Staff
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param body body SetRolesRequest true "Roles"
// @Success 200 {object} models.StaffRole
// @Router /api/v1/staff/{id}/roles [put]
func (h *StaffRoleHandler) SetRoles(c *gin.Context) {
	var req SetRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	staff, err := h.staff.Set(c.Request.Context(), c.Param("id"), req.Roles, req.Active == nil || *req.Active)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, staff)
}
