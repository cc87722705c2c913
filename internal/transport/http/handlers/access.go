package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/transport/http/middleware"
)

// AccessResolver answers role, department, page and menu questions for a user.
type AccessResolver interface {
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
	GetUserDepartment(ctx context.Context, userID string) (domain.UserDepartment, error)
	ResolvePermissions(ctx context.Context, userID string) ([]string, error)
	ResolvePages(ctx context.Context, userID string) ([]domain.PageAccess, error)
	CheckPageAccess(ctx context.Context, userID, pageURL, permission string) (bool, error)
	ResolveMenu(ctx context.Context, userID string) ([]domain.MenuNode, error)
}

// AccessHandler serves the authenticated caller's own access view.
type AccessHandler struct {
	access AccessResolver
}

// NewAccessHandler constructs AccessHandler.
func NewAccessHandler(access AccessResolver) *AccessHandler {
	return &AccessHandler{access: access}
}

// RegisterRoutes binds access routes. The group must already require authentication.
func (h *AccessHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/roles", h.roles)
	r.GET("/department", h.department)
	r.GET("/permissions", h.permissions)
	r.GET("/pages", h.pages)
	r.GET("/pages/check", h.checkPage)
	r.GET("/menu", h.menu)
}

func (h *AccessHandler) roles(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)
	roles, err := h.access.GetUserRoles(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RolesResponse{Roles: nonNil(roles)})
}

func (h *AccessHandler) department(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)
	dept, err := h.access.GetUserDepartment(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, DepartmentResponse{
		DepartmentID:   dept.DepartmentID,
		DepartmentName: dept.DepartmentName,
		IsSuperAdmin:   dept.IsSuperAdmin,
	})
}

func (h *AccessHandler) permissions(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)
	names, err := h.access.ResolvePermissions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, PermissionsResponse{Permissions: nonNil(names)})
}

func (h *AccessHandler) pages(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)
	pages, err := h.access.ResolvePages(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, PagesResponse{Pages: newPageResponses(pages)})
}

// checkPage reads ?url=&permission=. An empty permission asks whether any permission is held.
func (h *AccessHandler) checkPage(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)
	pageURL := c.Query("url")
	permission := c.Query("permission")

	allowed, err := h.access.CheckPageAccess(c.Request.Context(), userID, pageURL, permission)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, PageCheckResponse{URL: pageURL, Permission: permission, Allowed: allowed})
}

func (h *AccessHandler) menu(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)
	menu, err := h.access.ResolveMenu(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MenuResponse{Menu: newMenuResponse(menu)})
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
