package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/core/port"
	"github.com/arklim/department-iam/internal/infra/telemetry"
	"github.com/arklim/department-iam/internal/repository"
)

const defaultSuperAdminRole = "SuperAdmin"

// AccessConfig controls department scoping.
type AccessConfig struct {
	SuperAdminRole string
	// UnionDepartments scopes grants by every department the user is mapped to
	// instead of the department of the earliest active mapping.
	UnionDepartments bool
}

// AccessService resolves permissions, pages and the navigation menu for a user.
type AccessService struct {
	repo   port.AccessRepository
	cfg    AccessConfig
	logger *zap.Logger
}

// NewAccessService constructs an AccessService instance.
func NewAccessService(repo port.AccessRepository, cfg AccessConfig, logger *zap.Logger) *AccessService {
	if strings.TrimSpace(cfg.SuperAdminRole) == "" {
		cfg.SuperAdminRole = defaultSuperAdminRole
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{repo: repo, cfg: cfg, logger: logger}
}

// accessScope is the role and department context grants are filtered by.
type accessScope struct {
	mappings     []domain.UserRoleMapping
	roleIDs      []string
	roleNames    []string
	isSuperAdmin bool
	departments  map[string]struct{}
}

func (s accessScope) empty() bool {
	return len(s.roleIDs) == 0
}

// visible reports whether a mapping row with the given department applies.
// SuperAdmin grants are department independent: only null-department rows count.
func (s accessScope) visible(departmentID *string) bool {
	if departmentID == nil {
		return true
	}
	if s.isSuperAdmin {
		return false
	}
	_, ok := s.departments[*departmentID]
	return ok
}

func (s *AccessService) resolveScope(ctx context.Context, userID string) (accessScope, error) {
	if _, err := uuid.Parse(strings.TrimSpace(userID)); err != nil {
		return accessScope{}, ErrInvalidUserID
	}

	rows, err := s.repo.ListUserRoleMappings(ctx, userID)
	if err != nil {
		return accessScope{}, fmt.Errorf("list user role mappings: %w", err)
	}

	scope := accessScope{departments: make(map[string]struct{})}
	for _, row := range rows {
		if row.IsActive {
			scope.mappings = append(scope.mappings, row)
		}
	}
	if len(scope.mappings) == 0 {
		return scope, nil
	}

	superAdminID := ""
	role, err := s.repo.GetRoleByName(ctx, s.cfg.SuperAdminRole)
	switch {
	case err == nil:
		superAdminID = role.ID
	case errors.Is(err, repository.ErrNotFound):
	default:
		return accessScope{}, fmt.Errorf("get super admin role: %w", err)
	}

	seenRoles := make(map[string]struct{}, len(scope.mappings))
	for _, row := range scope.mappings {
		if superAdminID != "" && row.RoleID == superAdminID {
			scope.isSuperAdmin = true
		}
		if _, ok := seenRoles[row.RoleID]; ok {
			continue
		}
		seenRoles[row.RoleID] = struct{}{}
		scope.roleIDs = append(scope.roleIDs, row.RoleID)
		scope.roleNames = append(scope.roleNames, row.RoleName)
	}

	if scope.isSuperAdmin {
		scope.roleIDs = []string{superAdminID}
		return scope, nil
	}

	if s.cfg.UnionDepartments {
		for _, row := range scope.mappings {
			if row.DepartmentID != nil {
				scope.departments[*row.DepartmentID] = struct{}{}
			}
		}
	} else if first := scope.mappings[0]; first.DepartmentID != nil {
		scope.departments[*first.DepartmentID] = struct{}{}
	}

	return scope, nil
}

// GetUserRoles returns the distinct names of the user's active roles, sorted.
func (s *AccessService) GetUserRoles(ctx context.Context, userID string) (roles []string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AccessService.GetUserRoles")
	defer func() { telemetry.EndSpan(span, err) }()

	scope, err := s.resolveScope(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles = append([]string{}, scope.roleNames...)
	sort.Strings(roles)
	return roles, nil
}

// GetUserDepartment returns the user's effective department. Users without an
// active role mapping yield ErrNotFound.
func (s *AccessService) GetUserDepartment(ctx context.Context, userID string) (dept domain.UserDepartment, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AccessService.GetUserDepartment")
	defer func() { telemetry.EndSpan(span, err) }()

	scope, err := s.resolveScope(ctx, userID)
	if err != nil {
		return domain.UserDepartment{}, err
	}
	if len(scope.mappings) == 0 {
		return domain.UserDepartment{}, ErrNotFound
	}

	dept = domain.UserDepartment{
		DepartmentID: scope.mappings[0].DepartmentID,
		IsSuperAdmin: scope.isSuperAdmin,
	}
	if dept.DepartmentID == nil {
		return dept, nil
	}

	record, err := s.repo.GetDepartment(ctx, *dept.DepartmentID)
	switch {
	case err == nil:
		dept.DepartmentName = record.Name
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Warn("mapped department missing", zap.String("department_id", *dept.DepartmentID))
	default:
		return domain.UserDepartment{}, fmt.Errorf("get department: %w", err)
	}
	return dept, nil
}

// ResolvePermissions returns the distinct permission names granted on any reachable page, sorted.
func (s *AccessService) ResolvePermissions(ctx context.Context, userID string) (names []string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AccessService.ResolvePermissions")
	defer func() { telemetry.EndSpan(span, err) }()

	pages, err := s.resolvePages(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	names = []string{}
	for _, page := range pages {
		for _, perm := range page.Permissions {
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			names = append(names, perm)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ResolvePages returns the pages the user can reach with the permissions held on each,
// ordered by display order then name.
func (s *AccessService) ResolvePages(ctx context.Context, userID string) (pages []domain.PageAccess, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AccessService.ResolvePages")
	defer func() { telemetry.EndSpan(span, err) }()

	return s.resolvePages(ctx, userID)
}

// CheckPageAccess reports whether the user can reach the page at pageURL. A non-empty
// permission additionally requires that permission on the page.
func (s *AccessService) CheckPageAccess(ctx context.Context, userID, pageURL, permission string) (allowed bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AccessService.CheckPageAccess", attribute.String("page_url", pageURL))
	defer func() { telemetry.EndSpan(span, err) }()

	target := normalizeURL(pageURL)
	if target == "" {
		return false, requiredField("page url")
	}

	pages, err := s.resolvePages(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, page := range pages {
		if normalizeURL(page.URL) != target {
			continue
		}
		if permission == "" || page.HasPermission(permission) {
			return true, nil
		}
	}
	return false, nil
}

func (s *AccessService) resolvePages(ctx context.Context, userID string) ([]domain.PageAccess, error) {
	scope, err := s.resolveScope(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.pagesForScope(ctx, scope)
}

func (s *AccessService) pagesForScope(ctx context.Context, scope accessScope) ([]domain.PageAccess, error) {
	if scope.empty() {
		return []domain.PageAccess{}, nil
	}

	grants, err := s.repo.ListRolePagePermissionMappings(ctx, scope.roleIDs)
	if err != nil {
		return nil, fmt.Errorf("list role page permission mappings: %w", err)
	}

	pageIDs := make([]string, 0, len(grants))
	permIDs := make([]string, 0, len(grants))
	visibleGrants := make([]domain.RolePagePermissionMapping, 0, len(grants))
	for _, grant := range grants {
		if !grant.IsActive || !scope.visible(grant.DepartmentID) {
			continue
		}
		visibleGrants = append(visibleGrants, grant)
		pageIDs = append(pageIDs, grant.PageID)
		permIDs = append(permIDs, grant.PermissionID)
	}
	if len(visibleGrants) == 0 {
		return []domain.PageAccess{}, nil
	}

	pageRows, err := s.repo.ListPages(ctx, uniqueStrings(pageIDs))
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	permRows, err := s.repo.ListPermissions(ctx, uniqueStrings(permIDs))
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}

	pagesByID := make(map[string]domain.Page, len(pageRows))
	for _, page := range pageRows {
		if page.IsActive && !page.IsDeleted {
			pagesByID[page.ID] = page
		}
	}
	permNames := make(map[string]string, len(permRows))
	for _, perm := range permRows {
		if perm.IsActive {
			permNames[perm.ID] = perm.Name
		}
	}

	byPage := make(map[string]*domain.PageAccess)
	for _, grant := range visibleGrants {
		page, ok := pagesByID[grant.PageID]
		if !ok {
			continue
		}
		name, ok := permNames[grant.PermissionID]
		if !ok {
			continue
		}
		access, ok := byPage[page.ID]
		if !ok {
			access = &domain.PageAccess{
				PageID:       page.ID,
				Name:         page.Name,
				URL:          page.URL,
				DisplayOrder: page.DisplayOrder,
			}
			byPage[page.ID] = access
		}
		if !access.HasPermission(name) {
			access.Permissions = append(access.Permissions, name)
		}
	}

	result := make([]domain.PageAccess, 0, len(byPage))
	for _, access := range byPage {
		sort.Strings(access.Permissions)
		result = append(result, *access)
	}
	sortPages(result)
	return result, nil
}

// ResolveMenu builds the navigation tree of granted features holding reachable pages.
// Nodes left without pages or children are pruned.
func (s *AccessService) ResolveMenu(ctx context.Context, userID string) (menu []domain.MenuNode, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AccessService.ResolveMenu")
	defer func() { telemetry.EndSpan(span, err) }()

	scope, err := s.resolveScope(ctx, userID)
	if err != nil {
		return nil, err
	}
	if scope.empty() {
		return []domain.MenuNode{}, nil
	}

	pages, err := s.pagesForScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return []domain.MenuNode{}, nil
	}
	accessible := make(map[string]domain.PageAccess, len(pages))
	for _, page := range pages {
		accessible[page.PageID] = page
	}

	grants, err := s.repo.ListRoleFeatureMappings(ctx, scope.roleIDs)
	if err != nil {
		return nil, fmt.Errorf("list role feature mappings: %w", err)
	}
	featureIDs := make([]string, 0, len(grants))
	for _, grant := range grants {
		if grant.IsActive && scope.visible(grant.DepartmentID) {
			featureIDs = append(featureIDs, grant.FeatureID)
		}
	}
	featureIDs = uniqueStrings(featureIDs)
	if len(featureIDs) == 0 {
		return []domain.MenuNode{}, nil
	}

	features, err := s.repo.ListFeatures(ctx, featureIDs)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	placements, err := s.repo.ListPageFeatureMappings(ctx, featureIDs)
	if err != nil {
		return nil, fmt.Errorf("list page feature mappings: %w", err)
	}

	arena := newMenuArena(features)
	for _, placement := range placements {
		if !placement.IsActive || !scope.visible(placement.DepartmentID) {
			continue
		}
		page, ok := accessible[placement.PageID]
		if !ok {
			continue
		}
		arena.attachPage(placement.FeatureID, page)
	}

	return arena.build(), nil
}

type menuArenaNode struct {
	feature  domain.Feature
	children []string
	pages    []domain.PageAccess
	pageSeen map[string]struct{}
}

// menuArena indexes granted features by id so the tree is assembled in one pass.
type menuArena struct {
	nodes map[string]*menuArenaNode
	roots []string
}

func newMenuArena(features []domain.Feature) *menuArena {
	arena := &menuArena{nodes: make(map[string]*menuArenaNode, len(features))}
	for _, feature := range features {
		if !feature.IsActive || feature.IsDeleted {
			continue
		}
		if _, dup := arena.nodes[feature.ID]; dup {
			continue
		}
		arena.nodes[feature.ID] = &menuArenaNode{feature: feature, pageSeen: make(map[string]struct{})}
	}
	for id, node := range arena.nodes {
		switch {
		case node.feature.IsRoot():
			arena.roots = append(arena.roots, id)
		case node.feature.ParentID != nil:
			if parent, ok := arena.nodes[*node.feature.ParentID]; ok {
				parent.children = append(parent.children, id)
			}
		}
	}
	return arena
}

func (a *menuArena) attachPage(featureID string, page domain.PageAccess) {
	node, ok := a.nodes[featureID]
	if !ok {
		return
	}
	if _, seen := node.pageSeen[page.PageID]; seen {
		return
	}
	node.pageSeen[page.PageID] = struct{}{}
	node.pages = append(node.pages, page)
}

func (a *menuArena) build() []domain.MenuNode {
	visited := make(map[string]struct{}, len(a.nodes))
	menu := a.assemble(a.roots, visited)
	if menu == nil {
		return []domain.MenuNode{}
	}
	return menu
}

func (a *menuArena) assemble(ids []string, visited map[string]struct{}) []domain.MenuNode {
	var out []domain.MenuNode
	for _, id := range ids {
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}

		node := a.nodes[id]
		built := domain.MenuNode{
			FeatureID:    node.feature.ID,
			Name:         node.feature.Name,
			Icon:         node.feature.Icon,
			DisplayOrder: node.feature.DisplayOrder,
			Children:     a.assemble(node.children, visited),
			Pages:        append([]domain.PageAccess(nil), node.pages...),
		}
		if built.IsEmpty() {
			continue
		}
		sortPages(built.Pages)
		out = append(out, built)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].FeatureID < out[j].FeatureID
	})
	return out
}

func sortPages(pages []domain.PageAccess) {
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].DisplayOrder != pages[j].DisplayOrder {
			return pages[i].DisplayOrder < pages[j].DisplayOrder
		}
		if pages[i].Name != pages[j].Name {
			return pages[i].Name < pages[j].Name
		}
		return pages[i].PageID < pages[j].PageID
	})
}

func normalizeURL(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if len(trimmed) > 1 {
		trimmed = strings.TrimRight(trimmed, "/")
	}
	return trimmed
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
