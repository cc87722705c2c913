package port

import (
	"context"

	"github.com/arklim/department-iam/internal/core/domain"
)

// AccessRepository reads the role, department and mapping tables used for RBAC resolution.
// Mapping queries return active rows for the given roles regardless of department;
// department scoping is applied by the resolver.
type AccessRepository interface {
	ListUserRoleMappings(ctx context.Context, userID string) ([]domain.UserRoleMapping, error)
	GetRoleByName(ctx context.Context, name string) (*domain.Role, error)
	GetDepartment(ctx context.Context, id string) (*domain.Department, error)
	ListRoleFeatureMappings(ctx context.Context, roleIDs []string) ([]domain.RoleFeatureMapping, error)
	ListRolePagePermissionMappings(ctx context.Context, roleIDs []string) ([]domain.RolePagePermissionMapping, error)
	ListPageFeatureMappings(ctx context.Context, featureIDs []string) ([]domain.PageFeatureMapping, error)
	ListFeatures(ctx context.Context, ids []string) ([]domain.Feature, error)
	ListPages(ctx context.Context, ids []string) ([]domain.Page, error)
	ListPermissions(ctx context.Context, ids []string) ([]domain.Permission, error)
}
