package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/core/port"
	"github.com/arklim/department-iam/internal/repository"
)

var _ port.AccessRepository = (*AccessRepository)(nil)

// AccessRepository reads roles, departments and grant mappings for RBAC resolution.
type AccessRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccessRepository constructs a PostgreSQL-backed access repository.
func NewAccessRepository(exec pgExecutor) *AccessRepository {
	return &AccessRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// ListUserRoleMappings returns the user's active role assignments on live roles,
// oldest assignment first.
func (r *AccessRepository) ListUserRoleMappings(ctx context.Context, userID string) ([]domain.UserRoleMapping, error) {
	stmt, args, err := r.builder.Select(
		"urm.id",
		"urm.user_id",
		"urm.role_id",
		"r.name",
		"urm.department_id",
		"urm.assigned_by_email",
		"urm.assigned_at",
		"urm.is_active",
	).
		From("iam.user_role_mappings urm").
		Join("iam.roles r ON r.id = urm.role_id").
		Where(squirrel.Eq{"urm.user_id": userID, "urm.is_active": true}).
		Where(squirrel.Eq{"r.is_active": true, "r.is_deleted": false}).
		OrderBy("urm.assigned_at ASC", "urm.id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list user role mappings sql: %w", err)
	}

	return collect(ctx, r.exec, stmt, args, "user role mapping", func(rows pgx.Rows) (domain.UserRoleMapping, error) {
		var m domain.UserRoleMapping
		err := rows.Scan(&m.ID, &m.UserID, &m.RoleID, &m.RoleName, &m.DepartmentID, &m.AssignedByEmail, &m.AssignedAt, &m.IsActive)
		return m, err
	})
}

// GetRoleByName looks a role up case-insensitively.
func (r *AccessRepository) GetRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	stmt, args, err := r.builder.Select("id", "name", "department_id", "is_active", "is_deleted").
		From("iam.roles").
		Where(squirrel.Expr("LOWER(name) = LOWER(?)", name)).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select role sql: %w", err)
	}

	var role domain.Role
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&role.ID, &role.Name, &role.DepartmentID, &role.IsActive, &role.IsDeleted,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan role: %w", err)
	}
	return &role, nil
}

// GetDepartment loads a department by id.
func (r *AccessRepository) GetDepartment(ctx context.Context, id string) (*domain.Department, error) {
	stmt, args, err := r.builder.Select("id", "name", "is_active", "is_deleted").
		From("iam.departments").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select department sql: %w", err)
	}

	var dept domain.Department
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&dept.ID, &dept.Name, &dept.IsActive, &dept.IsDeleted); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan department: %w", err)
	}
	return &dept, nil
}

// ListRoleFeatureMappings returns active feature grants for the given roles.
func (r *AccessRepository) ListRoleFeatureMappings(ctx context.Context, roleIDs []string) ([]domain.RoleFeatureMapping, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	stmt, args, err := r.builder.Select("id", "role_id", "feature_id", "department_id", "is_active").
		From("iam.role_feature_mappings").
		Where(squirrel.Eq{"role_id": roleIDs, "is_active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list role feature mappings sql: %w", err)
	}

	return collect(ctx, r.exec, stmt, args, "role feature mapping", func(rows pgx.Rows) (domain.RoleFeatureMapping, error) {
		var m domain.RoleFeatureMapping
		err := rows.Scan(&m.ID, &m.RoleID, &m.FeatureID, &m.DepartmentID, &m.IsActive)
		return m, err
	})
}

// ListRolePagePermissionMappings returns active page permission grants for the given roles.
func (r *AccessRepository) ListRolePagePermissionMappings(ctx context.Context, roleIDs []string) ([]domain.RolePagePermissionMapping, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	stmt, args, err := r.builder.Select("id", "role_id", "page_id", "permission_id", "department_id", "is_active").
		From("iam.role_page_permission_mappings").
		Where(squirrel.Eq{"role_id": roleIDs, "is_active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list role page permission mappings sql: %w", err)
	}

	return collect(ctx, r.exec, stmt, args, "role page permission mapping", func(rows pgx.Rows) (domain.RolePagePermissionMapping, error) {
		var m domain.RolePagePermissionMapping
		err := rows.Scan(&m.ID, &m.RoleID, &m.PageID, &m.PermissionID, &m.DepartmentID, &m.IsActive)
		return m, err
	})
}

// ListPageFeatureMappings returns active page placements under the given features.
func (r *AccessRepository) ListPageFeatureMappings(ctx context.Context, featureIDs []string) ([]domain.PageFeatureMapping, error) {
	if len(featureIDs) == 0 {
		return nil, nil
	}
	stmt, args, err := r.builder.Select("id", "page_id", "feature_id", "department_id", "is_active").
		From("iam.page_feature_mappings").
		Where(squirrel.Eq{"feature_id": featureIDs, "is_active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list page feature mappings sql: %w", err)
	}

	return collect(ctx, r.exec, stmt, args, "page feature mapping", func(rows pgx.Rows) (domain.PageFeatureMapping, error) {
		var m domain.PageFeatureMapping
		err := rows.Scan(&m.ID, &m.PageID, &m.FeatureID, &m.DepartmentID, &m.IsActive)
		return m, err
	})
}

// ListFeatures loads features by id. Inactive and deleted rows are returned; callers filter.
func (r *AccessRepository) ListFeatures(ctx context.Context, ids []string) ([]domain.Feature, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	stmt, args, err := r.builder.Select("id", "name", "parent_id", "is_main_menu", "display_order", "icon", "is_active", "is_deleted").
		From("iam.features").
		Where(squirrel.Eq{"id": ids}).
		OrderBy("display_order ASC", "name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list features sql: %w", err)
	}

	return collect(ctx, r.exec, stmt, args, "feature", func(rows pgx.Rows) (domain.Feature, error) {
		var f domain.Feature
		err := rows.Scan(&f.ID, &f.Name, &f.ParentID, &f.IsMainMenu, &f.DisplayOrder, &f.Icon, &f.IsActive, &f.IsDeleted)
		return f, err
	})
}

// ListPages loads pages by id.
func (r *AccessRepository) ListPages(ctx context.Context, ids []string) ([]domain.Page, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	stmt, args, err := r.builder.Select("id", "name", "url", "display_order", "is_active", "is_deleted").
		From("iam.pages").
		Where(squirrel.Eq{"id": ids}).
		OrderBy("display_order ASC", "name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list pages sql: %w", err)
	}

	return collect(ctx, r.exec, stmt, args, "page", func(rows pgx.Rows) (domain.Page, error) {
		var p domain.Page
		err := rows.Scan(&p.ID, &p.Name, &p.URL, &p.DisplayOrder, &p.IsActive, &p.IsDeleted)
		return p, err
	})
}

// ListPermissions loads permissions by id.
func (r *AccessRepository) ListPermissions(ctx context.Context, ids []string) ([]domain.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	stmt, args, err := r.builder.Select("id", "name", "is_active").
		From("iam.permissions").
		Where(squirrel.Eq{"id": ids}).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list permissions sql: %w", err)
	}

	return collect(ctx, r.exec, stmt, args, "permission", func(rows pgx.Rows) (domain.Permission, error) {
		var p domain.Permission
		err := rows.Scan(&p.ID, &p.Name, &p.IsActive)
		return p, err
	})
}

func collect[T any](ctx context.Context, exec pgExecutor, stmt string, args []any, label string, scan func(pgx.Rows) (T, error)) ([]T, error) {
	rows, err := exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %ss: %w", label, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", label, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %ss: %w", label, err)
	}
	return out, nil
}
