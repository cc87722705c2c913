package postgres

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"
)

func TestAccessRepository_ListUserRoleMappingsOrdered(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccessRepository(mock)
	now := time.Now().UTC()
	dept := "dept-1"

	mock.ExpectQuery(`SELECT .* FROM iam\.user_role_mappings urm JOIN iam\.roles r ON r\.id = urm\.role_id .* ORDER BY urm\.assigned_at ASC, urm\.id ASC`).
		WithArgs(true, "user-1", true, false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "role_id", "name", "department_id", "assigned_by_email", "assigned_at", "is_active"}).
			AddRow("m-1", "user-1", "role-1", "Editor", dept, "admin@x.com", now, true).
			AddRow("m-2", "user-1", "role-2", "Viewer", nil, "admin@x.com", now.Add(time.Minute), true))

	mappings, err := repo.ListUserRoleMappings(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListUserRoleMappings returned error: %v", err)
	}
	if len(mappings) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(mappings))
	}
	if mappings[0].DepartmentID == nil || *mappings[0].DepartmentID != dept {
		t.Fatalf("expected first mapping department %s", dept)
	}
	if mappings[1].DepartmentID != nil {
		t.Fatalf("expected second mapping without department")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccessRepository_EmptyRoleSetSkipsQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccessRepository(mock)

	features, err := repo.ListRoleFeatureMappings(context.Background(), nil)
	if err != nil || len(features) != 0 {
		t.Fatalf("expected empty result without error, got %v %v", features, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccessRepository_ListRolePagePermissionMappingsUsesIn(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccessRepository(mock)

	mock.ExpectQuery(`SELECT .* FROM iam\.role_page_permission_mappings WHERE .*role_id IN \(\$2,\$3\)`).
		WithArgs(true, "role-1", "role-2").
		WillReturnRows(pgxmock.NewRows([]string{"id", "role_id", "page_id", "permission_id", "department_id", "is_active"}).
			AddRow("rpp-1", "role-1", "page-1", "perm-view", nil, true))

	rows, err := repo.ListRolePagePermissionMappings(context.Background(), []string{"role-1", "role-2"})
	if err != nil {
		t.Fatalf("ListRolePagePermissionMappings returned error: %v", err)
	}
	if len(rows) != 1 || rows[0].PermissionID != "perm-view" {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
