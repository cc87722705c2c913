package domain

import (
	"strings"
	"time"
)

// Department groups roles and users for scoping grants.
type Department struct {
	ID        string
	Name      string
	IsActive  bool
	IsDeleted bool
}

// Role defines a named grant holder. A nil DepartmentID marks a
// department-independent role such as the SuperAdmin bypass role.
type Role struct {
	ID           string
	Name         string
	DepartmentID *string
	IsActive     bool
	IsDeleted    bool
}

// Permission defines a named capability such as Create or View.
type Permission struct {
	ID       string
	Name     string
	IsActive bool
}

// UserRoleMapping assigns a role to a user, optionally within a department.
// The user's effective department is read from these rows, not from the role.
type UserRoleMapping struct {
	ID              string
	UserID          string
	RoleID          string
	RoleName        string
	DepartmentID    *string
	AssignedByEmail string
	AssignedAt      time.Time
	IsActive        bool
}

// Feature is a node of the navigation menu. Features without a parent are main menus.
type Feature struct {
	ID           string
	Name         string
	ParentID     *string
	IsMainMenu   bool
	DisplayOrder int
	Icon         string
	IsActive     bool
	IsDeleted    bool
}

// IsRoot reports whether the feature is a top-level menu entry.
func (f Feature) IsRoot() bool {
	return f.IsMainMenu && f.ParentID == nil
}

// Page is a navigable destination guarded by permissions.
type Page struct {
	ID           string
	Name         string
	URL          string
	DisplayOrder int
	IsActive     bool
	IsDeleted    bool
}

// RoleFeatureMapping grants a feature to a role. A nil DepartmentID applies regardless of department.
type RoleFeatureMapping struct {
	ID           string
	RoleID       string
	FeatureID    string
	DepartmentID *string
	IsActive     bool
}

// RolePagePermissionMapping grants a permission on a page to a role.
type RolePagePermissionMapping struct {
	ID           string
	RoleID       string
	PageID       string
	PermissionID string
	DepartmentID *string
	IsActive     bool
}

// PageFeatureMapping places a page under a feature in the menu.
type PageFeatureMapping struct {
	ID           string
	PageID       string
	FeatureID    string
	DepartmentID *string
	IsActive     bool
}

// PageAccess is a resolved page along with the permissions the user holds on it.
type PageAccess struct {
	PageID       string
	Name         string
	URL          string
	DisplayOrder int
	Permissions  []string
}

// HasPermission reports whether the named permission was granted on the page.
func (p PageAccess) HasPermission(name string) bool {
	for _, perm := range p.Permissions {
		if strings.EqualFold(perm, name) {
			return true
		}
	}
	return false
}

// MenuNode is a feature in the resolved navigation tree.
type MenuNode struct {
	FeatureID    string
	Name         string
	Icon         string
	DisplayOrder int
	Children     []MenuNode
	Pages        []PageAccess
}

// IsEmpty reports whether the node grants no reachable destination.
func (n MenuNode) IsEmpty() bool {
	return len(n.Children) == 0 && len(n.Pages) == 0
}

// UserDepartment is the effective department resolved for a user.
type UserDepartment struct {
	DepartmentID   *string
	DepartmentName string
	IsSuperAdmin   bool
}
