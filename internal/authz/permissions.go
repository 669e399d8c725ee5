package authz

import "sort"

// Permission is a single grantable capability. The set of permissions is
// closed: new ones are added here, never registered at runtime.
type Permission string

const (
	PermAll Permission = "all"

	PermViewAppointments   Permission = "view_appointments"
	PermManageAppointments Permission = "manage_appointments"
	PermViewCustomers      Permission = "view_customers"
	PermManageCustomers    Permission = "manage_customers"
	PermViewPets           Permission = "view_pets"
	PermManagePets         Permission = "manage_pets"
	PermViewServices       Permission = "view_services"
	PermManageServices     Permission = "manage_services"
	PermViewInventory      Permission = "view_inventory"
	PermManageInventory    Permission = "manage_inventory"
	PermViewStaff          Permission = "view_staff"
	PermManageStaff        Permission = "manage_staff"
	PermViewReports        Permission = "view_reports"
	PermManageRoles        Permission = "manage_roles"
	PermManageBranches     Permission = "manage_branches"
	PermManageSettings     Permission = "manage_settings"
)

var permissionCatalog = map[Permission]struct{}{
	PermAll:                {},
	PermViewAppointments:   {},
	PermManageAppointments: {},
	PermViewCustomers:      {},
	PermManageCustomers:    {},
	PermViewPets:           {},
	PermManagePets:         {},
	PermViewServices:       {},
	PermManageServices:     {},
	PermViewInventory:      {},
	PermManageInventory:    {},
	PermViewStaff:          {},
	PermManageStaff:        {},
	PermViewReports:        {},
	PermManageRoles:        {},
	PermManageBranches:     {},
	PermManageSettings:     {},
}

// IsValidPermission reports whether token names a known permission.
func IsValidPermission(token string) bool {
	_, ok := permissionCatalog[Permission(token)]
	return ok
}

// ValidatePermissions filters tokens down to known permissions. Unknown
// entries are dropped rather than failing the batch, so one malformed entry
// does not block a bulk role update.
func ValidatePermissions(tokens []string) []Permission {
	out := make([]Permission, 0, len(tokens))
	seen := make(map[Permission]struct{}, len(tokens))
	for _, token := range tokens {
		p := Permission(token)
		if _, ok := permissionCatalog[p]; !ok {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// AllPermissions returns every permission in the catalog, wildcard included.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(permissionCatalog))
	for p := range permissionCatalog {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}

// PermissionStrings converts a permission set for external payloads.
func PermissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// HasPermission reports whether the set grants perm, honouring the wildcard.
func HasPermission(granted []Permission, perm Permission) bool {
	for _, g := range granted {
		if g == PermAll || g == perm {
			return true
		}
	}
	return false
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
}
