package authz

// System role names. Their definitions are owned by the application and are
// reasserted at every startup.
const (
	RoleAdmin        = "admin"
	RoleManager      = "manager"
	RoleStaff        = "staff"
	RoleReceptionist = "receptionist"

	// DefaultRole is the least-privilege fallback when no assignment can
	// be determined. Never fall open to admin.
	DefaultRole = RoleStaff
)

var systemRoleDefaults = map[string]Role{
	RoleAdmin: {
		Name:                      RoleAdmin,
		Description:               "Full access to every branch and setting",
		Permissions:               []Permission{PermAll},
		IsSystem:                  true,
		AllowMultiBranch:          true,
		BranchSpecificPermissions: false,
	},
	RoleManager: {
		Name:        RoleManager,
		Description: "Runs a branch: staff, services, inventory and reports",
		Permissions: []Permission{
			PermViewAppointments, PermManageAppointments,
			PermViewCustomers, PermManageCustomers,
			PermViewPets, PermManagePets,
			PermViewServices, PermManageServices,
			PermViewInventory, PermManageInventory,
			PermViewStaff, PermManageStaff,
			PermViewReports,
		},
		IsSystem:                  true,
		AllowMultiBranch:          true,
		BranchSpecificPermissions: true,
	},
	RoleStaff: {
		Name:        RoleStaff,
		Description: "Groomer day-to-day work",
		Permissions: []Permission{
			PermViewAppointments, PermManageAppointments,
			PermViewCustomers, PermViewPets, PermManagePets,
			PermViewServices,
		},
		IsSystem:                  true,
		AllowMultiBranch:          false,
		BranchSpecificPermissions: false,
	},
	RoleReceptionist: {
		Name:        RoleReceptionist,
		Description: "Front desk: bookings and customer records",
		Permissions: []Permission{
			PermViewAppointments, PermManageAppointments,
			PermViewCustomers, PermManageCustomers,
			PermViewPets, PermViewServices,
		},
		IsSystem:                  true,
		AllowMultiBranch:          false,
		BranchSpecificPermissions: false,
	},
}

// SystemRoles returns the catalog defaults for every system role, in a
// stable order.
func SystemRoles() []Role {
	names := []string{RoleAdmin, RoleManager, RoleStaff, RoleReceptionist}
	out := make([]Role, 0, len(names))
	for _, name := range names {
		out = append(out, cloneRole(systemRoleDefaults[name]))
	}
	return out
}

// SystemRoleDefault returns the catalog default for a system role name.
func SystemRoleDefault(name string) (Role, bool) {
	role, ok := systemRoleDefaults[name]
	if !ok {
		return Role{}, false
	}
	return cloneRole(role), true
}

// DefaultRolePermissions returns the catalog permission set for the
// least-privilege fallback role.
func DefaultRolePermissions() []Permission {
	role := systemRoleDefaults[DefaultRole]
	perms := make([]Permission, len(role.Permissions))
	copy(perms, role.Permissions)
	return perms
}

func cloneRole(role Role) Role {
	perms := make([]Permission, len(role.Permissions))
	copy(perms, role.Permissions)
	role.Permissions = perms
	return role
}

// permissionsEqual compares two permission sets ignoring order.
func permissionsEqual(a, b []Permission) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[Permission]struct{}, len(a))
	for _, p := range a {
		seen[p] = struct{}{}
	}
	for _, p := range b {
		if _, ok := seen[p]; !ok {
			return false
		}
	}
	return true
}
