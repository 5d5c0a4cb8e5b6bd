package domain

import "slices"

// Role constants define the allowed user roles.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	RoleStaff    = "staff"
)

// ValidRoles returns the set of valid user roles.
func ValidRoles() []string {
	return []string{RoleCustomer, RoleAdmin, RoleStaff}
}

// IsValidRole checks whether the given role string is a valid user role.
func IsValidRole(role string) bool {
	return slices.Contains(ValidRoles(), role)
}
