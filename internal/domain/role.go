package domain

// Role values stored on users. The admin value is capitalised to match
// existing rows.
const (
	RoleUser  = "user"
	RoleAdmin = "Admin"
)

// IsValidRole checks whether the given role string is a valid user role.
func IsValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}
