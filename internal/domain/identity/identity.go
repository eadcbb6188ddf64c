package identity

// Role is the kind of principal behind a request or a live connection.
type Role string

const (
	RoleCustomer        Role = "customer"
	RoleRestaurantAdmin Role = "restaurant_admin"
	RoleSuperadmin      Role = "superadmin"

	// RoleSystem is used by in-process actors (payment confirmation, sweeper).
	// Session tokens carrying it are rejected.
	RoleSystem Role = "system"
)

// Identity is established once per request or connection from the caller's session.
// The zero value is the anonymous identity.
type Identity struct {
	Role   Role
	UserID string
}

// System returns the identity used by in-process actors.
func System(name string) Identity {
	return Identity{Role: RoleSystem, UserID: name}
}

func (id Identity) Anonymous() bool { return id.UserID == "" }

func (id Identity) Is(role Role) bool { return !id.Anonymous() && id.Role == role }

// String is used as the changed_by value in status logs.
func (id Identity) String() string {
	if id.Anonymous() {
		return "anonymous"
	}
	return string(id.Role) + ":" + id.UserID
}

// ValidSessionRole reports whether r may appear in an issued session token.
func ValidSessionRole(r Role) bool {
	switch r {
	case RoleCustomer, RoleRestaurantAdmin, RoleSuperadmin:
		return true
	default:
		return false
	}
}
