package store

// Capability flags gate the structured task operations.
const (
	CapView     = "view"
	CapComplete = "complete"
	CapCreate   = "create"
)

// User roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// CapabilitySet is the resolved set of capabilities for one user.
type CapabilitySet map[string]bool

// Has reports whether the capability is granted.
func (c CapabilitySet) Has(cap string) bool { return c[cap] }

// ResolveCapabilities computes a user's effective capabilities: the role's
// defaults, then per-user grants, then per-user revokes. Revokes win over
// grants.
func ResolveCapabilities(u *User) CapabilitySet {
	caps := CapabilitySet{}
	switch u.Role {
	case RoleAdmin:
		caps[CapView] = true
		caps[CapComplete] = true
		caps[CapCreate] = true
	default: // member
		caps[CapView] = true
		caps[CapComplete] = true
	}
	for _, g := range u.CapGrants {
		caps[g] = true
	}
	for _, r := range u.CapRevokes {
		delete(caps, r)
	}
	return caps
}
