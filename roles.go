package authcore

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Role is one of a closed set of roles known to the access policy.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// DefaultRole is assigned to registered and provisioned identities.
const DefaultRole = RoleMember

var roleIDs = map[Role]int{
	RoleAdmin:  1,
	RoleMember: 2,
}

// Roles returns every known role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleMember}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleIDs[r]
	return ok
}

// ID returns the numeric id used by stores with a numeric role column.
func (r Role) ID() int {
	return roleIDs[r]
}

// ParseRole accepts a role name (case-insensitive). "user" is accepted as an
// alias of member.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "member", "user":
		return RoleMember, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// RoleFromID is the inverse of Role.ID.
func RoleFromID(id int) (Role, error) {
	for r, rid := range roleIDs {
		if rid == id {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role id %d", id)
}

// RolePolicy maps operation names to the roles allowed to invoke them.
// An operation with an empty role set only requires authentication.
// Operations missing from the table are denied.
type RolePolicy struct {
	allowed map[string][]Role
}

// NewRolePolicy builds a policy from an operation -> roles table.
// Unknown roles are rejected so the table stays within the closed role set.
func NewRolePolicy(table map[string][]Role) (*RolePolicy, error) {
	p := &RolePolicy{allowed: make(map[string][]Role, len(table))}
	for op, roles := range table {
		for _, r := range roles {
			if !r.Valid() {
				return nil, fmt.Errorf("operation %q: unknown role %q", op, r)
			}
		}
		p.allowed[op] = slices.Clone(roles)
	}
	return p, nil
}

// MustRolePolicy is NewRolePolicy that panics on an invalid table.
func MustRolePolicy(table map[string][]Role) *RolePolicy {
	p, err := NewRolePolicy(table)
	if err != nil {
		panic(err)
	}
	return p
}

// Declared reports whether the operation is present in the table.
func (p *RolePolicy) Declared(operation string) bool {
	_, ok := p.allowed[operation]
	return ok
}

// Allows reports whether role may invoke operation.
func (p *RolePolicy) Allows(operation string, role Role) bool {
	roles, ok := p.allowed[operation]
	if !ok {
		return false
	}
	if len(roles) == 0 {
		return true
	}
	return slices.Contains(roles, role)
}

// AllowedRoles returns the declared role set for an operation.
func (p *RolePolicy) AllowedRoles(operation string) []Role {
	return slices.Clone(p.allowed[operation])
}

// Operations lists declared operations in sorted order.
func (p *RolePolicy) Operations() []string {
	out := make([]string, 0, len(p.allowed))
	for op := range p.allowed {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

// Operations exposed by this module's own HTTP and gRPC boundaries.
const (
	OpMe             = "auth.me"
	OpChangePassword = "auth.change-password"

	OpIdentityRead    = "identities.read"
	OpIdentitySetRole = "identities.set-role"
	OpIdentityDelete  = "identities.delete"
	OpPolicyRead      = "access.policy.read"
)

// DefaultPolicy covers the guarded operations of the built-in handlers.
// Identity management is admin only. Applications extend the table with
// their own operations.
func DefaultPolicy() map[string][]Role {
	return map[string][]Role{
		OpMe:              {},
		OpChangePassword:  {RoleAdmin, RoleMember},
		OpIdentityRead:    {RoleAdmin},
		OpIdentitySetRole: {RoleAdmin},
		OpIdentityDelete:  {RoleAdmin},
		OpPolicyRead:      {RoleAdmin},
	}
}
