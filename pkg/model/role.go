package model

import (
	"fmt"
	"strings"
)

// Role is the caller's privilege level, lowest first.
type Role int

const (
	RoleViewer Role = iota
	RoleMember
	RoleAdmin
	RoleSuperAdmin
)

// String returns the string representation of Role
func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleAdmin:
		return "admin"
	case RoleSuperAdmin:
		return "superadmin"
	default:
		return "viewer"
	}
}

// ParseRole parses a role name. Empty input is a viewer.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "viewer":
		return RoleViewer, nil
	case "member":
		return RoleMember, nil
	case "admin":
		return RoleAdmin, nil
	case "superadmin", "super_admin", "super-admin":
		return RoleSuperAdmin, nil
	}
	return RoleViewer, fmt.Errorf("unknown role %q", s)
}

// CanSeeDerived reports whether the role may read resolver output on steps.
func (r Role) CanSeeDerived() bool {
	return r >= RoleSuperAdmin
}

// RedactStep nulls the derived action fields unless role may see them.
func RedactStep(step TestStep, role Role) TestStep {
	if role.CanSeeDerived() {
		return step
	}
	return step.ClearMapping()
}

// RedactTest returns a copy of t shaped for role. The original is not modified.
func RedactTest(t *Test, role Role) *Test {
	if t == nil {
		return nil
	}
	c := t.Clone()
	for i := range c.Steps {
		c.Steps[i] = RedactStep(c.Steps[i], role)
	}
	return c
}

// RedactTests applies RedactTest to every element.
func RedactTests(tests []*Test, role Role) []*Test {
	out := make([]*Test, len(tests))
	for i, t := range tests {
		out[i] = RedactTest(t, role)
	}
	return out
}
