package identity

import "strings"

// Role is an organisational role carried in tokens.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleDirector Role = "director"
	RoleAdmin    Role = "admin"
)

// legacyRoles maps the role names of the first employee directory.
var legacyRoles = map[string]Role{
	"colaborador": RoleEmployee,
	"gerente":     RoleManager,
	"diretor":     RoleDirector,
}

// ParseRole resolves a role name, accepting legacy names.
func ParseRole(s string) (Role, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch Role(v) {
	case RoleEmployee, RoleManager, RoleDirector, RoleAdmin:
		return Role(v), true
	}
	r, ok := legacyRoles[v]
	return r, ok
}

// NormalizeRoles maps names to canonical roles, dropping unknown ones and
// duplicates while keeping order.
func NormalizeRoles(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[Role]bool, len(names))
	for _, n := range names {
		r, ok := ParseRole(n)
		if !ok || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, string(r))
	}
	return out
}
