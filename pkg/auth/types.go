package auth

import "github.com/nicolRB/LogWare/pkg/identity"

// Principal is the interface for any entity making a request.
type Principal interface {
	GetID() string
	GetName() string
	GetEmail() string
	GetRoles() []string
	// HasRole reports whether the principal carries role.
	HasRole(role identity.Role) bool
}

// BasePrincipal is a simple implementation of Principal.
type BasePrincipal struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
}

func (b *BasePrincipal) GetID() string {
	return b.ID
}

func (b *BasePrincipal) GetName() string {
	return b.Name
}

func (b *BasePrincipal) GetEmail() string {
	return b.Email
}

func (b *BasePrincipal) GetRoles() []string {
	return b.Roles
}

func (b *BasePrincipal) HasRole(role identity.Role) bool {
	for _, r := range b.Roles {
		if parsed, ok := identity.ParseRole(r); ok && parsed == role {
			return true
		}
	}
	return false
}
