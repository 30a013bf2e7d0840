package auth

import (
	"fmt"

	"steward/internal/config"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// SignOffError indicates the actor's roles carry no sign-off authority.
type SignOffError struct {
	Roles []string
}

func (e SignOffError) Error() string {
	return fmt.Sprintf("sign-off authority required, roles %v have none", e.Roles)
}

// Service answers permission questions from the workspace config's RBAC
// section. When the config declares no roles, everything is allowed.
type Service struct {
	Config *config.Config
}

func (s Service) roles() map[string]config.RBACRole {
	if s.Config == nil {
		return nil
	}
	return s.Config.RBAC.Roles
}

// HasPermission reports whether any of the actor's roles grants perm.
func (s Service) HasPermission(actorRoles []string, perm string) bool {
	declared := s.roles()
	if len(declared) == 0 {
		return true
	}
	for _, roleID := range actorRoles {
		role, ok := declared[roleID]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// RequirePermission returns a ForbiddenError when HasPermission is false.
func (s Service) RequirePermission(actorRoles []string, perm string) error {
	if !s.HasPermission(actorRoles, perm) {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// CanSignOff reports whether any of the actor's roles is listed as a
// sign-off authority. High-severity conflicts need sign-off before a
// process goes active.
func (s Service) CanSignOff(actorRoles []string) bool {
	if s.Config == nil || len(s.Config.RBAC.SignOffAuthority) == 0 {
		return true
	}
	for _, roleID := range actorRoles {
		for _, authority := range s.Config.RBAC.SignOffAuthority {
			if roleID == authority {
				return true
			}
		}
	}
	return false
}

// RequireSignOff returns a SignOffError when CanSignOff is false.
func (s Service) RequireSignOff(actorRoles []string) error {
	if !s.CanSignOff(actorRoles) {
		return SignOffError{Roles: actorRoles}
	}
	return nil
}
