package dispatch

import (
	"context"
	"fmt"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
)

// AuthorizeOptions configures a RoleAuthorizer. Shape mirrors the
// teacher's allow/deny tag-filtering policy engine
// (features/policy/basic/engine.go's Options/Decide), adapted from
// tool-call tag filtering to a role -> allowed-kinds matrix.
type AuthorizeOptions struct {
	// Matrix maps a role to the command kinds it may invoke. A role
	// whose list contains "*" may invoke any kind.
	Matrix map[string][]string
}

// RoleAuthorizer is the authorize step (C10 step 1): it denies a command
// whose role is not permitted to invoke its kind.
type RoleAuthorizer struct {
	allowed  map[string]map[string]struct{}
	wildcard map[string]bool
}

// NewRoleAuthorizer builds a RoleAuthorizer from opts.
func NewRoleAuthorizer(opts AuthorizeOptions) *RoleAuthorizer {
	allowed := make(map[string]map[string]struct{}, len(opts.Matrix))
	wildcard := make(map[string]bool, len(opts.Matrix))
	for role, kinds := range opts.Matrix {
		set := toSet(kinds)
		if _, ok := set["*"]; ok {
			wildcard[role] = true
		}
		allowed[role] = set
	}
	return &RoleAuthorizer{allowed: allowed, wildcard: wildcard}
}

// Authorize implements Authorizer.
func (a *RoleAuthorizer) Authorize(_ context.Context, cmd Command) error {
	if a.wildcard[cmd.Role] {
		return nil
	}
	set, ok := a.allowed[cmd.Role]
	if !ok {
		return apperr.New(apperr.Forbidden, fmt.Sprintf("dispatch: role %q is not recognized", cmd.Role))
	}
	if _, ok := set[cmd.Kind]; !ok {
		return apperr.New(apperr.Forbidden, fmt.Sprintf("dispatch: role %q may not invoke %q", cmd.Role, cmd.Kind))
	}
	return nil
}

func toSet[T ~string](items []T) map[T]struct{} {
	set := make(map[T]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
