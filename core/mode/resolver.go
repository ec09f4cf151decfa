package mode

import (
	"fmt"
	"strings"
)

// Rule grants a mode to a role, optionally only within a named view.
type Rule struct {
	Role string
	Mode Mode
	View string
}

// ParseRule parses a declaration of the form "role:perms" or "role:perms:view".
func ParseRule(decl string) (Rule, error) {
	parts := strings.Split(decl, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Rule{}, fmt.Errorf("role rule %q: expected role:perms[:view]", decl)
	}
	role := strings.TrimSpace(parts[0])
	if role == "" {
		return Rule{}, fmt.Errorf("role rule %q: empty role", decl)
	}
	m, err := Parse(strings.TrimSpace(parts[1]))
	if err != nil {
		return Rule{}, fmt.Errorf("role rule %q: %w", decl, err)
	}
	r := Rule{Role: role, Mode: m}
	if len(parts) == 3 {
		r.View = strings.TrimSpace(parts[2])
	}
	return r, nil
}

// Resolver computes effective modes from a fixed rule set. It is immutable
// after construction and safe for concurrent use.
type Resolver struct {
	// byRole maps role -> view -> mode; view "" is the default rule.
	byRole map[string]map[string]Mode
}

// NewResolver builds a resolver. Duplicate (role, view) pairs are rejected.
func NewResolver(rules []Rule) (*Resolver, error) {
	r := &Resolver{byRole: make(map[string]map[string]Mode, len(rules))}
	for _, rule := range rules {
		views, ok := r.byRole[rule.Role]
		if !ok {
			views = make(map[string]Mode)
			r.byRole[rule.Role] = views
		}
		if _, dup := views[rule.View]; dup {
			return nil, fmt.Errorf("duplicate role rule for role %q view %q", rule.Role, rule.View)
		}
		views[rule.View] = rule.Mode
	}
	return r, nil
}

// Declared returns the server-declared mode for role within view. A view
// without its own rule falls back to the role's default rule. Unknown roles
// get the empty set.
func (r *Resolver) Declared(role, view string) Mode {
	views, ok := r.byRole[role]
	if !ok {
		return 0
	}
	if view != "" {
		if m, ok := views[view]; ok {
			return m
		}
	}
	return views[""]
}

// Effective returns the declared mode narrowed by the client-requested mode.
// An empty request means no narrowing. The result is always a subset of the
// declared mode.
func (r *Resolver) Effective(role, view, requested string) Mode {
	declared := r.Declared(role, view)
	if requested == "" {
		return declared
	}
	return declared.Intersect(ParseLenient(requested))
}

// Roles returns the roles that have at least one rule.
func (r *Resolver) Roles() []string {
	roles := make([]string, 0, len(r.byRole))
	for role := range r.byRole {
		roles = append(roles, role)
	}
	return roles
}
