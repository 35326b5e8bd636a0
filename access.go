package authsite

import "context"

// Requirement describes what a protected view needs from the caller
type Requirement struct {
	Verified bool
	Role     Role
}

var (
	RequireVerified = Requirement{Verified: true}
	RequireAdmin    = Requirement{Verified: true, Role: RoleAdmin}
)

// Decision is the outcome of evaluating a Requirement
type Decision int

const (
	Allow Decision = iota
	DenyUnauthenticated
	DenyUnverified
	DenyRole
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyUnauthenticated:
		return "unauthenticated"
	case DenyUnverified:
		return "unverified"
	case DenyRole:
		return "forbidden"
	}
	return "unknown"
}

func IsAuthenticated(a *Account) bool {
	return a != nil && a.User != nil && a.Profile != nil && a.User.IsActive
}

func IsEmailVerified(p *Profile) bool {
	return p != nil && p.EmailVerified
}

func HasRole(p *Profile, required Role) bool {
	return p != nil && p.Role.IsAtLeast(required)
}

// Evaluate runs the predicates in order: authentication, verification, role.
// The first failing predicate decides the outcome.
func Evaluate(req Requirement, a *Account) Decision {
	if !IsAuthenticated(a) {
		return DenyUnauthenticated
	}
	if (req.Verified || req.Role != "") && !IsEmailVerified(a.Profile) {
		return DenyUnverified
	}
	if req.Role != "" && !HasRole(a.Profile, req.Role) {
		return DenyRole
	}
	return Allow
}

type accountCtxKey struct{}

// WithAccount attaches the authenticated account to ctx
func WithAccount(ctx context.Context, a *Account) context.Context {
	return context.WithValue(ctx, accountCtxKey{}, a)
}

// AccountFromContext returns the authenticated account or nil
func AccountFromContext(ctx context.Context) *Account {
	a, _ := ctx.Value(accountCtxKey{}).(*Account)
	return a
}
