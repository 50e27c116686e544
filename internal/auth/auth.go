// Package auth provides the boolean capability check used by operator
// commands. Role taxonomy lives upstream of this service; the ledger
// only needs to know whether an operator address may issue
// administrative commands.
package auth

import "context"

// Authorizer reports whether an operator may issue administrative
// commands (create/launch/close pools, manage distributions).
type Authorizer interface {
	IsAuthorized(ctx context.Context, operator string) bool
}

// StaticAuthorizer authorizes a fixed set of operator addresses.
type StaticAuthorizer struct {
	allowed map[string]struct{}
}

// NewStaticAuthorizer creates an authorizer for the given operators.
func NewStaticAuthorizer(operators ...string) *StaticAuthorizer {
	allowed := make(map[string]struct{}, len(operators))
	for _, op := range operators {
		allowed[op] = struct{}{}
	}
	return &StaticAuthorizer{allowed: allowed}
}

// IsAuthorized reports whether operator is in the allowed set.
func (a *StaticAuthorizer) IsAuthorized(_ context.Context, operator string) bool {
	_, ok := a.allowed[operator]
	return ok
}

// AllowAll authorizes every operator. Intended for tests and local
// development.
type AllowAll struct{}

// IsAuthorized always returns true.
func (AllowAll) IsAuthorized(context.Context, string) bool { return true }
