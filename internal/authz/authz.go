// Package authz implements the Authorizer collaborator internal/state
// consults for operations touching Tenant and User scopes (SPEC_FULL.md
// §6). The corpus has no direct analog for scope-level access control, so
// this is a small allow/deny policy table rather than a port of an
// existing file — see DESIGN.md for the stdlib-only justification.
package authz

import (
	"context"
	"sync"

	"github.com/lexlapax/statecore/internal/scope"
)

// Decision is one policy entry: whether op is allowed against scope kind
// for a specific id, or for every id of that kind when ID is empty.
type Decision struct {
	Kind  scope.Kind
	ID    string
	Op    string
	Allow bool
}

// Policy is an ordered allow/deny table for Tenant/User-scoped operations.
// Later-registered decisions take precedence over earlier ones for the
// same (kind, id, op) tuple; the default for an unmatched tuple is allow,
// matching the "Authorizer absence means allow" default the State Manager
// already applies when no Authorizer is configured at all.
type Policy struct {
	mu        sync.RWMutex
	decisions []Decision
	denyByDefault bool
}

func NewPolicy() *Policy { return &Policy{} }

// DenyByDefault switches the policy to deny any (kind, id, op) tuple that
// has no matching decision, instead of the default allow.
func (p *Policy) DenyByDefault(deny bool) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denyByDefault = deny
	return p
}

// Grant registers an allow decision for op against every scope of kind, or
// a specific id when id is non-empty.
func (p *Policy) Grant(kind scope.Kind, id, op string) *Policy {
	return p.add(kind, id, op, true)
}

// Deny registers a deny decision for op against every scope of kind, or a
// specific id when id is non-empty.
func (p *Policy) Deny(kind scope.Kind, id, op string) *Policy {
	return p.add(kind, id, op, false)
}

func (p *Policy) add(kind scope.Kind, id, op string, allow bool) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decisions = append(p.decisions, Decision{Kind: kind, ID: id, Op: op, Allow: allow})
	return p
}

// Allow implements state.Authorizer. It scans registered decisions from
// most- to least-specific (exact id match before wildcard), and the most
// recently registered decision wins among equally-specific matches.
func (p *Policy) Allow(ctx context.Context, s scope.Scope, op string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	exactMatch, exactFound := false, false
	wildcardMatch, wildcardFound := false, false

	for _, d := range p.decisions {
		if d.Kind != s.Kind || (d.Op != op && d.Op != "*") {
			continue
		}
		if d.ID == s.ID && d.ID != "" {
			exactMatch, exactFound = d.Allow, true
			continue
		}
		if d.ID == "" {
			wildcardMatch, wildcardFound = d.Allow, true
		}
	}

	if exactFound {
		return exactMatch
	}
	if wildcardFound {
		return wildcardMatch
	}
	return !p.denyByDefault
}
