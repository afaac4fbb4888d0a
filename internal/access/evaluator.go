package access

import (
	"context"
	"errors"
	"fmt"
)

// Evaluator combines the registry, deny list, and scope resolver into one
// allow/deny decision per request. Checks run cheapest-first and the explicit
// per-user deny is deliberately not overridable by role: operators need to be
// able to suspend one capability for one user, admins included.
type Evaluator struct {
	registry *Registry
	denyList DenyListStore
	scope    *ScopeResolver
	dir      UserDirectory
}

// NewEvaluator wires the decision pipeline.
func NewEvaluator(registry *Registry, denyList DenyListStore, scope *ScopeResolver, dir UserDirectory) *Evaluator {
	return &Evaluator{registry: registry, denyList: denyList, scope: scope, dir: dir}
}

// Evaluate decides whether the session may act on path, optionally against a
// target user. A non-nil error always means deny (dependency failure, mapped
// to 503 by the transport); it is never collapsed into an allow.
func (e *Evaluator) Evaluate(ctx context.Context, sess *Session, path, targetUserID string) (Decision, error) {
	if sess == nil {
		return Deny(ReasonUnauthenticated), nil
	}

	rule, ok := e.registry.Match(path)
	if !ok {
		// Unrecognized endpoints are never implicitly allowed.
		return Deny(ReasonEndpointNotConfigured), nil
	}
	if !rule.Active {
		return Deny(ReasonEndpointDisabled), nil
	}

	blocked, err := e.denyList.Has(ctx, sess.UserID, rule.ID)
	if err != nil {
		return Deny(ReasonUnavailable), fmt.Errorf("%w: deny list: %v", ErrUnavailable, err)
	}
	if blocked {
		return Deny(ReasonUserBlocked), nil
	}

	if sess.Role == RoleManager && targetUserID != "" {
		d, err := e.checkScope(ctx, sess, targetUserID)
		if err != nil || !d.Allowed {
			return d, err
		}
	}

	return Allow(&rule), nil
}

func (e *Evaluator) checkScope(ctx context.Context, sess *Session, targetUserID string) (Decision, error) {
	managerID, err := e.scope.ManagerIDOf(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Deny(ReasonOutOfScope), nil
		}
		return Deny(ReasonUnavailable), err
	}

	// Managers may not manage managers, themselves included.
	target, err := e.dir.Find(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Deny(ReasonOutOfScope), nil
		}
		return Deny(ReasonUnavailable), fmt.Errorf("%w: directory: %v", ErrUnavailable, err)
	}
	if target.Role != RoleUser {
		return Deny(ReasonOutOfScope), nil
	}

	assigned, err := e.scope.IsAssigned(ctx, managerID, targetUserID)
	if err != nil {
		return Deny(ReasonUnavailable), err
	}
	if !assigned {
		return Deny(ReasonOutOfScope), nil
	}
	return Allow(nil), nil
}
