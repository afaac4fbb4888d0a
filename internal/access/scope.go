package access

import (
	"context"
	"errors"
	"fmt"
)

// ScopeResolver restricts manager actions to their explicitly assigned users
// and owns the assignment lifecycle rules. It is the single place scope logic
// lives; handlers never re-implement it.
type ScopeResolver struct {
	assignments AssignmentStore
	directory   UserDirectory
}

// NewScopeResolver constructs a resolver over the persistent stores.
func NewScopeResolver(assignments AssignmentStore, directory UserDirectory) *ScopeResolver {
	return &ScopeResolver{assignments: assignments, directory: directory}
}

// ManagerIDOf resolves a user to their manager identity. ErrNotFound means
// the user is not a manager.
func (r *ScopeResolver) ManagerIDOf(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	id, err := r.assignments.ManagerIDOf(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

// IsAssigned reports whether the manager is responsible for the user.
func (r *ScopeResolver) IsAssigned(ctx context.Context, managerID, userID string) (bool, error) {
	if managerID == "" || userID == "" {
		return false, nil
	}
	ok, err := r.assignments.IsAssigned(ctx, managerID, userID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// Assign puts a user into a manager's portfolio. Fails with ErrConflict when
// the user already has a manager or is not an ordinary user: managers manage
// users, never each other and never admins.
func (r *ScopeResolver) Assign(ctx context.Context, managerID, userID string) error {
	if managerID == "" || userID == "" {
		return fmt.Errorf("%w: manager_id and user_id are required", ErrInvalidInput)
	}
	target, err := r.directory.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if target.Role != RoleUser {
		return fmt.Errorf("%w: %s accounts cannot be assigned to a manager", ErrConflict, target.Role)
	}
	if _, err := r.assignments.ManagerOfUser(ctx, userID); err == nil {
		return fmt.Errorf("%w: user already has a manager", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := r.assignments.Assign(ctx, managerID, userID); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Unassign removes a user from a manager's portfolio.
func (r *ScopeResolver) Unassign(ctx context.Context, managerID, userID string) error {
	if managerID == "" || userID == "" {
		return fmt.Errorf("%w: manager_id and user_id are required", ErrInvalidInput)
	}
	if err := r.assignments.Unassign(ctx, managerID, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteManager removes a manager identity. Deletion is not cascading:
// it fails with ErrConflict while any assignment for the manager exists.
func (r *ScopeResolver) DeleteManager(ctx context.Context, managerID string) error {
	if managerID == "" {
		return fmt.Errorf("%w: manager_id is required", ErrInvalidInput)
	}
	busy, err := r.assignments.HasAssignments(ctx, managerID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if busy {
		return fmt.Errorf("%w: manager still has assigned users", ErrConflict)
	}
	if err := r.assignments.DeleteManager(ctx, managerID); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
