package access

import "context"

// UserDirectory is the authoritative store of user records. The core reads
// from it on every session creation and validation; writes happen only
// through the admin surface.
type UserDirectory interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByPhone(ctx context.Context, phone string) (*User, error)
	Create(ctx context.Context, u *User) error
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateRole(ctx context.Context, id string, role Role) error
	UpdatePasscode(ctx context.Context, id, passcodeHash string) error
	List(ctx context.Context) ([]*User, error)
}

// RuleStore is the persistent backing of the permission registry.
type RuleStore interface {
	List(ctx context.Context) ([]PermissionRule, error)
	// Ensure inserts rules that are not present yet; existing rules are
	// left untouched (startup seeding is additive, never destructive).
	Ensure(ctx context.Context, rules []PermissionRule) error
	SetActive(ctx context.Context, name string, active bool) error
}

// DenyListStore holds per-(user, permission) explicit overrides.
type DenyListStore interface {
	Has(ctx context.Context, userID, permissionID string) (bool, error)
	Add(ctx context.Context, userID, permissionID string) error
	Remove(ctx context.Context, userID, permissionID string) error
	ListForUser(ctx context.Context, userID string) ([]DenyListEntry, error)
}

// AssignmentStore persists managers and their user assignments.
type AssignmentStore interface {
	CreateManager(ctx context.Context, userID, name string) (Manager, error)
	DeleteManager(ctx context.Context, managerID string) error
	ManagerIDOf(ctx context.Context, userID string) (string, error)
	ManagerOfUser(ctx context.Context, userID string) (string, error)
	IsAssigned(ctx context.Context, managerID, userID string) (bool, error)
	Assign(ctx context.Context, managerID, userID string) error
	Unassign(ctx context.Context, managerID, userID string) error
	HasAssignments(ctx context.Context, managerID string) (bool, error)
	ListAssignments(ctx context.Context, managerID string) ([]ManagerAssignment, error)
}

// AccountStore records which user owns each MT5 login. Login-scoped trading
// operations consult it before touching the gateway and fail closed when the
// pair is absent.
type AccountStore interface {
	Link(ctx context.Context, userID string, login int64) error
	Owns(ctx context.Context, userID string, login int64) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]AccountLink, error)
}

// DeviceRecorder receives the device snapshot captured at session creation.
// Recording is best-effort audit; failures do not abort the login.
type DeviceRecorder interface {
	Record(ctx context.Context, userID string, device DeviceInfo) error
}
