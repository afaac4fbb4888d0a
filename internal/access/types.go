package access

import "time"

// Role is the three-value privilege level carried by every session. The
// backing integers are part of the storage contract: 0 ordinary user,
// 1 manager, 2 admin.
type Role int

const (
	RoleUser    Role = 0
	RoleManager Role = 1
	RoleAdmin   Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleManager:
		return "manager"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the three defined roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleManager || r == RoleAdmin
}

// User statuses as stored in the directory.
const (
	UserStatusPending  = "pending"
	UserStatusApproved = "approved"
	UserStatusRejected = "rejected"
	UserStatusBanned   = "banned"
)

// User is a directory record. The access core only reads it; mutation goes
// through the admin surface.
type User struct {
	ID           string
	Phone        string
	PasscodeHash string
	FirstName    string
	LastName     string
	Status       string
	Role         Role
	CreatedAt    time.Time
}

// DeviceInfo is the snapshot captured when a session is created.
type DeviceInfo struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
}

// Session is a server-side record bound to an opaque bearer token.
// Everything except LastActivity is immutable after creation.
type Session struct {
	Token        string     `json:"token"`
	UserID       string     `json:"user_id"`
	Role         Role       `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	LastActivity time.Time  `json:"last_activity"`
	Device       DeviceInfo `json:"device"`

	revokedAt time.Time
}

// Revoked reports whether the session has been explicitly revoked.
func (s *Session) Revoked() bool { return !s.revokedAt.IsZero() }

// OTPChallenge is a short-lived single-use numeric code bound to a user.
type OTPChallenge struct {
	UserID    string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PermissionRule maps an endpoint path pattern to an enabled/disabled gate.
// Path segments written as "{name}" match any single request segment.
type PermissionRule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Permission  string    `json:"required_permission"`
	Description string    `json:"description"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DenyListEntry revokes one permission for one user regardless of role.
type DenyListEntry struct {
	UserID       string    `json:"user_id"`
	PermissionID string    `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountLink ties one MT5 login to the directory user who owns it.
// A login belongs to exactly one user.
type AccountLink struct {
	UserID   string    `json:"user_id"`
	Login    int64     `json:"login"`
	LinkedAt time.Time `json:"linked_at"`
}

// Manager is the manager-console identity attached to a directory user.
type Manager struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ManagerAssignment links a managed user to exactly one manager.
type ManagerAssignment struct {
	ManagerID  string    `json:"manager_id"`
	UserID     string    `json:"user_id"`
	AssignedAt time.Time `json:"assigned_at"`
}
