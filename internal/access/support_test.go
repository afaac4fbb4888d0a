package access

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeClock is a hand-advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeDirectory is an in-memory UserDirectory with error injection.
type fakeDirectory struct {
	mu      sync.Mutex
	byID    map[string]*User
	byPhone map[string]string
	findErr error
	nextID  int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{byID: make(map[string]*User), byPhone: make(map[string]string)}
}

func (d *fakeDirectory) add(u User) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.ID == "" {
		d.nextID++
		u.ID = fmt.Sprintf("user-%d", d.nextID)
	}
	if u.Status == "" {
		u.Status = UserStatusApproved
	}
	d.byID[u.ID] = &u
	if u.Phone != "" {
		d.byPhone[u.Phone] = u.ID
	}
	return u.ID
}

func (d *fakeDirectory) Find(_ context.Context, id string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.findErr != nil {
		return nil, d.findErr
	}
	u, ok := d.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *fakeDirectory) FindByPhone(_ context.Context, phone string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byPhone[phone]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d.byID[id]
	return &cp, nil
}

func (d *fakeDirectory) Create(_ context.Context, u *User) error {
	d.add(*u)
	return nil
}

func (d *fakeDirectory) UpdateStatus(_ context.Context, id, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}

func (d *fakeDirectory) UpdateRole(_ context.Context, id string, role Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.Role = role
	return nil
}

func (d *fakeDirectory) UpdatePasscode(_ context.Context, id, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.PasscodeHash = hash
	return nil
}

func (d *fakeDirectory) List(context.Context) ([]*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*User, 0, len(d.byID))
	for _, u := range d.byID {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

// fakeRuleStore backs the registry in tests.
type fakeRuleStore struct {
	mu    sync.Mutex
	rules map[string]PermissionRule
}

func newFakeRuleStore(rules ...PermissionRule) *fakeRuleStore {
	s := &fakeRuleStore{rules: make(map[string]PermissionRule)}
	for _, r := range rules {
		if r.ID == "" {
			r.ID = "perm-" + r.Name
		}
		s.rules[r.Name] = r
	}
	return s
}

func (s *fakeRuleStore) List(context.Context) ([]PermissionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PermissionRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeRuleStore) Ensure(_ context.Context, rules []PermissionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		if _, ok := s.rules[r.Name]; ok {
			continue
		}
		if r.ID == "" {
			r.ID = "perm-" + r.Name
		}
		s.rules[r.Name] = r
	}
	return nil
}

func (s *fakeRuleStore) SetActive(_ context.Context, name string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[name]
	if !ok {
		return ErrNotFound
	}
	r.Active = active
	s.rules[name] = r
	return nil
}

// fakeDenyList supports error injection for fail-closed tests.
type fakeDenyList struct {
	mu      sync.Mutex
	entries map[string]map[string]bool
	hasErr  error
}

func newFakeDenyList() *fakeDenyList {
	return &fakeDenyList{entries: make(map[string]map[string]bool)}
}

func (s *fakeDenyList) Has(_ context.Context, userID, permissionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasErr != nil {
		return false, s.hasErr
	}
	return s.entries[userID][permissionID], nil
}

func (s *fakeDenyList) Add(_ context.Context, userID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[userID] == nil {
		s.entries[userID] = make(map[string]bool)
	}
	s.entries[userID][permissionID] = true
	return nil
}

func (s *fakeDenyList) Remove(_ context.Context, userID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries[userID], permissionID)
	return nil
}

func (s *fakeDenyList) ListForUser(_ context.Context, userID string) ([]DenyListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DenyListEntry
	for permID := range s.entries[userID] {
		out = append(out, DenyListEntry{UserID: userID, PermissionID: permID})
	}
	return out, nil
}

// fakeAssignments is an in-memory AssignmentStore.
type fakeAssignments struct {
	mu          sync.Mutex
	managers    map[string]Manager
	byUser      map[string]string
	assignments map[string]map[string]bool
	nextID      int
}

func newFakeAssignments() *fakeAssignments {
	return &fakeAssignments{
		managers:    make(map[string]Manager),
		byUser:      make(map[string]string),
		assignments: make(map[string]map[string]bool),
	}
}

func (s *fakeAssignments) CreateManager(_ context.Context, userID, name string) (Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUser[userID]; ok {
		return Manager{}, ErrConflict
	}
	s.nextID++
	m := Manager{ID: fmt.Sprintf("mgr-%d", s.nextID), UserID: userID, Name: name}
	s.managers[m.ID] = m
	s.byUser[userID] = m.ID
	return m, nil
}

func (s *fakeAssignments) DeleteManager(_ context.Context, managerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.managers[managerID]
	if !ok {
		return ErrNotFound
	}
	delete(s.managers, managerID)
	delete(s.byUser, m.UserID)
	return nil
}

func (s *fakeAssignments) ManagerIDOf(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUser[userID]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *fakeAssignments) ManagerOfUser(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mgrID, users := range s.assignments {
		if users[userID] {
			return mgrID, nil
		}
	}
	return "", ErrNotFound
}

func (s *fakeAssignments) IsAssigned(_ context.Context, managerID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignments[managerID][userID], nil
}

func (s *fakeAssignments) Assign(_ context.Context, managerID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assignments[managerID] == nil {
		s.assignments[managerID] = make(map[string]bool)
	}
	s.assignments[managerID][userID] = true
	return nil
}

func (s *fakeAssignments) Unassign(_ context.Context, managerID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.assignments[managerID][userID] {
		return ErrNotFound
	}
	delete(s.assignments[managerID], userID)
	return nil
}

func (s *fakeAssignments) HasAssignments(_ context.Context, managerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assignments[managerID]) > 0, nil
}

func (s *fakeAssignments) ListAssignments(_ context.Context, managerID string) ([]ManagerAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ManagerAssignment
	for userID := range s.assignments[managerID] {
		out = append(out, ManagerAssignment{ManagerID: managerID, UserID: userID})
	}
	return out, nil
}
