package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"brokergate.org/internal/access"
	"brokergate.org/internal/trading"
)

// --- in-memory fakes ---

type memDirectory struct {
	mu      sync.Mutex
	byID    map[string]*access.User
	byPhone map[string]string
	nextID  int
}

func newMemDirectory() *memDirectory {
	return &memDirectory{byID: make(map[string]*access.User), byPhone: make(map[string]string)}
}

func (d *memDirectory) Find(_ context.Context, id string) (*access.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *memDirectory) FindByPhone(_ context.Context, phone string) (*access.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byPhone[phone]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *d.byID[id]
	return &cp, nil
}

func (d *memDirectory) Create(_ context.Context, u *access.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byPhone[u.Phone]; ok {
		return access.ErrConflict
	}
	if u.ID == "" {
		d.nextID++
		u.ID = fmt.Sprintf("user-%d", d.nextID)
	}
	u.CreatedAt = time.Now()
	cp := *u
	d.byID[u.ID] = &cp
	d.byPhone[u.Phone] = u.ID
	return nil
}

func (d *memDirectory) UpdateStatus(_ context.Context, id, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return access.ErrNotFound
	}
	u.Status = status
	return nil
}

func (d *memDirectory) UpdateRole(_ context.Context, id string, role access.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return access.ErrNotFound
	}
	u.Role = role
	return nil
}

func (d *memDirectory) UpdatePasscode(_ context.Context, id, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return access.ErrNotFound
	}
	u.PasscodeHash = hash
	return nil
}

func (d *memDirectory) List(_ context.Context) ([]*access.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*access.User, 0, len(d.byID))
	for _, u := range d.byID {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

type memRules struct {
	mu    sync.Mutex
	rules map[string]access.PermissionRule
}

func newMemRules() *memRules {
	return &memRules{rules: make(map[string]access.PermissionRule)}
}

func (s *memRules) List(context.Context) ([]access.PermissionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]access.PermissionRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *memRules) Ensure(_ context.Context, rules []access.PermissionRule) error {
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

func (s *memRules) SetActive(_ context.Context, name string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[name]
	if !ok {
		return access.ErrNotFound
	}
	r.Active = active
	s.rules[name] = r
	return nil
}

type memDenyList struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time
}

func newMemDenyList() *memDenyList {
	return &memDenyList{entries: make(map[string]map[string]time.Time)}
}

func (s *memDenyList) Has(_ context.Context, userID, permissionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[userID][permissionID]
	return ok, nil
}

func (s *memDenyList) Add(_ context.Context, userID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[userID] == nil {
		s.entries[userID] = make(map[string]time.Time)
	}
	s.entries[userID][permissionID] = time.Now()
	return nil
}

func (s *memDenyList) Remove(_ context.Context, userID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries[userID], permissionID)
	return nil
}

func (s *memDenyList) ListForUser(_ context.Context, userID string) ([]access.DenyListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []access.DenyListEntry
	for permID, at := range s.entries[userID] {
		out = append(out, access.DenyListEntry{UserID: userID, PermissionID: permID, CreatedAt: at})
	}
	return out, nil
}

type memAssignments struct {
	mu          sync.Mutex
	managers    map[string]access.Manager
	byUser      map[string]string
	assignments map[string]map[string]time.Time
	nextID      int
}

func newMemAssignments() *memAssignments {
	return &memAssignments{
		managers:    make(map[string]access.Manager),
		byUser:      make(map[string]string),
		assignments: make(map[string]map[string]time.Time),
	}
}

func (s *memAssignments) CreateManager(_ context.Context, userID, name string) (access.Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUser[userID]; ok {
		return access.Manager{}, access.ErrConflict
	}
	s.nextID++
	m := access.Manager{ID: fmt.Sprintf("mgr-%d", s.nextID), UserID: userID, Name: name, CreatedAt: time.Now()}
	s.managers[m.ID] = m
	s.byUser[userID] = m.ID
	return m, nil
}

func (s *memAssignments) DeleteManager(_ context.Context, managerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.managers[managerID]
	if !ok {
		return access.ErrNotFound
	}
	delete(s.managers, managerID)
	delete(s.byUser, m.UserID)
	return nil
}

func (s *memAssignments) ManagerIDOf(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUser[userID]
	if !ok {
		return "", access.ErrNotFound
	}
	return id, nil
}

func (s *memAssignments) ManagerOfUser(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mgrID, users := range s.assignments {
		if _, ok := users[userID]; ok {
			return mgrID, nil
		}
	}
	return "", access.ErrNotFound
}

func (s *memAssignments) IsAssigned(_ context.Context, managerID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.assignments[managerID][userID]
	return ok, nil
}

func (s *memAssignments) Assign(_ context.Context, managerID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assignments[managerID] == nil {
		s.assignments[managerID] = make(map[string]time.Time)
	}
	s.assignments[managerID][userID] = time.Now()
	return nil
}

func (s *memAssignments) Unassign(_ context.Context, managerID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[managerID][userID]; !ok {
		return access.ErrNotFound
	}
	delete(s.assignments[managerID], userID)
	return nil
}

func (s *memAssignments) HasAssignments(_ context.Context, managerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assignments[managerID]) > 0, nil
}

func (s *memAssignments) ListAssignments(_ context.Context, managerID string) ([]access.ManagerAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []access.ManagerAssignment
	for userID, at := range s.assignments[managerID] {
		out = append(out, access.ManagerAssignment{ManagerID: managerID, UserID: userID, AssignedAt: at})
	}
	return out, nil
}

type memAccounts struct {
	mu    sync.Mutex
	links map[string]map[int64]time.Time
}

func newMemAccounts() *memAccounts {
	return &memAccounts{links: make(map[string]map[int64]time.Time)}
}

func (s *memAccounts) Link(_ context.Context, userID string, login int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, logins := range s.links {
		if _, ok := logins[login]; ok {
			return access.ErrConflict
		}
	}
	if s.links[userID] == nil {
		s.links[userID] = make(map[int64]time.Time)
	}
	s.links[userID][login] = time.Now()
	return nil
}

func (s *memAccounts) Owns(_ context.Context, userID string, login int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.links[userID][login]
	return ok, nil
}

func (s *memAccounts) ListForUser(_ context.Context, userID string) ([]access.AccountLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []access.AccountLink
	for login, at := range s.links[userID] {
		out = append(out, access.AccountLink{UserID: userID, Login: login, LinkedAt: at})
	}
	return out, nil
}

// --- gateway stub ---

func newGatewayStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/auth/login":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "x.y.z"})
		case r.URL.Path == "/api/mt5/accounts" && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(trading.Account{Login: 5001, Name: "new", Enabled: true})
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(trading.Account{Login: 1001, Balance: 99.5, Enabled: true})
		default:
			json.NewEncoder(w).Encode(trading.BalanceResult{Login: 1001, Balance: 100, Ticket: 7})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// --- harness ---

type testEnv struct {
	api       *apiClient
	directory *memDirectory
	accounts  *memAccounts
	sessions  *access.SessionStore
	otp       *access.OTPStore
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *testEnv {
	t.Helper()

	dir := newMemDirectory()
	ruleStore := newMemRules()
	denyList := newMemDenyList()
	assignments := newMemAssignments()
	accounts := newMemAccounts()

	registry := access.NewRegistry(ruleStore)
	if err := registry.EnsureSeed(context.Background()); err != nil {
		t.Fatalf("EnsureSeed: %v", err)
	}
	scope := access.NewScopeResolver(assignments, dir)
	evaluator := access.NewEvaluator(registry, denyList, scope, dir)
	sessions := access.NewSessionStore(dir)
	otp := access.NewOTPStore()

	gw := newGatewayStub(t)

	api := New(ReadyProbe{}, "test", Deps{
		Sessions:      sessions,
		OTP:           otp,
		Registry:      registry,
		Evaluator:     evaluator,
		Scope:         scope,
		Users:         dir,
		DenyList:      denyList,
		Assignments:   assignments,
		Accounts:      accounts,
		Trading:       trading.NewClient(gw.URL, "gw", "gw"),
		RatePerSecond: 1000,
		RateBurst:     1000,
		OTPPerMinute:  1000,
	})
	t.Cleanup(api.Close)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		api:       &apiClient{baseURL: srv.URL, client: srv.Client(), t: t},
		directory: dir,
		accounts:  accounts,
		sessions:  sessions,
		otp:       otp,
	}
}

// linkAccount seeds an ownership row directly in the fake store.
func (env *testEnv) linkAccount(t *testing.T, userID string, login int64) {
	t.Helper()
	if err := env.accounts.Link(context.Background(), userID, login); err != nil {
		t.Fatalf("link account: %v", err)
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) login(phone, passcode string) loginResponse {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/api/auth/login", map[string]string{
		"phone":    phone,
		"passcode": passcode,
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login status: %d", resp.StatusCode)
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.t.Fatalf("decode login response: %v", err)
	}
	return out
}

func (env *testEnv) seedAdmin(t *testing.T) loginResponse {
	t.Helper()
	hash, err := access.HashPasscode("admin-passcode")
	if err != nil {
		t.Fatalf("HashPasscode: %v", err)
	}
	admin := &access.User{
		Phone:        "+77000000000",
		PasscodeHash: hash,
		Status:       access.UserStatusApproved,
		Role:         access.RoleAdmin,
	}
	if err := env.directory.Create(context.Background(), admin); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	return env.api.login("+77000000000", "admin-passcode")
}

// --- tests ---

func TestHealthz(t *testing.T) {
	env := newTestAPI(t)
	resp := env.api.do(http.MethodGet, "/healthz", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestAPICloseIsIdempotent(t *testing.T) {
	api := New(ReadyProbe{}, "test", Deps{})
	_ = api.Handler()
	api.Close()
	api.Close()
}

func TestLoginRegistersAndAllowsTrading(t *testing.T) {
	env := newTestAPI(t)

	session := env.api.login("+77011234567", "secret-pass")
	if session.Status != access.UserStatusPending {
		t.Fatalf("expected pending registration, got %s", session.Status)
	}
	env.linkAccount(t, session.UserID, 1001)

	resp := env.api.do(http.MethodGet, "/api/mt5/accounts/1001", nil, session.Token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var acc trading.Account
	if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acc.Login != 1001 {
		t.Fatalf("unexpected login: %d", acc.Login)
	}
}

func TestLoginRejectsWrongPasscode(t *testing.T) {
	env := newTestAPI(t)
	env.api.login("+77011234567", "right-pass")

	resp := env.api.do(http.MethodPost, "/api/auth/login", map[string]string{
		"phone":    "+77011234567",
		"passcode": "wrong-pass",
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestUnconfiguredPathDenied(t *testing.T) {
	env := newTestAPI(t)
	session := env.api.login("+77011234567", "secret-pass")

	resp := env.api.do(http.MethodGet, "/api/mt5/positions", nil, session.Token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestMissingTokenUnauthorized(t *testing.T) {
	env := newTestAPI(t)
	resp := env.api.do(http.MethodGet, "/api/mt5/accounts/1001", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestAPI(t)
	session := env.api.login("+77011234567", "secret-pass")

	resp := env.api.do(http.MethodPost, "/api/auth/logout", nil, session.Token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status: %d", resp.StatusCode)
	}

	resp = env.api.do(http.MethodGet, "/api/mt5/accounts/1001", nil, session.Token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestChangePasscodeRevokesSessions(t *testing.T) {
	env := newTestAPI(t)
	first := env.api.login("+77011234567", "old-pass")
	second := env.api.login("+77011234567", "old-pass")

	resp := env.api.do(http.MethodPost, "/api/auth/passcode", map[string]string{
		"current_passcode": "wrong-pass",
		"new_passcode":     "new-pass",
	}, first.Token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong current passcode, got %d", resp.StatusCode)
	}

	resp = env.api.do(http.MethodPost, "/api/auth/passcode", map[string]string{
		"current_passcode": "old-pass",
		"new_passcode":     "new-pass",
	}, first.Token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("change passcode status: %d", resp.StatusCode)
	}

	// every session is gone, the second one included
	for _, token := range []string{first.Token, second.Token} {
		resp = env.api.do(http.MethodGet, "/api/mt5/accounts/1001", nil, token)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 after credential change, got %d", resp.StatusCode)
		}
	}

	// old credentials stop working, new ones log in
	resp = env.api.do(http.MethodPost, "/api/auth/login", map[string]string{
		"phone":    "+77011234567",
		"passcode": "old-pass",
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for old passcode, got %d", resp.StatusCode)
	}
	env.api.login("+77011234567", "new-pass")
}

func TestOTPLoginFlow(t *testing.T) {
	env := newTestAPI(t)
	registered := env.api.login("+77011234567", "secret-pass")

	resp := env.api.do(http.MethodPost, "/api/auth/otp/send", map[string]string{
		"phone": "+77011234567",
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("otp send status: %d", resp.StatusCode)
	}

	challenge, ok := env.otp.GetActive(registered.UserID)
	if !ok {
		t.Fatalf("expected an active challenge")
	}

	resp = env.api.do(http.MethodPost, "/api/auth/otp/verify", map[string]string{
		"phone": "+77011234567",
		"code":  "wrong" + challenge.Code,
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong code, got %d", resp.StatusCode)
	}

	resp = env.api.do(http.MethodPost, "/api/auth/otp/verify", map[string]string{
		"phone": "+77011234567",
		"code":  challenge.Code,
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("otp verify status: %d", resp.StatusCode)
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Token == "" || out.UserID != registered.UserID {
		t.Fatalf("unexpected session: %+v", out)
	}

	// the challenge is single use
	resp = env.api.do(http.MethodPost, "/api/auth/otp/verify", map[string]string{
		"phone": "+77011234567",
		"code":  challenge.Code,
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on reuse, got %d", resp.StatusCode)
	}
}
