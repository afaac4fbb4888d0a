package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"brokergate.org/internal/access"
	"brokergate.org/internal/trading"
)

func TestAccountOwnershipGatesSelfService(t *testing.T) {
	env := newTestAPI(t)
	owner := env.api.login("+77015551111", "pass-a")
	other := env.api.login("+77015552222", "pass-b")
	env.linkAccount(t, owner.UserID, 1001)

	resp := env.api.do(http.MethodPost, "/api/mt5/accounts/1001/deposit",
		map[string]any{"amount": 50.0}, owner.Token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner deposit status: %d", resp.StatusCode)
	}

	// anyone else is turned away before the gateway is touched
	resp = env.api.do(http.MethodPost, "/api/mt5/accounts/1001/deposit",
		map[string]any{"amount": 50.0}, other.Token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign account, got %d", resp.StatusCode)
	}

	resp = env.api.do(http.MethodGet, "/api/mt5/accounts/1001", nil, other.Token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign account info, got %d", resp.StatusCode)
	}

	// transfers only move funds out of an owned account
	resp = env.api.do(http.MethodPost, "/api/mt5/accounts/transfer",
		map[string]any{"from_login": 1001, "to_login": 1002, "amount": 10.0}, other.Token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign transfer source, got %d", resp.StatusCode)
	}
}

func TestCreateAccountLinksOwnership(t *testing.T) {
	env := newTestAPI(t)
	user := env.api.login("+77015551111", "pass-a")

	resp := env.api.do(http.MethodPost, "/api/mt5/accounts",
		map[string]any{"name": "demo", "group": "standard", "leverage": 100}, user.Token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create account status: %d", resp.StatusCode)
	}
	var acc trading.Account
	if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	resp.Body.Close()

	// the fresh login is reachable by its creator
	resp = env.api.do(http.MethodGet, "/api/mt5/accounts/5001", nil, user.Token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on created account, got %d", resp.StatusCode)
	}

	resp = env.api.do(http.MethodGet, "/api/mt5/accounts/my-accounts", nil, user.Token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("my-accounts status: %d", resp.StatusCode)
	}
	var links []access.AccountLink
	if err := json.NewDecoder(resp.Body).Decode(&links); err != nil {
		t.Fatalf("decode links: %v", err)
	}
	if len(links) != 1 || links[0].Login != acc.Login {
		t.Fatalf("unexpected links: %+v", links)
	}
}

func TestManagerRouteRequiresManagerRole(t *testing.T) {
	env := newTestAPI(t)
	user := env.api.login("+77015553333", "pass-c")
	target := env.api.login("+77015554444", "pass-d")
	env.linkAccount(t, target.UserID, 1001)

	resp := env.api.do(http.MethodGet,
		"/api/manager/mt5/accounts/1001?target_user_id="+target.UserID, nil, user.Token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-manager caller, got %d", resp.StatusCode)
	}

	resp = env.api.do(http.MethodGet,
		"/api/manager/mt5/accounts/1001?target_user_id="+target.UserID, nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", resp.StatusCode)
	}
}
