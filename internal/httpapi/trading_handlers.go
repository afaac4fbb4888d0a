package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"brokergate.org/internal/access"
	"brokergate.org/internal/audit"
	"brokergate.org/internal/trading"
)

type amountRequest struct {
	Amount  float64 `json:"amount"`
	Comment string  `json:"comment"`
}

type transferRequest struct {
	FromLogin int64   `json:"from_login"`
	ToLogin   int64   `json:"to_login"`
	Amount    float64 `json:"amount"`
}

type createAccountRequest struct {
	Name     string `json:"name"`
	Group    string `json:"group"`
	Leverage int    `json:"leverage"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// handleTrading proxies self-service calls under /api/mt5/. Every
// request goes through the evaluator first; paths the catalog does not
// know are denied before any dispatch happens. The caller only reaches
// logins linked to their own directory record.
func (a *API) handleTrading(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, r.URL.Path, "") {
		return
	}
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	a.dispatchTrading(w, r, strings.TrimPrefix(r.URL.Path, "/api/mt5"), sess.UserID)
}

// handleManagerTrading proxies calls a manager makes on behalf of an
// assigned user. The target user travels in the target_user_id query
// parameter; the evaluator applies the scope check and login-scoped
// operations require the target to own the login. The rule path is the
// request path with the /manager prefix folded away, so both surfaces
// share one permission catalog.
func (a *API) handleManagerTrading(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireRole(w, r, access.RoleManager); !ok {
		return
	}
	target := strings.TrimSpace(r.URL.Query().Get("target_user_id"))
	if target == "" {
		writeError(w, r, http.StatusBadRequest, "target_user_id is required")
		return
	}
	rulePath := "/api" + strings.TrimPrefix(r.URL.Path, "/api/manager")
	if !a.authorize(w, r, rulePath, target) {
		return
	}
	a.dispatchTrading(w, r, strings.TrimPrefix(rulePath, "/api/mt5"), target)
}

// dispatchTrading routes a trading call. ownerID is the user whose
// account links gate the login-scoped operations: the caller on the
// self-service surface, the target on the manager surface.
func (a *API) dispatchTrading(w http.ResponseWriter, r *http.Request, suffix, ownerID string) {
	parts := strings.Split(strings.Trim(suffix, "/"), "/")
	if len(parts) == 0 || parts[0] != "accounts" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch {
	case len(parts) == 1:
		a.handleCreateAccount(w, r, ownerID)
	case len(parts) == 2 && parts[1] == "transfer":
		a.handleTransfer(w, r, ownerID)
	case len(parts) == 2 && parts[1] == "my-accounts":
		a.handleMyAccounts(w, r, ownerID)
	case len(parts) == 2:
		a.handleAccountInfo(w, r, ownerID, parts[1])
	case len(parts) == 3 && parts[1] == "change-password":
		a.handleChangePassword(w, r, ownerID, parts[2])
	case len(parts) == 3 && parts[1] == "check-password":
		a.handleCheckPassword(w, r, ownerID, parts[2])
	case len(parts) == 3 && parts[1] == "update-rights":
		a.handleUpdateRights(w, r, ownerID, parts[2])
	case len(parts) == 3 && parts[2] == "deposit":
		a.handleBalanceOp(w, r, ownerID, parts[1], true)
	case len(parts) == 3 && parts[2] == "withdraw":
		a.handleBalanceOp(w, r, ownerID, parts[1], false)
	case len(parts) == 3 && parts[2] == "enable-trading":
		a.handleSetTrading(w, r, ownerID, parts[1], true)
	case len(parts) == 3 && parts[2] == "disable-trading":
		a.handleSetTrading(w, r, ownerID, parts[1], false)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func parseLogin(raw string) (int64, bool) {
	login, err := strconv.ParseInt(raw, 10, 64)
	return login, err == nil && login > 0
}

// requireAccountAccess reports whether ownerID owns the login, writing
// the error response when they do not. Store failures deny.
func (a *API) requireAccountAccess(w http.ResponseWriter, r *http.Request, ownerID string, login int64) bool {
	owned, err := a.accounts.Owns(r.Context(), ownerID, login)
	if err != nil {
		handleAccessError(w, r, err)
		return false
	}
	if !owned {
		writeError(w, r, http.StatusForbidden, "you do not have access to this account")
		return false
	}
	return true
}

func (a *API) handleCreateAccount(w http.ResponseWriter, r *http.Request, ownerID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := a.trading.CreateAccount(r.Context(), trading.CreateAccountRequest{
		Name:     req.Name,
		Group:    req.Group,
		Leverage: req.Leverage,
	})
	if err != nil {
		handleTradingError(w, r, err)
		return
	}
	if err := a.accounts.Link(r.Context(), ownerID, acc.Login); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "trading.account.created", map[string]any{
		"login":   acc.Login,
		"user_id": ownerID,
	})
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) handleMyAccounts(w http.ResponseWriter, r *http.Request, ownerID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	links, err := a.accounts.ListForUser(r.Context(), ownerID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if links == nil {
		links = []access.AccountLink{}
	}
	writeJSON(w, http.StatusOK, links)
}

func (a *API) handleAccountInfo(w http.ResponseWriter, r *http.Request, ownerID, rawLogin string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	login, ok := parseLogin(rawLogin)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid account login")
		return
	}
	if !a.requireAccountAccess(w, r, ownerID, login) {
		return
	}
	acc, err := a.trading.Account(r.Context(), login)
	if err != nil {
		handleTradingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) handleBalanceOp(w http.ResponseWriter, r *http.Request, ownerID, rawLogin string, deposit bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	login, ok := parseLogin(rawLogin)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid account login")
		return
	}
	if !a.requireAccountAccess(w, r, ownerID, login) {
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, http.StatusBadRequest, "amount must be positive")
		return
	}

	op := a.trading.Withdraw
	event := "trading.withdraw"
	if deposit {
		op = a.trading.Deposit
		event = "trading.deposit"
	}
	res, err := op(r.Context(), login, req.Amount, req.Comment)
	if err != nil {
		handleTradingError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"login":  login,
		"amount": req.Amount,
		"ticket": res.Ticket,
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request, ownerID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.FromLogin <= 0 || req.ToLogin <= 0 || req.Amount <= 0 {
		writeError(w, r, http.StatusBadRequest, "from_login, to_login and a positive amount are required")
		return
	}
	// funds only move out of an owned account
	if !a.requireAccountAccess(w, r, ownerID, req.FromLogin) {
		return
	}
	res, err := a.trading.Transfer(r.Context(), req.FromLogin, req.ToLogin, req.Amount)
	if err != nil {
		handleTradingError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "trading.transfer", map[string]any{
		"from_login": req.FromLogin,
		"to_login":   req.ToLogin,
		"amount":     req.Amount,
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSetTrading(w http.ResponseWriter, r *http.Request, ownerID, rawLogin string, enabled bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	login, ok := parseLogin(rawLogin)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid account login")
		return
	}
	if !a.requireAccountAccess(w, r, ownerID, login) {
		return
	}
	if err := a.trading.SetTradingEnabled(r.Context(), login, enabled); err != nil {
		handleTradingError(w, r, err)
		return
	}
	event := "trading.disabled"
	if enabled {
		event = "trading.enabled"
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"login": login,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request, ownerID, rawLogin string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	login, ok := parseLogin(rawLogin)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid account login")
		return
	}
	if !a.requireAccountAccess(w, r, ownerID, login) {
		return
	}
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}
	if err := a.trading.ChangePassword(r.Context(), login, req.Password); err != nil {
		handleTradingError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "trading.password.changed", map[string]any{
		"login": login,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCheckPassword(w http.ResponseWriter, r *http.Request, ownerID, rawLogin string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	login, ok := parseLogin(rawLogin)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid account login")
		return
	}
	if !a.requireAccountAccess(w, r, ownerID, login) {
		return
	}
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	valid, err := a.trading.CheckPassword(r.Context(), login, req.Password)
	if err != nil {
		handleTradingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": valid})
}

func (a *API) handleUpdateRights(w http.ResponseWriter, r *http.Request, ownerID, rawLogin string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	login, ok := parseLogin(rawLogin)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid account login")
		return
	}
	if !a.requireAccountAccess(w, r, ownerID, login) {
		return
	}
	var rights map[string]bool
	if err := decodeJSON(w, r, &rights); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.trading.UpdateRights(r.Context(), login, rights); err != nil {
		handleTradingError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "trading.rights.updated", map[string]any{
		"login": login,
	})
	w.WriteHeader(http.StatusNoContent)
}
