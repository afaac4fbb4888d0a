package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"brokergate.org/internal/access"
	"brokergate.org/internal/audit"
	"brokergate.org/internal/obs"
)

type loginRequest struct {
	Phone     string `json:"phone"`
	Passcode  string `json:"passcode"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
}

type changePasscodeRequest struct {
	Current string `json:"current_passcode"`
	New     string `json:"new_passcode"`
}

type otpSendRequest struct {
	Phone string `json:"phone"`
}

type otpVerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// sessionView is the session shape exposed over HTTP. The raw token is
// never echoed back; only a short prefix for support correlation.
type sessionView struct {
	TokenPrefix  string            `json:"token_prefix"`
	UserID       string            `json:"user_id"`
	Role         string            `json:"role"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	LastActivity time.Time         `json:"last_activity"`
	Device       access.DeviceInfo `json:"device"`
}

func viewOfSession(s access.Session) sessionView {
	prefix := s.Token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return sessionView{
		TokenPrefix:  prefix,
		UserID:       s.UserID,
		Role:         s.Role.String(),
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		LastActivity: s.LastActivity,
		Device:       s.Device,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" || req.Passcode == "" {
		writeError(w, r, http.StatusBadRequest, "phone and passcode are required")
		return
	}

	user, err := a.users.FindByPhone(r.Context(), req.Phone)
	switch {
	case errors.Is(err, access.ErrNotFound):
		// first sight of this phone registers a pending account
		hash, hashErr := access.HashPasscode(req.Passcode)
		if hashErr != nil {
			writeError(w, r, http.StatusBadRequest, hashErr.Error())
			return
		}
		user = &access.User{
			Phone:        req.Phone,
			PasscodeHash: hash,
			FirstName:    strings.TrimSpace(req.FirstName),
			LastName:     strings.TrimSpace(req.LastName),
			Status:       access.UserStatusPending,
			Role:         access.RoleUser,
		}
		if err := a.users.Create(r.Context(), user); err != nil {
			handleAccessError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.user.registered", map[string]any{
			"user_id": user.ID,
			"phone":   user.Phone,
		})
	case err != nil:
		handleAccessError(w, r, err)
		return
	default:
		if err := access.VerifyPasscode(user.PasscodeHash, req.Passcode); err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid phone or passcode")
			return
		}
	}

	a.issueSession(w, r, user)
}

func (a *API) issueSession(w http.ResponseWriter, r *http.Request, user *access.User) {
	device := access.DeviceInfo{IP: clientIP(r), UserAgent: r.UserAgent()}
	token, err := a.sessions.Create(r.Context(), user.ID, user.Role, device)
	if err != nil {
		switch {
		case errors.Is(err, access.ErrUserBanned):
			writeError(w, r, http.StatusForbidden, "account is banned")
		default:
			handleAccessError(w, r, err)
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.session.created", map[string]any{
		"user_id": user.ID,
		"role":    user.Role.String(),
		"ip":      device.IP,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(access.DefaultSessionTTL),
		UserID:    user.ID,
		Role:      user.Role.String(),
		Status:    user.Status,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, ok := access.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	a.sessions.Revoke(token)
	_ = audit.LogEvent(r.Context(), "auth.session.revoked", nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleChangePasscode rotates the caller's passcode. Every session held
// by the user is revoked, the current one included; the new credentials
// must be used to log in again.
func (a *API) handleChangePasscode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req changePasscodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Current == "" || req.New == "" {
		writeError(w, r, http.StatusBadRequest, "current_passcode and new_passcode are required")
		return
	}

	user, err := a.users.Find(r.Context(), sess.UserID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if err := access.VerifyPasscode(user.PasscodeHash, req.Current); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid passcode")
		return
	}

	hash, err := access.HashPasscode(req.New)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.users.UpdatePasscode(r.Context(), sess.UserID, hash); err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.sessions.RevokeAll(sess.UserID)

	_ = audit.LogEvent(r.Context(), "auth.passcode.changed", map[string]any{
		"user_id": sess.UserID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleOTPSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req otpSendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" {
		writeError(w, r, http.StatusBadRequest, "phone is required")
		return
	}

	// The response never reveals whether the phone is registered.
	user, err := a.users.FindByPhone(r.Context(), req.Phone)
	if err == nil {
		code, issueErr := a.otp.Issue(user.ID)
		if issueErr != nil {
			writeError(w, r, http.StatusInternalServerError, "could not issue code")
			return
		}
		// Delivery goes out of band (SMS provider). The debug log line
		// exists for development only; production runs at info level.
		obs.Log().Debug().Str("user_id", user.ID).Str("code", code).Msg("otp issued")
		_ = audit.LogEvent(r.Context(), "auth.otp.issued", map[string]any{
			"user_id": user.ID,
		})
	} else if !errors.Is(err, access.ErrNotFound) {
		handleAccessError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "sent",
	})
}

func (a *API) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req otpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" || req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "phone and code are required")
		return
	}

	user, err := a.users.FindByPhone(r.Context(), req.Phone)
	if errors.Is(err, access.ErrNotFound) {
		// same message as a wrong code, no user enumeration
		writeError(w, r, http.StatusUnauthorized, "invalid or expired code")
		return
	}
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	if !a.otp.Verify(user.ID, req.Code) {
		writeError(w, r, http.StatusUnauthorized, "invalid or expired code")
		return
	}

	a.issueSession(w, r, user)
}

func (a *API) handleMySessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	sessions := a.sessions.ListForUser(sess.UserID)
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewOfSession(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": views,
	})
}
