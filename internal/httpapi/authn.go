package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"brokergate.org/internal/access"
	"brokergate.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/api/auth/login",
	"/api/auth/otp/send",
	"/api/auth/otp/verify",
	"/metrics",
	"/healthz",
	"/readyz",
	"/api/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.sessions == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		sess, err := a.sessions.Validate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, access.ErrTokenExpired):
				writeError(w, r, http.StatusUnauthorized, "session expired")
			case errors.Is(err, access.ErrTokenRevoked):
				writeError(w, r, http.StatusUnauthorized, "session revoked")
			case errors.Is(err, access.ErrTokenNotFound):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			case errors.Is(err, access.ErrUnavailable):
				writeError(w, r, http.StatusServiceUnavailable, "authentication unavailable")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := access.ContextWithSession(r.Context(), *sess)
		ctx = access.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize runs the evaluator for the request path and writes the
// appropriate error response when the call is not allowed. It returns
// true when the handler may proceed. rulePath overrides the matched
// path when the route carries a prefix the catalog does not know.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, rulePath, targetUserID string) bool {
	var sess *access.Session
	if s, ok := access.SessionFromContext(r.Context()); ok {
		sess = &s
	}
	if rulePath == "" {
		rulePath = r.URL.Path
	}

	decision, err := a.evaluator.Evaluate(r.Context(), sess, rulePath, targetUserID)
	obs.RecordDecision(decision.Allowed, string(decision.Reason))
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization unavailable")
		return false
	}
	if decision.Allowed {
		return true
	}

	switch decision.Reason {
	case access.ReasonUnauthenticated:
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case access.ReasonEndpointNotConfigured:
		writeError(w, r, http.StatusForbidden, "endpoint is not configured")
	case access.ReasonEndpointDisabled:
		writeError(w, r, http.StatusForbidden, "endpoint is disabled")
	case access.ReasonUserBlocked:
		writeError(w, r, http.StatusForbidden, "operation is blocked for this user")
	case access.ReasonOutOfScope:
		writeError(w, r, http.StatusForbidden, "target user is out of scope")
	default:
		writeError(w, r, http.StatusForbidden, "forbidden")
	}
	return false
}

// requireRole gates the admin surface. The evaluator governs the
// trading catalog; plain role checks cover administration endpoints.
func (a *API) requireRole(w http.ResponseWriter, r *http.Request, min access.Role) (access.Session, bool) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return access.Session{}, false
	}
	if sess.Role < min {
		writeError(w, r, http.StatusForbidden, "insufficient role")
		return access.Session{}, false
	}
	return sess, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
