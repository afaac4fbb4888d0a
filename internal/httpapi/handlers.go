package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"brokergate.org/internal/access"
	"brokergate.org/internal/obs"
	"brokergate.org/internal/trading"
)

// ReadyProbe is a simple readiness check (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps bundles the services the HTTP layer dispatches to.
type Deps struct {
	Sessions    *access.SessionStore
	OTP         *access.OTPStore
	Registry    *access.Registry
	Evaluator   *access.Evaluator
	Scope       *access.ScopeResolver
	Users       access.UserDirectory
	DenyList    access.DenyListStore
	Assignments access.AssignmentStore
	Accounts    access.AccountStore
	Trading     *trading.Client

	RatePerSecond int
	RateBurst     int
	OTPPerMinute  int
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	sessions    *access.SessionStore
	otp         *access.OTPStore
	registry    *access.Registry
	evaluator   *access.Evaluator
	scope       *access.ScopeResolver
	users       access.UserDirectory
	denyList    access.DenyListStore
	assignments access.AssignmentStore
	accounts    access.AccountStore
	trading     *trading.Client

	ratePerSecond int
	rateBurst     int
	otpPerMinute  int

	done      chan struct{}
	closeOnce sync.Once
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    rp,
		version:       version,
		sessions:      deps.Sessions,
		otp:           deps.OTP,
		registry:      deps.Registry,
		evaluator:     deps.Evaluator,
		scope:         deps.Scope,
		users:         deps.Users,
		denyList:      deps.DenyList,
		assignments:   deps.Assignments,
		accounts:      deps.Accounts,
		trading:       deps.Trading,
		ratePerSecond: deps.RatePerSecond,
		rateBurst:     deps.RateBurst,
		otpPerMinute:  deps.OTPPerMinute,
		done:          make(chan struct{}),
	}
	if a.ratePerSecond <= 0 {
		a.ratePerSecond = 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	if a.otpPerMinute <= 0 {
		a.otpPerMinute = 3
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/api/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("/api/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/api/auth/otp/send", a.handleOTPSend)
	a.mux.HandleFunc("/api/auth/otp/verify", a.handleOTPVerify)
	a.mux.HandleFunc("/api/auth/passcode", a.handleChangePasscode)
	a.mux.HandleFunc("/api/auth/sessions", a.handleMySessions)

	// administration
	a.mux.HandleFunc("/api/admin/permissions", a.handlePermissions)
	a.mux.HandleFunc("/api/admin/permissions/", a.handlePermissionResource)
	a.mux.HandleFunc("/api/admin/users/", a.handleUserResource)
	a.mux.HandleFunc("/api/admin/managers", a.handleManagers)
	a.mux.HandleFunc("/api/admin/managers/", a.handleManagerResource)
	a.mux.HandleFunc("/api/admin/sessions", a.handleAdminSessions)

	// trading proxy; unregistered paths under the prefix still hit the
	// evaluator and are denied as not configured
	a.mux.HandleFunc("/api/mt5/", a.handleTrading)
	a.mux.HandleFunc("/api/manager/mt5/", a.handleManagerTrading)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = a.rateLimit(h)
	h = Logging(h)
	h = RequestID(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// Close stops the background maintenance started by the middleware chain.
// Safe to call more than once.
func (a *API) Close() {
	a.closeOnce.Do(func() { close(a.done) })
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "brokergate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "brokergate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleTradingError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *trading.APIError
	if errors.As(err, &apiErr) {
		writeError(w, r, apiErr.Status, apiErr.Message)
		return
	}
	writeError(w, r, http.StatusBadGateway, "trading gateway unavailable")
}
