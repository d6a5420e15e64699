package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bastion/cmd/internal/auth/accesstoken"
	"bastion/cmd/internal/auth/family"
	"bastion/cmd/internal/auth/guard"
)

// Handler wires HTTP auth endpoints to the session-family core.
type Handler struct {
	log *slog.Logger
	cfg Config

	families *family.Service
	tokens   accesstoken.Manager
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, families *family.Service, tokens accesstoken.Manager) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if families == nil {
		return nil, errors.New("auth: nil family service")
	}
	if tokens == nil {
		return nil, errors.New("auth: nil token manager")
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		families: families,
		tokens:   tokens,
	}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/sessions", h.handleSessions)
	mux.HandleFunc("/auth/sessions/revoke", h.handleSessionRevoke)
	mux.HandleFunc("/auth/families", h.handleFamilyIssue)
}

// ---- handlers ----

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ua := strings.TrimSpace(r.UserAgent())
	dev := family.DeviceContext{
		UserAgent: ua,
		IP:        clientIP(r, h.cfg.TrustProxy),
	}

	res, err := h.families.ValidateAndRotate(ctx, now, refreshToken, "auth.refresh", dev)
	if err != nil {
		switch {
		case errors.Is(err, family.ErrFamilyCompromised):
			// Do not disclose whether this was reuse or plain revocation.
			writeError(w, http.StatusUnauthorized, "session_compromised", "session terminated; please log in again on all devices")
		case errors.Is(err, guard.ErrRateLimited):
			var rlErr guard.RateLimitError
			if errors.As(err, &rlErr) {
				writeRateLimited(w, rlErr.RetryAfter)
				return
			}
			writeRateLimited(w, 0)
		case errors.Is(err, family.ErrCredentialNotFound):
			writeError(w, http.StatusUnauthorized, "invalid_session", "session not active")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}
	if !res.IsValid {
		// Expired credentials are a benign lifecycle end, same coarse
		// answer to the client as any other dead session.
		writeError(w, http.StatusUnauthorized, "invalid_session", "session not active")
		return
	}

	accessToken, expiresIn, err := h.tokens.Issue(accesstoken.IssueInput{
		UserID:   res.Claims.UserID,
		Role:     res.Claims.Role,
		Email:    res.Claims.Email,
		JTI:      res.Rotation.New.JTI,
		FamilyID: res.Rotation.New.FamilyID,
	}, now)
	if err != nil {
		h.log.Error("auth.refresh.issue_access.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: res.Rotation.Secret,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if claims.FamilyID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token carries no session family")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if _, err := h.families.RevokeFamily(ctx, now, claims.FamilyID, family.ReasonUserLogout); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if _, err := h.families.RevokeUser(ctx, now, claims.UserID, family.ReasonUserLogoutAll); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	infos, err := h.families.ListFamilies(ctx, now, claims.UserID)
	if err != nil {
		h.log.Error("auth.sessions.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, sessionsResponse{
		Sessions: toSessionViews(infos, claims.FamilyID),
	})
}

func (h *Handler) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req revokeSessionRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	familyID := strings.TrimSpace(req.FamilyID)
	if familyID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "family_id is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	// Callers may only revoke families they own; confirm via their own
	// directory rather than trusting the posted id.
	infos, err := h.families.ListFamilies(ctx, now, claims.UserID)
	if err != nil {
		h.log.Error("auth.sessions.revoke.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	owned := false
	for _, fi := range infos {
		if fi.FamilyID == familyID {
			owned = true
			break
		}
	}
	if !owned {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}

	if _, err := h.families.RevokeFamily(ctx, now, familyID, family.ReasonUserLogout); err != nil {
		h.log.Error("auth.sessions.revoke.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// handleFamilyIssue mints a fresh session family for an already-authenticated
// principal. It is an internal endpoint: the upstream that verified the
// primary credential calls it with the shared API key.
func (h *Handler) handleFamilyIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.cfg.InternalAPIKey == "" {
		writeError(w, http.StatusForbidden, "forbidden", "family issuing is not enabled")
		return
	}
	if !secureStringEqual(strings.TrimSpace(r.Header.Get("X-Internal-Api-Key")), h.cfg.InternalAPIKey) {
		writeError(w, http.StatusForbidden, "forbidden", "invalid api key")
		return
	}

	var req issueRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	dev := family.DeviceContext{
		DeviceInfo: strings.TrimSpace(req.DeviceInfo),
		UserAgent:  strings.TrimSpace(r.UserAgent()),
		IP:         clientIP(r, h.cfg.TrustProxy),
	}

	grant, err := h.families.CreateFamily(ctx, now, userID, dev)
	if err != nil {
		if errors.Is(err, family.ErrFamilyLimit) {
			writeError(w, http.StatusConflict, "too_many_sessions", "active session limit reached")
			return
		}
		h.log.Error("auth.family.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	accessToken, expiresIn, err := h.tokens.Issue(accesstoken.IssueInput{
		UserID:   userID,
		Role:     strings.TrimSpace(req.Role),
		Email:    strings.TrimSpace(req.Email),
		JTI:      grant.Credential.JTI,
		FamilyID: grant.FamilyID,
	}, now)
	if err != nil {
		h.log.Error("auth.family.issue_access.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, issueResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: grant.Secret,
		FamilyID:     grant.FamilyID,
	})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (accesstoken.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return accesstoken.Claims{}, false
	}
	claims, err := h.tokens.Verify(token, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return accesstoken.Claims{}, false
	}
	return claims, true
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		// Retry-After is whole seconds; a sub-second window must not round
		// down to an immediate retry.
		secs := int64(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
