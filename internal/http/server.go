package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"devos/identity/internal/config"
	"devos/identity/internal/crypto"
	"devos/identity/internal/identity"
	"devos/identity/internal/model"
	"devos/identity/internal/oauth"
	"devos/identity/internal/permission"
	"devos/identity/internal/session"
	"devos/identity/internal/token"
)

type Server struct {
	cfg         config.Config
	resolver    *identity.Resolver
	tokens      *token.Authority
	sessions    *session.Registry
	permissions *permission.Ledger
	exchanger   oauth.Exchanger
	states      stateStore
	limiter     *ipLimiter
}

// NewServer wires the identity core behind the HTTP surface. redisClient may
// be nil; OAuth state nonces then live in process memory.
func NewServer(cfg config.Config, resolver *identity.Resolver, tokens *token.Authority, sessions *session.Registry, permissions *permission.Ledger, exchanger oauth.Exchanger, redisClient *redis.Client) *Server {
	var states stateStore
	if redisClient != nil {
		states = &redisStateStore{client: redisClient, ttl: cfg.OAuthStateTTL}
	} else {
		states = newMemoryStateStore(cfg.OAuthStateTTL)
	}
	return &Server{
		cfg:         cfg,
		resolver:    resolver,
		tokens:      tokens,
		sessions:    sessions,
		permissions: permissions,
		exchanger:   exchanger,
		states:      states,
		limiter:     newIPLimiter(rate.Every(time.Second), 10),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.rateLimit).Get("/auth/{provider}/url", s.handleAuthURL)
	r.With(s.rateLimit).Post("/auth/{provider}/callback", s.handleCallback)
	r.With(s.rateLimit).Post("/auth/refresh", s.handleRefresh)

	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)
	r.With(s.authMiddleware).Patch("/auth/me/preferences", s.handlePatchPreferences)
	r.With(s.authMiddleware).Get("/auth/sessions", s.handleListSessions)
	r.With(s.authMiddleware).Post("/auth/sessions/invalidate", s.handleInvalidateSessions)

	r.Route("/permissions", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/", s.handleListPermissions)
		r.Get("/check", s.handleCheckPermission)
		r.Post("/grant", s.handleGrantPermission)
		r.Post("/revoke", s.handleRevokePermission)
	})

	return r
}

type authURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

func (s *Server) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	state, err := crypto.NewStateToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	authURL, err := s.exchanger.AuthURL(provider, state)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_provider")
		return
	}

	if err := s.states.Store(r.Context(), state, provider); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, authURLResponse{URL: authURL, State: state})
}

type callbackRequest struct {
	Code   string `json:"code"`
	State  string `json:"state"`
	Device struct {
		Platform string `json:"platform"`
		Name     string `json:"deviceName"`
	} `json:"device"`
}

type authResponse struct {
	TokenPair model.TokenPair `json:"tokens"`
	SessionID string          `json:"sessionId"`
	User      subjectSummary  `json:"user"`
}

type subjectSummary struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Name        string            `json:"name"`
	Avatar      string            `json:"avatar,omitempty"`
	Providers   []string          `json:"providers"`
	Preferences model.Preferences `json:"preferences"`
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Code == "" || req.State == "" {
		writeError(w, http.StatusBadRequest, "missing_code_or_state")
		return
	}

	boundProvider, ok, err := s.states.Consume(r.Context(), req.State)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !ok || boundProvider != provider {
		writeError(w, http.StatusUnauthorized, "invalid_state")
		return
	}

	profile, err := s.exchanger.Exchange(r.Context(), provider, req.Code)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "exchange_failed")
		return
	}

	subject, err := s.resolver.Resolve(r.Context(), profile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	// Mint the session id before the pair so the refresh token carries the
	// real id the registry will store the session under.
	sessionID, err := session.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	pair, err := s.tokens.Issue(subject.ID, subject.Email, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	device := model.DeviceInfo{
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
		Platform:  req.Device.Platform,
		Name:      req.Device.Name,
	}
	if _, err := s.sessions.CreateWithID(r.Context(), sessionID, subject.ID, pair, device); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		TokenPair: pair,
		SessionID: sessionID,
		User:      mapSubject(subject),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	claims, ok := s.tokens.VerifyRefresh(req.RefreshToken)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
		return
	}

	// The claims alone are not enough: logout and bulk invalidation kill the
	// session while the refresh token is still cryptographically valid.
	current, err := s.sessions.Get(r.Context(), claims.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if current == nil {
		writeError(w, http.StatusUnauthorized, "session_revoked")
		return
	}

	pair, err := s.tokens.Rotate(claims.Subject, claims.Email, claims.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	if _, err := s.sessions.Rebind(r.Context(), claims.SessionID, pair); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokens":    pair,
		"sessionId": claims.SessionID,
	})
}

type logoutRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "missing_session_id")
		return
	}

	current, err := s.sessions.Get(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if current == nil {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	if current.SubjectID != claims.Subject {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	if _, err := s.sessions.Logout(r.Context(), req.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	subject, err := s.resolver.Lookup(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if subject == nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	writeJSON(w, http.StatusOK, mapSubject(subject))
}

func (s *Server) handlePatchPreferences(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var update identity.PreferencesUpdate
	if err := decodeJSON(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	subject, err := s.resolver.UpdatePreferences(r.Context(), claims.Subject, update)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if subject == nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	writeJSON(w, http.StatusOK, mapSubject(subject))
}

type sessionSummary struct {
	ID           string           `json:"id"`
	Device       model.DeviceInfo `json:"deviceInfo"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	CreatedAt    time.Time        `json:"createdAt"`
	LastActivity time.Time        `json:"lastActivity"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	sessions, err := s.sessions.ListBySubject(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, sessionSummary{
			ID:           sess.ID,
			Device:       sess.Device,
			ExpiresAt:    sess.ExpiresAt,
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInvalidateSessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	count, err := s.sessions.InvalidateAllForSubject(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": count})
}

type permissionRequest struct {
	Permission string `json:"permission"`
}

func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Permission) == "" {
		writeError(w, http.StatusBadRequest, "missing_permission")
		return
	}

	grant, err := s.permissions.Grant(r.Context(), claims.Subject, strings.TrimSpace(req.Permission))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Permission) == "" {
		writeError(w, http.StatusBadRequest, "missing_permission")
		return
	}

	revoked, err := s.permissions.Revoke(r.Context(), claims.Subject, strings.TrimSpace(req.Permission))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !revoked {
		writeError(w, http.StatusNotFound, "permission_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	grants, err := s.permissions.ListAll(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	granted, err := s.permissions.ListGranted(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"granted": granted,
		"grants":  grants,
	})
}

func (s *Server) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	name := strings.TrimSpace(r.URL.Query().Get("permission"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing_permission")
		return
	}

	granted, err := s.permissions.Has(r.Context(), claims.Subject, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, ok := s.tokens.VerifyAccess(tokenString)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientAddr(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type claimsKey struct{}

func claimsFromContext(ctx context.Context) *token.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*token.Claims)
	return claims
}

func mapSubject(subject *model.Subject) subjectSummary {
	providers := make([]string, 0, len(subject.ProviderIDs))
	for provider := range subject.ProviderIDs {
		providers = append(providers, provider)
	}
	return subjectSummary{
		ID:          subject.ID,
		Email:       subject.Email,
		Name:        subject.Name,
		Avatar:      subject.Avatar,
		Providers:   providers,
		Preferences: subject.Preferences,
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return ""
}

func clientAddr(r *http.Request) string {
	if ip := clientIP(r); ip != "" {
		return ip
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx > 0 {
		return addr[:idx]
	}
	return addr
}

type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*entry),
		limit:    limit,
		burst:    burst,
	}
}

func (l *ipLimiter) allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[addr]
	if !ok {
		if len(l.limiters) > 4096 {
			l.prune()
		}
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[addr] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

func (l *ipLimiter) prune() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for addr, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, addr)
		}
	}
}
