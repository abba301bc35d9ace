package httptransport

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	identitymodels "bima/internal/identity/models"
	"bima/internal/platform/metrics"
	"bima/internal/session"
	"bima/internal/tenantctx"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/requestcontext"
)

// SessionCookie is the cookie carrying the opaque session token.
const SessionCookie = "bima_session"

// CSRFHeader carries the per-session CSRF token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

type actorKey struct{}

func withActor(ctx context.Context, u *identitymodels.User) context.Context {
	return context.WithValue(ctx, actorKey{}, u)
}

func actorFrom(ctx context.Context) *identitymodels.User {
	u, _ := ctx.Value(actorKey{}).(*identitymodels.User)
	return u
}

type sessionKey struct{}

func withSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey{}).(*session.Session)
	return s
}

// requestMeta stamps every request with an id, a single observed instant,
// and the client IP.
func requestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = requestcontext.WithRequestID(ctx, uuid.NewString())
		ctx = requestcontext.WithTime(ctx, time.Now())
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ctx = requestcontext.WithClientIP(ctx, host)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrument(m *metrics.Metrics, route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status/100*100)).Inc()
		m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// requireSession resolves the cookie to a user and, for tenant users, binds
// the active tenant. Super admins get no implicit tenant binding.
func (h *Handler) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := requestcontext.Now(ctx)

		cookie, err := r.Cookie(SessionCookie)
		if err != nil {
			respondError(w, domainerrors.New(domainerrors.CodeUnauthenticated, "login required"))
			return
		}
		sess, err := h.sessions.Resolve(ctx, cookie.Value, now)
		if err != nil {
			respondError(w, err)
			return
		}
		user, err := h.identity.GetUser(ctx, sess.UserID)
		if err != nil {
			respondError(w, domainerrors.New(domainerrors.CodeUnauthenticated, "login required"))
			return
		}
		if user.Status != identitymodels.UserStatusActive {
			respondError(w, domainerrors.New(domainerrors.CodeForbidden, "account disabled"))
			return
		}

		ctx = withSession(ctx, sess)
		ctx = withActor(ctx, user)
		ctx = requestcontext.WithActorID(ctx, user.ID)

		if user.TenantID != nil {
			tenant, err := h.tenants.Get(ctx, *user.TenantID)
			if err != nil {
				respondError(w, err)
				return
			}
			if !tenant.IsActive() {
				respondError(w, domainerrors.New(domainerrors.CodeForbidden, "tenant suspended"))
				return
			}
			ctx = tenantctx.With(ctx, tenant.ActiveTenant())
		}

		next(w, r.WithContext(ctx))
	}
}

// requireCSRF enforces the double-submit token on state-changing verbs.
func (h *Handler) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next(w, r)
			return
		}
		sess := sessionFrom(r.Context())
		if sess == nil || !h.sessions.ValidCSRF(sess, r.Header.Get(CSRFHeader)) {
			respondError(w, domainerrors.New(domainerrors.CodeForbidden, "missing or invalid CSRF token"))
			return
		}
		next(w, r)
	}
}
