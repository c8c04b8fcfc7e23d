package api

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/metrics"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

type contextKey int

const userKey contextKey = iota

// authed wraps h with bearer-token authentication and the role floor for
// the route: VIEWER admits any authenticated user, OPERATOR requires a
// writing role, ADMIN requires admin.
func (s *Server) authed(min types.UserRole, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		user, err := s.manager.Authenticate(strings.TrimSpace(token))
		if err != nil {
			writeError(w, err)
			return
		}
		if !roleAllows(user.Role, min) {
			writeError(w, errors.Wrapf(errdefs.ErrForbidden, "role %s may not %s %s", user.Role, r.Method, r.URL.Path))
			return
		}
		h(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	}
}

func roleAllows(role, min types.UserRole) bool {
	switch min {
	case types.UserRoleViewer:
		return true
	case types.UserRoleOperator:
		return role.CanWrite()
	case types.UserRoleAdmin:
		return role == types.UserRoleAdmin
	}
	return false
}

// actor names the authenticated user for audit fields and events.
func actor(r *http.Request) string {
	if u, ok := r.Context().Value(userKey).(*types.User); ok {
		return u.Username
	}
	return "unknown"
}

// instrument counts and times every request and logs non-2xx outcomes.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := timer.Duration()

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)

		logger := log.WithComponent("api")
		ev := logger.Debug()
		if rec.status >= 500 {
			ev = logger.Error()
		} else if rec.status >= 400 {
			ev = logger.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("Request")
	})
}

// statusRecorder captures the response status. Hijack passes through so
// the WebSocket upgrade keeps working behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
