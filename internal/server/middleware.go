package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type contextKey string

const (
	userKey  contextKey = "erp-user"
	rolesKey contextKey = "erp-roles"
)

// identity extracts the forwarded user and roles from the request
// context. Only valid after withIdentity ran.
func identity(r *http.Request) (user string, roles []string) {
	user, _ = r.Context().Value(userKey).(string)
	roles, _ = r.Context().Value(rolesKey).([]string)
	return user, roles
}

// withIdentity requires the trusted frontend proxy's identity headers and
// enforces the configured access role.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-Erp-User")
		if user == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Erp-User header")
			return
		}

		var roles []string
		for _, role := range strings.Split(r.Header.Get("X-Erp-Roles"), ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}

		if required := s.cfg.Assistant.RequiredRole; required != "" {
			allowed := false
			for _, role := range roles {
				if role == required {
					allowed = true
					break
				}
			}
			if !allowed {
				writeError(w, http.StatusForbidden, "missing required role")
				return
			}
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, rolesKey, roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// limiterPool keeps a token bucket per user.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &limiterPool{
		m:     make(map[string]*rate.Limiter),
		rps:   rps,
		burst: burst,
	}
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	l, ok := p.m[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.rps), p.burst)
		p.m[key] = l
	}
	p.mu.Unlock()
	return l.Allow()
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := identity(r)
		if !s.limiters.allow(user) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again shortly")
			return
		}
		next.ServeHTTP(w, r)
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

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Info("request")
	})
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithField("panic", rec).Error("server: handler panicked")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
