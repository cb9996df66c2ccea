package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jobportal/internal/middleware"
	"github.com/jobportal/internal/model"
	"github.com/jobportal/internal/service"
	"github.com/jobportal/internal/storage"
	"github.com/jobportal/internal/ws"
)

// RouterDeps is everything the HTTP surface needs. Limiter, Hub and Checks are optional.
type RouterDeps struct {
	Sessions   *service.SessionManager
	Accounts   *service.AccountService
	Principals middleware.PrincipalLookup
	Hub        *ws.Hub
	Limiter    storage.RateLimiter
	Checks     map[string]Check

	AllowedOrigins string
	InternalSecret string

	// TrustProxyHeaders rewrites RemoteAddr from the proxy's forwarding headers.
	TrustProxyHeaders bool

	// IPRateLimit caps /authenticate and /register per client IP and IPRateWindow.
	IPRateLimit  int
	IPRateWindow time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	authH := NewAuthHandler(d.Sessions, d.Accounts, d.Hub)
	userH := NewUserHandler(d.Sessions, d.Accounts)
	adminH := NewAdminHandler(d.Sessions, d.Accounts, d.Hub)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if d.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestLog)
	r.Use(middleware.RecoverJSON)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(d.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{middleware.RefreshTokenHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", NewHealthHandler(d.Checks).Health)
	if d.Hub != nil {
		r.Get("/ws", NewWSHandler(d.Hub, service.NewSocketGate(d.Sessions), d.AllowedOrigins).ServeWS)
	}
	r.With(middleware.InternalOnly(d.InternalSecret)).Post("/internal/authenticate", authH.InternalAuthenticate)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthInit(d.Sessions))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guest)
			if d.Limiter != nil && d.IPRateLimit > 0 {
				r.Use(middleware.RateLimitByIP(d.Limiter, "auth", d.IPRateLimit, d.IPRateWindow))
			}
			r.Post("/authenticate", authH.Authenticate)
			r.Post("/register", authH.Register)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Get("/user", userH.GetProfile)
			r.Get("/sessions", userH.ListSessions)
			r.Post("/logout", authH.Logout)
			r.Delete("/sessions", authH.LogoutAll)

			r.Route("/admin/users/{id}", func(r chi.Router) {
				r.Use(middleware.RequireUserType(d.Principals, model.UserTypeAdministrator))
				r.Put("/disabled", adminH.ToggleDisabled)
				r.Delete("/sessions", adminH.RevokeSessions)
			})
		})
	})
	return r
}

func splitOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
