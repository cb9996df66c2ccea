package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/jobportal/internal/logger"
	"github.com/jobportal/internal/model"
	"github.com/jobportal/internal/repository"
	"github.com/jobportal/internal/service"
)

// RefreshTokenHeader carries a replacement bearer token back to the client.
const RefreshTokenHeader = "X-Refresh-Token"

// Authenticator is implemented by *service.SessionManager.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (service.Result, error)
}

// PrincipalLookup is implemented by *service.PrincipalDirectory.
type PrincipalLookup interface {
	GetPrincipal(ctx context.Context, userID string) (model.Principal, error)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || scheme != "Bearer" {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// AuthInit authenticates the bearer token of every request without ever rejecting it: anonymous
// and rejected requests continue without identity, and RequireAuth decides per route. A rotated
// token is returned in the X-Refresh-Token header. Only a backend failure stops the request,
// with 503.
func AuthInit(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := BearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			res, err := auth.Authenticate(r.Context(), tok)
			if err != nil {
				logger.Errorf("auth %s %s: %v", r.Method, r.URL.Path, err)
				if errors.Is(err, service.ErrUnavailable) {
					writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
					return
				}
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			a, ok := res.(service.Authenticated)
			if !ok {
				if rej, isRej := res.(service.Rejected); isRej {
					logger.Debugf("auth %s %s rejected: %s", r.Method, r.URL.Path, rej.Reason)
				}
				next.ServeHTTP(w, r)
				return
			}
			if a.Rotated() {
				w.Header().Set(RefreshTokenHeader, a.RotatedToken)
			}
			ctx := WithAuth(r.Context(), AuthContext{
				Authenticated: true,
				UserID:        a.UserID,
				SessionID:     a.SessionID,
				RotatedToken:  a.RotatedToken,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth answers 401 to anonymous requests.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !FromContext(r.Context()).Authenticated {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Guest answers 403 to authenticated requests; it guards login and registration.
func Guest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()).Authenticated {
			writeJSONError(w, http.StatusForbidden, "already authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUserType answers 403 unless the authenticated principal has one of types. It must run
// after RequireAuth.
func RequireUserType(principals PrincipalLookup, types ...int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := principals.GetPrincipal(r.Context(), GetUserID(r.Context()))
			if errors.Is(err, repository.ErrNotFound) {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}
			if err != nil {
				logger.Errorf("principal lookup: %v", err)
				writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
				return
			}
			if !slices.Contains(types, p.UserTypeID) {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
