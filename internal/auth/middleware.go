package auth

import (
	"context"
	"net/http"

	"llm-gateway/models"
)

type contextKey struct{}

// ErrorWriter renders an authentication failure
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware authenticates every request and stores the Principal in its
// context. Failures are rendered by writeError and stop the chain.
func Middleware(a *Authenticator, writeError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.AuthenticateHeader(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// WithPrincipal returns a copy of ctx carrying p
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext returns the authenticated principal, if any
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok && p != nil
}

// ProjectFromContext returns the authenticated project, or nil
func ProjectFromContext(ctx context.Context) *models.Project {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.Project
	}
	return nil
}
