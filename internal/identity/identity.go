// Package identity issues room access tokens and resolves them into
// per-request participant identity.
package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Well-known participant identities for an incident room.
const (
	DispatcherIdentity = "dispatcher"
	DispatcherName     = "Dispatch"
	CrewIdentity       = "emt-crew"
	CrewName           = "EMT Crew"

	TokenQueryParam = "token"
)

type contextKey int

const grantKey contextKey = iota

// Grant is the permission a token carries: join one room as one identity.
type Grant struct {
	Token    string    `json:"-"`
	Room     string    `json:"room"`
	Identity string    `json:"identity"`
	Name     string    `json:"name"`
	IssuedAt time.Time `json:"issued_at"`
}

// Registry holds the tokens issued for open rooms.
type Registry struct {
	mu     sync.RWMutex
	grants map[string]Grant
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{grants: make(map[string]Grant)}
}

// Issue mints a token that lets identity join room.
func (r *Registry) Issue(room, identity, name string) Grant {
	g := Grant{
		Token:    uuid.NewString(),
		Room:     room,
		Identity: identity,
		Name:     name,
		IssuedAt: time.Now(),
	}
	r.mu.Lock()
	r.grants[g.Token] = g
	r.mu.Unlock()
	slog.Debug("Token issued", "room", room, "identity", identity)
	return g
}

// Lookup returns the grant for token.
func (r *Registry) Lookup(token string) (Grant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grants[token]
	return g, ok
}

// RevokeRoom drops every token for room and returns how many were removed.
func (r *Registry) RevokeRoom(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for tok, g := range r.grants {
		if g.Room == room {
			delete(r.grants, tok)
			n++
		}
	}
	if n > 0 {
		slog.Info("Tokens revoked", "room", room, "count", n)
	}
	return n
}

// GrantFromContext returns the grant attached by Middleware.
func GrantFromContext(ctx context.Context) (Grant, bool) {
	g, ok := ctx.Value(grantKey).(Grant)
	return g, ok
}

// WithGrant attaches g to ctx.
func WithGrant(ctx context.Context, g Grant) context.Context {
	return context.WithValue(ctx, grantKey, g)
}

func tokenFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get(TokenQueryParam); tok != "" {
		return tok
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// Middleware resolves the request's token into a Grant. Requests without a valid
// token are rejected with 401.
func Middleware(reg *Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := tokenFromRequest(r)
			if tok == "" {
				http.Error(w, `{"error":"missing token"}`, http.StatusUnauthorized)
				return
			}
			g, ok := reg.Lookup(tok)
			if !ok {
				slog.Warn("Rejected unknown token", "ip", IPFromRequest(r))
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithGrant(r.Context(), g)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
