package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const UserHeader = "X-User"

var (
	ErrNoUser        = errors.New("no user header")
	ErrNotPrivileged = errors.New("administrator or system user required")
)

// Authority answers privilege questions about user names.
type Authority struct {
	systemUser string
	admins     map[string]struct{}
}

func NewAuthority(systemUser string, admins []string) *Authority {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		a = strings.TrimSpace(a)
		if a != "" {
			set[a] = struct{}{}
		}
	}
	return &Authority{
		systemUser: systemUser,
		admins:     set,
	}
}

func (a *Authority) SystemUser() string {
	return a.systemUser
}

func (a *Authority) IsSystem(user string) bool {
	return user != "" && user == a.systemUser
}

func (a *Authority) IsAdmin(user string) bool {
	_, ok := a.admins[user]
	return ok
}

// IsPrivileged reports whether user may change protected usage and quota
// properties.
func (a *Authority) IsPrivileged(user string) bool {
	return a.IsSystem(user) || a.IsAdmin(user)
}

type userKey struct{}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey{}).(string)
	return user, ok && user != ""
}

// VerifyUser extracts the calling user from the request.
func VerifyUser(r *http.Request) (string, error) {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		return "", ErrNoUser
	}
	return user, nil
}

// Middleware rejects requests without a user and stores the user in the
// request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := VerifyUser(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequirePrivileged rejects callers that are neither administrators nor the
// system user. It must run after Middleware.
func (a *Authority) RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok || !a.IsPrivileged(user) {
			http.Error(w, ErrNotPrivileged.Error(), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
