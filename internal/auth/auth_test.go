package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"synxronusage/internal/auth"
)

func TestAuthorityPrivileges(t *testing.T) {
	t.Parallel()
	a := auth.NewAuthority("System", []string{"admin", " ", "ops "})

	require.True(t, a.IsPrivileged("System"))
	require.True(t, a.IsPrivileged("admin"))
	require.True(t, a.IsPrivileged("ops"))
	require.False(t, a.IsPrivileged("alice"))
	require.False(t, a.IsPrivileged(""))
	require.False(t, a.IsSystem(""))
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	a := auth.NewAuthority("System", []string{"admin"})

	var seen string
	h := auth.Middleware(a.RequirePrivileged(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	cases := []struct {
		user string
		code int
	}{
		{"", http.StatusUnauthorized},
		{"alice", http.StatusForbidden},
		{"admin", http.StatusNoContent},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if c.user != "" {
			req.Header.Set(auth.UserHeader, c.user)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, c.code, rec.Code, c.user)
	}
	require.Equal(t, "admin", seen)
}
