package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mlboard/internal/config"
	"github.com/sells-group/mlboard/internal/model"
	"github.com/sells-group/mlboard/internal/store"
)

// TokenVerifier maps a bearer token to a username.
type TokenVerifier interface {
	Verify(token string) (username string, err error)
}

// StaticVerifier checks tokens against a fixed config-declared set.
type StaticVerifier struct {
	byToken map[string]string
}

// NewStaticVerifier builds a verifier from config token entries.
func NewStaticVerifier(entries []config.TokenEntry) *StaticVerifier {
	byToken := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Token != "" {
			byToken[e.Token] = e.Username
		}
	}
	return &StaticVerifier{byToken: byToken}
}

func (v *StaticVerifier) Verify(token string) (string, error) {
	for known, username := range v.byToken {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return username, nil
		}
	}
	return "", eris.New("server: unknown token")
}

type contextKey string

const userKey contextKey = "user"

// userFrom returns the authenticated user stored by the auth middleware.
func userFrom(ctx context.Context) *model.User {
	u, _ := ctx.Value(userKey).(*model.User)
	return u
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		username, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := s.store.GetUserByUsername(r.Context(), username)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unknown user")
				return
			}
			s.internalError(w, err, "lookup user")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r.Context())
		if user == nil || !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
