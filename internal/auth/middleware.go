package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sakif/videotube/internal/model"
)

// Cookie names shared by the login/refresh handlers and the middleware.
const (
	AccessCookieName  = "accessToken"
	RefreshCookieName = "refreshToken"
)

// contextKey is unexported so no other package can read or overwrite the
// values this package stores in a request context.
type contextKey string

const userKey contextKey = "user"

// UserResolver loads the sanitized projection of a user (no password hash,
// no refresh token). The sqlite repository satisfies it.
type UserResolver interface {
	GetPublicUserByID(ctx context.Context, id string) (*model.User, error)
}

// RequireAuth rejects the request with 401 unless it carries a valid access
// token whose subject still resolves to an existing user. On success the
// resolved user is stored in the request context.
//
// The middleware fails closed: any error along the way (missing token, bad
// signature, expiry, deleted user, database failure) ends the chain here and
// the wrapped handler never runs.
func RequireAuth(tokens *TokenService, users UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := TokenFromRequest(r, AccessCookieName)
			if raw == "" {
				writeUnauthorized(w, "unauthorized request")
				return
			}

			claims, err := tokens.Validate(AccessToken, raw)
			if err != nil {
				writeUnauthorized(w, "invalid access token")
				return
			}

			user, err := users.GetPublicUserByID(r.Context(), claims.Subject)
			if err != nil || user == nil {
				writeUnauthorized(w, "invalid access token")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// ContextWithUser returns a copy of ctx carrying user.
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the user RequireAuth resolved for this request.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// UserIDFromContext is a shorthand for UserFromContext(ctx).ID.
func UserIDFromContext(ctx context.Context) (string, bool) {
	u, ok := UserFromContext(ctx)
	if !ok || u.ID == "" {
		return "", false
	}
	return u.ID, true
}

// TokenFromRequest looks for a token in the named cookie first, then in an
// "Authorization: Bearer <token>" header. It returns "" if neither is present.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if token := TokenFromCookie(r, cookieName); token != "" {
		return token
	}

	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// TokenFromCookie returns the trimmed value of the named cookie, or "".
// The Authorization header is ignored: it carries the access token.
func TokenFromCookie(r *http.Request, cookieName string) string {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// writeUnauthorized emits the same envelope the handler package uses for errors.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"statusCode": http.StatusUnauthorized,
		"error":      "unauthorized",
		"message":    message,
		"success":    false,
	})
}
