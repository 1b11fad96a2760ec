package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/soup/internal/auth"
)

// TokenValidator validates bearer tokens. *auth.JWTService satisfies it.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// errCodeAuthFailed matches api.ErrCodeAuthFailed; the api package imports
// middleware, so the code is repeated here.
const errCodeAuthFailed = "auth_failed"

// RequireAuth rejects requests without a valid "Authorization: Bearer" access
// token with 401. The token subject is stored in the context as the user ID.
func RequireAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, r, "Missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "Token has expired"
				}
				unauthorized(w, r, msg)
				return
			}

			ctx := SetUserID(r.Context(), claims.Subject)
			UpdateResponseContext(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), errCodeAuthFailed))

	body, _ := json.Marshal(map[string]map[string]string{
		"error": {"code": errCodeAuthFailed, "message": message},
	})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="soup"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write(body)
}
