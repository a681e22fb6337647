package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"spreadarb/pkg/crypto"
)

// AdminToken - middleware для операций записи (изменение риск-параметров).
//
// Ожидает заголовок Authorization: Bearer <token>; токен сверяется с bcrypt
// хешем ADMIN_TOKEN_HASH. Пустой хеш отключает запись полностью (403).
func AdminToken(tokenHash string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				writeAuthError(w, http.StatusForbidden, "writes are disabled")
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="spreadarb"`)
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			if err := crypto.VerifyToken(token, tokenHash); err != nil {
				logger.Warn("rejected admin token",
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr),
					zap.Error(err),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="spreadarb", error="invalid_token"`)
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
