package handler

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"
)

// PasswordVerifier checks a password against a stored encoded hash.
type PasswordVerifier interface {
	VerifyPassword(password, encoded string) (bool, error)
}

// BasicAuth guards the dashboard with a single user whose password is
// stored as an argon2id hash.
type BasicAuth struct {
	user     string
	hash     string
	verifier PasswordVerifier
	logger   *zap.Logger
}

func NewBasicAuth(user, hash string, verifier PasswordVerifier, logger *zap.Logger) *BasicAuth {
	return &BasicAuth{user: user, hash: hash, verifier: verifier, logger: logger}
}

func (a *BasicAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !a.check(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="shadowlog", charset="UTF-8"`)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *BasicAuth) check(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) == 1
	passOK, err := a.verifier.VerifyPassword(pass, a.hash)
	if err != nil {
		a.logger.Error("Dashboard password hash unusable", zap.Error(err))
		return false
	}
	return userOK && passOK
}
