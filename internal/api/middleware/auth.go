package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/glintlabs/glint-api/internal/api/shared"
	"github.com/glintlabs/glint-api/internal/service/auth"
)

// CronAuth guards the trigger endpoints with a shared-secret capability
// check. The external scheduler presents the plaintext secret as a bearer
// token; only its bcrypt hash is configured on this side. This is not an
// identity system: any caller holding the secret may trigger a pass.
type CronAuth struct {
	verifier   auth.SecretVerifier
	secretHash string
}

// NewCronAuth creates a CronAuth checking presented secrets against
// secretHash.
func NewCronAuth(verifier auth.SecretVerifier, secretHash string) *CronAuth {
	return &CronAuth{
		verifier:   verifier,
		secretHash: secretHash,
	}
}

// Authenticate validates the trigger secret from the Authorization header.
// Unauthenticated requests are rejected before any pass runs.
func (m *CronAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized,
				"Trigger secret required", auth.ErrMissingSecret)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized,
				"Invalid authorization format", auth.ErrMissingSecret)
			return
		}

		secret := parts[1]

		if err := m.verifier.Compare(m.secretHash, secret); err != nil {
			// A wrong secret on an internal endpoint is worth noticing.
			slog.Warn("trigger secret rejected",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized,
				"Invalid trigger secret", auth.ErrInvalidSecret,
				shared.WithElevatedLogLevel())
			return
		}

		next.ServeHTTP(w, r)
	})
}
