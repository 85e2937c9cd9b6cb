package secrets

import (
	"context"

	"github.com/goliatone/go-secrets/middleware/jwtware"
)

// ValidationListener aliases the jwtware listener so consumers can use the root helpers directly.
type ValidationListener = jwtware.ValidationListener

// ContextEnricherAdapter copies the validated claims into the standard
// context so code below the HTTP layer can read them.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return c
	}
	return WithClaimsContext(c, authClaims)
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}
