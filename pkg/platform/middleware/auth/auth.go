// Package auth provides bearer-token middleware for the management and
// internal APIs. Tokens are HS256 JWTs minted by the platform's identity
// service; this middleware only verifies them and scopes the request context.
// Dashboard user authentication is out of scope here.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "incentra/pkg/domain"
	dErrors "incentra/pkg/domain-errors"
	"incentra/pkg/platform/httputil"
	"incentra/pkg/requestcontext"
)

// Claims carried by Incentra service tokens.
type Claims struct {
	OrgID string `json:"org_id,omitempty"`
	Email string `json:"email,omitempty"`
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens and populates request context.
type Verifier struct {
	signingKey []byte
	issuer     string
}

// NewVerifier constructs a Verifier for the given shared signing key.
func NewVerifier(signingKey, issuer string) *Verifier {
	return &Verifier{signingKey: []byte(signingKey), issuer: issuer}
}

// RequireOrg authenticates the request and injects the token's organization
// scope into context. Requests without a valid org-scoped token are rejected.
func (v *Verifier) RequireOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := v.parse(r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		orgID, err := id.ParseOrgID(claims.OrgID)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "token is not organization scoped"))
			return
		}

		ctx := requestcontext.WithOrgID(r.Context(), orgID)
		if claims.Subject != "" {
			if actorID, err := id.ParseUserID(claims.Subject); err == nil {
				ctx = requestcontext.WithActor(ctx, actorID, claims.Email)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope authenticates the request and checks for a specific scope
// (e.g. "internal" for the dispatch and retry-trigger endpoints).
func (v *Verifier) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.parse(r)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			if !hasScope(claims.Scope, scope) {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "token lacks required scope"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (v *Verifier) parse(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.signingKey, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil || !token.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid bearer token")
	}
	return claims, nil
}

func hasScope(tokenScopes, want string) bool {
	for _, s := range strings.Fields(tokenScopes) {
		if s == want {
			return true
		}
	}
	return false
}
