/*Package access provides the validated session of a caller.

A session names the organization (tenant) a request acts for. Sessions are
added to a request context by the session middleware only, after the
session token has been verified; the organization is never taken from the
request itself.

  ctx = access.ContextWithSession(ctx, session)
  session := access.SessionFromContext(ctx)
*/
package access

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/dbproxy/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeySession contextKey = "_session_"

// SessionCookie is the cookie holding the session token for browser clients
const SessionCookie = "DBProxy-Session"

// Session is the authenticated caller
type Session struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         string    `json:"user_id,omitempty"`
}

// ContextWithSession returns a new context with the session added to it
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKeySession, s)
}

// SessionFromContext retrieves the session from the context, or nil
func SessionFromContext(ctx context.Context) *Session {
	s, ok := ctx.Value(contextKeySession).(*Session)
	if ok {
		return s
	}
	return nil
}

// SessionClaims are the claims of a session token
type SessionClaims struct {
	OrganizationID string `json:"organization_id"`
	jwt.RegisteredClaims
}

// SessionMiddlewareBuilder is a helper builder for the session middleware
type SessionMiddlewareBuilder struct {
	// Secret is the HS256 key session tokens are signed with. Mandatory.
	Secret []byte
	// Issuer is the accepted issuer. If empty, any issuer is accepted.
	Issuer string
}

// NewSessionMiddleware returns a middleware validating session tokens.
//
// Tokens are accepted as "Authorization: Bearer" header or as DBProxy-Session cookie.
// Requests without a token pass through without a session. Requests with an
// invalid token are rejected with http.StatusUnauthorized.
func NewSessionMiddleware(smb *SessionMiddlewareBuilder) mux.MiddlewareFunc {
	if len(smb.Secret) == 0 {
		panic("session middleware requires a secret")
	}
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		return smb.Secret, nil
	}
	parser := &jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if SessionFromContext(r.Context()) != nil { // already authenticated?
				h.ServeHTTP(w, r)
				return
			}

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				}
			} else if cookie, _ := r.Cookie(SessionCookie); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no session, moving on
				return
			}

			rlog := logger.FromContext(r.Context())
			session, err := parseSession(parser, tokenString, keyFunc, smb.Issuer)
			if err != nil {
				rlog.WithError(err).Infoln("rejected session token")
				http.Error(w, "invalid session token", http.StatusUnauthorized)
				return
			}

			ctx := ContextWithSession(r.Context(), session)
			ctx, _ = logger.ContextWithLoggerTenant(ctx, session.OrganizationID.String())
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseSession(parser *jwt.Parser, tokenString string, keyFunc jwt.Keyfunc, issuer string) (*Session, error) {
	claims := SessionClaims{}
	token, err := parser.ParseWithClaims(tokenString, &claims, keyFunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token not valid")
	}
	if len(issuer) > 0 && claims.Issuer != issuer {
		return nil, errors.New("unexpected issuer " + claims.Issuer)
	}
	organizationID, err := uuid.Parse(claims.OrganizationID)
	if err != nil {
		return nil, errors.New("token has no valid organization_id")
	}
	return &Session{OrganizationID: organizationID, UserID: claims.Subject}, nil
}

// NewSessionToken signs a session token. It is used by the service that
// owns user login, and by tests.
func NewSessionToken(secret []byte, issuer string, s Session, claims jwt.RegisteredClaims) (string, error) {
	claims.Issuer = issuer
	claims.Subject = s.UserID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		OrganizationID:   s.OrganizationID.String(),
		RegisteredClaims: claims,
	}).SignedString(secret)
}
