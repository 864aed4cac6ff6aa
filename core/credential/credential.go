/*Package credential issues the short-lived tokens that authenticate the
proxy towards the backing query engine.

A token asserts a single database role and nothing else; it carries no
organization or user. Tenant isolation is enforced before a request is
forwarded, never by the token.
*/
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	// DefaultRole is the database role the backing engine switches to
	DefaultRole = "postgres"
	// DefaultTTL is the lifetime of a token
	DefaultTTL = time.Minute
)

// ErrMissingSecret is returned when no signing secret is configured
var ErrMissingSecret = errors.New("signing secret is not configured")

// Claims is the claim set of a token
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Signer signs tokens with a symmetric secret
type Signer struct {
	secret []byte
	role   string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Signer
type Option func(*Signer)

// WithRole sets the asserted role
func WithRole(role string) Option {
	return func(s *Signer) {
		if len(role) > 0 {
			s.role = role
		}
	}
}

// WithTTL sets the token lifetime
func WithTTL(ttl time.Duration) Option {
	return func(s *Signer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock sets the clock used for issuance and validation
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner creates a signer. It fails with ErrMissingSecret if the secret is empty.
func NewSigner(secret []byte, opts ...Option) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	s := &Signer{
		secret: secret,
		role:   DefaultRole,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Role returns the asserted role
func (s *Signer) Role() string {
	return s.role
}

// Sign returns a new HS256 token valid for the signer's TTL
func (s *Signer) Sign() (string, error) {
	now := s.now()
	claims := Claims{
		Role: s.role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("cannot sign token: %w", err)
	}
	return token, nil
}

// Parse verifies a token issued by this signer and returns its claims.
// Expiry is checked against the signer's clock.
func (s *Signer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parser := &jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}, SkipClaimsValidation: true}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !claims.VerifyExpiresAt(s.now(), true) {
		return claims, errors.New("token is expired")
	}
	return claims, nil
}
