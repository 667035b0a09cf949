package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

var (
	ErrMissingAdminToken = errors.New("admin validator: token required")
	ErrInvalidAdminToken = errors.New("admin validator: invalid token")
	ErrExpiredAdminToken = errors.New("admin validator: token expired")
	ErrNotAdmin          = errors.New("admin validator: admin role required")
)

// AdminValidatorConfig describes how admin tokens are checked.
type AdminValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	Clock         func() time.Time
}

// AdminValidator validates HS256 admin tokens minted by TokenIssuer.
type AdminValidator struct {
	signingSecret []byte
	issuer        string
	audience      string
	clock         func() time.Time
}

// NewAdminValidator constructs a validator. Blank issuer and audience take the defaults.
func NewAdminValidator(cfg AdminValidatorConfig) (*AdminValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AdminValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        valueOrDefault(cfg.Issuer, DefaultIssuer),
		audience:      valueOrDefault(cfg.Audience, DefaultAudience),
		clock:         clock,
	}, nil
}

// ValidateToken parses tokenString and returns its claims when it carries the admin role.
func (v *AdminValidator) ValidateToken(tokenString string) (AdminClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return AdminClaims{}, ErrMissingAdminToken
	}

	claims := &AdminClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidAdminToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AdminClaims{}, ErrExpiredAdminToken
		}
		return AdminClaims{}, fmt.Errorf("%w: %v", ErrInvalidAdminToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return AdminClaims{}, ErrInvalidAdminToken
	}
	if claims.Role != RoleAdmin {
		return AdminClaims{}, ErrNotAdmin
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return AdminClaims{}, errMissingSubjectClaim
	}
	return *claims, nil
}

// ValidateRequest reads the bearer token from the Authorization header and validates it.
func (v *AdminValidator) ValidateRequest(r *http.Request) (AdminClaims, error) {
	if r == nil {
		return AdminClaims{}, ErrMissingAdminToken
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return AdminClaims{}, ErrMissingAdminToken
	}
	return v.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
}
