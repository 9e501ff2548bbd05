// Package auth provides JWT issuance and validation, password hashing and the
// authentication middleware for the videotube API.
//
// TWO KINDS OF TOKEN:
//
//   - access token:  short-lived (default 15m), stateless. Carries the user id
//     in "sub" plus email/username/fullname for convenience. Nothing on the
//     server can revoke it; it simply expires.
//   - refresh token: long-lived (default 10 days). Carries only "sub". The
//     server keeps a digest of the one refresh token each user may present
//     (see token_hash.go), so logging out or rotating invalidates it.
//
// Each kind is signed with its own secret and stamped with its own audience
// ("access" / "refresh"), so one can never be replayed as the other.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<user id>","aud":["access"],"exp":...,"jti":"<uuid>"}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "videotube"

// minSecretLength is the shortest secret NewTokenService accepts.
const minSecretLength = 16

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
)

// TokenKind selects the secret, lifetime and audience used for a token.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// TokenConfig configures a TokenService.
type TokenConfig struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
}

// Identity is what gets embedded in a freshly issued token.
type Identity struct {
	UserID   string
	Email    string
	Username string
	FullName string
}

// Claims is the JWT payload. Refresh tokens leave the profile fields empty.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	FullName string `json:"fullname,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is an access token together with the refresh token issued alongside it.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type signingKey struct {
	secret []byte
	ttl    time.Duration
}

// TokenService handles JWT creation and validation for both token kinds.
type TokenService struct {
	keys map[TokenKind]signingKey
}

// NewTokenService creates a TokenService. Both secrets must be at least 16
// characters and both lifetimes positive.
// Example: ACCESS_TOKEN_SECRET=$(openssl rand -hex 32)
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.AccessSecret) < minSecretLength {
		return nil, fmt.Errorf("auth: access token secret must be at least %d characters", minSecretLength)
	}
	if len(cfg.RefreshSecret) < minSecretLength {
		return nil, fmt.Errorf("auth: refresh token secret must be at least %d characters", minSecretLength)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}

	return &TokenService{
		keys: map[TokenKind]signingKey{
			AccessToken:  {secret: []byte(cfg.AccessSecret), ttl: cfg.AccessTTL},
			RefreshToken: {secret: []byte(cfg.RefreshSecret), ttl: cfg.RefreshTTL},
		},
	}, nil
}

// TTL returns the configured lifetime for kind.
func (s *TokenService) TTL(kind TokenKind) time.Duration {
	return s.keys[kind].ttl
}

// Generate signs a token of the given kind with its configured lifetime.
func (s *TokenService) Generate(kind TokenKind, id Identity) (string, error) {
	key, ok := s.keys[kind]
	if !ok {
		return "", fmt.Errorf("auth: unknown token kind %q", kind)
	}
	return s.GenerateWithDuration(kind, id, key.ttl)
}

// GenerateWithDuration signs a token with a custom lifetime. A negative
// duration yields an already-expired token, which the tests rely on.
//
// The random jti makes every token unique: two tokens for the same user
// issued within the same second would otherwise be byte-identical, and
// rotation could hand back the very token it was meant to replace.
func (s *TokenService) GenerateWithDuration(kind TokenKind, id Identity, d time.Duration) (string, error) {
	key, ok := s.keys[kind]
	if !ok {
		return "", fmt.Errorf("auth: unknown token kind %q", kind)
	}
	if id.UserID == "" {
		return "", errors.New("auth: token subject must not be empty")
	}

	now := time.Now()
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID,
			Audience:  jwt.ClaimStrings{string(kind)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}
	if kind == AccessToken {
		c.Email = id.Email
		c.Username = id.Username
		c.FullName = id.FullName
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing %s token: %w", kind, err)
	}
	return signed, nil
}

// IssuePair generates a fresh access token and refresh token for id.
func (s *TokenService) IssuePair(id Identity) (*TokenPair, error) {
	access, err := s.Generate(AccessToken, id)
	if err != nil {
		return nil, err
	}
	refresh, err := s.Generate(RefreshToken, id)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Validate parses and verifies a token of the given kind and returns its claims.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - signature matches the secret for this kind
//   - algorithm is HS256 (prevents "alg: none" and algorithm confusion)
//   - issuer is "videotube" and audience is the kind
//   - exp is present and in the future
func (s *TokenService) Validate(kind TokenKind, tokenStr string) (*Claims, error) {
	key, ok := s.keys[kind]
	if !ok {
		return nil, fmt.Errorf("auth: unknown token kind %q", kind)
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return key.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(string(kind)),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return c, nil
}
