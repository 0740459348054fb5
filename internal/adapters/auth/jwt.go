// Package auth verifies the bearer tokens issued by the account service.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dkeye/Collab/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSubject  = errors.New("token has no subject")
	ErrBadSubject = errors.New("token subject is not a user id")
)

// Claims is the token payload: sub carries the numeric user id.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(5*time.Second),
		),
	}
}

func (v *JWTVerifier) Verify(token string) (domain.Identity, error) {
	var claims Claims
	if _, err := v.parser.ParseWithClaims(token, &claims, v.key); err != nil {
		return domain.Identity{}, err
	}
	if claims.Subject == "" {
		return domain.Identity{}, ErrNoSubject
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %q", ErrBadSubject, claims.Subject)
	}
	username := claims.Username
	if username == "" {
		username = "user-" + claims.Subject
	}
	return domain.NewIdentity(domain.UserID(id), username)
}

func (v *JWTVerifier) key(*jwt.Token) (any, error) { return v.secret, nil }

// Issue signs a token for uid. It backs local tooling and tests; production
// tokens come from the account service.
func (v *JWTVerifier) Issue(uid domain.UserID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
