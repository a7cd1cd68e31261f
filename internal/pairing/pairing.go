// Package pairing binds one controller to one robot with a signed token.
//
// The controller presents an HS256 JWT whose subject is its own name and
// whose audience is the robot's name. Both sides share the secret. An empty
// secret turns pairing off: the robot then accepts any controller.
package pairing

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid is returned for any token that does not pair with this robot.
var ErrInvalid = errors.New("invalid pairing token")

// Default node names.
const (
	DefaultController = "Regina"
	DefaultRobot      = "Ricardo"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 12 * time.Hour

// Issue signs a token pairing controller with robot, valid for ttl from now.
func Issue(secret []byte, controller, robot string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("pairing secret is empty")
	}
	claims := jwt.RegisteredClaims{
		Subject:   controller,
		Audience:  jwt.ClaimStrings{robot},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign pairing token: %w", err)
	}
	return signed, nil
}

// Verify checks that token was signed with secret for robot and has not
// expired at now. It returns the controller name.
func Verify(secret []byte, robot, token string, now time.Time) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(robot),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no controller name", ErrInvalid)
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// Authorizer returns a request check for the robot's channel server. With
// an empty secret every request is accepted under the name fallback.
func Authorizer(secret []byte, robot, fallback string, clock func() time.Time) func(*http.Request) (string, error) {
	if clock == nil {
		clock = time.Now
	}
	return func(r *http.Request) (string, error) {
		if len(secret) == 0 {
			return fallback, nil
		}
		token, ok := BearerToken(r)
		if !ok {
			return "", fmt.Errorf("%w: no bearer token", ErrInvalid)
		}
		return Verify(secret, robot, token, clock())
	}
}

// LoadSecret reads a shared secret file. Surrounding whitespace is ignored.
// An empty path yields no secret.
func LoadSecret(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairing secret: %w", err)
	}
	secret := []byte(strings.TrimSpace(string(b)))
	if len(secret) == 0 {
		return nil, fmt.Errorf("pairing secret file %s is empty", path)
	}
	return secret, nil
}
