package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid bearer token")

// Identity is the user a session acts as, read out of the bearer credential.
type Identity struct {
	UserID      string
	DisplayName string
}

// ParseIdentity reads the subject and display-name claims without verifying
// the signature. Verification is the backend's job on every call; the client
// only needs to know who it is acting as. A missing or expired token is a
// fatal precondition, surfaced here and never recovered from.
func ParseIdentity(bearer string) (*Identity, error) {
	if bearer == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, _, err := jwt.NewParser().ParseUnverified(bearer, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}

	name, _ := claims["display_name"].(string)
	return &Identity{UserID: sub, DisplayName: name}, nil
}
