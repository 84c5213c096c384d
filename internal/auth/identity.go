package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/driver-session/internal/models"
)

var ErrNoDriverID = errors.New("token carries no driver id")

// IdentityFromToken derives the driver identity from a login token. With a
// secret the token must verify as HMAC; without one the claims are read as-is
// and the server remains the authority.
func IdentityFromToken(token, secret string) (models.DriverIdentity, error) {
	claims := jwt.MapClaims{}
	if secret != "" {
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			return models.DriverIdentity{}, fmt.Errorf("parse token: %w", err)
		}
		if !parsed.Valid {
			return models.DriverIdentity{}, fmt.Errorf("invalid token")
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return models.DriverIdentity{}, fmt.Errorf("parse token: %w", err)
		}
	}

	id, err := driverID(claims)
	if err != nil {
		return models.DriverIdentity{}, err
	}
	return models.DriverIdentity{DriverID: id, Token: token}, nil
}

func driverID(claims jwt.MapClaims) (int64, error) {
	for _, key := range []string{"user_id", "sub"} {
		switch v := claims[key].(type) {
		case float64:
			return int64(v), nil
		case string:
			if v = strings.TrimSpace(v); v == "" {
				continue
			}
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("claim %s: %w", key, err)
			}
			return id, nil
		}
	}
	return 0, ErrNoDriverID
}
