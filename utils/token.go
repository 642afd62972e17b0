package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// SessionClaims carries the actor snapshot the session layer hands to the core.
type SessionClaims struct {
	BusinessId     string `json:"business_id"`
	UserId         int    `json:"user_id"`
	UserName       string `json:"user_name"`
	Role           string `json:"role"`
	BranchId       int    `json:"branch_id,omitempty"`
	CanAutoApprove bool   `json:"can_auto_approve,omitempty"`
	jwt.RegisteredClaims
}

func jwtSecret() []byte {
	return []byte(os.Getenv("API_SECRET"))
}

func tokenLifespan() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

func JwtGenerate(claims SessionClaims) (string, error) {
	secret := jwtSecret()
	if len(secret) == 0 {
		return "", errors.New("API_SECRET is required")
	}
	now := time.Now()
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        claims.ID,
		Subject:   strconv.Itoa(claims.UserId),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifespan())),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(secret)
}

func JwtValidate(token string) (*SessionClaims, error) {
	secret := jwtSecret()
	if len(secret) == 0 {
		return nil, errors.New("API_SECRET is required")
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
