package utils

import (
	"fmt"
	"strings"
	"time"

	"carechat/internal/errs"
	"carechat/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// CreateJwtToken signs a session token. Accounts are issued elsewhere; this is
// used by tooling and tests that need a valid bearer.
func CreateJwtToken(id uint, firstName, lastName string, secretKey []byte, expiration time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256,
		models.Claims{
			ID:        id,
			FirstName: firstName,
			LastName:  lastName,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(expiration),
			},
		})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func VerifyToken(tokenString string, secretKey []byte) (*models.Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, errs.ErrUnauthorized
	}

	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secretKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, errs.ErrInvalidToken
	}

	if claims.ID == 0 {
		return nil, errs.ErrNoCurrentUser
	}

	return claims, nil
}
