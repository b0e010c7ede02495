package models

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	ID        uint   `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	jwt.RegisteredClaims
}

func (claims *Claims) DisplayName() string {
	return strings.TrimSpace(claims.FirstName + " " + claims.LastName)
}
