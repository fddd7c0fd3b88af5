package models

import (
	"errors"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	RoleAdmin  = `admin`
	RoleMember = `member`
)

type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userID"`
	Role   string `json:"role"`
}
