package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims carried by call-control tokens. The subject is the operator or
// agent worker id. Both token types carry the role so a refresh keeps it.
type Claims struct {
	jwt.RegisteredClaims

	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

// Identity returns who the token speaks for.
func (c Claims) Identity() Identity {
	return Identity{UserID: c.Subject, Role: c.Role}
}
