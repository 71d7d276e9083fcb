package validator

import (
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Private claim names set by the edge service on application tokens.
const (
	emailClaim   = "email"
	typeClaim    = "type"
	countryClaim = "country"
)

// Claims is the identity carried by an accepted token.
type Claims struct {
	Subject   string    `json:"sub,omitempty"`
	Email     string    `json:"email,omitempty"`
	Issuer    string    `json:"iss,omitempty"`
	Audience  []string  `json:"aud,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	// Type is the identity type, "app" for user tokens.
	Type    string `json:"type,omitempty"`
	Country string `json:"country,omitempty"`
}

func claimsFromToken(tok jwt.Token) Claims {
	return Claims{
		Subject:   tok.Subject(),
		Email:     stringClaim(tok, emailClaim),
		Issuer:    tok.Issuer(),
		Audience:  tok.Audience(),
		ExpiresAt: tok.Expiration(),
		IssuedAt:  tok.IssuedAt(),
		Type:      stringClaim(tok, typeClaim),
		Country:   stringClaim(tok, countryClaim),
	}
}

func stringClaim(tok jwt.Token, name string) string {
	v, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
