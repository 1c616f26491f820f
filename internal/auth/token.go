// ABOUTME: JWT token verification for the identity/permission boundary
// ABOUTME: HS256 signing with configurable secret; claims carry agent identity

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Principal is the acting identity supplied by the boundary: which agent is
// operating, their department, and whether they hold administrator rights.
// Authorization decisions themselves live outside this core.
type Principal struct {
	AgentID      string
	DepartmentID string
	Admin        bool
}

// Verifier validates tokens into principals.
type Verifier interface {
	Verify(tokenString string) (*Principal, error)
}

// JWTVerifier implements Verifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the principal. The agent ID comes
// from the "sub" claim; "dept" and "admin" are optional.
func (v *JWTVerifier) Verify(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	principal := &Principal{AgentID: sub}
	if dept, ok := claims["dept"].(string); ok {
		principal.DepartmentID = dept
	}
	if admin, ok := claims["admin"].(bool); ok {
		principal.Admin = admin
	}

	return principal, nil
}

// Generate creates a new JWT token for the given principal with expiration
func (v *JWTVerifier) Generate(p *Principal, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   p.AgentID,
		"dept":  p.DepartmentID,
		"admin": p.Admin,
		"iat":   now.Unix(),
		"exp":   now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
