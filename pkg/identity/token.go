package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of tokens minted by this service.
const Issuer = "logware/identity"

// Claims are the JWT claims understood by the auth middleware.
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
}

// Subject describes who a token is minted for.
type Subject struct {
	ID    string
	Name  string
	Email string
	Roles []string
}

// TokenManager handles token generation and validation.
type TokenManager struct {
	keySet KeySet
	now    func() time.Time
}

func NewTokenManager(ks KeySet) *TokenManager {
	return &TokenManager{keySet: ks, now: time.Now}
}

// GenerateToken creates a signed JWT for s valid for ttl.
func (tm *TokenManager) GenerateToken(ctx context.Context, s Subject, ttl time.Duration) (string, error) {
	if s.ID == "" {
		return "", errors.New("token subject is required")
	}
	now := tm.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    Issuer,
		},
		Name:  s.Name,
		Email: s.Email,
		Roles: NormalizeRoles(s.Roles),
	}
	return tm.keySet.Sign(ctx, claims)
}

// ValidateToken parses and validates a JWT string.
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, tm.keySet.KeyFunc(),
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenSignatureInvalid
}
