package rest

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the service-role claims the backend gateway expects.
type Claims struct {
	Role     string `json:"role"`
	BranchID string `json:"branch_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenSigner mints short-lived bearer tokens for backend calls.
type TokenSigner struct {
	signingKey []byte
	issuer     string
	role       string
	branchID   string
	ttl        time.Duration
	now        func() time.Time
}

func NewTokenSigner(signingKey, issuer, branchID string, ttl time.Duration) (*TokenSigner, error) {
	if signingKey == "" {
		return nil, errors.New("signing key is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenSigner{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		role:       "service_role",
		branchID:   branchID,
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

// Sign returns a fresh HS256 token.
func (s *TokenSigner) Sign() (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:     s.role,
		BranchID: s.branchID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Parse validates a token minted by Sign. Used by tests and the local fake.
func (s *TokenSigner) Parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
