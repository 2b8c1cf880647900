package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the salon tenant and, for staff sessions, the staff identity.
type Claims struct {
	TenantID string `json:"tenant_id"`
	StaffID  string `json:"staff_id,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// StaffIDPtr returns the staff id or nil for tenant-level tokens.
func (c *Claims) StaffIDPtr() *string {
	if c.StaffID == "" {
		return nil
	}
	id := c.StaffID
	return &id
}

type TokenManager struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{secretKey: []byte(secret), issuer: "salon-notifications", ttl: ttl}
}

// WithIssuer overrides the issuer stamped into and required from tokens.
func (tm *TokenManager) WithIssuer(issuer string) *TokenManager {
	tm.issuer = issuer
	return tm
}

// GenerateToken creates a new JWT access token. staffID and role may be empty.
func (tm *TokenManager) GenerateToken(tenantID, staffID, role string) (string, error) {
	if tenantID == "" {
		return "", errors.New("tenant id is required")
	}
	now := time.Now()
	subject := tenantID
	if staffID != "" {
		subject = staffID
	}
	claims := &Claims{
		TenantID: tenantID,
		StaffID:  staffID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// ValidateToken parses and validates the token string
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secretKey, nil
	}, jwt.WithIssuer(tm.issuer))

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	if claims.TenantID == "" {
		return nil, errors.New("token has no tenant")
	}

	return claims, nil
}
