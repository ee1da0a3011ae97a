package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"paycheck/internal/platform/config"
)

// Claims identify the merchant a request acts for and the staff user behind it.
type Claims struct {
	MerchantID string `json:"mid"`
	UserID     string `json:"uid"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

type TokenService struct {
	config config.JWTConfig
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{config: cfg}
}

func (s *TokenService) issuer() string {
	if s.config.Issuer == "" {
		return "paycheck"
	}
	return s.config.Issuer
}

func (s *TokenService) GenerateAccessToken(merchantID, userID, role string) (string, error) {
	ttl := s.config.AccessTokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	claims := Claims{
		MerchantID: merchantID,
		UserID:     userID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithIssuer(s.issuer()))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.MerchantID == "" {
		return nil, errors.New("token has no merchant")
	}

	return claims, nil
}
