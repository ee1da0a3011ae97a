package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"paycheck/internal/platform/config"
)

func TestTokenService_RoundTrip(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Minute})

	token, err := svc.GenerateAccessToken("m_1", "u_1", "owner")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.MerchantID != "m_1" || claims.UserID != "u_1" || claims.Role != "owner" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestTokenService_Rejects(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Minute})
	other := NewTokenService(config.JWTConfig{Secret: "other-secret", AccessTokenTTL: time.Minute})

	foreign, _ := other.GenerateAccessToken("m_1", "u_1", "owner")

	noMerchant := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "u_1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "paycheck",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	noMerchantToken, _ := noMerchant.SignedString([]byte("test-secret"))

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		MerchantID: "m_1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "paycheck",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredToken, _ := expired.SignedString([]byte("test-secret"))

	tests := []struct {
		name  string
		token string
	}{
		{name: "Garbage", token: "not-a-token"},
		{name: "Wrong Secret", token: foreign},
		{name: "No Merchant", token: noMerchantToken},
		{name: "Expired", token: expiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(tt.token); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
