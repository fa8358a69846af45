package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func protectedApp(m *AuthMiddleware) *fiber.App {
	app := fiber.New()
	app.Get("/protected", m.Authenticate(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"userId": GetUserID(c)})
	})
	return app
}

func TestGenerateToken_CarriesExpiry(t *testing.T) {
	m := NewAuthMiddleware(testSecret, 2)

	tokenString, err := m.GenerateToken("user-1", "user-1@example.com")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	var claims UserClaims
	if _, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	}); err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}

	if claims.ExpiresAt == nil {
		t.Fatal("token has no expiry")
	}
	lifetime := time.Until(claims.ExpiresAt.Time)
	if lifetime < time.Hour || lifetime > 2*time.Hour {
		t.Errorf("unexpected token lifetime %v", lifetime)
	}
}

func TestAuthenticate_RejectsExpiredToken(t *testing.T) {
	m := NewAuthMiddleware(testSecret, 1)
	app := protectedApp(m)

	claims := UserClaims{
		UserID: "user-1",
		Email:  "user-1@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "characterhub-api",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", resp.StatusCode)
	}
}

func TestAuthenticate_AcceptsFreshToken(t *testing.T) {
	m := NewAuthMiddleware(testSecret, 1)
	app := protectedApp(m)

	token, err := m.GenerateToken("user-1", "user-1@example.com")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
