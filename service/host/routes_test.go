package host

import (
	"testing"

	"github.com/golang-jwt/jwt/v4"
)

// The signing key must be read when a token is minted, not at package init:
// the environment is typically populated by godotenv after this package
// initializes. A token minted after the secret appears has to verify against
// that secret.
func TestGenerateJWTSignsWithCurrentSecret(t *testing.T) {
	t.Setenv("SECRET_KEY", "late-loaded-secret")

	tokenString, err := generateJWT(42, 15)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	// Verify the way the auth middleware does.
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("late-loaded-secret"), nil
	})
	if err != nil {
		t.Fatalf("login token rejected by verification: %v", err)
	}
	if !token.Valid {
		t.Fatal("login token reported invalid")
	}
	if claims.Subject != "42" {
		t.Fatalf("expected subject 42, got %q", claims.Subject)
	}
}

func TestGenerateJWTTracksSecretRotation(t *testing.T) {
	t.Setenv("SECRET_KEY", "first-secret")
	first, err := generateJWT(7, 15)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	t.Setenv("SECRET_KEY", "second-secret")
	if _, err := jwt.Parse(first, func(token *jwt.Token) (interface{}, error) {
		return []byte("second-secret"), nil
	}); err == nil {
		t.Fatal("token minted under the old secret verified against the new one")
	}

	second, err := generateJWT(7, 15)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	if _, err := jwt.Parse(second, func(token *jwt.Token) (interface{}, error) {
		return []byte("second-secret"), nil
	}); err != nil {
		t.Fatalf("token minted after rotation rejected: %v", err)
	}
}
