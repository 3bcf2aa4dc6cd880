package token

import (
	"testing"
	"time"
)

func TestGenerateParseRoundTrip(t *testing.T) {
	signed, err := Generate("dev@example.com", "dev", "admin", "secret", time.Hour)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	claims, err := Parse(signed, "secret")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.Email != "dev@example.com" || claims.Login != "dev" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	signed, err := Generate("dev@example.com", "dev", "", "secret", time.Hour)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if _, err := Parse(signed, "other-secret"); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	signed, err := Generate("dev@example.com", "dev", "", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if _, err := Parse(signed, "secret"); err == nil {
		t.Fatal("expected expiry failure")
	}
}
