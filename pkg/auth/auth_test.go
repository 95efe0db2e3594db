package auth

import (
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

func TestSignVerifyRoundTrip(t *testing.T) {
	token, err := Sign(testSecret, 42, "alice", []string{"is_admin"}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := Verify(testSecret, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if claims.UserID != 42 {
		t.Errorf("expected user id 42, got %d", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Errorf("expected username alice, got %s", claims.Username)
	}
	if !claims.InGroup("is_admin") {
		t.Errorf("expected is_admin group to survive the round trip")
	}
}

func TestVerifyExpired(t *testing.T) {
	token, err := Sign(testSecret, 1, "bob", nil, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := Verify(testSecret, token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := Sign([]byte("other-secret"), 1, "bob", nil, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := Verify(testSecret, token); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	if _, err := Verify(testSecret, "not-a-token"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
}

func TestInAnyGroup(t *testing.T) {
	claims := &Claims{Groups: []string{"is_api_key"}}

	if !claims.InAnyGroup("is_admin", "is_api_key") {
		t.Errorf("expected is_api_key to satisfy the check")
	}
	if claims.InAnyGroup("is_admin") {
		t.Errorf("did not expect is_admin to match")
	}
	if claims.InAnyGroup() {
		t.Errorf("empty group list must never match")
	}
}
