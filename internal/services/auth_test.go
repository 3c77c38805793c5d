package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/HammerMeetNail/quizduel/internal/models"
)

func TestAuthService_TokenRoundTrip(t *testing.T) {
	auth := NewAuthService("test-secret")

	token, err := auth.GenerateToken(&models.User{ID: "alice", Name: "Alice", Avatar: "a.png"}, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected a compact JWT, got %q", token)
	}

	user, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "alice" || user.Name != "Alice" || user.Avatar != "a.png" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestAuthService_GenerateToken_RequiresUser(t *testing.T) {
	auth := NewAuthService("test-secret")
	if _, err := auth.GenerateToken(&models.User{Name: "anon"}, time.Hour); !errors.Is(err, ErrInvalidParticipant) {
		t.Fatalf("expected ErrInvalidParticipant, got %v", err)
	}
	if _, err := auth.GenerateToken(nil, time.Hour); !errors.Is(err, ErrInvalidParticipant) {
		t.Fatalf("expected ErrInvalidParticipant, got %v", err)
	}
}

func TestAuthService_ValidateToken_Expired(t *testing.T) {
	auth := NewAuthService("test-secret")
	auth.now = func() time.Time { return t0 }
	token, err := auth.GenerateToken(&models.User{ID: "alice"}, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	auth.now = func() time.Time { return t0.Add(2 * time.Minute) }
	if _, err := auth.ValidateToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestAuthService_ValidateToken_WrongSecret(t *testing.T) {
	token, _ := NewAuthService("secret-a").GenerateToken(&models.User{ID: "alice"}, time.Hour)
	if _, err := NewAuthService("secret-b").ValidateToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestAuthService_ValidateToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewAuthService("test-secret").ValidateToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestAuthService_ValidateToken_MissingSubject(t *testing.T) {
	claims := &Claims{Name: "ghost", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if _, err := NewAuthService("test-secret").ValidateToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestAuthService_ValidateToken_Garbage(t *testing.T) {
	if _, err := NewAuthService("test-secret").ValidateToken("not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
