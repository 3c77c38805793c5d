package handlers

import (
	"context"
	"testing"

	"github.com/HammerMeetNail/quizduel/internal/models"
)

func TestGetUserFromContext_WithUser(t *testing.T) {
	user := &models.User{ID: "alice", Name: "Alice", Avatar: "a.png"}

	ctx := SetUserInContext(context.Background(), user)
	retrieved := GetUserFromContext(ctx)

	if retrieved == nil {
		t.Fatal("expected user to be retrieved from context")
		return
	}
	if retrieved.ID != user.ID {
		t.Errorf("expected ID %q, got %q", user.ID, retrieved.ID)
	}
	if retrieved.Name != user.Name {
		t.Errorf("expected name %q, got %q", user.Name, retrieved.Name)
	}
}

func TestGetUserFromContext_NoUser(t *testing.T) {
	if GetUserFromContext(context.Background()) != nil {
		t.Error("expected nil when no user in context")
	}
}

func TestGetUserFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), userContextKey, "not a user")
	if GetUserFromContext(ctx) != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestContextKey_UniqueType(t *testing.T) {
	ctx := SetUserInContext(context.Background(), &models.User{ID: "alice"})

	// Using a string key should not find the user
	if ctx.Value("user") != nil {
		t.Error("string key should not find user (type safety)")
	}
}

func TestUserParticipant(t *testing.T) {
	user := &models.User{ID: "alice", Name: "Alice", Avatar: "a.png"}
	p := user.Participant()
	if p.UserID != "alice" || p.Name != "Alice" || p.Avatar != "a.png" {
		t.Fatalf("unexpected participant: %+v", p)
	}
}
