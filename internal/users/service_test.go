package users

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/store"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.OpenSQLite(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected sqlite error: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return service
}

func TestUpsertAndList(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if err := service.Upsert(ctx, "user-b", "Bela"); err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	if err := service.Upsert(ctx, "user-a", "Ada"); err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	if err := service.Upsert(ctx, "user-b", "Bela Updated"); err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}

	roster, err := service.List(ctx)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("expected 2 users, got %d", len(roster))
	}
	if roster[0].DisplayName != "Ada" || roster[1].DisplayName != "Bela Updated" {
		t.Fatalf("unexpected roster order: %+v", roster)
	}

	if err := service.Upsert(ctx, "   ", "nameless"); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected invalid user error, got %v", err)
	}
}

func TestSetOnlineFlipsPresenceFlag(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if err := service.Upsert(ctx, "user-a", "Ada"); err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	if err := service.SetOnline(ctx, "user-a", true); err != nil {
		t.Fatalf("unexpected set online error: %v", err)
	}
	user, err := service.Get(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if !user.Online {
		t.Fatalf("expected online flag set")
	}

	if err := service.SetOnline(ctx, "user-a", false); err != nil {
		t.Fatalf("unexpected set online error: %v", err)
	}
	user, err = service.Get(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if user.Online {
		t.Fatalf("expected offline flag after disconnect")
	}

	// Unknown users never materialize from a presence write.
	if err := service.SetOnline(ctx, "ghost", true); err != nil {
		t.Fatalf("presence write for unknown user should be ignored, got %v", err)
	}
	if _, err := service.Get(ctx, "ghost"); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected invalid user error, got %v", err)
	}
}
