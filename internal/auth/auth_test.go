package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/pkg/util"
)

func newTestApp(tokens *TokenManager, guard fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(util.ToDomainError(err).HTTPStatus).SendString(err.Error())
		},
	})
	app.Use(NewMiddleware(tokens).Handle)
	app.Get("/whoami", guard, func(c *fiber.Ctx) error {
		actor, _ := ActorFromContext(c)
		return c.SendString(actor.UserID + "/" + string(actor.Role))
	})
	return app
}

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, _, err := tm.GenerateToken(domain.Actor{UserID: "u-1", Role: domain.UserRoleAdmin})
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() failed: %v", err)
	}
	if got := claims.Actor(); got.UserID != "u-1" || !got.IsAdmin() {
		t.Fatalf("actor = %+v", got)
	}

	if _, err := NewTokenManager("other", 5).ParseToken(token); err == nil {
		t.Fatal("token signed with another secret was accepted")
	}
}

func TestMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	tech, _, _ := tm.GenerateToken(domain.Actor{UserID: "u-2", Role: domain.UserRoleTechnician})

	tests := []struct {
		name   string
		header string
		guard  fiber.Handler
		status int
	}{
		{"missing header", "", RequireRole(), http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", RequireRole(), http.StatusUnauthorized},
		{"garbage token", "Bearer abc", RequireRole(), http.StatusUnauthorized},
		{"any role", "Bearer " + tech, RequireRole(), http.StatusOK},
		{"allowed role", "Bearer " + tech, RequireRole(domain.UserRoleTechnician, domain.UserRoleAdmin), http.StatusOK},
		{"forbidden role", "Bearer " + tech, RequireRole(domain.UserRoleAdmin), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := newTestApp(tm, tt.guard).Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestActorFromContextWithoutAuth(t *testing.T) {
	app := fiber.New()
	var found bool
	app.Get("/", func(c *fiber.Ctx) error {
		_, found = ActorFromContext(c)
		return nil
	})
	if _, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if found {
		t.Fatal("actor found on unauthenticated request")
	}
}
