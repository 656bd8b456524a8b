package http

import (
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/api/http/handlers"
	"github.com/spec-kit/ticket-sync/internal/auth"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/queue"
	"github.com/spec-kit/ticket-sync/internal/reconcile"
	"github.com/spec-kit/ticket-sync/internal/service"
)

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
	queue  *queue.Queue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	q, err := queue.Open(context.Background(), queue.NewMemoryStore())
	if err != nil {
		t.Fatalf("queue.Open() failed: %v", err)
	}
	view := reconcile.New(q)
	dispatcher := events.NewInMemoryDispatcher(nil)
	tickets := service.NewTicketService(service.TicketDependencies{View: view, Dispatcher: dispatcher})
	users := service.NewUserService(view, nil, nil)
	orchestrator := service.NewNotificationOrchestrator(service.NotificationDependencies{Directory: view})
	tokens := auth.NewTokenManager("test-secret", 5)

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), nil, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("ticket-sync", "test", nil, func() bool { return false }),
		Tickets:        handlers.NewTicketsHandler(tickets, view),
		Users:          handlers.NewUsersHandler(users, view),
		Views:          handlers.NewViewsHandler(view, nil),
		Bulk:           handlers.NewBulkHandler(service.NewBulkCoordinator(tickets, users, nil, nil)),
		Notifications:  handlers.NewNotificationsHandler(orchestrator),
		Sync:           handlers.NewSyncHandler(q, view, nil, nil, nil),
		AuthMiddleware: auth.NewMiddleware(tokens),
	})
	return &testServer{app: app, tokens: tokens, queue: q}
}

func (s *testServer) do(t *testing.T, method, path string, role domain.UserRole, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		token, _, err := s.tokens.GenerateToken(domain.Actor{UserID: "u-" + strings.ToLower(string(role)), Role: role})
		if err != nil {
			t.Fatalf("GenerateToken() failed: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func TestTicketWritesAnswerWithPendingID(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/tickets", domain.UserRoleRequester,
		`{"title":"Laptop will not boot","priority":"HIGH","requester_email":"req@example.com"}`)
	if status != nethttp.StatusCreated {
		t.Fatalf("create status = %d, body = %v", status, body)
	}
	data := body["data"].(map[string]any)
	id := data["id"].(string)
	if data["pending_id"] == "" || data["pending"] != true || data["status_label"] != "Open" {
		t.Fatalf("create data = %v", data)
	}

	status, body = s.do(t, nethttp.MethodPatch, "/tickets/"+id, domain.UserRoleTechnician, `{"status":"IN_PROGRESS"}`)
	if status != nethttp.StatusOK {
		t.Fatalf("patch status = %d, body = %v", status, body)
	}
	data = body["data"].(map[string]any)
	if data["status"] != "IN_PROGRESS" || data["pending_id"] == nil {
		t.Fatalf("patch data = %v", data)
	}

	status, body = s.do(t, nethttp.MethodGet, "/sync/pending", domain.UserRoleAdmin, "")
	if status != nethttp.StatusOK {
		t.Fatalf("pending status = %d", status)
	}
	if n := len(body["data"].([]any)); n == 0 {
		t.Fatal("no pending mutations listed")
	}
}

func TestAccessControl(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		role   domain.UserRole
		body   string
		status int
	}{
		{"anonymous", nethttp.MethodGet, "/tickets", "", "", nethttp.StatusUnauthorized},
		{"requester reads", nethttp.MethodGet, "/tickets", domain.UserRoleRequester, "", nethttp.StatusOK},
		{"requester cannot patch", nethttp.MethodPatch, "/tickets/T-1", domain.UserRoleRequester, `{"notes":"x"}`, nethttp.StatusForbidden},
		{"technician cannot bulk users", nethttp.MethodPost, "/bulk/users", domain.UserRoleTechnician, `{"ids":["u-1"],"change":{"active":false}}`, nethttp.StatusForbidden},
		{"missing ticket", nethttp.MethodGet, "/tickets/nope", domain.UserRoleAdmin, "", nethttp.StatusNotFound},
		{"unknown view", nethttp.MethodGet, "/views/widgets", domain.UserRoleAdmin, "", nethttp.StatusNotFound},
		{"retry unknown mutation", nethttp.MethodPost, "/sync/fatal/nope/retry", domain.UserRoleAdmin, "", nethttp.StatusNotFound},
		{"health needs no token", nethttp.MethodGet, "/health/live", "", "", nethttp.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, tt.method, tt.path, tt.role, tt.body)
			if status != tt.status {
				t.Fatalf("status = %d, want %d (body %v)", status, tt.status, body)
			}
		})
	}
}

func TestValidationErrorShape(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/tickets", domain.UserRoleRequester, `{"title":"  "}`)
	if status != nethttp.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	errBody, ok := body["error"].(map[string]any)
	if !ok || errBody["code"] != "VALIDATION_FAILED" {
		t.Fatalf("body = %v", body)
	}
}

func TestBulkTicketsReportsPartialSuccess(t *testing.T) {
	s := newTestServer(t)
	_, created := s.do(t, nethttp.MethodPost, "/tickets", domain.UserRoleTechnician, `{"title":"one"}`)
	id := created["data"].(map[string]any)["id"].(string)

	status, body := s.do(t, nethttp.MethodPost, "/bulk/tickets", domain.UserRoleTechnician,
		`{"ids":["`+id+`","missing"],"change":{"priority":"URGENT"}}`)
	if status != nethttp.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	data := body["data"].(map[string]any)
	if data["succeeded"] != float64(1) || data["failed"] != float64(1) {
		t.Fatalf("data = %v", data)
	}
}

func TestRequestIDIsEchoedOrMinted(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(nethttp.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("GET /health/live failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "trace-42" {
		t.Errorf("echoed request id = %q", got)
	}

	resp, err = s.app.Test(httptest.NewRequest(nethttp.MethodGet, "/health/live", nil))
	if err != nil {
		t.Fatalf("GET /health/live failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); len(got) != 36 {
		t.Errorf("minted request id = %q", got)
	}
}
