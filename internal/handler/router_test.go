package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhouzirui/pairchat/backend/internal/attachment"
	"github.com/zhouzirui/pairchat/backend/internal/live"
	middlewarePkg "github.com/zhouzirui/pairchat/backend/internal/middleware"
	model "github.com/zhouzirui/pairchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/pairchat/backend/internal/service/chat"
)

const secret = "router-secret"

func newTestRouter(t *testing.T, uploadDir string) http.Handler {
	t.Helper()
	normalizer := attachment.NewNormalizer("http://localhost")
	hub := live.NewHub(normalizer, nil, nil)
	svc := chatService.NewService(model.NewMemoryStore(), attachment.NewResolver(nil, nil), normalizer, hub)
	return NewRouter(Deps{
		ChatService:    svc,
		Hub:            hub,
		JWTSecret:      secret,
		AllowedOrigins: []string{"*"},
		UploadDir:      uploadDir,
	})
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t, "")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	r := newTestRouter(t, "")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/messages/bob", nil))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAPISendWithToken(t *testing.T) {
	r := newTestRouter(t, "")
	token, err := middlewarePkg.IssueToken(secret, "alice", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/messages/send/bob", bytes.NewReader([]byte(`{"text":"hi"}`)))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestUploadsServed(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "chat_images", "alice"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "chat_images", "alice", "x.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestRouter(t, dir)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/uploads/chat_images/alice/x.txt", nil))

	if resp.Code != http.StatusOK || resp.Body.String() != "hello" {
		t.Fatalf("expected file contents, got %d %q", resp.Code, resp.Body.String())
	}
}

func TestMetricsExposed(t *testing.T) {
	r := newTestRouter(t, "")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}
