package server

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ai-docqa-be/internal/bootstrap"
	"ai-docqa-be/internal/config"
	"ai-docqa-be/internal/controller"
	"ai-docqa-be/internal/dto"
	"ai-docqa-be/internal/handler"
	"ai-docqa-be/internal/metrics"
	"ai-docqa-be/internal/pkg/logger"
	"ai-docqa-be/internal/pkg/serverutils"
	"ai-docqa-be/internal/websocket"
	"ai-docqa-be/pkg/docqa"
	"ai-docqa-be/pkg/store"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// notReadyService answers every session as freshly created.
type notReadyService struct{}

func (notReadyService) CreateSession(ctx context.Context) (*dto.CreateSessionResponse, error) {
	return &dto.CreateSessionResponse{SessionId: "s1", Token: "t"}, nil
}
func (notReadyService) Status(ctx context.Context, id string) (*dto.StatusResponse, error) {
	return &dto.StatusResponse{SessionId: id}, nil
}
func (notReadyService) SubmitDocument(ctx context.Context, id, name string, content []byte) (*dto.DocumentResponse, error) {
	return nil, docqa.ValidateDocument(name, content)
}
func (notReadyService) Ask(ctx context.Context, id string, req *dto.AskRequest) (*dto.AskResponse, error) {
	return nil, docqa.ErrNotReady
}
func (notReadyService) AskByVoice(ctx context.Context, id, name string, audio []byte, speak bool) (*dto.AskResponse, error) {
	return nil, docqa.ErrNotReady
}
func (notReadyService) Speak(ctx context.Context, text string) ([]byte, error) { return nil, nil }
func (notReadyService) Reset(ctx context.Context, id string) (*dto.StatusResponse, error) {
	return &dto.StatusResponse{SessionId: id}, nil
}
func (notReadyService) History(ctx context.Context, id string) ([]dto.MessageDTO, error) {
	return []dto.MessageDTO{}, nil
}
func (notReadyService) ReleaseExpired(s *store.Session) {}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg := &config.Config{App: config.AppConfig{
		Port:               "0",
		CorsAllowedOrigins: "http://localhost:5173",
		MaxUploadMB:        1,
	}}
	tokens := serverutils.NewSessionTokens("secret", time.Hour)
	token, _, err := tokens.Issue("s1")
	require.NoError(t, err)

	svc := notReadyService{}
	log := logger.NewNopLogger()
	container := &bootstrap.Container{
		SessionController: controller.NewSessionController(svc),
		DocQAController:   controller.NewDocQAController(svc, tokens),
		RealtimeHandler:   handler.NewRealtimeHandler(websocket.NewHub(nil, log), tokens, log),
		Metrics:           metrics.New(),
		Logger:            log,
	}
	return New(cfg, container), token
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	app := srv.GetApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/api/session/v1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "docqa_http_request_duration_seconds")
}

func TestServer_DomainErrorsBecomeStatusCodes(t *testing.T) {
	srv, token := newTestServer(t)
	app := srv.GetApp()

	req := httptest.NewRequest("POST", "/api/docqa/v1/ask", strings.NewReader(`{"question":"q?"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusPreconditionFailed, resp.StatusCode)
}

func TestServer_RealtimeRequiresTokenAndUpgrade(t *testing.T) {
	srv, token := newTestServer(t)
	app := srv.GetApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/api/realtime/v1/ws", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/realtime/v1/ws?token="+token, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
