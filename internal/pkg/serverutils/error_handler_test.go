package serverutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"ai-docqa-be/internal/repository/contract"
	"ai-docqa-be/pkg/docqa"
	"ai-docqa-be/pkg/poller"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"fiber error", fiber.NewError(fiber.StatusRequestEntityTooLarge, "too big"), 413},
		{"validation", &ValidationError{Fields: map[string]string{"question": "required"}}, 400},
		{"unauthorized", fmt.Errorf("bad token: %w", ErrUnauthorized), 401},
		{"unsupported type", docqa.ErrUnsupportedFileType, 415},
		{"empty document", docqa.ErrEmptyDocument, 400},
		{"empty question", fmt.Errorf("transcript: %w", docqa.ErrEmptyQuestion), 400},
		{"busy", docqa.ErrBusy, 409},
		{"not ready", docqa.ErrNotReady, 412},
		{"unknown session", contract.ErrSessionNotFound, 404},
		{"index timeout", &docqa.RemoteCallError{Op: "index document", Err: poller.ErrTimeout}, 504},
		{"remote failure", &docqa.RemoteCallError{Op: "create thread", Err: errors.New("503")}, 502},
		{"job failed", poller.ErrJobFailed, 502},
		{"anything else", errors.New("boom"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := StatusFor(tt.err)
			assert.Equal(t, tt.want, code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestErrorHandlerMiddleware_WritesBaseResponse(t *testing.T) {
	app := fiber.New()
	app.Use(ErrorHandlerMiddleware())
	app.Get("/busy", func(ctx *fiber.Ctx) error { return docqa.ErrBusy })
	app.Get("/ok", func(ctx *fiber.Ctx) error { return ctx.JSON(SuccessResponse("ok", 1)) })

	resp, err := app.Test(httptest.NewRequest("GET", "/busy", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var res BaseResponse[any]
	require.NoError(t, json.Unmarshal(body, &res))
	assert.False(t, res.Success)
	assert.Equal(t, fiber.StatusConflict, res.Code)

	resp, err = app.Test(httptest.NewRequest("GET", "/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
