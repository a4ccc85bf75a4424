package controller

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"ai-docqa-be/internal/dto"
	"ai-docqa-be/internal/pkg/serverutils"
	"ai-docqa-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IDocQAController interface {
	RegisterRoutes(r fiber.Router)
	Status(ctx *fiber.Ctx) error
	SubmitDocument(ctx *fiber.Ctx) error
	Ask(ctx *fiber.Ctx) error
	AskByVoice(ctx *fiber.Ctx) error
	Speech(ctx *fiber.Ctx) error
	Reset(ctx *fiber.Ctx) error
	History(ctx *fiber.Ctx) error
}

type docQAController struct {
	service service.IDocQAService
	tokens  *serverutils.SessionTokens
}

func NewDocQAController(service service.IDocQAService, tokens *serverutils.SessionTokens) IDocQAController {
	return &docQAController{service: service, tokens: tokens}
}

func (c *docQAController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/docqa/v1")
	h.Use(serverutils.JwtMiddleware(c.tokens))
	h.Get("status", c.Status)
	h.Post("document", c.SubmitDocument)
	h.Post("ask", c.Ask)
	h.Post("voice", c.AskByVoice)
	h.Post("speech", c.Speech)
	h.Post("reset", c.Reset)
	h.Get("history", c.History)
}

func sessionID(ctx *fiber.Ctx) string {
	id, _ := ctx.Locals("session_id").(string)
	return id
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (c *docQAController) Status(ctx *fiber.Ctx) error {
	res, err := c.service.Status(ctx.UserContext(), sessionID(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get session status", res))
}

func (c *docQAController) SubmitDocument(ctx *fiber.Ctx) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Form field 'file' is required"))
	}
	content, err := readUpload(fh)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Unable to read uploaded file"))
	}

	res, err := c.service.SubmitDocument(ctx.UserContext(), sessionID(ctx), fh.Filename, content)
	if err != nil {
		return err
	}

	message := "Document indexed"
	if res.Reused {
		message = "Document already indexed"
	}
	return ctx.JSON(serverutils.SuccessResponse(message, res))
}

func (c *docQAController) Ask(ctx *fiber.Ctx) error {
	var req dto.AskRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid request body"))
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Ask(ctx.UserContext(), sessionID(ctx), &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse(answerMessage(res), res))
}

func (c *docQAController) AskByVoice(ctx *fiber.Ctx) error {
	fh, err := ctx.FormFile("audio")
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Form field 'audio' is required"))
	}
	audio, err := readUpload(fh)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Unable to read uploaded audio"))
	}
	speak := ctx.FormValue("speak", "true") != "false"

	res, err := c.service.AskByVoice(ctx.UserContext(), sessionID(ctx), fh.Filename, audio, speak)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse(answerMessage(res), res))
}

func answerMessage(res *dto.AskResponse) string {
	if res.Failed {
		return "The assistant failed to answer"
	}
	return "Success answer question"
}

// Speech returns raw mp3 bytes for the given text.
func (c *docQAController) Speech(ctx *fiber.Ctx) error {
	var req dto.SpeechRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid request body"))
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	audio, err := c.service.Speak(ctx.UserContext(), req.Text)
	if err != nil {
		return err
	}
	ctx.Set(fiber.HeaderContentType, "audio/mpeg")
	return ctx.Send(audio)
}

func (c *docQAController) Reset(ctx *fiber.Ctx) error {
	res, err := c.service.Reset(ctx.UserContext(), sessionID(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Session reset", res))
}

// History downloads the log as a flat [{role, content, id}] JSON file.
func (c *docQAController) History(ctx *fiber.Ctx) error {
	res, err := c.service.History(ctx.UserContext(), sessionID(ctx))
	if err != nil {
		return err
	}

	body, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	filename := fmt.Sprintf("chat_history_%s.json", time.Now().Format("20060102_150405"))
	ctx.Attachment(filename)
	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return ctx.Send(body)
}
