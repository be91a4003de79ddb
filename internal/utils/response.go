package utils

import "github.com/gofiber/fiber/v2"

// correlationHeader mirrors the header the correlation middleware sets on
// every response.
const correlationHeader = "X-Correlation-ID"

// APIResponse is the envelope shared by every JSON response of the API.
type APIResponse struct {
	Success       bool        `json:"success"`
	Message       string      `json:"message"`
	Data          interface{} `json:"data,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// SendSuccess writes a 200 envelope.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus writes a success envelope with an explicit status, such
// as 202 for a queued scoring run.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	return send(c, orDefault(status, fiber.StatusOK), APIResponse{
		Success: true,
		Message: orDefaultMessage(message, "success"),
		Data:    data,
	})
}

// SendError writes a failure envelope without details.
func SendError(c *fiber.Ctx, status int, message string) error {
	return Fail(c, status, message, nil)
}

// Fail writes a failure envelope. Details carry machine readable context such
// as the validation error of a rejected payload.
func Fail(c *fiber.Ctx, status int, message string, details interface{}) error {
	return send(c, orDefault(status, fiber.StatusInternalServerError), APIResponse{
		Message: orDefaultMessage(message, "error"),
		Details: details,
	})
}

func send(c *fiber.Ctx, status int, body APIResponse) error {
	body.CorrelationID = c.GetRespHeader(correlationHeader)
	return c.Status(status).JSON(body)
}

func orDefault(status, fallback int) int {
	if status == 0 {
		return fallback
	}
	return status
}

func orDefaultMessage(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}
