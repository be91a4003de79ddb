package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/oracy-scoring-api/internal/config"
	"github.com/noah-isme/oracy-scoring-api/internal/utils"
	"github.com/noah-isme/oracy-scoring-api/pkg/ai"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Service     string          `json:"service"`
	Environment string          `json:"environment"`
	Providers   ProvidersHealth `json:"providers"`
}

// ProvidersHealth names the AI providers resolved at start-up.
type ProvidersHealth struct {
	Transcriber string `json:"transcriber"`
	Primary     string `json:"primary"`
	Reviewer    string `json:"reviewer"`
}

// HealthCheck returns a handler that reports application health information.
// The status is degraded when scoring cannot run for lack of providers.
func HealthCheck(cfg config.Config, providers *ai.Providers) fiber.Handler {
	summary := ProvidersHealth{Transcriber: "none", Primary: "none", Reviewer: "none"}
	if providers != nil {
		if providers.Transcriber != nil {
			summary.Transcriber = providers.Transcriber.Name()
		}
		if providers.Primary != nil {
			summary.Primary = providers.Primary.Name()
		}
		if providers.Reviewer != nil {
			summary.Reviewer = providers.Reviewer.Name()
		}
	}

	status := "ok"
	if summary.Transcriber == "none" || summary.Primary == "none" {
		status = "degraded"
	}

	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      status,
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Providers:   summary,
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
