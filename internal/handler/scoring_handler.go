package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/oracy-scoring-api/internal/dto"
	"github.com/noah-isme/oracy-scoring-api/internal/middleware"
	"github.com/noah-isme/oracy-scoring-api/internal/service"
	"github.com/noah-isme/oracy-scoring-api/internal/utils"
	"github.com/noah-isme/oracy-scoring-api/pkg/ai"
)

// ScoringHandler exposes the submission scoring endpoints.
type ScoringHandler struct {
	scoring    service.ScoringService
	dispatcher service.ScoringDispatcher
	validator  *validator.Validate
	logger     zerolog.Logger
}

// NewScoringHandler constructs the handler.
func NewScoringHandler(scoring service.ScoringService, dispatcher service.ScoringDispatcher, validate *validator.Validate, logger zerolog.Logger) *ScoringHandler {
	return &ScoringHandler{
		scoring:    scoring,
		dispatcher: dispatcher,
		validator:  validate,
		logger:     logger.With().Str("component", "scoring_handler").Logger(),
	}
}

// Register attaches scoring endpoints to the submissions group.
func (h *ScoringHandler) Register(router fiber.Router) {
	router.Post("/:id/score", h.score)
	router.Post("/:id/rescore", middleware.RequireRole(middleware.RoleTeacher, middleware.RoleAdmin), h.rescore)
	router.Get("/:id/scoring", h.status)
}

func (h *ScoringHandler) score(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}
	if allowed, err := h.authorize(c, id); !allowed {
		return err
	}

	return h.dispatch(c, dto.ScoringRequest{SubmissionID: id, RequestedBy: middleware.CurrentPrincipal(c).UserID})
}

func (h *ScoringHandler) rescore(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	var payload dto.RescoreRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}
	if err := h.validator.Struct(payload); err != nil {
		if isValidationError(err) {
			return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", err.Error())
		}
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to validate payload")
	}

	principal := middleware.CurrentPrincipal(c)
	requestLogger(h.logger, c).Info().
		Uint("submission_id", id).
		Uint("requested_by", principal.UserID).
		Str("reason", payload.Reason).
		Msg("manual re-score requested")

	return h.dispatch(c, dto.ScoringRequest{SubmissionID: id, Rescore: true, RequestedBy: principal.UserID})
}

func (h *ScoringHandler) status(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	status, err := h.scoring.Status(withRequestContext(c), id)
	if err != nil {
		return h.handleError(c, id, err)
	}
	if !canView(c, status.StudentID) {
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}

	return utils.SendSuccess(c, "scoring status", status)
}

func (h *ScoringHandler) dispatch(c *fiber.Ctx, request dto.ScoringRequest) error {
	request.CorrelationID = middleware.GetCorrelationID(c)
	outcome, err := h.dispatcher.Dispatch(withRequestContext(c), request)
	if err != nil {
		return h.handleError(c, request.SubmissionID, err)
	}

	switch {
	case outcome.Queued:
		return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "scoring queued", outcome)
	case outcome.Skipped:
		return utils.SendSuccess(c, "scoring skipped", outcome)
	default:
		return utils.SendSuccess(c, "scoring finished", outcome)
	}
}

// authorize lets students trigger scoring only for their own submissions.
// When it reports false the rejection has already been written and the
// returned error is the result of writing it.
func (h *ScoringHandler) authorize(c *fiber.Ctx, id uint) (bool, error) {
	if middleware.CurrentPrincipal(c).IsStaff() {
		return true, nil
	}

	status, err := h.scoring.Status(withRequestContext(c), id)
	if err != nil {
		return false, h.handleError(c, id, err)
	}
	if !canView(c, status.StudentID) {
		return false, utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}
	return true, nil
}

func (h *ScoringHandler) handleError(c *fiber.Ctx, id uint, err error) error {
	switch {
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrSubmissionNotSubmitted):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrScoringInProgress):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNoRecordings),
		errors.Is(err, service.ErrQuestionsFailed),
		errors.Is(err, service.ErrRubricMissing),
		errors.Is(err, ai.ErrProviderUnconfigured):
		requestLogger(h.logger, c).Warn().Err(err).Uint("submission_id", id).Msg("scoring run failed")
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Uint("submission_id", id).Msg("scoring request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to score submission")
	}
}

func canView(c *fiber.Ctx, studentID uint) bool {
	principal := middleware.CurrentPrincipal(c)
	return principal.IsStaff() || principal.UserID == studentID
}
