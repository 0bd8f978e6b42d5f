package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/p-blackswan/memgraph/internal/agent"
	merrors "github.com/p-blackswan/memgraph/internal/errors"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	}, "application/problem+json")
}

// errorResponse maps a domain error onto a problem response.
func errorResponse(c *fiber.Ctx, err error) error {
	status, errType := classify(err)
	detail := err.Error()
	if status == fiber.StatusInternalServerError {
		detail = "An internal error occurred"
	}
	return problemResponse(c, status, errType, utils.StatusMessage(status), detail)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrNoCapableAgent):
		return fiber.StatusUnprocessableEntity, "no_capable_agent"
	case errors.Is(err, merrors.ErrValidation):
		return fiber.StatusBadRequest, "validation"
	case errors.Is(err, merrors.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, merrors.ErrDuplicateID):
		return fiber.StatusConflict, "duplicate_id"
	case errors.Is(err, merrors.ErrCyclicDependency):
		return fiber.StatusConflict, "cyclic_dependency"
	case errors.Is(err, merrors.ErrTimeout):
		return fiber.StatusGatewayTimeout, "timeout"
	case errors.Is(err, merrors.ErrChecksumMismatch):
		return fiber.StatusUnprocessableEntity, "checksum_mismatch"
	case errors.Is(err, merrors.ErrUnavailable):
		return fiber.StatusServiceUnavailable, "unavailable"
	}
	return fiber.StatusInternalServerError, "internal_error"
}
