package http

import (
	"errors"
	"net/http"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

// writeRecordError maps record service errors to responses. Validation
// messages are returned to the caller; storage failures are not.
func writeRecordError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logger := log.FromContext(r.Context())
	switch {
	case errors.Is(err, errInvalidBody), errors.Is(err, errInvalidQuery), errors.Is(err, errInvalidID):
		logger.InfoContext(r.Context(), "Rejected malformed request", log.FieldOperation, op, log.FieldError, err)
		BadRequestError(err.Error()).Write(w)
	case errors.Is(err, services.ErrInvalidInput):
		logger.InfoContext(r.Context(), "Rejected invalid record", log.FieldOperation, op, log.FieldError, err)
		UnprocessableEntityError(err.Error()).Write(w)
	case errors.Is(err, storage.ErrNotFound):
		NotFoundError("record not found").Write(w)
	default:
		logger.ErrorContext(r.Context(), "Record operation failed", log.FieldOperation, op, log.FieldError, err)
		InternalServerError("internal error").Write(w)
	}
}

func writeCreated(w http.ResponseWriter, v any) {
	NewJSONResponse().Status(http.StatusCreated).Body(v).Write(w)
}

func writeOK(w http.ResponseWriter, v any) {
	NewJSONResponse().Body(v).Write(w)
}

func writeNoContent(w http.ResponseWriter) {
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

type taxonomyBody struct {
	Categories []core.Category `json:"categories"`
	Cards      []core.Card     `json:"cards"`
}

// handleTaxonomy lists the labels records may carry, for client pickers.
func handleTaxonomy(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, taxonomyBody{Categories: core.Categories(), Cards: core.Cards()})
}
