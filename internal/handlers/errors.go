package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"civic-dispatch-backend/pkg/errs"
	"civic-dispatch-backend/pkg/utils"
	"civic-dispatch-backend/pkg/validator"

	"github.com/rs/zerolog/log"
)

// bindJSON decodes the body into target and runs its validate tags. It
// writes the 400 itself and returns false on failure.
func bindJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := validator.ValidateStruct(target); err != nil {
		utils.RespondError(w, http.StatusBadRequest, validator.Message(err))
		return false
	}
	return true
}

// respondErr maps domain errors onto HTTP statuses. Anything unclassified is
// logged and reported as a generic 500.
func respondErr(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, errs.ErrNoUnitAssigned):
		utils.RespondError(w, http.StatusConflict, "No unit assigned yet")
	case errors.Is(err, errs.ErrConflict):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrInvalidInput):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		utils.RespondError(w, http.StatusGatewayTimeout, "Request timed out")
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("❌ Request failed")
		utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
