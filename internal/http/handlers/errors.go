package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maieulabs/maieutic-backend/internal/http/response"
	"github.com/maieulabs/maieutic-backend/internal/services"
)

// respondServiceError maps the service sentinel errors onto stable HTTP
// statuses; everything else falls back to the supplied status/code.
func respondServiceError(c *gin.Context, fallbackCode string, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, services.ErrDialogueBusy):
		response.RespondError(c, http.StatusConflict, "dialogue_busy", err)
	case errors.Is(err, services.ErrNodeHasDependents):
		response.RespondError(c, http.StatusConflict, "node_has_dependents", err)
	default:
		response.RespondError(c, http.StatusBadRequest, fallbackCode, err)
	}
}
