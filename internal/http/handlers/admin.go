package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/autoforge-backend/internal/data/vector"
	"github.com/yungbote/autoforge-backend/internal/http/middleware"
	"github.com/yungbote/autoforge-backend/internal/http/response"
	"github.com/yungbote/autoforge-backend/internal/observability"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
)

// AdminHandler exposes maintenance operations restricted to the admin
// principal.
type AdminHandler struct {
	store            *vector.Store
	cleanupDays      int
	cleanupThreshold float64
	log              *logger.Logger
}

func NewAdminHandler(store *vector.Store, cleanupDays int, cleanupThreshold float64, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		store:            store,
		cleanupDays:      cleanupDays,
		cleanupThreshold: cleanupThreshold,
		log:              log.With("handler", "AdminHandler"),
	}
}

// Cleanup deletes stale low-importance personal facts.
func (ah *AdminHandler) Cleanup(c *gin.Context) {
	if middleware.UserID(c) != "admin" {
		response.RespondError(c, http.StatusForbidden, "forbidden", fmt.Errorf("admin only"))
		return
	}

	deleted, err := ah.store.CleanupOldFacts(c.Request.Context(), ah.cleanupDays, ah.cleanupThreshold)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	observability.Current().AddFactsCleaned(deleted)
	response.RespondOK(c, gin.H{"deleted": deleted})
}
