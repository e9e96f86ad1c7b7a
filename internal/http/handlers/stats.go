package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/autoforge-backend/internal/data/vector"
	"github.com/yungbote/autoforge-backend/internal/http/middleware"
	"github.com/yungbote/autoforge-backend/internal/http/response"
	"github.com/yungbote/autoforge-backend/internal/types"
)

// StatsHandler serves tenant-level statistics and proposal history.
type StatsHandler struct {
	store *vector.Store
}

func NewStatsHandler(store *vector.Store) *StatsHandler {
	return &StatsHandler{store: store}
}

func (sh *StatsHandler) Stats(c *gin.Context) {
	stats, err := sh.store.GetStats(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, stats)
}

func (sh *StatsHandler) History(c *gin.Context) {
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)

	proposals, err := sh.store.GetProposalsHistory(c.Request.Context(), middleware.TenantID(c), limit, offset)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	if proposals == nil {
		proposals = []types.ProposalHistoryItem{}
	}
	response.RespondOK(c, gin.H{"proposals": proposals, "limit": limit, "offset": offset})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
