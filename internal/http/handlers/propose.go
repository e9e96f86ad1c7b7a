package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/autoforge-backend/internal/data/vector"
	"github.com/yungbote/autoforge-backend/internal/engine"
	"github.com/yungbote/autoforge-backend/internal/http/middleware"
	"github.com/yungbote/autoforge-backend/internal/http/response"
	"github.com/yungbote/autoforge-backend/internal/observability"
	perrors "github.com/yungbote/autoforge-backend/internal/pkg/errors"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
	"github.com/yungbote/autoforge-backend/internal/types"
)

const defaultDomain = "ad_optimization"

// ProposeHandler generates audited proposals and records feedback on them.
type ProposeHandler struct {
	engine *engine.Engine
	store  *vector.Store
	log    *logger.Logger
}

func NewProposeHandler(eng *engine.Engine, store *vector.Store, log *logger.Logger) *ProposeHandler {
	return &ProposeHandler{engine: eng, store: store, log: log.With("handler", "ProposeHandler")}
}

// Propose never fails the HTTP exchange for pipeline errors; the failure is
// reported inside the response body so callers always get a decodable
// ProposeResponse.
func (ph *ProposeHandler) Propose(c *gin.Context) {
	var req types.ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusUnprocessableEntity, "invalid_request", err)
		return
	}
	domain := req.Domain
	if domain == "" {
		domain = defaultDomain
	}
	tenantID := middleware.TenantID(c)

	m := observability.Current()
	m.ActiveProposalsInc()
	defer m.ActiveProposalsDec()
	start := time.Now()

	result, err := ph.engine.Propose(c.Request.Context(), req.UserData, tenantID, domain, req.AccountHistory)
	if err != nil {
		ph.log.Error("Proposal failed", "tenant_id", tenantID, "domain", domain, "error", err)
		response.RespondOK(c, types.ProposeResponse{Success: false, Error: err.Error()})
		return
	}

	if err := ph.store.StoreProposal(c.Request.Context(), result.ProposalID, tenantID, domain, req.UserData, result.Proposal, result.Audit); err != nil {
		ph.log.Error("Proposal archive failed", "proposal_id", result.ProposalID, "error", err)
		response.RespondOK(c, types.ProposeResponse{Success: false, Error: err.Error()})
		return
	}

	auditStatus := "invalid"
	if result.Audit.IsValid {
		auditStatus = "valid"
	}
	m.ObserveAudit(auditStatus)

	ph.log.Info("Proposal served", "duration_ms", time.Since(start).Milliseconds())
	audit := result.Audit
	response.RespondOK(c, types.ProposeResponse{
		Success:    true,
		Proposal:   result.Proposal,
		ProposalID: result.ProposalID,
		Audit:      &audit,
	})
}

func (ph *ProposeHandler) Feedback(c *gin.Context) {
	var req types.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusUnprocessableEntity, "invalid_request", err)
		return
	}

	found, err := ph.store.UpdateFeedback(c.Request.Context(), req.ProposalID, *req.Accepted, req.PerformanceAfter)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	if !found {
		response.RespondFromError(c, fmt.Errorf("%w: proposal %s not found", perrors.ErrNotFound, req.ProposalID))
		return
	}

	ph.log.Info("Feedback recorded",
		"proposal_id", req.ProposalID,
		"accepted", *req.Accepted,
		"tenant_id", middleware.TenantID(c),
	)
	response.RespondOK(c, gin.H{"status": "recorded", "proposal_id": req.ProposalID})
}
