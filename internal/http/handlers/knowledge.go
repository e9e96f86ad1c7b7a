package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/autoforge-backend/internal/engine"
	"github.com/yungbote/autoforge-backend/internal/http/middleware"
	"github.com/yungbote/autoforge-backend/internal/http/response"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
	"github.com/yungbote/autoforge-backend/internal/types"
)

// KnowledgeHandler serves fact ingestion and retrieval.
type KnowledgeHandler struct {
	engine *engine.Engine
	log    *logger.Logger
}

func NewKnowledgeHandler(eng *engine.Engine, log *logger.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{engine: eng, log: log.With("handler", "KnowledgeHandler")}
}

// requestUserID maps the anonymous principal to the empty string so that
// anonymous facts carry no user_id and anonymous queries see all tenant
// documents.
func requestUserID(c *gin.Context) string {
	if user := middleware.UserID(c); user != middleware.AnonymousUser {
		return user
	}
	return ""
}

func (kh *KnowledgeHandler) Learn(c *gin.Context) {
	var req types.LearnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusUnprocessableEntity, "invalid_request", err)
		return
	}

	docID, err := kh.engine.Learn(
		c.Request.Context(),
		req.Content,
		middleware.TenantID(c),
		requestUserID(c),
		req.Category,
		req.Metadata,
	)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, types.LearnResponse{DocID: docID, Status: "learned"})
}

func (kh *KnowledgeHandler) Query(c *gin.Context) {
	var req types.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusUnprocessableEntity, "invalid_request", err)
		return
	}

	results, err := kh.engine.Search(c.Request.Context(), req.Query, middleware.TenantID(c), requestUserID(c))
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	if results == nil {
		results = []types.Document{}
	}
	response.RespondOK(c, types.QueryResponse{Results: results, Count: len(results)})
}
