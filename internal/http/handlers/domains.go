package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/autoforge-backend/internal/domains"
	"github.com/yungbote/autoforge-backend/internal/http/response"
)

type DomainsHandler struct {
	registry *domains.Registry
}

func NewDomainsHandler(registry *domains.Registry) *DomainsHandler {
	return &DomainsHandler{registry: registry}
}

func (dh *DomainsHandler) List(c *gin.Context) {
	response.RespondOK(c, gin.H{"domains": dh.registry.List()})
}
