package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/autoforge-backend/internal/data/db"
	"github.com/yungbote/autoforge-backend/internal/http/response"
	"github.com/yungbote/autoforge-backend/internal/platform/neo4jdb"
	"github.com/yungbote/autoforge-backend/internal/types"
)

const apiVersion = "7.0.0"

// HealthHandler reports component health. Postgres decides the overall
// status; Neo4j is optional and reported as disabled when absent.
type HealthHandler struct {
	postgres *db.PostgresService
	neo4j    *neo4jdb.Client
}

func NewHealthHandler(postgres *db.PostgresService, neo4j *neo4jdb.Client) *HealthHandler {
	return &HealthHandler{postgres: postgres, neo4j: neo4j}
}

func (hh *HealthHandler) Health(c *gin.Context) {
	components := map[string]string{"api": "ok"}

	if hh.postgres != nil && hh.postgres.Ping() == nil {
		components["postgres"] = "ok"
	} else {
		components["postgres"] = "error"
	}

	if hh.neo4j == nil {
		components["neo4j"] = "disabled"
	} else if hh.neo4j.Ping(c.Request.Context()) == nil {
		components["neo4j"] = "ok"
	} else {
		components["neo4j"] = "error"
	}

	overall := "degraded"
	if components["postgres"] == "ok" {
		overall = "ok"
	}
	response.RespondOK(c, types.HealthResponse{
		Status:     overall,
		Components: components,
		Version:    apiVersion,
	})
}
